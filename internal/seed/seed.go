package seed

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/edvin/batchrun/internal/model"
)

var validate = validator.New()

// File is the YAML document accepted by `batchrun seed`.
type File struct {
	RetentionPolicies []RetentionPolicy `yaml:"retention_policies" validate:"dive"`
	Commands          []Command         `yaml:"commands" validate:"dive"`
	Jobs              []Job             `yaml:"jobs" validate:"dive"`
	ScheduledJobs     []ScheduledJob    `yaml:"scheduled_jobs" validate:"dive"`
}

type RetentionPolicy struct {
	Identifier      string        `yaml:"identifier" validate:"required"`
	CompactDelay    time.Duration `yaml:"compact_delay" validate:"gte=0"`
	DeleteLogsDelay time.Duration `yaml:"delete_logs_delay" validate:"gtefield=CompactDelay"`
	DeleteRunDelay  time.Duration `yaml:"delete_run_delay" validate:"gtefield=DeleteLogsDelay"`
}

type Parameter struct {
	Type        string `yaml:"type" validate:"required,oneof=string integer boolean date"`
	Required    bool   `yaml:"required"`
	Description string `yaml:"description"`
}

type Command struct {
	Kind       string               `yaml:"kind" validate:"required,oneof=executable managed-subcommand"`
	Name       string               `yaml:"name" validate:"required"`
	Parameters map[string]Parameter `yaml:"parameters" validate:"dive"`
	Template   string               `yaml:"template"`
}

type Job struct {
	Name            string         `yaml:"name" validate:"required"`
	Comment         string         `yaml:"comment"`
	Command         string         `yaml:"command" validate:"required"`
	Arguments       map[string]any `yaml:"arguments"`
	RetentionPolicy string         `yaml:"retention_policy"`
}

type ScheduledJob struct {
	Name        string `yaml:"name" validate:"required"`
	Job         string `yaml:"job" validate:"required"`
	Enabled     *bool  `yaml:"enabled"`
	Timezone    string `yaml:"timezone"`
	Years       string `yaml:"years"`
	Months      string `yaml:"months"`
	DaysOfMonth string `yaml:"days_of_month"`
	Weekdays    string `yaml:"weekdays"`
	Hours       string `yaml:"hours"`
	Minutes     string `yaml:"minutes"`
	Comment     string `yaml:"comment"`
}

// DefaultTimezone applies to scheduled jobs that name none.
const DefaultTimezone = "Europe/Helsinki"

// Load reads and validates a seed file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}
	return &f, nil
}

type PolicyStore interface {
	Upsert(ctx context.Context, p *model.RetentionPolicy) error
	GetByIdentifier(ctx context.Context, identifier string) (*model.RetentionPolicy, error)
}

type CommandStore interface {
	Upsert(ctx context.Context, c *model.Command) error
}

type JobStore interface {
	Upsert(ctx context.Context, j *model.Job) error
}

type ScheduledJobStore interface {
	Upsert(ctx context.Context, sj *model.ScheduledJob) error
}

// Seeder upserts the contents of a seed file. Applying the same file twice
// leaves the database unchanged.
type Seeder struct {
	Policies      PolicyStore
	Commands      CommandStore
	Jobs          JobStore
	ScheduledJobs ScheduledJobStore
}

type Summary struct {
	RetentionPolicies int
	Commands          int
	Jobs              int
	ScheduledJobs     int
}

// Apply upserts policies, commands, jobs and scheduled jobs in that order.
// Jobs refer to commands by name and scheduled jobs to jobs by name; both
// must be defined in the same file. Retention policies may also already
// exist in the database.
func (s *Seeder) Apply(ctx context.Context, f *File) (*Summary, error) {
	var sum Summary

	policyIDs := map[string]string{}
	for _, p := range f.RetentionPolicies {
		policy := &model.RetentionPolicy{
			Identifier:      p.Identifier,
			CompactDelay:    p.CompactDelay,
			DeleteLogsDelay: p.DeleteLogsDelay,
			DeleteRunDelay:  p.DeleteRunDelay,
		}
		if err := s.Policies.Upsert(ctx, policy); err != nil {
			return &sum, err
		}
		policyIDs[p.Identifier] = policy.ID
		sum.RetentionPolicies++
	}

	commandIDs := map[string]string{}
	for _, c := range f.Commands {
		if _, dup := commandIDs[c.Name]; dup {
			return &sum, fmt.Errorf("command name %q is ambiguous", c.Name)
		}
		cmd := &model.Command{
			Kind:       model.CommandKind(c.Kind),
			Name:       c.Name,
			Parameters: make(map[string]model.Parameter, len(c.Parameters)),
			Template:   c.Template,
		}
		for name, p := range c.Parameters {
			cmd.Parameters[name] = model.Parameter{
				Type:        model.ParameterType(p.Type),
				Required:    p.Required,
				Description: p.Description,
			}
		}
		if err := s.Commands.Upsert(ctx, cmd); err != nil {
			return &sum, err
		}
		commandIDs[c.Name] = cmd.ID
		sum.Commands++
	}

	jobIDs := map[string]string{}
	for _, j := range f.Jobs {
		commandID, ok := commandIDs[j.Command]
		if !ok {
			return &sum, fmt.Errorf("job %s: unknown command %q", j.Name, j.Command)
		}
		job := &model.Job{
			Name:      j.Name,
			Comment:   j.Comment,
			CommandID: commandID,
			Arguments: j.Arguments,
		}
		if j.RetentionPolicy != "" {
			id, err := s.policyID(ctx, policyIDs, j.RetentionPolicy)
			if err != nil {
				return &sum, fmt.Errorf("job %s: %w", j.Name, err)
			}
			job.RetentionPolicyID = &id
		}
		if err := s.Jobs.Upsert(ctx, job); err != nil {
			return &sum, err
		}
		jobIDs[j.Name] = job.ID
		sum.Jobs++
	}

	for _, sj := range f.ScheduledJobs {
		jobID, ok := jobIDs[sj.Job]
		if !ok {
			return &sum, fmt.Errorf("scheduled job %s: unknown job %q", sj.Name, sj.Job)
		}
		scheduled := &model.ScheduledJob{
			Name:        sj.Name,
			JobID:       jobID,
			Enabled:     sj.Enabled == nil || *sj.Enabled,
			Timezone:    sj.Timezone,
			Years:       sj.Years,
			Months:      sj.Months,
			DaysOfMonth: sj.DaysOfMonth,
			Weekdays:    sj.Weekdays,
			Hours:       sj.Hours,
			Minutes:     sj.Minutes,
			Comment:     sj.Comment,
		}
		if scheduled.Timezone == "" {
			scheduled.Timezone = DefaultTimezone
		}
		if err := s.ScheduledJobs.Upsert(ctx, scheduled); err != nil {
			return &sum, err
		}
		sum.ScheduledJobs++
	}
	return &sum, nil
}

func (s *Seeder) policyID(ctx context.Context, seeded map[string]string, identifier string) (string, error) {
	if id, ok := seeded[identifier]; ok {
		return id, nil
	}
	p, err := s.Policies.GetByIdentifier(ctx, identifier)
	if err != nil {
		return "", fmt.Errorf("resolve retention policy %q: %w", identifier, err)
	}
	return p.ID, nil
}
