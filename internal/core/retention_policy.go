package core

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/batchrun/internal/model"
	"github.com/edvin/batchrun/internal/platform"
)

type RetentionPolicyService struct {
	db DB
}

func NewRetentionPolicyService(db DB) *RetentionPolicyService {
	return &RetentionPolicyService{db: db}
}

// ValidateRetentionPolicy rejects negative delays and policies where
// compact_delay <= delete_logs_delay <= delete_run_delay does not hold.
func ValidateRetentionPolicy(p *model.RetentionPolicy) error {
	if p.Identifier == "" {
		return fmt.Errorf("%w: identifier is required", ErrInvalidRetentionPolicy)
	}
	if p.CompactDelay < 0 || p.DeleteLogsDelay < 0 || p.DeleteRunDelay < 0 {
		return fmt.Errorf("%w: delays must not be negative", ErrInvalidRetentionPolicy)
	}
	if p.CompactDelay > p.DeleteLogsDelay {
		return fmt.Errorf("%w: compact delay %s exceeds delete logs delay %s", ErrInvalidRetentionPolicy, p.CompactDelay, p.DeleteLogsDelay)
	}
	if p.DeleteLogsDelay > p.DeleteRunDelay {
		return fmt.Errorf("%w: delete logs delay %s exceeds delete run delay %s", ErrInvalidRetentionPolicy, p.DeleteLogsDelay, p.DeleteRunDelay)
	}
	return nil
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

// Upsert creates the policy or updates the one with the same identifier.
func (s *RetentionPolicyService) Upsert(ctx context.Context, p *model.RetentionPolicy) error {
	if err := ValidateRetentionPolicy(p); err != nil {
		return err
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO batchrun_retention_policies (id, identifier, compact_delay_seconds, delete_logs_delay_seconds, delete_run_delay_seconds)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (identifier) DO UPDATE
		 SET compact_delay_seconds = EXCLUDED.compact_delay_seconds,
		     delete_logs_delay_seconds = EXCLUDED.delete_logs_delay_seconds,
		     delete_run_delay_seconds = EXCLUDED.delete_run_delay_seconds,
		     updated_at = now()
		 RETURNING id, created_at, updated_at`,
		platform.NewID(), p.Identifier, seconds(p.CompactDelay), seconds(p.DeleteLogsDelay), seconds(p.DeleteRunDelay),
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert retention policy %s: %w", p.Identifier, err)
	}
	return nil
}

func (s *RetentionPolicyService) GetByIdentifier(ctx context.Context, identifier string) (*model.RetentionPolicy, error) {
	var p model.RetentionPolicy
	var compact, deleteLogs, deleteRun int64
	err := s.db.QueryRow(ctx,
		`SELECT id, identifier, compact_delay_seconds, delete_logs_delay_seconds, delete_run_delay_seconds, created_at, updated_at
		 FROM batchrun_retention_policies WHERE identifier = $1`, identifier,
	).Scan(&p.ID, &p.Identifier, &compact, &deleteLogs, &deleteRun, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "get retention policy %s", identifier)
	}
	p.CompactDelay = time.Duration(compact) * time.Second
	p.DeleteLogsDelay = time.Duration(deleteLogs) * time.Second
	p.DeleteRunDelay = time.Duration(deleteRun) * time.Second
	return &p, nil
}
