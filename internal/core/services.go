package core

import "time"

// Options carries the process-wide settings the services depend on.
type Options struct {
	GracePeriod      time.Duration
	QueueWindowSize  int
	CleanerBatchSize int
	ManagedBinary    string
	CompactPrecision time.Duration
}

type Services struct {
	Command         *CommandService
	Job             *JobService
	RetentionPolicy *RetentionPolicyService
	ScheduledJob    *ScheduledJobService
	RunQueue        *RunQueueService
	JobRun          *JobRunService
	LogEntry        *LogEntryService
	CompactLog      *CompactLogService
	Cleaner         *HistoryCleaner
}

func NewServices(db DB, opts Options) *Services {
	commands := NewCommandService(db)
	queue := NewRunQueueService(db, opts.GracePeriod, opts.QueueWindowSize)
	compactLog := NewCompactLogService(db, opts.CompactPrecision)
	return &Services{
		Command:         commands,
		Job:             NewJobService(db, commands, opts.ManagedBinary),
		RetentionPolicy: NewRetentionPolicyService(db),
		ScheduledJob:    NewScheduledJobService(db, queue),
		RunQueue:        queue,
		JobRun:          NewJobRunService(db),
		LogEntry:        NewLogEntryService(db),
		CompactLog:      compactLog,
		Cleaner:         NewHistoryCleaner(db, compactLog, opts.CleanerBatchSize),
	}
}
