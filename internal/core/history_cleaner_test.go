package core

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/batchrun/internal/model"
)

var (
	cleanerNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	shortTerm  = model.RetentionPolicy{
		Identifier:      "short",
		CompactDelay:    time.Hour,
		DeleteLogsDelay: 24 * time.Hour,
		DeleteRunDelay:  48 * time.Hour,
	}
)

func candidate(id string, age time.Duration, entries, compact bool) CleanupCandidate {
	return CleanupCandidate{
		RunID:         id,
		StartedAt:     cleanerNow.Add(-age),
		Policy:        shortTerm,
		HasEntries:    entries,
		HasCompactLog: compact,
	}
}

func TestPartition(t *testing.T) {
	cands := []CleanupCandidate{
		candidate("young", 30*time.Minute, true, false),
		candidate("compact", 2*time.Hour, true, false),
		candidate("compact-nothing", 2*time.Hour, false, true),
		candidate("logs", 25*time.Hour, true, false),
		candidate("logs-compacted", 25*time.Hour, false, true),
		candidate("logs-none", 25*time.Hour, false, false),
		candidate("run", 49*time.Hour, true, true),
		candidate("run-bare", 49*time.Hour, false, false),
		candidate("boundary", 48*time.Hour, false, false),
	}

	plan := Partition(cands, cleanerNow)
	assert.Equal(t, []string{"run", "run-bare", "boundary"}, plan.DeleteRuns)
	assert.Equal(t, []string{"logs", "logs-compacted"}, plan.DeleteLogs)
	assert.Equal(t, []string{"compact"}, plan.Compact)
}

func TestPartition_BucketsAreDisjoint(t *testing.T) {
	var cands []CleanupCandidate
	for age := time.Duration(0); age <= 50*time.Hour; age += 30 * time.Minute {
		for _, entries := range []bool{false, true} {
			for _, compact := range []bool{false, true} {
				cands = append(cands, candidate(age.String()+"/"+boolName(entries)+"/"+boolName(compact), age, entries, compact))
			}
		}
	}

	plan := Partition(cands, cleanerNow)
	seen := map[string]string{}
	for bucket, ids := range map[string][]string{"run": plan.DeleteRuns, "logs": plan.DeleteLogs, "compact": plan.Compact} {
		for _, id := range ids {
			prev, dup := seen[id]
			assert.False(t, dup, "%s is in both %s and %s", id, prev, bucket)
			seen[id] = bucket
		}
	}
}

func boolName(b bool) string {
	if b {
		return "y"
	}
	return "n"
}

func candidateScan(c CleanupCandidate) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*string)) = c.RunID
		*(dest[1].(*time.Time)) = c.StartedAt
		*(dest[2].(*int64)) = int64(c.Policy.CompactDelay / time.Second)
		*(dest[3].(*int64)) = int64(c.Policy.DeleteLogsDelay / time.Second)
		*(dest[4].(*int64)) = int64(c.Policy.DeleteRunDelay / time.Second)
		*(dest[5].(*bool)) = c.HasEntries
		*(dest[6].(*bool)) = c.HasCompactLog
		return nil
	}
}

func newTestCleaner(db DB, batchSize int) *HistoryCleaner {
	c := NewHistoryCleaner(db, NewCompactLogService(db, 0), batchSize)
	c.now = func() time.Time { return cleanerNow }
	return c
}

func TestHistoryCleaner_Candidates_UsesDefaultPolicy(t *testing.T) {
	db := &mockDB{}
	c := newTestCleaner(db, 0)
	ctx := context.Background()

	db.On("Query", ctx, sqlHas("r.stopped_at IS NOT NULL"), []any{cleanerNow, int64(86400), int64(30 * 86400), int64(365 * 86400)}).
		Return(newMockRows(candidateScan(candidate("r1", 2*time.Hour, true, false))), nil)

	cands, err := c.Candidates(ctx, cleanerNow)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, shortTerm.CompactDelay, cands[0].Policy.CompactDelay)
	assert.True(t, cands[0].HasEntries)
	db.AssertExpectations(t)
}

func TestHistoryCleaner_Run_DryRun(t *testing.T) {
	db := &mockDB{}
	c := newTestCleaner(db, 10)
	ctx := context.Background()

	db.On("Query", ctx, sqlHas("r.stopped_at IS NOT NULL"), mock.Anything).
		Return(newMockRows(
			candidateScan(candidate("old", 72*time.Hour, true, false)),
			candidateScan(candidate("mid", 30*time.Hour, true, false)),
			candidateScan(candidate("new", 2*time.Hour, true, false)),
		), nil)

	report, err := c.Run(ctx, true)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, []string{"old"}, report.Plan.DeleteRuns)
	assert.Equal(t, []string{"mid"}, report.Plan.DeleteLogs)
	assert.Equal(t, []string{"new"}, report.Plan.Compact)
	assert.Zero(t, report.RunsDeleted)
	assert.Empty(t, db.txs)
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestHistoryCleaner_Run_DeletesInBatches(t *testing.T) {
	db := &mockDB{}
	c := newTestCleaner(db, 2)
	ctx := context.Background()

	db.On("Query", ctx, sqlHas("r.stopped_at IS NOT NULL"), mock.Anything).
		Return(newMockRows(
			candidateScan(candidate("a", 72*time.Hour, true, false)),
			candidateScan(candidate("b", 72*time.Hour, false, true)),
			candidateScan(candidate("c", 72*time.Hour, false, false)),
			candidateScan(candidate("d", 30*time.Hour, true, false)),
		), nil)

	var runBatches [][]string
	db.On("Exec", ctx, sqlHas("DELETE FROM batchrun_job_runs"), mock.Anything).
		Run(func(args mock.Arguments) {
			runBatches = append(runBatches, args.Get(2).([]any)[0].([]string))
		}).
		Return(pgconn.NewCommandTag("DELETE 2"), nil)
	db.On("Exec", ctx, sqlHas("DELETE FROM batchrun_job_run_log_entries"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 5"), nil)
	db.On("Exec", ctx, sqlHas("DELETE FROM batchrun_job_run_logs"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 1"), nil)

	report, err := c.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, runBatches)
	assert.Equal(t, int64(4), report.RunsDeleted)
	assert.Equal(t, int64(15), report.EntriesDeleted)
	assert.Equal(t, int64(3), report.CompactLogsDeleted)
	assert.Equal(t, 3, db.committed())
}

func TestHistoryCleaner_DropOldRuns(t *testing.T) {
	db := &mockDB{}
	c := newTestCleaner(db, 10)
	ctx := context.Background()

	db.On("Query", ctx, sqlHas("max(started_at)"), []any{7}).
		Return(newMockRows(
			func(dest ...any) error { *(dest[0].(*string)) = "r1"; return nil },
			func(dest ...any) error { *(dest[0].(*string)) = "r2"; return nil },
		), nil)
	db.On("Exec", ctx, sqlHas("DELETE FROM batchrun_job_runs"), []any{[]string{"r1", "r2"}}).
		Return(pgconn.NewCommandTag("DELETE 2"), nil).Once()
	db.On("Exec", ctx, sqlHas("DELETE FROM batchrun_job_run_log"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 0"), nil)

	report, err := c.DropOldRuns(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.RunsDeleted)
	db.AssertExpectations(t)
}

func TestHistoryCleaner_DropOldRuns_Empty(t *testing.T) {
	db := &mockDB{}
	c := newTestCleaner(db, 10)
	ctx := context.Background()

	db.On("Query", ctx, mock.Anything, mock.Anything).Return(newEmptyMockRows(), nil)

	report, err := c.DropOldRuns(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, report.RunsDeleted)
	assert.Empty(t, db.txs)
}
