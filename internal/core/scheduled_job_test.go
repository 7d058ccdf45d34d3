package core

import (
	"context"
	"testing"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/batchrun/internal/intset"
	"github.com/edvin/batchrun/internal/model"
	"github.com/edvin/batchrun/internal/recurrence"
)

func TestRuleFor(t *testing.T) {
	sj := &model.ScheduledJob{Timezone: "Europe/Helsinki", Years: "2024", Hours: "3", Minutes: "30"}
	rule, err := RuleFor(sj)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Helsinki", rule.Location.String())
	assert.True(t, rule.Months.IsTotal())
}

func TestRuleFor_Errors(t *testing.T) {
	_, err := RuleFor(&model.ScheduledJob{Timezone: "Mars/Olympus"})
	assert.ErrorIs(t, err, recurrence.ErrInvalidTimezone)

	_, err = RuleFor(&model.ScheduledJob{Timezone: "UTC", Weekdays: "7"})
	assert.ErrorIs(t, err, intset.ErrOutOfRange)

	_, err = RuleFor(&model.ScheduledJob{Timezone: "UTC", Hours: "5-3"})
	assert.ErrorIs(t, err, intset.ErrInvalidRange)

	_, err = RuleFor(&model.ScheduledJob{Timezone: "UTC", Minutes: "every"})
	assert.ErrorIs(t, err, intset.ErrInvalidSyntax)
}

func TestScheduledJobService_Upsert_RefillsQueue(t *testing.T) {
	db := &mockDB{}
	queue := newTestQueue(db)
	svc := NewScheduledJobService(db, queue)
	ctx := context.Background()

	sj := &model.ScheduledJob{Name: "nightly", JobID: "job-1", Enabled: true, Timezone: "UTC", Hours: "2", Minutes: "0"}

	db.On("QueryRow", ctx, sqlHas("INSERT INTO batchrun_scheduled_jobs"), mock.MatchedBy(func(a []any) bool {
		return a[5] == "*" && a[9] == "2"
	})).Return(&mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*string)) = "sj-9"
		return nil
	}})
	db.On("Exec", ctx, sqlHas("INSERT INTO batchrun_run_queue_items"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Times(10)
	db.On("Exec", ctx, sqlHas("NOT (run_at = ANY($2))"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 0"), nil).Once()

	require.NoError(t, svc.Upsert(ctx, sj))
	assert.Equal(t, "sj-9", sj.ID)
	assert.Equal(t, "*", sj.Weekdays)
	db.AssertExpectations(t)
}

func TestScheduledJobService_Upsert_InvalidTimezone(t *testing.T) {
	db := &mockDB{}
	svc := NewScheduledJobService(db, newTestQueue(db))

	err := svc.Upsert(context.Background(), &model.ScheduledJob{Name: "x", Timezone: "Nowhere/Town"})
	assert.ErrorIs(t, err, recurrence.ErrInvalidTimezone)
	db.AssertNotCalled(t, "QueryRow", mock.Anything, mock.Anything, mock.Anything)
}

func TestScheduledJobService_SetEnabled_Disable(t *testing.T) {
	db := &mockDB{}
	svc := NewScheduledJobService(db, newTestQueue(db))
	ctx := context.Background()

	db.On("QueryRow", ctx, sqlHas("FROM batchrun_scheduled_jobs WHERE id = $1"), []any{"sj-1"}).
		Return(&mockRow{scanFunc: scheduledJobScan(everyMinute())})
	db.On("Exec", ctx, sqlHas("SET enabled = $1"), []any{false, "sj-1"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()
	db.On("Exec", ctx, sqlHas("DELETE FROM batchrun_run_queue_items"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 10"), nil).Once()

	require.NoError(t, svc.SetEnabled(ctx, "sj-1", false))
	db.AssertExpectations(t)
	db.AssertNotCalled(t, "Exec", ctx, sqlHas("INSERT"), mock.Anything)
}

func TestScheduledJobService_SetEnabled_NotFound(t *testing.T) {
	db := &mockDB{}
	svc := NewScheduledJobService(db, newTestQueue(db))
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.Anything, mock.Anything).Return(errRow(pgx.ErrNoRows))

	err := svc.SetEnabled(ctx, "sj-404", true)
	assert.ErrorIs(t, err, ErrNotFound)
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}
