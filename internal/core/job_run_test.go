package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/batchrun/internal/model"
)

func TestJobRunService_Create(t *testing.T) {
	db := &mockDB{}
	svc := NewJobRunService(db)
	ctx := context.Background()
	started := time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)

	db.On("QueryRow", ctx, sqlHas("INSERT INTO batchrun_job_runs"), mock.MatchedBy(func(a []any) bool {
		return a[1] == "job-1"
	})).Return(&mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*time.Time)) = started
		return nil
	}})

	run, err := svc.Create(ctx, "job-1")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, started, run.StartedAt)
	assert.Equal(t, model.RunStatusCreated, run.Status())
}

func TestJobRunService_GetByID_NotFound(t *testing.T) {
	db := &mockDB{}
	svc := NewJobRunService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.Anything, []any{"nope"}).Return(errRow(pgx.ErrNoRows))

	_, err := svc.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobRunService_SetPID_FinishedRun(t *testing.T) {
	db := &mockDB{}
	svc := NewJobRunService(db)
	ctx := context.Background()

	db.On("Exec", ctx, sqlHas("SET pid"), []any{123, "run-1"}).Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := svc.SetPID(ctx, "run-1", 123)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobRunService_Finish(t *testing.T) {
	db := &mockDB{}
	svc := NewJobRunService(db)
	ctx := context.Background()
	stopped := time.Date(2024, 6, 1, 3, 5, 0, 0, time.UTC)

	db.On("Exec", ctx, sqlHas("stopped_at IS NULL"), []any{stopped, -9, "run-1"}).Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()

	require.NoError(t, svc.Finish(ctx, "run-1", stopped, -9))
	db.AssertExpectations(t)
}

func TestJobRunService_Finish_DBError(t *testing.T) {
	db := &mockDB{}
	svc := NewJobRunService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, errors.New("conn closed"))

	err := svc.Finish(ctx, "run-1", time.Now(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "finish run run-1")
}

func TestJobRunService_Missing(t *testing.T) {
	db := &mockDB{}
	svc := NewJobRunService(db)
	ctx := context.Background()

	ids := []string{"a", "b", "c"}
	db.On("Query", ctx, sqlHas("unnest"), []any{ids}).Return(newMockRows(
		func(dest ...any) error { *(dest[0].(*string)) = "b"; return nil },
	), nil)

	missing, err := svc.Missing(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, missing)
}
