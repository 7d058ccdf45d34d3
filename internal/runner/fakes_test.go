package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/edvin/batchrun/internal/core"
	"github.com/edvin/batchrun/internal/model"
)

// memEntries stores entries in memory. The first failFirst calls to Create
// fail with failErr, or a connection error when it is nil.
type memEntries struct {
	mu        sync.Mutex
	entries   []model.LogEntry
	calls     int
	failFirst int
	failErr   error
}

func (m *memEntries) Create(_ context.Context, e *model.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failFirst {
		if m.failErr != nil {
			return m.failErr
		}
		return errors.New("connection refused")
	}
	e.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memEntries) byKind(kind model.LogEntryKind) []model.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.LogEntry
	for _, e := range m.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func joinText(entries []model.LogEntry) string {
	var s string
	for _, e := range entries {
		s += e.Text
	}
	return s
}

type memRuns struct {
	mu   sync.Mutex
	runs map[string]*model.JobRun
}

func newMemRuns(runs ...*model.JobRun) *memRuns {
	m := &memRuns{runs: map[string]*model.JobRun{}}
	for _, r := range runs {
		m.runs[r.ID] = r
	}
	return m
}

func (m *memRuns) GetByID(_ context.Context, id string) (*model.JobRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRuns) SetPID(_ context.Context, id string, pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok || r.StoppedAt != nil {
		return core.ErrNotFound
	}
	r.PID = &pid
	return nil
}

func (m *memRuns) Finish(_ context.Context, id string, stoppedAt time.Time, exitCode int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok || r.StoppedAt != nil {
		return nil
	}
	r.StoppedAt = &stoppedAt
	r.ExitCode = &exitCode
	return nil
}

type staticArgv struct {
	argv []string
	err  error
}

func (s staticArgv) Argv(context.Context, string) ([]string, error) {
	return s.argv, s.err
}
