package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/time/rate"

	"github.com/edvin/batchrun/internal/core"
	"github.com/edvin/batchrun/internal/logpack"
	"github.com/edvin/batchrun/internal/model"
)

// ChunkSize is the largest number of decoded bytes recorded per read.
const ChunkSize = 4096

const (
	defaultWriteRetries = 4
	defaultWriteDelay   = 50 * time.Millisecond
)

// EntryStore persists fine-grained log entries.
type EntryStore interface {
	Create(ctx context.Context, e *model.LogEntry) error
}

// Collector turns one output stream of a run into log entries.
type Collector struct {
	runID  string
	kind   model.LogEntryKind
	store  EntryStore
	logger zerolog.Logger

	now        func() time.Time
	retries    uint64
	retryDelay time.Duration

	lines *logpack.Lines
	// degraded is set after the store kept failing; writes then get a
	// single attempt until one succeeds.
	degraded bool
	dropped  int
	warn     *rate.Sometimes
}

func NewCollector(runID string, kind model.LogEntryKind, store EntryStore, logger zerolog.Logger) *Collector {
	return &Collector{
		runID:      runID,
		kind:       kind,
		store:      store,
		logger:     logger.With().Str("component", "collector").Str("run_id", runID).Str("stream", string(kind)).Logger(),
		now:        time.Now,
		retries:    defaultWriteRetries,
		retryDelay: defaultWriteDelay,
		lines:      logpack.NewLines(),
		warn:       &rate.Sometimes{First: 1, Interval: time.Minute},
	}
}

// nulToReplacement maps NUL, which PostgreSQL text cannot hold, to U+FFFD
// like any other undecodable input.
var nulToReplacement = runes.Map(func(r rune) rune {
	if r == 0 {
		return '\uFFFD'
	}
	return r
})

// Collect reads r until EOF. Storage failures never stop the reader; they
// are retried, then the entry is dropped.
func (c *Collector) Collect(ctx context.Context, r io.Reader) error {
	decoded := transform.NewReader(r, transform.Chain(unicode.UTF8.NewDecoder(), nulToReplacement))
	buf := make([]byte, ChunkSize)
	for {
		n, err := decoded.Read(buf)
		if n > 0 {
			c.record(ctx, string(buf[:n]))
		}
		if errors.Is(err, io.EOF) {
			if c.dropped > 0 {
				c.logger.Warn().Int("dropped", c.dropped).Msg("stream finished with dropped log entries")
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s of run %s: %w", c.kind, c.runID, err)
		}
	}
}

// Dropped returns how many entries could not be stored.
func (c *Collector) Dropped() int { return c.dropped }

func (c *Collector) record(ctx context.Context, text string) {
	now := c.now()
	for _, piece := range logpack.SplitLines(text) {
		line, number := c.lines.Next(piece)
		c.write(ctx, &model.LogEntry{
			RunID:      c.runID,
			Kind:       c.kind,
			LineNumber: line,
			Number:     number,
			Time:       now,
			Text:       piece,
		})
	}
}

func (c *Collector) write(ctx context.Context, e *model.LogEntry) {
	retries := c.retries
	if c.degraded {
		retries = 0
	}
	b := retry.WithMaxRetries(retries, retry.NewExponential(c.retryDelay))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		return retryable(c.store.Create(ctx, e))
	})
	if err == nil {
		c.degraded = false
		return
	}

	// A rejected entry says nothing about the store's health.
	c.degraded = !core.IsPermanent(err)
	c.dropped++
	c.warn.Do(func() {
		c.logger.Warn().Err(err).Int("line", e.LineNumber).Int("dropped", c.dropped).Msg("dropping log entry")
	})
}

// retryable marks err for another attempt unless the database rejected the
// statement itself.
func retryable(err error) error {
	if err == nil || core.IsPermanent(err) {
		return err
	}
	return retry.RetryableError(err)
}
