// Package logpack compacts the fine-grained log entries of a run into one
// content blob plus a compressed side channel of per-entry metadata.
//
// The metadata document is
//
//	{"version": 1, "precision_us": P, "start": "<first entry time>",
//	 "data": [[Δ-ticks...], [kind codes...], [byte lengths...]]}
//
// encoded as JSON and compressed with zstd. Entry i's time is
// start + P * (Δ₀ + … + Δᵢ).
package logpack

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/edvin/batchrun/internal/model"
)

const Version = 1

// DefaultPrecision is the tick size used for entry time deltas.
const DefaultPrecision = time.Microsecond

const startLayout = "2006-01-02T15:04:05.000000Z07:00"

const (
	kindCodeStdout = 1
	kindCodeStderr = 2
)

var ErrInvalidMetadata = errors.New("invalid metadata")

var (
	encoder = sync.OnceValues(func() (*zstd.Encoder, error) { return zstd.NewWriter(nil) })
	decoder = sync.OnceValues(func() (*zstd.Decoder, error) { return zstd.NewReader(nil) })
)

// Packed is the result of compacting a sequence of entries.
type Packed struct {
	Content        string
	EntryData      []byte
	FirstTimestamp *time.Time
	LastTimestamp  *time.Time
	EntryCount     int
	ErrorCount     int
}

type document struct {
	Version     int        `json:"version"`
	PrecisionUS int64      `json:"precision_us"`
	Start       string     `json:"start"`
	Data        [3][]int64 `json:"data"`
}

// Pack compacts entries, which must be in log order. Precision must be a
// positive whole number of microseconds.
func Pack(entries []model.LogEntry, precision time.Duration) (*Packed, error) {
	if precision < time.Microsecond || precision%time.Microsecond != 0 {
		return nil, fmt.Errorf("precision %s is not a positive whole number of microseconds", precision)
	}

	doc := document{
		Version:     Version,
		PrecisionUS: int64(precision / time.Microsecond),
		Data:        [3][]int64{make([]int64, 0, len(entries)), make([]int64, 0, len(entries)), make([]int64, 0, len(entries))},
	}
	p := &Packed{EntryCount: len(entries)}

	var content bytes.Buffer
	var t0 time.Time
	var ticks int64
	for i, e := range entries {
		code, err := kindCode(e.Kind)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			t0 = e.Time.Truncate(time.Microsecond)
			doc.Start = t0.Format(startLayout)
		}
		tick := roundDiv(e.Time.Sub(t0), precision)
		doc.Data[0] = append(doc.Data[0], tick-ticks)
		doc.Data[1] = append(doc.Data[1], code)
		doc.Data[2] = append(doc.Data[2], int64(len(e.Text)))
		ticks = tick

		content.WriteString(e.Text)
		if e.Kind == model.LogEntryKindStderr {
			p.ErrorCount++
		}
	}
	if len(entries) > 0 {
		first := entries[0].Time
		last := entries[len(entries)-1].Time
		p.FirstTimestamp = &first
		p.LastTimestamp = &last
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal entry data: %w", err)
	}
	enc, err := encoder()
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	p.EntryData = enc.EncodeAll(raw, nil)
	p.Content = content.String()
	return p, nil
}

// Unpack expands content and entryData back into entries. Line numbers are
// recomputed per stream; IDs and run references are left empty.
func Unpack(content string, entryData []byte) ([]model.LogEntry, error) {
	doc, err := decodeDocument(entryData)
	if err != nil {
		return nil, err
	}

	n := len(doc.Data[0])
	var t0 time.Time
	if n > 0 {
		t0, err = time.Parse(startLayout, doc.Start)
		if err != nil {
			return nil, fmt.Errorf("%w: start %q: %v", ErrInvalidMetadata, doc.Start, err)
		}
	}

	precision := time.Duration(doc.PrecisionUS) * time.Microsecond
	lines := map[model.LogEntryKind]*Lines{
		model.LogEntryKindStdout: NewLines(),
		model.LogEntryKindStderr: NewLines(),
	}

	entries := make([]model.LogEntry, 0, n)
	var ticks int64
	offset := 0
	for i := 0; i < n; i++ {
		kind, err := kindFromCode(doc.Data[1][i])
		if err != nil {
			return nil, err
		}
		length := doc.Data[2][i]
		if length < 0 || length > int64(len(content)-offset) {
			return nil, fmt.Errorf("%w: entry %d overruns content", ErrInvalidMetadata, i)
		}
		text := content[offset : offset+int(length)]
		offset += int(length)

		delta := doc.Data[0][i]
		if (delta > 0 && ticks > math.MaxInt64-delta) || (delta < 0 && ticks < math.MinInt64-delta) {
			return nil, fmt.Errorf("%w: entry %d time overflows", ErrInvalidMetadata, i)
		}
		ticks += delta
		elapsed, ok := scale(ticks, precision)
		if !ok {
			return nil, fmt.Errorf("%w: entry %d time overflows", ErrInvalidMetadata, i)
		}
		line, number := lines[kind].Next(text)
		entries = append(entries, model.LogEntry{
			Kind:       kind,
			LineNumber: line,
			Number:     number,
			Time:       t0.Add(elapsed),
			Text:       text,
		})
	}
	if offset != len(content) {
		return nil, fmt.Errorf("%w: %d trailing content bytes", ErrInvalidMetadata, len(content)-offset)
	}
	return entries, nil
}

func decodeDocument(entryData []byte) (*document, error) {
	dec, err := decoder()
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	raw, err := dec.DecodeAll(entryData, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrInvalidMetadata, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}

	var doc document
	if err := unmarshalField(fields, "version", &doc.Version); err != nil {
		return nil, err
	}
	if doc.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidMetadata, doc.Version)
	}
	if err := unmarshalField(fields, "precision_us", &doc.PrecisionUS); err != nil {
		return nil, err
	}
	if doc.PrecisionUS < 1 || doc.PrecisionUS > int64(math.MaxInt64/time.Microsecond) {
		return nil, fmt.Errorf("%w: precision_us out of range", ErrInvalidMetadata)
	}
	if err := unmarshalField(fields, "start", &doc.Start); err != nil {
		return nil, err
	}

	var data [][]int64
	if err := unmarshalField(fields, "data", &data); err != nil {
		return nil, err
	}
	if len(data) != 3 {
		return nil, fmt.Errorf("%w: data has %d arrays, want 3", ErrInvalidMetadata, len(data))
	}
	if len(data[0]) != len(data[1]) || len(data[1]) != len(data[2]) {
		return nil, fmt.Errorf("%w: data arrays differ in length", ErrInvalidMetadata)
	}
	doc.Data = [3][]int64{data[0], data[1], data[2]}
	return &doc, nil
}

// unmarshalField decodes a required field, rejecting null and values of the
// wrong JSON type (for example a fractional precision or a numeric start).
func unmarshalField(fields map[string]json.RawMessage, name string, dst any) error {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return fmt.Errorf("%w: missing %s", ErrInvalidMetadata, name)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidMetadata, name, err)
	}
	return nil
}

func kindCode(k model.LogEntryKind) (int64, error) {
	switch k {
	case model.LogEntryKindStdout:
		return kindCodeStdout, nil
	case model.LogEntryKindStderr:
		return kindCodeStderr, nil
	default:
		return 0, fmt.Errorf("unknown log entry kind %q", k)
	}
}

func kindFromCode(c int64) (model.LogEntryKind, error) {
	switch c {
	case kindCodeStdout:
		return model.LogEntryKindStdout, nil
	case kindCodeStderr:
		return model.LogEntryKindStderr, nil
	default:
		return "", fmt.Errorf("%w: unknown kind code %d", ErrInvalidMetadata, c)
	}
}

// scale returns ticks*precision, or false when it does not fit a Duration.
func scale(ticks int64, precision time.Duration) (time.Duration, bool) {
	d := time.Duration(ticks) * precision
	if ticks != 0 && d/time.Duration(ticks) != precision {
		return 0, false
	}
	return d, true
}

// roundDiv divides d by p rounding half away from zero.
func roundDiv(d, p time.Duration) int64 {
	q, r := d/p, d%p
	switch {
	case r*2 >= p:
		q++
	case r*2 <= -p:
		q--
	}
	return int64(q)
}
