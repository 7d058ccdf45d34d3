// Package intset parses and evaluates compact integer-set specifiers such as
// "*", "1-5", "0,15,30,45" or "*/10" over a bounded value range.
//
// Grammar:
//
//	spec  := part ("," part)*
//	part  := number | range
//	range := ("*" | number "-" number) ("/" number)?
package intset

import (
	"errors"
	"fmt"
	"iter"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var (
	ErrInvalidSyntax = errors.New("invalid syntax")
	ErrInvalidRange  = errors.New("invalid range")
	ErrOutOfRange    = errors.New("out of range")
)

var partRegex = regexp.MustCompile(`^(?:(\d+)|(?:(\*)|(\d+)-(\d+))(?:/(\d+))?)$`)

// Spec is an immutable set of integers within [Min, Max].
type Spec struct {
	text     string
	min, max int
	sorted   []Range // by start, empty ranges removed
	disjoint bool
}

// Parse builds a Spec from text, validating every literal against [min, max].
func Parse(text string, min, max int) (*Spec, error) {
	if min > max {
		return nil, fmt.Errorf("%w: bounds %d-%d", ErrInvalidRange, min, max)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: empty specifier", ErrInvalidSyntax)
	}

	var ranges []Range
	for _, part := range strings.Split(text, ",") {
		r, err := parsePart(part, min, max)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	return newSpec(text, min, max, ranges), nil
}

// MustParse is like Parse but panics on error. Intended for constants.
func MustParse(text string, min, max int) *Spec {
	s, err := Parse(text, min, max)
	if err != nil {
		panic(err)
	}
	return s
}

func parsePart(part string, min, max int) (Range, error) {
	m := partRegex.FindStringSubmatch(part)
	if m == nil {
		return Range{}, fmt.Errorf("%w: %q", ErrInvalidSyntax, part)
	}

	step := 1
	if m[5] != "" {
		n, err := strconv.Atoi(m[5])
		if errors.Is(err, strconv.ErrRange) {
			return Range{}, fmt.Errorf("%w: step in %q", ErrOutOfRange, part)
		}
		if err != nil || n < 1 {
			return Range{}, fmt.Errorf("%w: step in %q", ErrInvalidSyntax, part)
		}
		step = n
	}

	switch {
	case m[1] != "":
		v, err := literal(m[1], min, max)
		if err != nil {
			return Range{}, err
		}
		return Range{Start: v, Stop: v + 1, Step: 1}, nil
	case m[2] != "":
		return Range{Start: ceilMultiple(min, step), Stop: max + 1, Step: step}, nil
	default:
		start, err := literal(m[3], min, max)
		if err != nil {
			return Range{}, err
		}
		stop, err := literal(m[4], min, max)
		if err != nil {
			return Range{}, err
		}
		if start > stop {
			return Range{}, fmt.Errorf("%w: %d-%d", ErrInvalidRange, start, stop)
		}
		return Range{Start: start, Stop: stop + 1, Step: step}, nil
	}
}

func literal(s string, min, max int) (int, error) {
	v, err := strconv.Atoi(s)
	if errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("%w: %s not in %d-%d", ErrOutOfRange, s, min, max)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSyntax, s)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%w: %d not in %d-%d", ErrOutOfRange, v, min, max)
	}
	return v, nil
}

// ceilMultiple returns the smallest multiple of step that is >= v.
func ceilMultiple(v, step int) int {
	q := v / step
	if q*step < v {
		q++
	}
	return q * step
}

func newSpec(text string, min, max int, ranges []Range) *Spec {
	s := &Spec{text: text, min: min, max: max}
	for _, r := range ranges {
		if r.Len() > 0 {
			s.sorted = append(s.sorted, r)
		}
	}
	slices.SortStableFunc(s.sorted, func(a, b Range) int { return a.Start - b.Start })

	s.disjoint = true
	for i := 1; i < len(s.sorted); i++ {
		if s.sorted[i].Start < maxStop(s.sorted[:i]) {
			s.disjoint = false
			break
		}
	}
	return s
}

func maxStop(rs []Range) int {
	m := rs[0].Stop
	for _, r := range rs[1:] {
		m = max(m, r.Stop)
	}
	return m
}

func (s *Spec) String() string { return s.text }
func (s *Spec) Min() int       { return s.min }
func (s *Spec) Max() int       { return s.max }

// All yields every member in ascending order.
func (s *Spec) All() iter.Seq[int] {
	return s.From(s.min)
}

// From yields every member >= v in ascending order. For disjoint ranges the
// first value is found arithmetically, so seeking into a large range is O(1).
func (s *Spec) From(v int) iter.Seq[int] {
	return func(yield func(int) bool) {
		if len(s.sorted) == 0 {
			return
		}
		if s.disjoint {
			for _, r := range s.sorted {
				if r.Stop <= v {
					continue
				}
				for x := r.firstFrom(v); x < r.Stop; x += r.Step {
					if !yield(x) {
						return
					}
				}
			}
			return
		}
		hi := maxStop(s.sorted)
		for x := max(v, s.sorted[0].Start); x < hi; x++ {
			if s.Contains(x) && !yield(x) {
				return
			}
		}
	}
}

// Values collects all members into a slice.
func (s *Spec) Values() []int {
	return slices.Collect(s.All())
}

func (s *Spec) Contains(v int) bool {
	for _, r := range s.sorted {
		if r.Contains(v) {
			return true
		}
	}
	return false
}

// Len returns the number of distinct members.
func (s *Spec) Len() int {
	if s.disjoint {
		n := 0
		for _, r := range s.sorted {
			n += r.Len()
		}
		return n
	}
	n := 0
	for range s.All() {
		n++
	}
	return n
}

// IsTotal reports whether every value in [Min, Max] is a member.
func (s *Spec) IsTotal() bool {
	if s.text == "*" {
		return true
	}
	if len(s.sorted) == 1 {
		r := s.sorted[0]
		if r.Step == 1 && r.Start <= s.min && r.Stop > s.max {
			return true
		}
	}
	return s.Len() == s.max-s.min+1
}

// Equal reports structural equality: same text and bounds.
func (s *Spec) Equal(o *Spec) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.text == o.text && s.min == o.min && s.max == o.max
}

// Simplify returns an equivalent Spec with empty ranges dropped and
// touching ranges merged. The result renders in canonical form. A spec with
// no members is returned unchanged, since it has no non-empty rendering.
func (s *Spec) Simplify() *Spec {
	if len(s.sorted) == 0 {
		return s
	}
	var unit []Range
	stepped := map[[2]int][]Range{}
	for _, r := range s.sorted {
		r = r.tight()
		if r.Step == 1 {
			unit = append(unit, r)
			continue
		}
		key := [2]int{r.Step, r.Start % r.Step}
		stepped[key] = append(stepped[key], r)
	}

	merged := mergeRanges(unit)
	for _, group := range stepped {
		merged = append(merged, mergeRanges(group)...)
	}
	slices.SortFunc(merged, func(a, b Range) int {
		if a.Start != b.Start {
			return a.Start - b.Start
		}
		return a.Step - b.Step
	})

	if len(merged) == 1 && merged[0].Step == 1 && merged[0].Start == s.min && merged[0].Stop == s.max+1 {
		return newSpec("*", s.min, s.max, merged)
	}
	parts := make([]string, len(merged))
	for i, r := range merged {
		parts[i] = r.String()
	}
	return newSpec(strings.Join(parts, ","), s.min, s.max, merged)
}

// mergeRanges merges ranges sharing one step and phase whose next start
// lies no further than one step past the previous last element.
func mergeRanges(rs []Range) []Range {
	if len(rs) == 0 {
		return nil
	}
	rs = slices.Clone(rs)
	slices.SortFunc(rs, func(a, b Range) int { return a.Start - b.Start })

	out := []Range{rs[0]}
	for _, r := range rs[1:] {
		cur := &out[len(out)-1]
		if r.Start <= cur.Last()+cur.Step {
			cur.Stop = max(cur.Stop, r.Stop)
			*cur = cur.tight()
			continue
		}
		out = append(out, r)
	}
	return out
}
