package recurrence

import "time"

// ResolutionKind classifies how a wall-clock time maps onto absolute time.
type ResolutionKind int

const (
	Unambiguous ResolutionKind = iota
	// Ambiguous wall times occur twice, in the fall-back overlap.
	Ambiguous
	// NonExistent wall times are skipped by a spring-forward gap.
	NonExistent
)

func (k ResolutionKind) String() string {
	switch k {
	case Unambiguous:
		return "unambiguous"
	case Ambiguous:
		return "ambiguous"
	case NonExistent:
		return "non-existent"
	default:
		return "unknown"
	}
}

// Resolution is the result of resolving a local wall-clock time in a zone.
//
// For Unambiguous, Time is the single instant. For Ambiguous, Time is the
// DST interpretation and Standard the non-DST one. For NonExistent, Time is
// the wall clock read with the DST offset, i.e. the instant the zone jumped
// over.
type Resolution struct {
	Kind     ResolutionKind
	Time     time.Time
	Standard time.Time
}

// ResolveLocal resolves the wall-clock time y-m-d h:mi in loc.
func ResolveLocal(loc *time.Location, year int, month time.Month, day, hour, minute int) Resolution {
	naive := time.Date(year, month, day, hour, minute, 0, 0, time.UTC)

	// Offsets in force a day either side cover any single transition.
	before := zoneAt(naive.Add(-24*time.Hour), loc)
	after := zoneAt(naive.Add(24*time.Hour), loc)

	var found []time.Time
	for _, z := range uniqueZones(before, after) {
		t := naive.Add(-time.Duration(z.offset) * time.Second).In(loc)
		if _, off := t.Zone(); off == z.offset {
			found = append(found, t)
		}
	}

	switch len(found) {
	case 1:
		return Resolution{Kind: Unambiguous, Time: found[0]}
	case 2:
		dst, std := found[0], found[1]
		if prefersSecond(dst, std) {
			dst, std = std, dst
		}
		return Resolution{Kind: Ambiguous, Time: dst, Standard: std}
	default:
		z := before
		if prefersZone(after, before) {
			z = after
		}
		t := naive.Add(-time.Duration(z.offset) * time.Second).In(loc)
		return Resolution{Kind: NonExistent, Time: t}
	}
}

type zone struct {
	offset int
	isDST  bool
}

func zoneAt(instant time.Time, loc *time.Location) zone {
	t := instant.In(loc)
	_, off := t.Zone()
	return zone{offset: off, isDST: t.IsDST()}
}

func uniqueZones(a, b zone) []zone {
	if a.offset == b.offset {
		return []zone{a}
	}
	return []zone{a, b}
}

// prefersSecond reports whether b is the DST interpretation rather than a.
// Zones without a DST flag on either side fall back to the larger offset.
func prefersSecond(a, b time.Time) bool {
	if a.IsDST() != b.IsDST() {
		return b.IsDST()
	}
	_, ao := a.Zone()
	_, bo := b.Zone()
	return bo > ao
}

func prefersZone(a, b zone) bool {
	if a.isDST != b.isDST {
		return a.isDST
	}
	return a.offset > b.offset
}
