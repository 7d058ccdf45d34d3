package intset

import "fmt"

// Range is the arithmetic progression Start, Start+Step, ... below Stop.
type Range struct {
	Start int
	Stop  int // exclusive
	Step  int
}

func (r Range) Len() int {
	if r.Stop <= r.Start {
		return 0
	}
	return (r.Stop - r.Start + r.Step - 1) / r.Step
}

func (r Range) Contains(v int) bool {
	return v >= r.Start && v < r.Stop && (v-r.Start)%r.Step == 0
}

// Last returns the largest member. Only meaningful when Len() > 0.
func (r Range) Last() int {
	return r.Start + (r.Len()-1)*r.Step
}

func (r Range) firstFrom(v int) int {
	if v <= r.Start {
		return r.Start
	}
	k := (v - r.Start + r.Step - 1) / r.Step
	return r.Start + k*r.Step
}

// tight normalises Stop to Last()+1 and single-element ranges to step 1.
func (r Range) tight() Range {
	n := r.Len()
	if n == 1 {
		return Range{Start: r.Start, Stop: r.Start + 1, Step: 1}
	}
	return Range{Start: r.Start, Stop: r.Last() + 1, Step: r.Step}
}

func (r Range) String() string {
	t := r.tight()
	switch {
	case t.Len() == 1:
		return fmt.Sprintf("%d", t.Start)
	case t.Step == 1:
		return fmt.Sprintf("%d-%d", t.Start, t.Last())
	default:
		return fmt.Sprintf("%d-%d/%d", t.Start, t.Last(), t.Step)
	}
}
