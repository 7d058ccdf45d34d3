package intset

import (
	"iter"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Values(t *testing.T) {
	tests := []struct {
		spec     string
		min, max int
		want     []int
	}{
		{"*", 0, 5, []int{0, 1, 2, 3, 4, 5}},
		{"3", 0, 5, []int{3}},
		{"1-3", 0, 5, []int{1, 2, 3}},
		{"1-5/2", 0, 5, []int{1, 3, 5}},
		{"*/30", 0, 59, []int{0, 30}},
		{"*/2", 1, 12, []int{2, 4, 6, 8, 10, 12}},
		{"5,1,3", 0, 9, []int{1, 3, 5}},
		{"0-4,2-6", 0, 9, []int{0, 1, 2, 3, 4, 5, 6}},
		{"0-9/3,1-9/4", 0, 9, []int{0, 1, 3, 5, 6, 9}},
		{"23,0,1", 0, 23, []int{0, 1, 23}},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			s, err := Parse(tt.spec, tt.min, tt.max)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Values())
			assert.Equal(t, len(tt.want), s.Len())
			assert.Equal(t, tt.spec, s.String())
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		spec string
		want error
	}{
		{"", ErrInvalidSyntax},
		{"a", ErrInvalidSyntax},
		{"1-", ErrInvalidSyntax},
		{"1,,2", ErrInvalidSyntax},
		{"5/2", ErrInvalidSyntax},
		{"*/0", ErrInvalidSyntax},
		{"1 - 2", ErrInvalidSyntax},
		{"-1", ErrInvalidSyntax},
		{"5-3", ErrInvalidRange},
		{"60", ErrOutOfRange},
		{"0-60", ErrOutOfRange},
		{"99999999999999999999999", ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			_, err := Parse(tt.spec, 0, 59)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSpec_Properties(t *testing.T) {
	specs := []string{
		"*", "*/7", "0", "59", "1-10", "1-10/3", "0-59/15,5", "1,2,3,10-20",
		"10-20,15-25/2", "0-30/5,1-31/5,30-59", "3,3,3", "*/13,*/17",
	}
	for _, text := range specs {
		t.Run(text, func(t *testing.T) {
			s, err := Parse(text, 0, 59)
			require.NoError(t, err)

			values := s.Values()
			assert.True(t, slices.IsSorted(values))
			assert.Equal(t, len(slices.Compact(slices.Clone(values))), len(values), "strictly ascending")
			assert.Equal(t, len(values), s.Len())

			members := map[int]bool{}
			for _, v := range values {
				members[v] = true
			}
			for v := -2; v <= 62; v++ {
				assert.Equal(t, members[v], s.Contains(v), "contains(%d)", v)
			}

			simple := s.Simplify()
			assert.Equal(t, values, simple.Values(), "simplified %q", simple.String())
		})
	}
}

func TestSpec_From(t *testing.T) {
	s := MustParse("0-10/5,20-30", 0, 59)
	assert.Equal(t, []int{5, 10, 20, 21, 22}, slices.Collect(take(s.From(3), 5)))
	assert.Empty(t, slices.Collect(s.From(31)))

	overlapping := MustParse("0-10,5-15/5", 0, 59)
	assert.Equal(t, []int{9, 10, 15}, slices.Collect(overlapping.From(9)))
}

func TestSpec_LazyLargeRange(t *testing.T) {
	s, err := Parse("42-100000000/3", 0, 100000000)
	require.NoError(t, err)

	start := time.Now()
	got := slices.Collect(take(s.All(), 2))
	assert.Less(t, time.Since(start), 10*time.Millisecond)
	assert.Equal(t, []int{42, 45}, got)
}

func TestSpec_IsTotal(t *testing.T) {
	tests := []struct {
		spec string
		want bool
	}{
		{"*", true},
		{"0-23", true},
		{"0-11,12-23", true},
		{"0-23/2,1-23/2", true},
		{"*/2", false},
		{"0-22", false},
		{"1-23", false},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			assert.Equal(t, tt.want, MustParse(tt.spec, 0, 23).IsTotal())
		})
	}
}

func TestSpec_Simplify(t *testing.T) {
	tests := []struct {
		spec string
		want string
	}{
		{"1,2,3", "1-3"},
		{"1-3,4-6", "1-6"},
		{"1-5,3-9", "1-9"},
		{"0-10/2,12-20/2", "0-20/2"},
		{"0-10/2,1-11/2", "0-10/2,1-11/2"},
		{"0-23", "*"},
		{"5-5/3", "5"},
		{"7,1-5", "1-5,7"},
		{"0-9/4", "0-8/4"},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			s := MustParse(tt.spec, 0, 23)
			simple := s.Simplify()
			assert.Equal(t, tt.want, simple.String())
			assert.Equal(t, s.Values(), simple.Values())
		})
	}
}

func TestSpec_EmptyStepRange(t *testing.T) {
	s := MustParse("*/100", 1, 12)
	assert.Empty(t, s.Values())
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.IsTotal())

	simple := s.Simplify()
	assert.Equal(t, "*/100", simple.String())
	again, err := Parse(simple.String(), 1, 12)
	require.NoError(t, err)
	assert.Empty(t, again.Values())
}

func TestParse_OverlongLiteral(t *testing.T) {
	for _, spec := range []string{"99999999999999999999", "1-99999999999999999999", "*/99999999999999999999"} {
		t.Run(spec, func(t *testing.T) {
			_, err := Parse(spec, 0, 59)
			assert.ErrorIs(t, err, ErrOutOfRange)
		})
	}
}

func TestSpec_Equal(t *testing.T) {
	assert.True(t, MustParse("1-3", 0, 9).Equal(MustParse("1-3", 0, 9)))
	assert.False(t, MustParse("1-3", 0, 9).Equal(MustParse("1,2,3", 0, 9)))
	assert.False(t, MustParse("1-3", 0, 9).Equal(MustParse("1-3", 0, 10)))
}

func take(seq iter.Seq[int], n int) iter.Seq[int] {
	return func(yield func(int) bool) {
		if n <= 0 {
			return
		}
		i := 0
		for v := range seq {
			if !yield(v) {
				return
			}
			i++
			if i >= n {
				return
			}
		}
	}
}
