// Package recorder holds the pre-allocated timestamp arrays filled by the
// probes. Each slot has exactly one writer; readers look only after the
// writer has been joined.
package recorder

import "fmt"

// Series is a fixed-capacity array of timestamps in seconds.
type Series struct {
	values []float64
}

// New allocates a series of n zeroed slots.
func New(n int) *Series {
	return &Series{values: make([]float64, n)}
}

// Set stores v at index i. An index outside the capacity panics.
func (s *Series) Set(i int, v float64) {
	s.values[i] = v
}

func (s *Series) At(i int) float64 {
	return s.values[i]
}

func (s *Series) Len() int {
	return len(s.values)
}

// Values returns the backing slice without copying.
func (s *Series) Values() []float64 {
	return s.values
}

// MaxDiff returns max(s[i] - base[i]) over i in [from, Len()).
func (s *Series) MaxDiff(base *Series, from int) float64 {
	var best float64
	for i := from; i < len(s.values) && i < base.Len(); i++ {
		if d := s.values[i] - base.values[i]; i == from || d > best {
			best = d
		}
	}
	return best
}

// Timestamps bundles the four series recorded during a jitter session.
type Timestamps struct {
	CallbackStart *Series
	CallbackDone  *Series
	RenderWake    *Series
	RenderDone    *Series
}

// NewTimestamps allocates four series of the given length.
func NewTimestamps(length int) Timestamps {
	return Timestamps{
		CallbackStart: New(length),
		CallbackDone:  New(length),
		RenderWake:    New(length),
		RenderDone:    New(length),
	}
}

func (t Timestamps) Len() int {
	if t.CallbackStart == nil {
		return 0
	}
	return t.CallbackStart.Len()
}

// Flatten lays the series out as [start | done | wake | render], each block
// Len() long.
func (t Timestamps) Flatten() []float64 {
	n := t.Len()
	out := make([]float64, 4*n)
	copy(out[0:n], t.CallbackStart.values)
	copy(out[n:2*n], t.CallbackDone.values)
	copy(out[2*n:3*n], t.RenderWake.values)
	copy(out[3*n:4*n], t.RenderDone.values)
	return out
}

// Unflatten reverses Flatten for a session of the given length.
func Unflatten(flat []float64, length int) (Timestamps, error) {
	if length < 0 || len(flat) != 4*length {
		return Timestamps{}, fmt.Errorf("flattened timestamps: got %d values, want %d", len(flat), 4*length)
	}
	t := NewTimestamps(length)
	copy(t.CallbackStart.values, flat[0:length])
	copy(t.CallbackDone.values, flat[length:2*length])
	copy(t.RenderWake.values, flat[2*length:3*length])
	copy(t.RenderDone.values, flat[3*length:4*length])
	return t, nil
}
