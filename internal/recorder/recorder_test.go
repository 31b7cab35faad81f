package recorder

import "testing"

func TestSeriesSetAt(t *testing.T) {
	s := New(3)
	s.Set(0, 1.5)
	s.Set(2, 3.5)
	if s.At(0) != 1.5 || s.At(1) != 0 || s.At(2) != 3.5 {
		t.Fatalf("unexpected values %v", s.Values())
	}
	if s.Len() != 3 {
		t.Fatalf("len = %d, want 3", s.Len())
	}
}

func TestSeriesSetOutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	New(2).Set(2, 1)
}

func TestMaxDiff(t *testing.T) {
	base := New(4)
	s := New(4)
	for i, v := range []float64{0, 1, 2, 3} {
		base.Set(i, v)
	}
	for i, v := range []float64{9, 1.5, 2.1, 3.2} {
		s.Set(i, v)
	}
	if got := s.MaxDiff(base, 1); got < 0.4999 || got > 0.5001 {
		t.Fatalf("MaxDiff from 1 = %f, want 0.5", got)
	}
	if got := s.MaxDiff(base, 0); got != 9 {
		t.Fatalf("MaxDiff from 0 = %f, want 9", got)
	}
}

func TestFlattenLayout(t *testing.T) {
	ts := NewTimestamps(2)
	ts.CallbackStart.Set(0, 1)
	ts.CallbackStart.Set(1, 2)
	ts.CallbackDone.Set(0, 3)
	ts.CallbackDone.Set(1, 4)
	ts.RenderWake.Set(1, 5)
	ts.RenderDone.Set(1, 6)
	want := []float64{1, 2, 3, 4, 0, 5, 0, 6}
	got := ts.Flatten()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("flat[%d] = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestUnflattenRoundTrip(t *testing.T) {
	flat := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	ts, err := Unflatten(flat, 3)
	if err != nil {
		t.Fatalf("Unflatten: %v", err)
	}
	if ts.RenderWake.At(0) != 7 || ts.RenderDone.At(2) != 12 {
		t.Fatalf("unexpected layout")
	}
	back := ts.Flatten()
	for i := range flat {
		if back[i] != flat[i] {
			t.Fatalf("round trip mismatch at %d", i)
		}
	}
	if _, err := Unflatten(flat, 4); err == nil {
		t.Fatalf("expected length mismatch error")
	}
}
