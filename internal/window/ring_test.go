package window

import (
	"math"
	"testing"
)

func TestRingOverwritesOldest(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 3; i++ {
		if _, ok := r.Push(i); ok {
			t.Fatalf("unexpected eviction while filling")
		}
	}
	old, ok := r.Push(4)
	if !ok || old != 1 {
		t.Fatalf("expected eviction of 1, got %d %v", old, ok)
	}
	got := r.Values()
	if len(got) != 3 || got[0] != 2 || got[2] != 4 {
		t.Fatalf("unexpected contents %v", got)
	}
	if last, _ := r.Last(); last != 4 {
		t.Fatalf("expected last 4, got %d", last)
	}
	r.Reset()
	if r.Len() != 0 {
		t.Fatalf("expected empty ring after reset")
	}
}

func TestRingBoundedForLongRuns(t *testing.T) {
	r := NewRing[float64](16)
	for i := 0; i < 10000; i++ {
		r.Push(float64(i))
	}
	if r.Len() != 16 || !r.Full() {
		t.Fatalf("expected ring to stay at capacity, got %d", r.Len())
	}
	if r.At(0) != 9984 {
		t.Fatalf("expected oldest 9984, got %v", r.At(0))
	}
}

func TestDecayedMeanWeightsNewest(t *testing.T) {
	got := DecayedMean([]float64{0, 1}, 0.9)
	want := 1 / 1.9
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if DecayedMean(nil, 0.9) != 0 {
		t.Fatalf("expected 0 for empty history")
	}
}

func TestDecayedMeanWithinBounds(t *testing.T) {
	histories := [][]float64{
		{0.5},
		{0.1, 0.9, 0.4, 0.7},
		{1, 1, 1, 0},
		{0.3, 0.2, 0.25, 0.31, 0.29, 0.8, 0.05},
	}
	for _, h := range histories {
		lo, hi := h[0], h[0]
		for _, v := range h {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		got := DecayedMean(h, 0.9)
		if got < lo-1e-12 || got > hi+1e-12 {
			t.Fatalf("decayed mean %v outside [%v,%v] for %v", got, lo, hi, h)
		}
		r := NewRing[float64](len(h))
		for _, v := range h {
			r.Push(v)
		}
		if math.Abs(DecayedMeanOf(r, 0.9)-got) > 1e-12 {
			t.Fatalf("ring and slice decayed means disagree")
		}
	}
}

func TestMeanStd(t *testing.T) {
	mean, std := MeanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if math.Abs(mean-5) > 1e-12 || math.Abs(std-2) > 1e-12 {
		t.Fatalf("expected 5/2, got %v/%v", mean, std)
	}
}
