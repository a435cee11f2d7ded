// Package window holds the fixed-capacity histories every per-session
// analysis rolls its state through.
package window

import "math"

// Ring is a fixed-capacity FIFO. Pushing into a full ring overwrites the
// oldest element, so memory stays bounded for any session length.
type Ring[T any] struct {
	buf  []T
	head int
	n    int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v and returns the evicted element, if any.
func (r *Ring[T]) Push(v T) (evicted T, ok bool) {
	idx := (r.head + r.n) % len(r.buf)
	if r.n == len(r.buf) {
		evicted, ok = r.buf[r.head], true
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		return evicted, ok
	}
	r.buf[idx] = v
	r.n++
	return evicted, false
}

func (r *Ring[T]) Len() int { return r.n }

func (r *Ring[T]) Cap() int { return len(r.buf) }

func (r *Ring[T]) Full() bool { return r.n == len(r.buf) }

// At indexes from the oldest element.
func (r *Ring[T]) At(i int) T {
	return r.buf[(r.head+i)%len(r.buf)]
}

func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	return r.At(r.n - 1), true
}

// Values copies the contents oldest first.
func (r *Ring[T]) Values() []T {
	out := make([]T, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.At(i)
	}
	return out
}

func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head, r.n = 0, 0
}

// DecayedMean weights the newest value 1 and each older one by a further
// factor, normalized by the sum of weights. Values are oldest first.
func DecayedMean(values []float64, factor float64) float64 {
	if len(values) == 0 {
		return 0
	}
	w := 1.0
	var num, den float64
	for i := len(values) - 1; i >= 0; i-- {
		num += w * values[i]
		den += w
		w *= factor
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// DecayedMeanOf is DecayedMean over a float ring without copying it out.
func DecayedMeanOf(r *Ring[float64], factor float64) float64 {
	if r.n == 0 {
		return 0
	}
	w := 1.0
	var num, den float64
	for i := r.n - 1; i >= 0; i-- {
		num += w * r.At(i)
		den += w
		w *= factor
	}
	return num / den
}

// MeanStd runs Welford's update over values.
func MeanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var m2 float64
	for i, v := range values {
		delta := v - mean
		mean += delta / float64(i+1)
		m2 += delta * (v - mean)
	}
	return mean, math.Sqrt(m2 / float64(len(values)))
}

func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
