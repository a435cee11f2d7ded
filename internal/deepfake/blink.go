package deepfake

import (
	"math"
	"time"

	"faceguard/internal/config"
	"faceguard/internal/face"
	"faceguard/internal/window"
)

const (
	minLag          = 10
	maxLag          = 50
	minAutocorrRuns = 3
	shortBlinkRun   = 2
	longBlinkRun    = 15
	durationHistory = 32
)

// BlinkPattern tracks the session-long eye-closure series and scores how
// unnatural the blinking looks: rate outside the human band, suspiciously
// regular intervals, odd durations, or no blinks at all.
type BlinkPattern struct {
	cfg       config.DeepfakeConfig
	det       *face.BlinkDetector
	closure   *window.Ring[float64]
	durations *window.Ring[int]
	first     time.Time
	started   bool
}

func NewBlinkPattern(cfg config.DeepfakeConfig, live config.LivenessConfig) *BlinkPattern {
	return &BlinkPattern{
		cfg:       cfg,
		det:       face.NewBlinkDetector(live.BlinkCloseEAR, live.BlinkOpenEAR, live.BlinkMinClosedFrames),
		closure:   window.NewRing[float64](cfg.BlinkHistory),
		durations: window.NewRing[int](durationHistory),
	}
}

func (b *BlinkPattern) Observe(ear float64, ts time.Time) float64 {
	if !b.started {
		b.first, b.started = ts, true
	}
	b.closure.Push(1 - ear)
	if _, episode := b.det.Observe(ear); episode {
		b.durations.Push(b.det.LastRun())
	}

	elapsed := ts.Sub(b.first)
	blinks := b.det.Blinks()

	var absence float64
	if blinks == 0 && elapsed >= b.cfg.BlinkAbsenceWindow {
		absence = 1
	}
	var rate float64
	if elapsed >= b.cfg.BlinkMinWindow && elapsed > 0 {
		rate = b.rateAnomaly(float64(blinks) / elapsed.Minutes())
	}
	var periodic float64
	if blinks >= minAutocorrRuns {
		periodic = Periodicity(b.closure.Values())
	}
	return math.Max(absence, face.Clamp01(0.4*rate+0.4*periodic+0.2*b.durationAnomaly()))
}

func (b *BlinkPattern) Blinks() int {
	return b.det.Blinks()
}

func (b *BlinkPattern) rateAnomaly(perMinute float64) float64 {
	lo, hi := b.cfg.BlinkRateMin, b.cfg.BlinkRateMax
	switch {
	case perMinute < lo:
		return face.Clamp01((lo - perMinute) / lo)
	case perMinute > hi:
		return face.Clamp01((perMinute - hi) / hi)
	}
	return 0
}

func (b *BlinkPattern) durationAnomaly() float64 {
	n := b.durations.Len()
	if n == 0 {
		return 0
	}
	var abnormal int
	for i := 0; i < n; i++ {
		d := b.durations.At(i)
		if d < shortBlinkRun || d > longBlinkRun {
			abnormal++
		}
	}
	return float64(abnormal) / float64(n)
}

// Periodicity maps the sharpest autocorrelation peak over lags 10..50 to
// [0,1]; a peak at or below 0.5 reads as natural.
func Periodicity(series []float64) float64 {
	n := len(series)
	hi := min(maxLag, n/2)
	if hi < minLag {
		return 0
	}
	mean, std := window.MeanStd(series)
	if std < 1e-6 {
		return 0
	}
	var denom float64
	for _, v := range series {
		denom += (v - mean) * (v - mean)
	}
	peak := math.Inf(-1)
	for lag := minLag; lag <= hi; lag++ {
		var num float64
		for i := 0; i+lag < n; i++ {
			num += (series[i] - mean) * (series[i+lag] - mean)
		}
		// rescale so a perfect repeat at any lag reads as 1
		r := num / denom * float64(n) / float64(n-lag)
		peak = math.Max(peak, r)
	}
	return face.Clamp01((peak - 0.5) / 0.5)
}
