package deepfake

import (
	"math"

	"faceguard/internal/config"
	"faceguard/internal/face"
	"faceguard/internal/model"
	"faceguard/internal/window"
)

const (
	gridSize     = 32
	minFlickerN  = 5
	diffStdFloor = 1.0
)

// Temporal watches frame-to-frame change in the face region, sampled on a
// fixed grid. Sudden jumps against recent history read as flicker; a full
// window of near-zero motion reads as frozen or looped footage.
type Temporal struct {
	cfg   config.DeepfakeConfig
	prev  []float64
	diffs *window.Ring[float64]
}

func NewTemporal(cfg config.DeepfakeConfig) *Temporal {
	return &Temporal{cfg: cfg, diffs: window.NewRing[float64](cfg.TemporalHistory)}
}

func (t *Temporal) Observe(img *model.Luma, box model.Box) float64 {
	r, ok := clampRegion(img, box)
	if !ok {
		return 0
	}
	grid := sampleGrid(img, r)
	if t.prev == nil {
		t.prev = grid
		return 0
	}
	var d float64
	for i := range grid {
		d += math.Abs(grid[i] - t.prev[i])
	}
	d /= float64(len(grid))
	t.prev = grid

	var flicker float64
	if t.diffs.Len() >= minFlickerN {
		mean, std := window.MeanStd(t.diffs.Values())
		z := (d - mean) / math.Max(std, diffStdFloor)
		flicker = face.Clamp01((z - t.cfg.FlickerZ) / t.cfg.FlickerZ)
	}
	t.diffs.Push(d)

	var frozen float64
	if t.diffs.Full() && t.cfg.FrozenDiff > 0 {
		frozen = face.Clamp01(1 - window.Mean(t.diffs.Values())/t.cfg.FrozenDiff)
	}
	return math.Max(flicker, frozen)
}

func sampleGrid(img *model.Luma, r region) []float64 {
	out := make([]float64, gridSize*gridSize)
	w := float64(r.x1 - r.x0)
	h := float64(r.y1 - r.y0)
	for gy := 0; gy < gridSize; gy++ {
		y := r.y0 + int((float64(gy)+0.5)*h/gridSize)
		for gx := 0; gx < gridSize; gx++ {
			x := r.x0 + int((float64(gx)+0.5)*w/gridSize)
			out[gy*gridSize+gx] = float64(img.At(x, y))
		}
	}
	return out
}
