package deepfake

import (
	"math"

	"faceguard/internal/config"
	"faceguard/internal/face"
	"faceguard/internal/model"
)

// boundSlack is how far past a plausible bound a ratio may drift before
// the bound anomaly saturates.
const boundSlack = 0.1

// Geometry tracks normalized inter-ocular distance (IOD / face width) and
// the width/height aspect. Out-of-range ratios or non-smooth jumps between
// consecutive frames indicate warping.
type Geometry struct {
	cfg        config.DeepfakeConfig
	prevIOD    float64
	prevAspect float64
	has        bool
}

func NewGeometry(cfg config.DeepfakeConfig) *Geometry {
	return &Geometry{cfg: cfg}
}

func (g *Geometry) Observe(lm []model.Point) float64 {
	w, h := face.Width(lm), face.Height(lm)
	if w == 0 || h == 0 {
		return 1
	}
	iod := face.InterOcular(lm) / w
	aspect := w / h

	score := math.Max(
		outside(iod, g.cfg.IODRatioMin, g.cfg.IODRatioMax),
		outside(aspect, g.cfg.AspectMin, g.cfg.AspectMax),
	)
	if g.has {
		score = math.Max(score, g.jump(iod, g.prevIOD))
		score = math.Max(score, g.jump(aspect, g.prevAspect))
	}
	g.prevIOD, g.prevAspect, g.has = iod, aspect, true
	return score
}

func (g *Geometry) jump(cur, prev float64) float64 {
	if prev == 0 || g.cfg.GeometryMaxJump <= 0 {
		return 0
	}
	rel := math.Abs(cur-prev) / prev
	if rel <= g.cfg.GeometryMaxJump {
		return 0
	}
	return face.Clamp01((rel - g.cfg.GeometryMaxJump) / g.cfg.GeometryMaxJump)
}

func outside(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return face.Clamp01((lo - v) / boundSlack)
	case v > hi:
		return face.Clamp01((v - hi) / boundSlack)
	}
	return 0
}
