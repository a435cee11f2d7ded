// Package deepfake fuses four independent per-session anomaly cues into a
// composite score per frame.
package deepfake

import (
	"time"

	"faceguard/internal/config"
	"faceguard/internal/face"
	"faceguard/internal/model"
)

// Analyzer holds one session's rolling state for every sub-analyzer. It is
// not safe for concurrent use; the session serializes access.
type Analyzer struct {
	weights   config.DeepfakeWeights
	threshold float64
	texture   Texture
	blink     *BlinkPattern
	temporal  *Temporal
	geometry  *Geometry
}

func NewAnalyzer(cfg config.DeepfakeConfig, live config.LivenessConfig) *Analyzer {
	return &Analyzer{
		weights:   cfg.Weights,
		threshold: cfg.FrameThreshold,
		texture:   Texture{SharpnessRef: cfg.SharpnessRef, EdgeDensityRef: cfg.EdgeDensityRef},
		blink:     NewBlinkPattern(cfg, live),
		temporal:  NewTemporal(cfg),
		geometry:  NewGeometry(cfg),
	}
}

// Analyze scores a frame carrying exactly one complete face. img may be nil
// when only landmarks are available; pixel cues then contribute 0.
func (a *Analyzer) Analyze(f model.Face, img *model.Luma, ts time.Time) model.DetectionScore {
	s := model.DetectionScore{
		Texture:      a.texture.Score(img, f.Box),
		BlinkPattern: a.blink.Observe(face.MeanEAR(f.Landmarks), ts),
		Geometry:     a.geometry.Observe(f.Landmarks),
		Temporal:     a.temporal.Observe(img, f.Box),
	}
	s.Composite = Fuse(a.weights, s)
	return s
}

// Suspect reports whether a composite crosses the per-frame threshold.
func (a *Analyzer) Suspect(composite float64) bool {
	return composite > a.threshold
}

// Fuse is the fixed convex combination of the four sub-scores.
func Fuse(w config.DeepfakeWeights, s model.DetectionScore) float64 {
	return face.Clamp01(w.Texture*s.Texture +
		w.BlinkPattern*s.BlinkPattern +
		w.Geometry*s.Geometry +
		w.Temporal*s.Temporal)
}
