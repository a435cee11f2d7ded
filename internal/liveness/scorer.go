package liveness

import (
	"math"

	"faceguard/internal/config"
	"faceguard/internal/face"
	"faceguard/internal/model"
	"faceguard/internal/window"
)

// Components are the per-frame inputs to the liveness confidence.
type Components struct {
	Blink      float64
	Head       float64
	Mouth      float64
	Expression float64
}

// Scorer keeps the decayed component histories for the current challenge
// window and folds them into the running confidence.
type Scorer struct {
	cfg   config.LivenessConfig
	blink *face.BlinkDetector

	blinkHist, headHist, mouthHist, exprHist *window.Ring[float64]

	hasBaseline bool
	yaw0        float64
	pitch0      float64
	mouthW0     float64
}

func NewScorer(cfg config.LivenessConfig, capacity int) *Scorer {
	return &Scorer{
		cfg:       cfg,
		blink:     face.NewBlinkDetector(cfg.BlinkCloseEAR, cfg.BlinkOpenEAR, cfg.BlinkMinClosedFrames),
		blinkHist: window.NewRing[float64](capacity),
		headHist:  window.NewRing[float64](capacity),
		mouthHist: window.NewRing[float64](capacity),
		exprHist:  window.NewRing[float64](capacity),
	}
}

// Reset opens a new challenge window.
func (s *Scorer) Reset() {
	s.blink = face.NewBlinkDetector(s.cfg.BlinkCloseEAR, s.cfg.BlinkOpenEAR, s.cfg.BlinkMinClosedFrames)
	s.blinkHist.Reset()
	s.headHist.Reset()
	s.mouthHist.Reset()
	s.exprHist.Reset()
	s.hasBaseline = false
}

// Observe folds one frame and returns the confidence. f is nil for frames
// without a usable face, which contribute zero to every component.
func (s *Scorer) Observe(f *model.Face) float64 {
	c := s.components(f)
	s.blinkHist.Push(c.Blink)
	s.headHist.Push(c.Head)
	s.mouthHist.Push(c.Mouth)
	s.exprHist.Push(c.Expression)
	return s.Confidence()
}

func (s *Scorer) Confidence() float64 {
	k := s.cfg.DecayFactor
	w := s.cfg.Weights
	v := w.Blink*window.DecayedMeanOf(s.blinkHist, k) +
		w.Head*window.DecayedMeanOf(s.headHist, k) +
		w.Mouth*window.DecayedMeanOf(s.mouthHist, k) +
		w.Expression*window.DecayedMeanOf(s.exprHist, k)
	return face.Clamp01(v)
}

func (s *Scorer) components(f *model.Face) Components {
	if f == nil || !face.Complete(*f) {
		return Components{}
	}
	lm := f.Landmarks
	ear := face.MeanEAR(lm)
	yaw, pitch, mw := face.Yaw(lm), face.Pitch(lm), face.MouthWidth(lm)
	if !s.hasBaseline {
		s.yaw0, s.pitch0, s.mouthW0 = yaw, pitch, mw
		s.hasBaseline = true
	}

	var c Components
	if blink, _ := s.blink.Observe(ear); blink {
		c.Blink = 1
	} else {
		c.Blink = face.Clamp01(1 - ear/s.cfg.BlinkOpenEAR)
	}
	c.Head = face.Clamp01(math.Max(
		math.Abs(yaw-s.yaw0)/s.cfg.HeadTurnYaw,
		math.Abs(pitch-s.pitch0)/s.cfg.NodPitch,
	))
	c.Mouth = face.Clamp01(face.MouthRatio(lm) / s.cfg.MouthOpenRatio)
	if s.mouthW0 > 0 {
		c.Expression = face.Clamp01((mw/s.mouthW0 - 1) / (s.cfg.SmileGain - 1))
	}
	return c
}
