package liveness

import (
	"math"

	"faceguard/internal/config"
	"faceguard/internal/face"
	"faceguard/internal/model"
)

// Tracker scores frames against one challenge's motion signature. Observe
// is only called with complete meshes; it returns the action metric in
// [0,1] and whether the signature has been satisfied.
type Tracker interface {
	Observe(lm []model.Point) (metric float64, passed bool)
}

func NewTracker(t model.ChallengeType, cfg config.LivenessConfig) (Tracker, error) {
	switch t {
	case model.ChallengeBlink:
		return &blinkTracker{det: face.NewBlinkDetector(cfg.BlinkCloseEAR, cfg.BlinkOpenEAR, cfg.BlinkMinClosedFrames), open: cfg.BlinkOpenEAR}, nil
	case model.ChallengeHeadTurn:
		return &headTurnTracker{threshold: cfg.HeadTurnYaw}, nil
	case model.ChallengeMouthOpen:
		return &mouthOpenTracker{threshold: cfg.MouthOpenRatio, hold: cfg.MouthOpenFrames}, nil
	case model.ChallengeSmile:
		return &smileTracker{gain: cfg.SmileGain}, nil
	case model.ChallengeNod:
		return &nodTracker{threshold: cfg.NodPitch}, nil
	}
	_, err := Lookup(t)
	return nil, err
}

type blinkTracker struct {
	det  *face.BlinkDetector
	open float64
}

func (b *blinkTracker) Observe(lm []model.Point) (float64, bool) {
	ear := face.MeanEAR(lm)
	blink, _ := b.det.Observe(ear)
	if blink {
		return 1, true
	}
	return face.Clamp01(1 - ear/b.open), false
}

// headTurnTracker needs the yaw to leave the baseline by the threshold on
// both sides within the challenge window.
type headTurnTracker struct {
	threshold   float64
	baseline    float64
	hasBaseline bool
	left, right bool
}

func (h *headTurnTracker) Observe(lm []model.Point) (float64, bool) {
	yaw := face.Yaw(lm)
	if !h.hasBaseline {
		h.baseline, h.hasBaseline = yaw, true
	}
	d := yaw - h.baseline
	if d < 0 && d <= -h.threshold {
		h.left = true
	}
	if d > 0 && d >= h.threshold {
		h.right = true
	}
	return face.Clamp01(math.Abs(d) / h.threshold), h.left && h.right
}

type mouthOpenTracker struct {
	threshold float64
	hold      int
	run       int
}

func (m *mouthOpenTracker) Observe(lm []model.Point) (float64, bool) {
	ratio := face.MouthRatio(lm)
	if ratio > m.threshold {
		m.run++
	} else {
		m.run = 0
	}
	return face.Clamp01(ratio / m.threshold), m.run >= m.hold
}

type smileTracker struct {
	gain        float64
	baseline    float64
	hasBaseline bool
}

func (s *smileTracker) Observe(lm []model.Point) (float64, bool) {
	w := face.MouthWidth(lm)
	if !s.hasBaseline {
		if w <= 0 {
			return 0, false
		}
		s.baseline, s.hasBaseline = w, true
	}
	g := w / s.baseline
	return face.Clamp01((g - 1) / (s.gain - 1)), g >= s.gain
}

// nodTracker passes once pitch dips past the threshold and comes back to
// within half of it.
type nodTracker struct {
	threshold   float64
	baseline    float64
	hasBaseline bool
	down        bool
}

func (n *nodTracker) Observe(lm []model.Point) (float64, bool) {
	p := face.Pitch(lm)
	if !n.hasBaseline {
		n.baseline, n.hasBaseline = p, true
	}
	d := math.Abs(p - n.baseline)
	if d >= n.threshold {
		n.down = true
	}
	return face.Clamp01(d / n.threshold), n.down && d <= n.threshold/2
}
