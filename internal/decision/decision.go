// Package decision turns a finished session's aggregates into a verdict.
package decision

import (
	"fmt"

	"faceguard/internal/config"
	"faceguard/internal/face"
	"faceguard/internal/model"
	"faceguard/internal/window"
)

const (
	RecDeepfake  = "REJECT - Deepfake indicators detected"
	RecLiveness  = "REJECT - Liveness verification failed"
	RecNoFace    = "REJECT - Face not detected in enough frames"
	RecMultiFace = "REJECT - Multiple faces detected"
	RecApprove   = "APPROVE - Identity verification passed"
)

// Summary is what a session hands over at completion. The score slices are
// the capped rolling windows, oldest first; the counts cover the session.
type Summary struct {
	Liveness   []float64
	Composites []float64
	Analyzed   int
	Suspect    int
	Frames     int
	SingleFace int
	MultiFace  int
	Challenges []model.Challenge
}

type Thresholds struct {
	Liveness           float64
	Deepfake           float64
	FrameThreshold     float64
	SuspectRatioFloor  float64
	PresenceFloor      float64
	MultiFaceTolerance float64
	DecayFactor        float64
}

func ThresholdsFrom(cfg *config.Config) Thresholds {
	return Thresholds{
		Liveness:           cfg.Decision.LivenessThreshold,
		Deepfake:           cfg.Decision.DeepfakeThreshold,
		FrameThreshold:     cfg.Deepfake.FrameThreshold,
		SuspectRatioFloor:  cfg.Deepfake.SuspectRatioFloor,
		PresenceFloor:      cfg.Decision.PresenceFloor,
		MultiFaceTolerance: cfg.Decision.MultiFaceTolerance,
		DecayFactor:        cfg.Liveness.DecayFactor,
	}
}

type Result struct {
	Status           model.Verdict
	LivenessScore    float64
	DeepfakeScore    float64
	SuspectRatio     float64
	PresenceRatio    float64
	MultiFaceRatio   float64
	DeepfakeDetected bool
	LivenessFailed   bool
	FailedChallenges []model.Challenge
	Recommendations  []string
}

// LivenessScore is the decayed mean of the rolling liveness window.
func LivenessScore(history []float64, decay float64) float64 {
	return window.DecayedMean(history, decay)
}

func SuspectRatio(analyzed, suspect int) float64 {
	if analyzed <= 0 {
		return 0
	}
	return float64(suspect) / float64(analyzed)
}

// DeepfakeScore blends the mean composite with the mean of the suspect
// composites, weighted by the suspect ratio once that ratio reaches the
// floor. Below the floor isolated suspect frames only move the mean.
func DeepfakeScore(composites []float64, analyzed, suspect int, th Thresholds) float64 {
	if len(composites) == 0 {
		return 0
	}
	mean := window.Mean(composites)
	rho := SuspectRatio(analyzed, suspect)
	if rho < th.SuspectRatioFloor || rho == 0 {
		return face.Clamp01(mean)
	}
	var sum float64
	var n int
	for _, c := range composites {
		if c > th.FrameThreshold {
			sum += c
			n++
		}
	}
	suspectMean := th.FrameThreshold
	if n > 0 {
		suspectMean = sum / float64(n)
	}
	return face.Clamp01((1-rho)*mean + rho*suspectMean)
}

// DeepfakeDetected compares the session score against the threshold. The
// suspect-ratio floor already shaped the score, so isolated suspect frames
// cannot carry it over on their own.
func DeepfakeDetected(score float64, th Thresholds) bool {
	return score > th.Deepfake
}

func Decide(s Summary, th Thresholds) Result {
	r := Result{
		LivenessScore: LivenessScore(s.Liveness, th.DecayFactor),
		DeepfakeScore: DeepfakeScore(s.Composites, s.Analyzed, s.Suspect, th),
		SuspectRatio:  SuspectRatio(s.Analyzed, s.Suspect),
	}
	if s.Frames > 0 {
		r.PresenceRatio = float64(s.SingleFace) / float64(s.Frames)
		r.MultiFaceRatio = float64(s.MultiFace) / float64(s.Frames)
	}
	r.DeepfakeDetected = DeepfakeDetected(r.DeepfakeScore, th)
	r.LivenessFailed = r.LivenessScore < th.Liveness
	for _, c := range s.Challenges {
		if c.Outcome != model.OutcomePassed {
			r.FailedChallenges = append(r.FailedChallenges, c)
		}
	}

	var recs []string
	if r.DeepfakeDetected {
		recs = append(recs, RecDeepfake)
	}
	if r.LivenessFailed {
		recs = append(recs, RecLiveness)
	}
	for _, c := range r.FailedChallenges {
		recs = append(recs, fmt.Sprintf("REJECT - Challenge %s not passed (%s)", c.Type, c.Outcome))
	}
	if r.PresenceRatio < th.PresenceFloor {
		recs = append(recs, RecNoFace)
	}
	if r.MultiFaceRatio > th.MultiFaceTolerance {
		recs = append(recs, RecMultiFace)
	}
	if len(recs) == 0 {
		r.Status = model.VerdictPassed
		r.Recommendations = []string{RecApprove}
		return r
	}
	r.Status = model.VerdictFailed
	r.Recommendations = recs
	return r
}
