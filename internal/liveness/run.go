package liveness

import (
	"time"

	"faceguard/internal/config"
	"faceguard/internal/face"
	"faceguard/internal/model"
)

// Run is one issued challenge. The server clock passed to Observe and
// Expire is authoritative for the timeout; whatever the client displays is
// a hint.
type Run struct {
	spec      Spec
	tracker   Tracker
	startedAt time.Time
	endedAt   time.Time
	outcome   model.Outcome
	metric    float64
}

func Start(t model.ChallengeType, cfg config.LivenessConfig, now time.Time) (*Run, error) {
	spec, err := Lookup(t)
	if err != nil {
		return nil, err
	}
	tr, err := NewTracker(t, cfg)
	if err != nil {
		return nil, err
	}
	return &Run{spec: spec, tracker: tr, startedAt: now, outcome: model.OutcomePending}, nil
}

// Observe scores one frame. f is nil when the frame has no usable face; the
// metric is then neutral and the challenge keeps waiting.
func (r *Run) Observe(f *model.Face, now time.Time) (float64, model.Outcome) {
	if r.outcome != model.OutcomePending {
		return r.metric, r.outcome
	}
	if r.Expire(now) {
		return r.metric, r.outcome
	}
	if f == nil || !face.Complete(*f) {
		r.metric = 0
		return 0, r.outcome
	}
	metric, passed := r.tracker.Observe(f.Landmarks)
	r.metric = metric
	if passed {
		r.conclude(model.OutcomePassed, now)
	}
	return metric, r.outcome
}

// Expire marks a pending challenge TIMED_OUT once its budget has elapsed.
func (r *Run) Expire(now time.Time) bool {
	if r.outcome != model.OutcomePending {
		return false
	}
	if !now.After(r.Deadline()) {
		return false
	}
	r.conclude(model.OutcomeTimedOut, r.Deadline())
	return true
}

// Fail concludes a pending challenge as FAILED.
func (r *Run) Fail(now time.Time) bool {
	if r.outcome != model.OutcomePending {
		return false
	}
	r.conclude(model.OutcomeFailed, now)
	return true
}

func (r *Run) conclude(o model.Outcome, at time.Time) {
	r.outcome = o
	r.endedAt = at
}

func (r *Run) Outcome() model.Outcome { return r.outcome }

func (r *Run) Type() model.ChallengeType { return r.spec.Type }

func (r *Run) Spec() Spec { return r.spec }

// Deadline is the server-side instant the challenge times out. Clients
// should count down to it rather than to their own timer.
func (r *Run) Deadline() time.Time { return r.startedAt.Add(r.spec.Timeout) }

func (r *Run) Snapshot() model.Challenge {
	return model.Challenge{
		Type:        r.spec.Type,
		Instruction: r.spec.Instruction,
		Timeout:     r.spec.Timeout,
		StartedAt:   r.startedAt,
		Deadline:    r.Deadline(),
		EndedAt:     r.endedAt,
		Outcome:     r.outcome,
	}
}
