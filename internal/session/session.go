package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"faceguard/internal/config"
	"faceguard/internal/decision"
	"faceguard/internal/deepfake"
	"faceguard/internal/face"
	"faceguard/internal/liveness"
	"faceguard/internal/model"
	"faceguard/internal/window"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionTerminated   = errors.New("session terminated")
	ErrChallengeInProgress = errors.New("challenge already in progress")
	ErrChallengeOutOfOrder = errors.New("challenge out of order")
	ErrNoChallengesLeft    = errors.New("no challenges left in queue")
	ErrNoChallengeActive   = errors.New("no challenge active")
	ErrStaleFrame          = errors.New("stale or duplicate frame sequence")
)

// Session is one verification attempt. All frame and challenge mutations
// hold mu; version, expiresAt, state and cancelled are readable without it
// so the sweeper and Cancel never wait on an in-flight frame.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	mu        sync.Mutex
	version   atomic.Uint64
	expiresAt atomic.Int64
	state     atomic.Value
	cancelled atomic.Bool
	reported  atomic.Bool

	status  model.SessionStatus
	endedAt time.Time
	ttl     time.Duration
	cfg     *config.Config

	queue      []model.ChallengeType
	challenges []model.Challenge
	run        *liveness.Run

	scorer     *liveness.Scorer
	analyzer   *deepfake.Analyzer
	livenessW  *window.Ring[float64]
	compositeW *window.Ring[float64]

	frames     int
	singleFace int
	multiFace  int
	analyzed   int
	suspect    int
	lastSeq    uint64
	latest     *model.FrameResult
}

func newSession(id, userID string, cfg *config.Config, queue []model.ChallengeType, now time.Time) *Session {
	capacity := cfg.Session.HistoryCapacity
	s := &Session{
		ID:         id,
		UserID:     userID,
		CreatedAt:  now,
		status:     model.SessionActive,
		ttl:        cfg.Session.TTL,
		cfg:        cfg,
		queue:      queue,
		scorer:     liveness.NewScorer(cfg.Liveness, capacity),
		analyzer:   deepfake.NewAnalyzer(cfg.Deepfake, cfg.Liveness),
		livenessW:  window.NewRing[float64](capacity),
		compositeW: window.NewRing[float64](capacity),
	}
	s.state.Store(model.SessionActive)
	s.touch(now)
	return s
}

func (s *Session) touch(now time.Time) {
	s.expiresAt.Store(now.Add(s.ttl).UnixNano())
	s.version.Add(1)
}

func (s *Session) Version() uint64 {
	return s.version.Load()
}

func (s *Session) ExpiresAt() time.Time {
	return time.Unix(0, s.expiresAt.Load()).UTC()
}

// checkActive must run under mu. It lazily applies expiry so an idle
// session rejects work even before the sweeper reaches it.
func (s *Session) checkActive(now time.Time) error {
	if s.cancelled.Load() {
		s.terminate(model.SessionCancelled, now)
		return ErrSessionTerminated
	}
	if s.status.Terminal() {
		return ErrSessionTerminated
	}
	if !now.Before(s.ExpiresAt()) {
		s.expireLocked(now)
		return ErrSessionTerminated
	}
	return nil
}

func (s *Session) terminate(st model.SessionStatus, now time.Time) {
	if s.status.Terminal() {
		return
	}
	s.status = st
	s.state.Store(st)
	s.endedAt = now
	s.version.Add(1)
}

func (s *Session) expireLocked(now time.Time) {
	s.timeoutActive(now)
	s.terminate(model.SessionExpired, now)
}

// timeoutActive concludes the active challenge when its budget is spent.
func (s *Session) timeoutActive(now time.Time) bool {
	if s.run == nil || !s.run.Expire(now) {
		return false
	}
	s.settleRun()
	return true
}

func (s *Session) settleRun() {
	s.challenges[len(s.challenges)-1] = s.run.Snapshot()
	if s.run.Outcome() != model.OutcomePending {
		s.run = nil
	}
}

// IssueChallenge starts the next queued challenge. An empty type means
// "whatever is next"; a named type must match the head of the queue so the
// issued list always stays a prefix of it.
func (s *Session) IssueChallenge(t model.ChallengeType, now time.Time) (model.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive(now); err != nil {
		return model.Challenge{}, err
	}
	s.timeoutActive(now)
	if s.run != nil {
		return model.Challenge{}, ErrChallengeInProgress
	}
	next := len(s.challenges)
	if next >= len(s.queue) {
		return model.Challenge{}, ErrNoChallengesLeft
	}
	if t == "" {
		t = s.queue[next]
	}
	if _, err := liveness.Lookup(t); err != nil {
		return model.Challenge{}, err
	}
	if t != s.queue[next] {
		return model.Challenge{}, fmt.Errorf("%w: expected %s, got %s", ErrChallengeOutOfOrder, s.queue[next], t)
	}
	run, err := liveness.Start(t, s.cfg.Liveness, now)
	if err != nil {
		return model.Challenge{}, err
	}
	s.run = run
	s.challenges = append(s.challenges, run.Snapshot())
	s.scorer.Reset()
	s.touch(now)
	return run.Snapshot(), nil
}

// FailChallenge concludes the active challenge as FAILED.
func (s *Session) FailChallenge(now time.Time) (model.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive(now); err != nil {
		return model.Challenge{}, err
	}
	if s.timeoutActive(now) {
		return s.challenges[len(s.challenges)-1], nil
	}
	if s.run == nil {
		return model.Challenge{}, ErrNoChallengeActive
	}
	s.run.Fail(now)
	s.settleRun()
	s.touch(now)
	return s.challenges[len(s.challenges)-1], nil
}

// Process runs one frame through the liveness and deepfake pipeline. Frame
// anomalies never error; only session-control problems do.
func (s *Session) Process(in model.FrameInput, now time.Time) (model.FrameResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive(now); err != nil {
		return model.FrameResult{}, err
	}
	seq := in.Seq
	if seq == 0 {
		seq = s.lastSeq + 1
	} else if seq <= s.lastSeq {
		return model.FrameResult{}, fmt.Errorf("%w: seq %d after %d", ErrStaleFrame, seq, s.lastSeq)
	}
	ts := in.Timestamp
	if ts.IsZero() {
		ts = now
	}
	cfg := s.cfg

	var subject *model.Face
	if len(in.Faces) == 1 && face.Complete(in.Faces[0]) && in.Faces[0].Confidence >= cfg.Liveness.MinFaceConfidence {
		subject = &in.Faces[0]
	}

	res := model.FrameResult{
		SessionID:    s.ID,
		Seq:          seq,
		FaceDetected: subject != nil,
		FaceCount:    len(in.Faces),
	}
	// Only frames inside an open challenge window feed the liveness
	// confidence; a frame that lands after the deadline does not.
	var inChallenge bool
	if s.run != nil {
		before := s.run.Outcome()
		res.ActionMetric, _ = s.run.Observe(subject, now)
		s.settleRun()
		snap := s.challenges[len(s.challenges)-1]
		res.Challenge = &snap
		res.ChallengeConcluded = before == model.OutcomePending && snap.Outcome != model.OutcomePending
		inChallenge = snap.Outcome != model.OutcomeTimedOut
	}
	if inChallenge {
		res.LivenessScore = s.scorer.Observe(subject)
	} else {
		res.LivenessScore = s.scorer.Confidence()
	}

	var suspect bool
	if subject != nil {
		res.Scores = s.analyzer.Analyze(*subject, in.Image, ts)
		res.DeepfakeScore = res.Scores.Composite
		suspect = s.analyzer.Suspect(res.Scores.Composite)
		res.Suspect = suspect
	}

	// Cancel may have landed while we were analyzing; drop the result.
	if s.cancelled.Load() {
		s.terminate(model.SessionCancelled, now)
		return model.FrameResult{}, ErrSessionTerminated
	}

	s.lastSeq = seq
	s.frames++
	if inChallenge {
		s.livenessW.Push(res.LivenessScore)
	}
	switch {
	case subject != nil:
		s.singleFace++
		s.analyzed++
		s.compositeW.Push(res.Scores.Composite)
		if suspect {
			s.suspect++
		}
	case len(in.Faces) > 1:
		s.multiFace++
	}
	th := decision.ThresholdsFrom(cfg)
	res.Analyzed = s.analyzed
	res.SuspectRatio = decision.SuspectRatio(s.analyzed, s.suspect)
	res.SessionDeepfake = decision.DeepfakeScore(s.compositeW.Values(), s.analyzed, s.suspect, th)
	res.MultiFaceRatio = float64(s.multiFace) / float64(s.frames)

	latest := res
	s.latest = &latest
	s.touch(now)
	return res, nil
}

// Complete finishes the session and returns the aggregates for the
// decision engine. Mandatory challenges never issued report PENDING.
func (s *Session) Complete(now time.Time) (decision.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive(now); err != nil {
		return decision.Summary{}, err
	}
	if s.run != nil {
		if !s.run.Expire(now) {
			s.run.Fail(now)
		}
		s.settleRun()
	}
	s.terminate(model.SessionCompleted, now)
	return s.summaryLocked(), nil
}

func (s *Session) summaryLocked() decision.Summary {
	challenges := make([]model.Challenge, 0, len(s.queue))
	challenges = append(challenges, s.challenges...)
	for i := len(s.challenges); i < len(s.queue); i++ {
		spec, _ := liveness.Lookup(s.queue[i])
		challenges = append(challenges, model.Challenge{
			Type:        spec.Type,
			Instruction: spec.Instruction,
			Timeout:     spec.Timeout,
			Outcome:     model.OutcomePending,
		})
	}
	return decision.Summary{
		Liveness:   s.livenessW.Values(),
		Composites: s.compositeW.Values(),
		Analyzed:   s.analyzed,
		Suspect:    s.suspect,
		Frames:     s.frames,
		SingleFace: s.singleFace,
		MultiFace:  s.multiFace,
		Challenges: challenges,
	}
}

// Cancel flags the session before taking the lock, so a frame already in
// flight discards its result instead of delaying the cancel.
func (s *Session) Cancel(now time.Time) error {
	if s.Status().Terminal() {
		return ErrSessionTerminated
	}
	if !s.cancelled.CompareAndSwap(false, true) {
		return ErrSessionTerminated
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() && s.status != model.SessionCancelled {
		// lost a race with Complete or expiry
		s.cancelled.Store(false)
		return ErrSessionTerminated
	}
	s.terminate(model.SessionCancelled, now)
	return nil
}

func (s *Session) Status() model.SessionStatus {
	if s.cancelled.Load() {
		return model.SessionCancelled
	}
	return s.state.Load().(model.SessionStatus)
}

// MarkReported returns true exactly once, for whoever first accounts for
// the session having ended.
func (s *Session) MarkReported() bool {
	return s.reported.CompareAndSwap(false, true)
}

func (s *Session) View() model.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := model.SessionView{
		ID:             s.ID,
		UserID:         s.UserID,
		Status:         s.Status(),
		CreatedAt:      s.CreatedAt,
		ExpiresAt:      s.ExpiresAt(),
		Queue:          append([]model.ChallengeType(nil), s.queue...),
		Challenges:     append([]model.Challenge(nil), s.challenges...),
		Frames:         s.frames,
		FacesDetected:  s.singleFace,
		AnalyzedFrames: s.analyzed,
		SuspectFrames:  s.suspect,
	}
	if s.latest != nil {
		latest := *s.latest
		v.Latest = &latest
	}
	return v
}

// expireIf is the sweeper's guarded transition. It backs off if a frame
// holds the session or if anything changed since observed was read.
func (s *Session) expireIf(observed uint64, now time.Time) bool {
	if !s.mu.TryLock() {
		return false
	}
	defer s.mu.Unlock()
	if s.version.Load() != observed || s.status.Terminal() || s.cancelled.Load() {
		return false
	}
	if now.Before(s.ExpiresAt()) {
		return false
	}
	s.expireLocked(now)
	return true
}

// timeoutIf concludes an overdue challenge on behalf of the sweeper.
func (s *Session) timeoutIf(observed uint64, now time.Time) (model.Challenge, bool) {
	if !s.mu.TryLock() {
		return model.Challenge{}, false
	}
	defer s.mu.Unlock()
	if s.version.Load() != observed || s.status.Terminal() || s.cancelled.Load() {
		return model.Challenge{}, false
	}
	if !s.timeoutActive(now) {
		return model.Challenge{}, false
	}
	s.version.Add(1)
	return s.challenges[len(s.challenges)-1], true
}

func (s *Session) terminalSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.status.Terminal() {
		return time.Time{}, false
	}
	return s.endedAt, true
}
