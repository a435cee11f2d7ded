package session

import (
	"errors"
	"testing"
	"time"

	"faceguard/internal/config"
	"faceguard/internal/face/facetest"
	"faceguard/internal/model"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

func newTestSession(t *testing.T) (*Table, *Session) {
	t.Helper()
	tbl := NewTable()
	s, err := tbl.Create("user-1", config.DefaultConfig(), t0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return tbl, s
}

func frame(s *Session, ear float64) model.FrameInput {
	return model.FrameInput{SessionID: s.ID, Faces: []model.Face{facetest.WithEAR(ear)}}
}

func TestCreateUsesConfiguredQueue(t *testing.T) {
	tbl, s := newTestSession(t)
	got, err := tbl.Get(s.ID)
	if err != nil || got != s {
		t.Fatalf("expected lookup to return the session, err %v", err)
	}
	v := s.View()
	if v.Status != model.SessionActive || len(v.Queue) != 3 || v.Queue[0] != model.ChallengeBlink {
		t.Fatalf("unexpected view %+v", v)
	}
	if !v.ExpiresAt.Equal(t0.Add(5 * time.Minute)) {
		t.Fatalf("expected ttl applied, got %v", v.ExpiresAt)
	}
	if _, err := tbl.Get("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateRejectsUnknownChallenge(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Session.Challenges = []string{"wink"}
	if _, err := NewTable().Create("u", cfg, t0); err == nil {
		t.Fatalf("expected unknown challenge error")
	}
}

func TestBlinkChallengePassesThroughFrames(t *testing.T) {
	_, s := newTestSession(t)
	c, err := s.IssueChallenge("", at(0))
	if err != nil || c.Type != model.ChallengeBlink || c.Outcome != model.OutcomePending {
		t.Fatalf("issue: %+v %v", c, err)
	}
	var last model.FrameResult
	for i, ear := range []float64{0.3, 0.1, 0.1, 0.3} {
		last, err = s.Process(frame(s, ear), at(100*(i+1)))
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
	if last.Challenge == nil || last.Challenge.Outcome != model.OutcomePassed || !last.ChallengeConcluded {
		t.Fatalf("expected blink to pass, got %+v", last.Challenge)
	}
	if last.Seq != 4 || !last.FaceDetected || last.Analyzed != 4 {
		t.Fatalf("unexpected frame bookkeeping %+v", last)
	}
	if _, err := s.IssueChallenge(model.ChallengeHeadTurn, at(600)); err != nil {
		t.Fatalf("next challenge: %v", err)
	}
}

func TestIssueChallengeEnforcesOrder(t *testing.T) {
	_, s := newTestSession(t)
	if _, err := s.IssueChallenge(model.ChallengeMouthOpen, at(0)); !errors.Is(err, ErrChallengeOutOfOrder) {
		t.Fatalf("expected out of order, got %v", err)
	}
	if _, err := s.IssueChallenge(model.ChallengeBlink, at(0)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := s.IssueChallenge("", at(10)); !errors.Is(err, ErrChallengeInProgress) {
		t.Fatalf("expected in progress, got %v", err)
	}
}

func TestFailChallengeThenTimeout(t *testing.T) {
	_, s := newTestSession(t)
	if _, err := s.FailChallenge(at(0)); !errors.Is(err, ErrNoChallengeActive) {
		t.Fatalf("expected no active challenge, got %v", err)
	}
	s.IssueChallenge("", at(0))
	c, err := s.FailChallenge(at(100))
	if err != nil || c.Outcome != model.OutcomeFailed {
		t.Fatalf("expected FAILED, got %+v %v", c, err)
	}
	s.IssueChallenge("", at(200))
	// head_turn allows 8s; a late frame concludes it as timed out
	res, err := s.Process(frame(s, 0.3), at(200+8001))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Challenge == nil || res.Challenge.Outcome != model.OutcomeTimedOut {
		t.Fatalf("expected TIMED_OUT, got %+v", res.Challenge)
	}
	if !res.Challenge.EndedAt.Equal(at(200 + 8000)) {
		t.Fatalf("timeout should end at the deadline, got %v", res.Challenge.EndedAt)
	}
}

func TestStaleSequenceRejected(t *testing.T) {
	_, s := newTestSession(t)
	in := frame(s, 0.3)
	in.Seq = 5
	if _, err := s.Process(in, at(10)); err != nil {
		t.Fatalf("process: %v", err)
	}
	in.Seq = 5
	if _, err := s.Process(in, at(20)); !errors.Is(err, ErrStaleFrame) {
		t.Fatalf("expected stale frame, got %v", err)
	}
	in.Seq = 0
	res, err := s.Process(in, at(30))
	if err != nil || res.Seq != 6 {
		t.Fatalf("expected auto seq 6, got %d %v", res.Seq, err)
	}
}

func TestMultipleFacesCounted(t *testing.T) {
	_, s := newTestSession(t)
	in := model.FrameInput{Faces: []model.Face{facetest.WithEAR(0.3), facetest.WithEAR(0.3)}}
	res, err := s.Process(in, at(10))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.FaceDetected || res.FaceCount != 2 || res.MultiFaceRatio != 1 {
		t.Fatalf("unexpected multi-face result %+v", res)
	}
}

func TestExpiredSessionRejectsFrames(t *testing.T) {
	_, s := newTestSession(t)
	late := t0.Add(5*time.Minute + time.Second)
	if _, err := s.Process(frame(s, 0.3), late); !errors.Is(err, ErrSessionTerminated) {
		t.Fatalf("expected terminated, got %v", err)
	}
	if s.Status() != model.SessionExpired {
		t.Fatalf("expected EXPIRED, got %s", s.Status())
	}
}

func TestSweepExpiresAndTimesOut(t *testing.T) {
	tbl, idle := newTestSession(t)
	busy, _ := tbl.Create("user-2", config.DefaultConfig(), t0)
	busy.IssueChallenge("", t0)

	rep := tbl.Sweep(t0.Add(6*time.Second), 10*time.Minute)
	if len(rep.TimedOut) != 1 || rep.TimedOut[0].SessionID != busy.ID || rep.TimedOut[0].Challenge.Outcome != model.OutcomeTimedOut {
		t.Fatalf("expected blink timeout, got %+v", rep)
	}
	if len(rep.Expired) != 0 {
		t.Fatalf("nothing should expire yet: %+v", rep)
	}

	rep = tbl.Sweep(t0.Add(6*time.Minute), 10*time.Minute)
	if len(rep.Expired) != 2 {
		t.Fatalf("expected both sessions expired, got %+v", rep)
	}
	if idle.Status() != model.SessionExpired {
		t.Fatalf("expected EXPIRED, got %s", idle.Status())
	}
	rep = tbl.Sweep(t0.Add(17*time.Minute), 10*time.Minute)
	if rep.Reclaimed != 2 || tbl.Len() != 0 {
		t.Fatalf("expected terminal sessions reclaimed, got %+v len %d", rep, tbl.Len())
	}
}

func TestSweepBacksOffWhenVersionMoved(t *testing.T) {
	_, s := newTestSession(t)
	observed := s.Version()
	late := t0.Add(5*time.Minute + time.Second)
	// a frame right before the deadline refreshes the session
	if _, err := s.Process(frame(s, 0.3), t0.Add(5*time.Minute-time.Second)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if s.expireIf(observed, late) {
		t.Fatalf("sweeper must not expire a session touched after it looked")
	}
	if s.Status() != model.SessionActive {
		t.Fatalf("expected ACTIVE, got %s", s.Status())
	}
}

func TestSweepSkipsLockedSession(t *testing.T) {
	_, s := newTestSession(t)
	v := s.Version()
	s.mu.Lock()
	ok := s.expireIf(v, t0.Add(time.Hour))
	s.mu.Unlock()
	if ok {
		t.Fatalf("sweeper must not wait on or expire a busy session")
	}
}

func TestCancelDiscardsInFlightFrame(t *testing.T) {
	_, s := newTestSession(t)
	s.mu.Lock()
	done := make(chan error, 1)
	go func() { done <- s.Cancel(at(5)) }()
	// cancel is visible before the lock is free
	deadline := time.Now().Add(time.Second)
	for s.Status() != model.SessionCancelled {
		if time.Now().After(deadline) {
			t.Fatalf("cancel flag not visible")
		}
		time.Sleep(time.Millisecond)
	}
	s.mu.Unlock()
	if err := <-done; err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := s.Process(frame(s, 0.3), at(10)); !errors.Is(err, ErrSessionTerminated) {
		t.Fatalf("expected terminated, got %v", err)
	}
	if v := s.View(); v.Frames != 0 || v.Status != model.SessionCancelled {
		t.Fatalf("frame must not be committed after cancel: %+v", v)
	}
	if err := s.Cancel(at(20)); !errors.Is(err, ErrSessionTerminated) {
		t.Fatalf("second cancel should fail, got %v", err)
	}
}

func TestCompleteSummaryPadsPending(t *testing.T) {
	_, s := newTestSession(t)
	s.IssueChallenge("", at(0))
	for i := 0; i < 3; i++ {
		s.Process(frame(s, 0.3), at(100*(i+1)))
	}
	sum, err := s.Complete(at(1000))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(sum.Challenges) != 3 {
		t.Fatalf("expected every queued challenge reported, got %+v", sum.Challenges)
	}
	if sum.Challenges[0].Outcome != model.OutcomeFailed {
		t.Fatalf("unfinished active challenge should fail, got %s", sum.Challenges[0].Outcome)
	}
	for _, c := range sum.Challenges[1:] {
		if c.Outcome != model.OutcomePending {
			t.Fatalf("never-issued challenge should be PENDING, got %s", c.Outcome)
		}
	}
	if sum.Frames != 3 || sum.SingleFace != 3 || len(sum.Liveness) != 3 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if _, err := s.Complete(at(1100)); !errors.Is(err, ErrSessionTerminated) {
		t.Fatalf("double complete should fail, got %v", err)
	}
	if err := s.Cancel(at(1200)); !errors.Is(err, ErrSessionTerminated) {
		t.Fatalf("cancel after complete should fail, got %v", err)
	}
	if s.Status() != model.SessionCompleted {
		t.Fatalf("expected COMPLETED, got %s", s.Status())
	}
}

func TestLivenessWindowOnlyCountsChallengeFrames(t *testing.T) {
	_, s := newTestSession(t)
	for i := 0; i < 3; i++ {
		res, err := s.Process(frame(s, 0.1), at(10*(i+1)))
		if err != nil {
			t.Fatalf("frame: %v", err)
		}
		if res.LivenessScore != 0 {
			t.Fatalf("no challenge has run yet, expected 0 confidence, got %v", res.LivenessScore)
		}
	}
	s.IssueChallenge("", at(100))
	s.Process(frame(s, 0.1), at(200))
	s.Process(frame(s, 0.1), at(300))
	s.Process(frame(s, 0.3), at(6000))

	sum, err := s.Complete(at(6100))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if sum.Frames != 6 || len(sum.Liveness) != 2 {
		t.Fatalf("expected 6 frames with 2 inside the challenge window, got %d and %d", sum.Frames, len(sum.Liveness))
	}
	if sum.Challenges[0].Outcome != model.OutcomeTimedOut {
		t.Fatalf("late frame should time the challenge out, got %s", sum.Challenges[0].Outcome)
	}
}
