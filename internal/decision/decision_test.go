package decision

import (
	"math"
	"strings"
	"testing"

	"faceguard/internal/config"
	"faceguard/internal/model"
)

func testThresholds() Thresholds {
	return ThresholdsFrom(config.DefaultConfig())
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func passedChallenges() []model.Challenge {
	return []model.Challenge{
		{Type: model.ChallengeBlink, Outcome: model.OutcomePassed},
		{Type: model.ChallengeHeadTurn, Outcome: model.OutcomePassed},
		{Type: model.ChallengeMouthOpen, Outcome: model.OutcomePassed},
	}
}

func TestAllPassedYieldsPass(t *testing.T) {
	th := testThresholds()
	s := Summary{
		Liveness:   repeat(0.8, 90),
		Composites: repeat(0.1, 90),
		Analyzed:   90,
		Frames:     90,
		SingleFace: 90,
		Challenges: passedChallenges(),
	}
	r := Decide(s, th)
	if r.Status != model.VerdictPassed {
		t.Fatalf("expected PASSED, got %s (%v)", r.Status, r.Recommendations)
	}
	if math.Abs(r.LivenessScore-0.8) > 1e-9 || math.Abs(r.DeepfakeScore-0.1) > 1e-9 {
		t.Fatalf("unexpected scores %v / %v", r.LivenessScore, r.DeepfakeScore)
	}
	for _, rec := range r.Recommendations {
		if strings.HasPrefix(rec, "REJECT") {
			t.Fatalf("unexpected rejection %q", rec)
		}
	}
	if len(r.Recommendations) != 1 || r.Recommendations[0] != RecApprove {
		t.Fatalf("expected only approval, got %v", r.Recommendations)
	}
}

func TestSingleSuspectFrameDoesNotConvict(t *testing.T) {
	th := testThresholds()
	comps := repeat(0.1, 300)
	comps[150] = 0.9
	s := Summary{
		Liveness:   repeat(0.8, 300),
		Composites: comps,
		Analyzed:   300,
		Suspect:    1,
		Frames:     300,
		SingleFace: 300,
		Challenges: passedChallenges(),
	}
	r := Decide(s, th)
	if r.DeepfakeDetected {
		t.Fatalf("one transient suspect frame must not convict, score %v", r.DeepfakeScore)
	}
	if r.Status != model.VerdictPassed {
		t.Fatalf("expected PASSED, got %v", r.Recommendations)
	}
}

func TestSustainedSuspectFramesConvict(t *testing.T) {
	th := testThresholds()
	comps := repeat(0.2, 100)
	for i := 0; i < 60; i++ {
		comps[i] = 0.9
	}
	s := Summary{
		Liveness:   repeat(0.8, 100),
		Composites: comps,
		Analyzed:   100,
		Suspect:    60,
		Frames:     100,
		SingleFace: 100,
		Challenges: passedChallenges(),
	}
	r := Decide(s, th)
	if !r.DeepfakeDetected || r.Status != model.VerdictFailed {
		t.Fatalf("expected deepfake verdict, score %v", r.DeepfakeScore)
	}
	if r.Recommendations[0] != RecDeepfake {
		t.Fatalf("deepfake should lead recommendations, got %v", r.Recommendations)
	}
}

func TestFailingConditionsAreAllNamedInOrder(t *testing.T) {
	th := testThresholds()
	s := Summary{
		Liveness:   repeat(0.2, 50),
		Composites: repeat(0.1, 20),
		Analyzed:   20,
		Frames:     50,
		SingleFace: 20,
		MultiFace:  10,
		Challenges: []model.Challenge{
			{Type: model.ChallengeBlink, Outcome: model.OutcomePassed},
			{Type: model.ChallengeHeadTurn, Outcome: model.OutcomeTimedOut},
			{Type: model.ChallengeMouthOpen, Outcome: model.OutcomePending},
		},
	}
	r := Decide(s, th)
	want := []string{
		RecLiveness,
		"REJECT - Challenge head_turn not passed (TIMED_OUT)",
		"REJECT - Challenge mouth_open not passed (PENDING)",
		RecNoFace,
		RecMultiFace,
	}
	if len(r.Recommendations) != len(want) {
		t.Fatalf("expected %v, got %v", want, r.Recommendations)
	}
	for i := range want {
		if r.Recommendations[i] != want[i] {
			t.Fatalf("recommendation %d: expected %q, got %q", i, want[i], r.Recommendations[i])
		}
	}
}

func TestEmptySessionFails(t *testing.T) {
	r := Decide(Summary{Challenges: passedChallenges()}, testThresholds())
	if r.Status != model.VerdictFailed {
		t.Fatalf("session without frames must fail")
	}
}

func TestDeepfakeScoreBelowFloorIsMean(t *testing.T) {
	th := testThresholds()
	comps := []float64{0.1, 0.2, 0.9}
	got := DeepfakeScore(comps, 100, 1, th)
	if math.Abs(got-0.4) > 1e-9 {
		t.Fatalf("expected plain mean 0.4, got %v", got)
	}
	above := DeepfakeScore(comps, 3, 1, th)
	want := (2.0/3.0)*0.4 + (1.0/3.0)*0.9
	if math.Abs(above-want) > 1e-9 {
		t.Fatalf("expected blended %v, got %v", want, above)
	}
}
