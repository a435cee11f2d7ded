package liveness

import (
	"errors"
	"fmt"
	"time"

	"faceguard/internal/model"
)

var ErrUnknownChallenge = errors.New("unknown challenge type")

type Spec struct {
	Type        model.ChallengeType
	Instruction string
	Timeout     time.Duration
}

// Lookup switches over the closed challenge set. Adding a type means adding
// a case here and in NewTracker.
func Lookup(t model.ChallengeType) (Spec, error) {
	switch t {
	case model.ChallengeHeadTurn:
		return Spec{t, "Please turn your head to the left and then to the right", 8 * time.Second}, nil
	case model.ChallengeBlink:
		return Spec{t, "Please blink your eyes", 5 * time.Second}, nil
	case model.ChallengeMouthOpen:
		return Spec{t, "Please open your mouth", 5 * time.Second}, nil
	case model.ChallengeSmile:
		return Spec{t, "Please smile", 5 * time.Second}, nil
	case model.ChallengeNod:
		return Spec{t, "Please nod your head", 5 * time.Second}, nil
	}
	return Spec{}, fmt.Errorf("%w: %q", ErrUnknownChallenge, t)
}

func Types() []model.ChallengeType {
	return []model.ChallengeType{
		model.ChallengeBlink,
		model.ChallengeHeadTurn,
		model.ChallengeMouthOpen,
		model.ChallengeSmile,
		model.ChallengeNod,
	}
}

// ParseSequence converts configured names into challenge types.
func ParseSequence(names []string) ([]model.ChallengeType, error) {
	out := make([]model.ChallengeType, 0, len(names))
	for _, n := range names {
		t := model.ChallengeType(n)
		if _, err := Lookup(t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
