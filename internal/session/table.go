package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"faceguard/internal/config"
	"faceguard/internal/liveness"
	"faceguard/internal/model"
)

// Table owns every live session. The map is guarded by mu; each session
// guards itself.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewTable() *Table {
	return &Table{sessions: make(map[string]*Session)}
}

func (t *Table) Create(userID string, cfg *config.Config, now time.Time) (*Session, error) {
	queue, err := liveness.ParseSequence(cfg.Session.Challenges)
	if err != nil {
		return nil, err
	}
	s := newSession(uuid.NewString(), userID, cfg, queue, now)
	t.mu.Lock()
	t.sessions[s.ID] = s
	t.mu.Unlock()
	return s, nil
}

func (t *Table) Get(id string) (*Session, error) {
	t.mu.RLock()
	s, ok := t.sessions[id]
	t.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

func (t *Table) CountActive() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, s := range t.sessions {
		if s.Status() == model.SessionActive {
			n++
		}
	}
	return n
}

func (t *Table) snapshot() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}

type TimedOut struct {
	SessionID string
	Challenge model.Challenge
}

type SweepReport struct {
	Expired   []string
	TimedOut  []TimedOut
	Reclaimed int
}

// Sweep expires idle sessions, times out overdue challenges and drops
// terminal sessions older than retention. Every transition is guarded by
// the version read before it, so a frame landing mid-sweep always wins.
func (t *Table) Sweep(now time.Time, retention time.Duration) SweepReport {
	var rep SweepReport
	var reclaim []string
	for _, s := range t.snapshot() {
		if s.Status().Terminal() {
			if ended, ok := s.terminalSince(); ok && now.Sub(ended) >= retention {
				reclaim = append(reclaim, s.ID)
			}
			continue
		}
		v := s.Version()
		if !now.Before(s.ExpiresAt()) {
			if s.expireIf(v, now) {
				rep.Expired = append(rep.Expired, s.ID)
			}
			continue
		}
		if c, ok := s.timeoutIf(v, now); ok {
			rep.TimedOut = append(rep.TimedOut, TimedOut{SessionID: s.ID, Challenge: c})
		}
	}
	if len(reclaim) > 0 {
		t.mu.Lock()
		for _, id := range reclaim {
			delete(t.sessions, id)
		}
		t.mu.Unlock()
		rep.Reclaimed = len(reclaim)
	}
	return rep
}
