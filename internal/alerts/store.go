package alerts

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"faceguard/internal/model"
)

var ErrAlertNotFound = errors.New("alert not found")

// Raised reports what Raise did with an event.
type Raised struct {
	Alert     model.Alert
	Created   bool
	Escalated bool
}

// Store keeps the most recent alerts in arrival order. At most one ACTIVE
// alert exists per (session, type); further triggers update it in place.
type Store struct {
	mu     sync.RWMutex
	buf    []*model.Alert
	byID   map[string]*model.Alert
	active map[string]*model.Alert
	limit  int
	now    func() time.Time
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{
		byID:   make(map[string]*model.Alert),
		active: make(map[string]*model.Alert),
		limit:  limit,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the store's time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func activeKey(sessionID string, t model.AlertType) string {
	return sessionID + "|" + string(t)
}

// Raise records an event already classified at sev. A repeat of an ACTIVE
// (session, type) refreshes its message, timestamp and score; severity only
// ever moves up.
func (s *Store) Raise(ev model.DetectionEvent, sev model.Severity) Raised {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = now
	}
	key := activeKey(ev.SessionID, ev.Type)
	if cur, ok := s.active[key]; ok {
		escalated := sev.Rank() > cur.Severity.Rank()
		if escalated {
			cur.Severity = sev
			cur.Channels = Channels(sev)
		}
		cur.Message = Message(ev)
		cur.Score = ev.Score
		cur.Timestamp = ts
		cur.Occurrences++
		return Raised{Alert: cur.Clone(), Escalated: escalated}
	}
	a := &model.Alert{
		ID:          uuid.NewString(),
		SessionID:   ev.SessionID,
		Type:        ev.Type,
		Severity:    sev,
		Status:      model.AlertActive,
		Message:     Message(ev),
		Score:       ev.Score,
		Channels:    Channels(sev),
		CreatedAt:   now,
		Timestamp:   ts,
		Occurrences: 1,
	}
	if ev.Detail != "" {
		a.Context = map[string]string{"detail": ev.Detail}
	}
	s.add(a)
	s.active[key] = a
	return Raised{Alert: a.Clone(), Created: true}
}

func (s *Store) add(a *model.Alert) {
	if len(s.buf) >= s.limit {
		old := s.buf[0]
		copy(s.buf, s.buf[1:])
		s.buf = s.buf[:len(s.buf)-1]
		delete(s.byID, old.ID)
		if s.active[activeKey(old.SessionID, old.Type)] == old {
			delete(s.active, activeKey(old.SessionID, old.Type))
		}
	}
	s.buf = append(s.buf, a)
	s.byID[a.ID] = a
}

// Acknowledge moves an alert to ACKNOWLEDGED. Acknowledging twice keeps the
// first acknowledger. A later trigger of the same type opens a new alert.
func (s *Store) Acknowledge(id, by string) (model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return model.Alert{}, ErrAlertNotFound
	}
	if a.Status == model.AlertAcknowledged {
		return a.Clone(), nil
	}
	ts := s.now()
	a.Status = model.AlertAcknowledged
	a.AcknowledgedBy = by
	a.AcknowledgedAt = &ts
	if s.active[activeKey(a.SessionID, a.Type)] == a {
		delete(s.active, activeKey(a.SessionID, a.Type))
	}
	return a.Clone(), nil
}

func (s *Store) Get(id string) (model.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return model.Alert{}, ErrAlertNotFound
	}
	return a.Clone(), nil
}

// Active returns ACTIVE alerts, most severe first, newest first within a
// severity.
func (s *Store) Active() []model.Alert {
	s.mu.RLock()
	out := make([]model.Alert, 0, len(s.active))
	for _, a := range s.active {
		out = append(out, a.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if ri, rj := out[i].Severity.Rank(), out[j].Severity.Rank(); ri != rj {
			return ri > rj
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func (s *Store) BySession(sessionID string) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0)
	for _, a := range s.buf {
		if a.SessionID == sessionID {
			out = append(out, a.Clone())
		}
	}
	return out
}

// List returns up to limit of the most recent alerts, oldest first.
func (s *Store) List(limit int) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.Alert, 0, limit)
	for _, a := range s.buf[len(s.buf)-limit:] {
		out = append(out, a.Clone())
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0)
	for _, a := range s.buf {
		if !a.Timestamp.Before(ts) {
			out = append(out, a.Clone())
		}
	}
	return out
}

func (s *Store) Stats() model.AlertStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := model.AlertStats{
		Total:      len(s.buf),
		Active:     len(s.active),
		BySeverity: make(map[model.Severity]int),
		ByType:     make(map[model.AlertType]int),
	}
	for _, a := range s.buf {
		st.BySeverity[a.Severity]++
		st.ByType[a.Type]++
	}
	return st
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
	s.byID = make(map[string]*model.Alert)
	s.active = make(map[string]*model.Alert)
}
