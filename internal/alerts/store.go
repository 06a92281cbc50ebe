package alerts

import (
	"sync"
	"time"

	"rescuefusion/internal/model"
)

// Store is a bounded in-memory ring of triage alerts, oldest first.
type Store struct {
	mu    sync.RWMutex
	buf   []model.TriageAlert
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(alert model.TriageAlert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, alert)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = alert
}

// List returns up to limit of the most recent alerts; limit <= 0 returns all.
func (s *Store) List(limit int) []model.TriageAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.TriageAlert, 0, limit)
	for i := len(s.buf) - limit; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.TriageAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.TriageAlert, 0)
	for _, a := range s.buf {
		if !a.Timestamp.Before(ts) {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) ForIdentity(identityID int64) []model.TriageAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.TriageAlert, 0)
	for _, a := range s.buf {
		if a.IdentityID == identityID {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
