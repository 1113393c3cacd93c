package conversation

import (
	"sync"
	"time"

	"github.com/mzaitsev/crypto-order-bot.git/internal/order"
)

// Session is the per-user dialogue state. One per active user; replaced
// wholesale on restart, dropped on cancel or completion.
type Session struct {
	UserID    int64
	ChatID    int64
	State     State
	Order     order.Order
	ItemIndex int    // which item the localization/currency loop is on
	InvoiceID string // set once the order is confirmed
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionStore owns the session map. Injected into the engine and the
// sweep loop; nothing else touches it.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[int64]*Session)}
}

func (s *SessionStore) Get(userID int64) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	return sess, ok
}

func (s *SessionStore) Put(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.UserID] = sess
}

// Advance moves a live session to a new state. Writes to State and
// UpdatedAt go through here so the idle sweep, which reads both under
// the store mutex, never observes a torn write.
func (s *SessionStore) Advance(sess *Session, to State, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.State = to
	sess.UpdatedAt = now
}

func (s *SessionStore) Delete(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ExpireIdle drops sessions not touched for ttl, except ones waiting on
// a payment — those are bounded by the reconciler's attempts ceiling.
// Returns how many were evicted.
func (s *SessionStore) ExpireIdle(now time.Time, ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.State == StateAwaitingPayment {
			continue
		}
		if now.Sub(sess.UpdatedAt) > ttl {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}
