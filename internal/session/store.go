package session

import (
	"sync"
	"time"

	"github.com/m3rciful/numbot/internal/domain"
)

// DefaultWhatsappCap limits how many unsent WhatsApp numbers a worker may
// hold in one sitting.
const DefaultWhatsappCap = 25

// Session is one worker's in-progress shift state. It lives in memory only:
// a restart ends every shift, which matches the pool being wiped daily anyway.
// A zero StartedAt marks a session created lazily for an off-shift worker,
// such as an owner receiving an SMS prompt.
type Session struct {
	StartedAt time.Time
	// pending holds numbers typed during the shift, grouped by service,
	// before they are handed to purchasers.
	pending map[domain.Service][]string
	// smsPrompts maps a leased number to the worker-side prompt message ID,
	// so a cancel can remove the prompt.
	smsPrompts map[string]int
}

// Store keeps per-worker sessions behind one RWMutex. Worker counts are
// small; a single lock beats sharding here.
type Store struct {
	mu          sync.RWMutex
	sessions    map[int64]*Session
	whatsappCap int
}

// NewStore constructs a session store. whatsappCap <= 0 selects the default.
func NewStore(whatsappCap int) *Store {
	if whatsappCap <= 0 {
		whatsappCap = DefaultWhatsappCap
	}
	return &Store{
		sessions:    make(map[int64]*Session),
		whatsappCap: whatsappCap,
	}
}

// Begin opens a shift for the worker. Re-opening an active shift keeps it.
func (s *Store) Begin(workerID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.ensure(workerID)
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}
}

// ensure returns the worker's session, creating an off-shift one if needed.
// Callers must hold the write lock.
func (s *Store) ensure(workerID int64) *Session {
	sess, ok := s.sessions[workerID]
	if !ok {
		sess = &Session{
			pending:    make(map[domain.Service][]string),
			smsPrompts: make(map[string]int),
		}
		s.sessions[workerID] = sess
	}
	return sess
}

// End closes the worker's session and drops its state.
func (s *Store) End(workerID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, workerID)
}

// Active reports whether the worker has an open shift.
func (s *Store) Active(workerID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[workerID]
	return ok && !sess.StartedAt.IsZero()
}

// StartedAt returns the session start time, zero when no session is open.
func (s *Store) StartedAt(workerID int64) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[workerID]; ok {
		return sess.StartedAt
	}
	return time.Time{}
}

// AddPending records a number typed during the shift. For WhatsApp the
// per-session cap applies; the bool result reports whether the number fit.
func (s *Store) AddPending(workerID int64, service domain.Service, number string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[workerID]
	if !ok || sess.StartedAt.IsZero() {
		return false
	}
	if service == domain.ServiceWhatsapp && len(sess.pending[service]) >= s.whatsappCap {
		return false
	}
	sess.pending[service] = append(sess.pending[service], number)
	return true
}

// Pending returns a copy of the worker's pending numbers for a service.
func (s *Store) Pending(workerID int64, service domain.Service) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[workerID]
	if !ok {
		return nil
	}
	return append([]string(nil), sess.pending[service]...)
}

// RemovePending drops one number from the worker's pending list. It reports
// whether the number was present.
func (s *Store) RemovePending(workerID int64, service domain.Service, number string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[workerID]
	if !ok {
		return false
	}
	list := sess.pending[service]
	for i, n := range list {
		if n == number {
			sess.pending[service] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// SetSmsPrompt binds a leased number to the worker's prompt message ID,
// creating an off-shift session when the worker has none.
func (s *Store) SetSmsPrompt(workerID int64, number string, messageID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(workerID).smsPrompts[number] = messageID
}

// SmsPrompt looks up the prompt message ID for a number.
func (s *Store) SmsPrompt(workerID int64, number string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[workerID]
	if !ok {
		return 0, false
	}
	id, ok := sess.smsPrompts[number]
	return id, ok
}

// ClearSmsPrompt removes the binding after the SMS flow resolves.
func (s *Store) ClearSmsPrompt(workerID int64, number string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[workerID]; ok {
		delete(sess.smsPrompts, number)
	}
}

// ClearAllPending wipes pending numbers and prompt bindings for every open
// session without ending the shifts. The daily reset calls this.
func (s *Store) ClearAllPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.pending = make(map[domain.Service][]string)
		sess.smsPrompts = make(map[string]int)
	}
}
