package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/habitbot/internal/routine"
)

type StartRequest struct {
	UserID      string
	Routine     routine.Routine
	Steps       []routine.Step
	ExecutionID int64
}

// Manager holds at most one live session per user.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	idleTimeout time.Duration
	onExpire    func(*Session)
	now         func() time.Time

	subMu       sync.Mutex
	subscribers map[string]map[int]chan Event
	nextSubID   int
}

// NewManager creates a manager. A non-positive idleTimeout disables expiry.
func NewManager(idleTimeout time.Duration) *Manager {
	return &Manager{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		subscribers: make(map[string]map[int]chan Event),
	}
}

func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetExpireHook registers a callback for sessions aborted by the idle janitor.
func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Start(req StartRequest) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[req.UserID]; ok {
		return nil, ErrAlreadyActive
	}
	s, err := newSession(uuid.NewString(), req.UserID, req.Routine, req.Steps, req.ExecutionID, m.now())
	if err != nil {
		return nil, err
	}
	m.sessions[req.UserID] = s
	return s.Clone(), nil
}

func (m *Manager) Get(userID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// Apply runs fn against the user's live session under the manager lock and
// returns a snapshot of the result. A session that fn drives to a terminal
// status is removed before Apply returns.
func (m *Manager) Apply(userID string, fn func(s *Session, now time.Time) error) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return nil, ErrNotFound
	}
	err := fn(s, m.now())
	if s.Terminal() {
		delete(m.sessions, userID)
	}
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// End removes the user's session without changing its status.
func (m *Manager) End(userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.sessions, userID)
	return s.Clone(), nil
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// StartJanitor aborts sessions idle for longer than the idle timeout. It does
// nothing when expiry is disabled.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if m.idleTimeout <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.ExpireIdle()
			}
		}
	}()
}

// ExpireIdle aborts and removes idle sessions, returning them.
func (m *Manager) ExpireIdle() []*Session {
	if m.idleTimeout <= 0 {
		return nil
	}
	var expired []*Session

	m.mu.Lock()
	now := m.now()
	for userID, s := range m.sessions {
		if now.Sub(s.LastActivityAt) < m.idleTimeout {
			continue
		}
		if err := s.Abort(now); err != nil {
			continue
		}
		delete(m.sessions, userID)
		expired = append(expired, s.Clone())
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
	return expired
}
