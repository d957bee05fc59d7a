package session

import "time"

type EventType string

const (
	EventSessionStarted   EventType = "session_started"
	EventStepCompleted    EventType = "step_completed"
	EventStepSkipped      EventType = "step_skipped"
	EventSessionPaused    EventType = "session_paused"
	EventSessionResumed   EventType = "session_resumed"
	EventSessionCompleted EventType = "session_completed"
	EventSessionAborted   EventType = "session_aborted"
	EventHabitLogged      EventType = "habit_logged"
)

type Event struct {
	Type           EventType `json:"type"`
	UserID         string    `json:"user_id"`
	SessionID      string    `json:"session_id"`
	RoutineID      int64     `json:"routine_id"`
	StepID         int64     `json:"step_id,omitempty"`
	StepIndex      int       `json:"step_index"`
	TotalSteps     int       `json:"total_steps"`
	CompletedSteps int       `json:"completed_steps"`
	Status         Status    `json:"status"`
	Detail         string    `json:"detail,omitempty"`
	HabitID        int64     `json:"habit_id,omitempty"`
	HabitName      string    `json:"habit_name,omitempty"`
	Streak         int       `json:"streak,omitempty"`
	At             time.Time `json:"at"`
}

// NewEvent fills the session-derived fields of an event.
func NewEvent(typ EventType, s *Session, at time.Time) Event {
	return Event{
		Type:           typ,
		UserID:         s.UserID,
		SessionID:      s.ID,
		RoutineID:      s.RoutineID,
		StepIndex:      s.CurrentIndex,
		TotalSteps:     len(s.Steps),
		CompletedSteps: s.CompletedSteps,
		Status:         s.Status,
		At:             at,
	}
}

const subscriberBuffer = 64

// Subscribe streams events for userID. An empty userID receives every user's events.
func (m *Manager) Subscribe(userID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	m.subMu.Lock()
	m.nextSubID++
	id := m.nextSubID
	if _, ok := m.subscribers[userID]; !ok {
		m.subscribers[userID] = make(map[int]chan Event)
	}
	m.subscribers[userID][id] = ch
	m.subMu.Unlock()

	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		subs := m.subscribers[userID]
		if subs == nil {
			return
		}
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(m.subscribers, userID)
		}
	}
}

// Publish never blocks; a subscriber with a full buffer misses the event.
func (m *Manager) Publish(evt Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, key := range []string{evt.UserID, ""} {
		for _, ch := range m.subscribers[key] {
			select {
			case ch <- evt:
			default:
			}
		}
		if evt.UserID == "" {
			break
		}
	}
}
