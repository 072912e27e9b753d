package fleet

import (
	"sync"
	"time"
)

// Event records one status transition of a supervised server.
type Event struct {
	ServerID string    `json:"server_id"`
	From     Status    `json:"from"`
	To       Status    `json:"to"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// EventLog is a fixed-capacity ring of status transitions. Old entries
// are dropped once capacity is reached.
type EventLog struct {
	mu     sync.RWMutex
	events []Event
	next   int
	full   bool
}

// NewEventLog creates a ring buffer holding up to capacity events.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = 256
	}
	return &EventLog{events: make([]Event, capacity)}
}

// Record appends an event, evicting the oldest entry when full.
func (l *EventLog) Record(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events[l.next] = ev
	l.next++
	if l.next == len(l.events) {
		l.next = 0
		l.full = true
	}
}

// All returns events oldest-first, optionally filtered by server id.
// A non-positive limit returns everything retained.
func (l *EventLog) All(serverID string, limit int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var ordered []Event
	if l.full {
		ordered = append(ordered, l.events[l.next:]...)
		ordered = append(ordered, l.events[:l.next]...)
	} else {
		ordered = append(ordered, l.events[:l.next]...)
	}

	if serverID != "" {
		filtered := ordered[:0]
		for _, ev := range ordered {
			if ev.ServerID == serverID {
				filtered = append(filtered, ev)
			}
		}
		ordered = filtered
	}

	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}
