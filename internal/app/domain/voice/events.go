package voice

import (
	"sync"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
)

// EventType identifies a session event.
type EventType string

const (
	EventState           EventType = "state"
	EventTranscriptDelta EventType = "transcript.delta"
	EventTranscriptDone  EventType = "transcript.done"
	EventTrip            EventType = "trip"
	EventError           EventType = "error"
)

// Event is delivered to subscribers exactly once, in the order it was produced.
type Event struct {
	Type    EventType         `json:"type"`
	State   models.VoiceState `json:"state,omitempty"`
	Text    string            `json:"text,omitempty"`
	Partial string            `json:"partial,omitempty"`
	Trip    *models.Trip      `json:"trip,omitempty"`
	Message string            `json:"message,omitempty"`
	// Kind classifies errors for the UI: permission, connection, remote or internal.
	Kind string `json:"kind,omitempty"`
}

type subscription struct {
	id int
	fn func(Event)
}

// Emitter is a typed, ordered event fan-out. Events may be queued while the producer holds
// its own lock and flushed after releasing it; a single flusher drains the queue at a time
// so delivery order matches queue order, and subscribers may call back into the producer.
type Emitter struct {
	mu     sync.Mutex
	subs   []subscription
	nextID int
	queue  []Event

	dispatch sync.Mutex
}

// NewEmitter creates an Emitter.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// Subscribe registers fn and returns a function that removes it.
func (e *Emitter) Subscribe(fn func(Event)) (unsubscribe func()) {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subs = append(e.subs, subscription{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			for i, s := range e.subs {
				if s.id == id {
					e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Emit queues ev and flushes.
func (e *Emitter) Emit(ev Event) {
	e.Enqueue(ev)
	e.Flush()
}

// Enqueue queues ev without delivering it.
func (e *Emitter) Enqueue(ev Event) {
	e.mu.Lock()
	e.queue = append(e.queue, ev)
	e.mu.Unlock()
}

// Flush delivers queued events. If another goroutine, or a subscriber further up this
// goroutine's stack, is already delivering, Flush returns and that flusher delivers them.
func (e *Emitter) Flush() {
	for {
		if !e.dispatch.TryLock() {
			return
		}
		for {
			e.mu.Lock()
			batch := e.queue
			e.queue = nil
			subs := append([]subscription(nil), e.subs...)
			e.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, ev := range batch {
				for _, s := range subs {
					s.fn(ev)
				}
			}
		}
		e.dispatch.Unlock()

		e.mu.Lock()
		more := len(e.queue) > 0
		e.mu.Unlock()
		if !more {
			return
		}
	}
}
