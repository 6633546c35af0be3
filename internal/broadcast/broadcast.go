// Package broadcast publishes domain events to external consumers. The core
// mutates state first, collects events, and hands them here as a separate
// phase; publication is fire-and-forget and never blocks a tick.
package broadcast

import (
	"sync"

	"github.com/example/transit-dispatch/internal/models"
)

type Broadcaster interface {
	Publish(events ...models.Event)
}

// Nop discards everything; handy default and test double.
type Nop struct{}

func (Nop) Publish(...models.Event) {}

// Recorder accumulates published events for assertions in tests.
type Recorder struct {
	mu     sync.Mutex
	Events []models.Event
}

func (r *Recorder) Publish(events ...models.Event) {
	r.mu.Lock()
	r.Events = append(r.Events, events...)
	r.mu.Unlock()
}

func (r *Recorder) ByType(t string) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, e := range r.Events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
