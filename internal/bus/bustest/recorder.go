// Package bustest provides test doubles for the notification bus.
package bustest

import (
	"context"
	"sync"

	"github.com/capitalize-ai/messenger/internal/bus"
)

// Recorder is a bus.Publisher that keeps the ordered list of outbound events.
type Recorder struct {
	mu     sync.Mutex
	events []bus.Envelope
	err    error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailWith makes every following Publish return err without recording.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Publish records the event.
func (r *Recorder) Publish(ctx context.Context, channel, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	env, err := bus.NewEnvelope(channel, event, payload)
	if err != nil {
		return err
	}
	r.events = append(r.events, env)
	return nil
}

// Events returns a copy of every recorded event in publish order.
func (r *Recorder) Events() []bus.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bus.Envelope, len(r.events))
	copy(out, r.events)
	return out
}

// On returns the recorded events for one channel and event name.
func (r *Recorder) On(channel, event string) []bus.Envelope {
	var out []bus.Envelope
	for _, env := range r.Events() {
		if env.Channel == channel && env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

// Reset drops every recorded event.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
