// Package sink carries rendered notifications out of the process. Delivery is
// fire-and-forget from the dispatcher's perspective: a failure is logged by
// the caller but never retried at the pipeline level.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrUnknownDestination = errors.New("sink: unknown destination")

// Field is one labelled value in a payload.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Payload is the destination-agnostic message shape. Sinks may map it onto
// richer formats (chat embeds, cards) but the core never renders those.
type Payload struct {
	Title      string    `json:"title"`
	Body       string    `json:"body,omitempty"`
	Color      int       `json:"color,omitempty"`
	Fields     []Field   `json:"fields,omitempty"`
	Thumbnail  string    `json:"thumbnail,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// Sink delivers a payload to one named destination.
type Sink interface {
	// Handles reports whether this sink owns the destination.
	Handles(destination string) bool
	Send(ctx context.Context, destination string, p Payload) error
}

// Router fans a destination out to the first sink that owns it.
type Router struct {
	sinks []Sink
}

func NewRouter(sinks ...Sink) *Router {
	return &Router{sinks: sinks}
}

func (r *Router) Handles(destination string) bool {
	for _, s := range r.sinks {
		if s.Handles(destination) {
			return true
		}
	}
	return false
}

func (r *Router) Send(ctx context.Context, destination string, p Payload) error {
	for _, s := range r.sinks {
		if s.Handles(destination) {
			return s.Send(ctx, destination, p)
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownDestination, destination)
}
