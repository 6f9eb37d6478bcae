package sink

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"curator/internal/domain"
)

// Sink posts one formatted message to a destination.
type Sink interface {
	Deliver(ctx context.Context, msg domain.FormattedMessage) error
}

type Kind string

const (
	KindTransient          Kind = "transient"
	KindRejected           Kind = "rejected"
	KindInvalidDestination Kind = "invalid_destination"
)

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransient
}

// ClassifyStatus maps a destination's HTTP status to an error kind.
func ClassifyStatus(code int) Kind {
	switch {
	case code == 429 || code >= 500:
		return KindTransient
	case code == 401 || code == 403 || code == 404 || code == 410:
		return KindInvalidDestination
	default:
		return KindRejected
	}
}

// TestMessage is what a destination test posts.
func TestMessage() domain.FormattedMessage {
	return domain.FormattedMessage{
		Content: "curator: destination test message. If you can read this, delivery works.",
	}
}

// Registry maps destination ids to sinks.
type Registry struct {
	mu    sync.RWMutex
	dests map[string]domain.Destination
	sinks map[string]Sink
}

func NewRegistry() *Registry {
	return &Registry{dests: map[string]domain.Destination{}, sinks: map[string]Sink{}}
}

func (r *Registry) Register(d domain.Destination, s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dests[d.ID] = d
	r.sinks[d.ID] = s
}

func (r *Registry) Get(id string) (Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sinks[id]
	return s, ok
}

// Destinations lists configured destinations ordered by id.
func (r *Registry) Destinations() []domain.Destination {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Destination, 0, len(r.dests))
	for _, d := range r.dests {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
