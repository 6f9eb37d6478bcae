package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"curator/internal/domain"
)

// Connector fetches one page of candidate items for a query. Items come back
// in the platform's own order; callers must not re-sort them.
type Connector interface {
	Fetch(ctx context.Context, query string) ([]domain.CandidateItem, error)
}

type Kind string

const (
	KindAuth         Kind = "auth"
	KindRateLimited  Kind = "rate_limited"
	KindTransient    Kind = "transient"
	KindInvalidQuery Kind = "invalid_query"
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

// KindOf classifies err. Errors that did not come from a connector are
// treated as transient.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindTransient
}

// ClassifyStatus maps an HTTP status from a platform to an error kind.
func ClassifyStatus(code int) Kind {
	switch {
	case code == 401 || code == 403:
		return KindAuth
	case code == 429:
		return KindRateLimited
	case code == 400 || code == 404 || code == 410:
		return KindInvalidQuery
	default:
		return KindTransient
	}
}

// Registry maps platforms to connectors.
type Registry struct {
	mu sync.RWMutex
	m  map[domain.Platform]Connector
}

func NewRegistry() *Registry {
	return &Registry{m: make(map[domain.Platform]Connector)}
}

func (r *Registry) Register(p domain.Platform, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[p] = c
}

func (r *Registry) Get(p domain.Platform) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.m[p]
	return c, ok
}
