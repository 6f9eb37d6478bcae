package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"curator/internal/domain"
	"curator/internal/events"
	"curator/internal/registry"
)

// maxIntervalSeconds caps intervals at one year.
const maxIntervalSeconds = 366 * 24 * 60 * 60

// ValidationError reports a task definition the scheduler refuses to store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Reason }

// NewTask is the caller-supplied part of a task.
type NewTask struct {
	Name            string             `json:"name"`
	Platform        domain.Platform    `json:"platform"`
	SourceQuery     string             `json:"source_query"`
	DestinationID   string             `json:"destination_id"`
	IntervalSeconds int                `json:"interval_seconds"`
	Enabled         *bool              `json:"enabled,omitempty"`
	Options         domain.TaskOptions `json:"options"`
}

// TaskPatch changes selected fields of a task. Nil fields are kept.
type TaskPatch struct {
	Name            *string             `json:"name,omitempty"`
	SourceQuery     *string             `json:"source_query,omitempty"`
	DestinationID   *string             `json:"destination_id,omitempty"`
	IntervalSeconds *int                `json:"interval_seconds,omitempty"`
	Enabled         *bool               `json:"enabled,omitempty"`
	Options         *domain.TaskOptions `json:"options,omitempty"`
}

func (s *Service) validate(t domain.ScheduledTask) error {
	if !t.Platform.Valid() {
		return &ValidationError{Field: "platform", Reason: fmt.Sprintf("unsupported platform %q", t.Platform)}
	}
	if strings.TrimSpace(t.SourceQuery) == "" {
		return &ValidationError{Field: "source_query", Reason: "is required"}
	}
	if t.DestinationID == "" {
		return &ValidationError{Field: "destination_id", Reason: "is required"}
	}
	if s.dests != nil {
		if _, ok := s.dests.Get(t.DestinationID); !ok {
			return &ValidationError{Field: "destination_id", Reason: fmt.Sprintf("unknown destination %q", t.DestinationID)}
		}
	}
	if t.IntervalSeconds > maxIntervalSeconds {
		return &ValidationError{Field: "interval_seconds", Reason: fmt.Sprintf("must be at most %d", maxIntervalSeconds)}
	}
	if t.Interval() < s.cfg.MinInterval {
		return &ValidationError{Field: "interval_seconds", Reason: fmt.Sprintf("must be at least %d", int(s.cfg.MinInterval/time.Second))}
	}
	o := t.Options
	for _, n := range []struct {
		field string
		v     int
	}{
		{"options.max_items", o.MaxItems},
		{"options.min_views", o.MinViews},
		{"options.min_likes", o.MinLikes},
		{"options.min_upvotes", o.MinUpvotes},
		{"options.min_engagement", o.MinEngagement},
	} {
		if n.v < 0 {
			return &ValidationError{Field: n.field, Reason: "must not be negative"}
		}
	}
	return nil
}

func (s *Service) ListTasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	return s.repo.List(ctx)
}

func (s *Service) GetTask(ctx context.Context, id string) (domain.ScheduledTask, error) {
	return s.repo.Get(ctx, id)
}

// AddTask stores a new task. It is due immediately.
func (s *Service) AddTask(ctx context.Context, req NewTask) (domain.ScheduledTask, error) {
	t := domain.ScheduledTask{
		Name:            strings.TrimSpace(req.Name),
		Platform:        domain.Platform(strings.ToLower(string(req.Platform))),
		SourceQuery:     strings.TrimSpace(req.SourceQuery),
		DestinationID:   req.DestinationID,
		IntervalSeconds: req.IntervalSeconds,
		Enabled:         req.Enabled == nil || *req.Enabled,
		Options:         req.Options,
		NextRunAt:       s.now(),
	}
	if err := s.validate(t); err != nil {
		return domain.ScheduledTask{}, err
	}
	created, err := s.repo.Create(ctx, t)
	if err != nil {
		return domain.ScheduledTask{}, err
	}
	s.log.Info().Str("task_id", created.ID).Str("platform", string(created.Platform)).Str("schedule", created.ScheduleLabel()).Msg("task added")
	s.bus.Publish(events.Event{Type: events.TaskAdded, Data: created})
	return created, nil
}

// UpdateTask changes a task's definition. The schedule position is kept:
// a new interval applies from the next run on.
func (s *Service) UpdateTask(ctx context.Context, id string, p TaskPatch) (domain.ScheduledTask, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.ScheduledTask{}, err
	}
	if p.Name != nil {
		t.Name = strings.TrimSpace(*p.Name)
	}
	if p.SourceQuery != nil {
		t.SourceQuery = strings.TrimSpace(*p.SourceQuery)
	}
	if p.DestinationID != nil {
		t.DestinationID = *p.DestinationID
	}
	if p.IntervalSeconds != nil {
		t.IntervalSeconds = *p.IntervalSeconds
	}
	if p.Enabled != nil {
		t.Enabled = *p.Enabled
	}
	if p.Options != nil {
		t.Options = *p.Options
	}
	if err := s.validate(t); err != nil {
		return domain.ScheduledTask{}, err
	}
	if err := s.repo.Update(ctx, t); err != nil {
		return domain.ScheduledTask{}, err
	}
	s.bus.Publish(events.Event{Type: events.TaskUpdated, Data: t})
	return s.repo.Get(ctx, id)
}

// RemoveTask deletes a task and forgets what it delivered. A run in flight
// finishes but its result is dropped.
func (s *Service) RemoveTask(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.dedup != nil {
		if err := s.dedup.Forget(ctx, id); err != nil {
			s.log.Warn().Err(err).Str("task_id", id).Msg("forget delivery records")
		}
	}
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
	s.log.Info().Str("task_id", id).Msg("task removed")
	s.bus.Publish(events.Event{Type: events.TaskRemoved, Data: map[string]any{"task_id": id}})
	return nil
}

// Enable makes a task eligible again. If it was disabled for a while it
// runs once at the next tick rather than once per missed slot.
func (s *Service) Enable(ctx context.Context, id string) error {
	if err := s.repo.SetEnabled(ctx, id, true); err != nil {
		return err
	}
	s.bus.Publish(events.Event{Type: events.TaskEnabled, Data: map[string]any{"task_id": id}})
	return nil
}

// Disable stops future runs. A run already in flight completes normally.
func (s *Service) Disable(ctx context.Context, id string) error {
	if err := s.repo.SetEnabled(ctx, id, false); err != nil {
		return err
	}
	s.bus.Publish(events.Event{Type: events.TaskDisabled, Data: map[string]any{"task_id": id}})
	return nil
}

// ErrStopping is returned for manual runs requested after Stop.
var ErrStopping = errors.New("scheduler is stopping")

// RunNow claims a task and runs it on the pool without waiting for its
// slot. A task that is not yet due keeps its slot; one whose slot has passed
// counts the manual run as that slot. The returned channel yields the
// outcome once. It fails with registry.ErrClaimed if the task is running.
func (s *Service) RunNow(ctx context.Context, id string) (<-chan domain.RunOutcome, error) {
	s.admit.Lock()
	if s.stopping {
		s.admit.Unlock()
		return nil, ErrStopping
	}
	s.runs.Add(1)
	s.admit.Unlock()

	now := s.now()
	task, err := s.repo.Claim(ctx, id, now)
	if err != nil {
		s.runs.Done()
		if !errors.Is(err, registry.ErrClaimed) && !errors.Is(err, registry.ErrNotFound) {
			s.registryError("claim", err)
		}
		return nil, err
	}
	next := task.NextRunAt
	if !next.After(now) {
		next = domain.NextRunAfter(task.NextRunAt, task.Interval(), now)
	}

	result := make(chan domain.RunOutcome, 1)
	go func() {
		defer s.runs.Done()
		err := s.pool.Go(s.runCtx, func() {
			result <- s.execute(task, next)
			close(result)
		})
		if err != nil {
			s.release(task.ID)
			result <- domain.RunOutcome{TaskID: task.ID, Cancelled: true}
			close(result)
		}
	}()
	s.log.Info().Str("task_id", id).Time("next_run", next).Msg("manual run requested")
	return result, nil
}
