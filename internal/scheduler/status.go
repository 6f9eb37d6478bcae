package scheduler

import (
	"context"
	"time"

	"curator/internal/domain"
)

type TaskView struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Platform        domain.Platform    `json:"platform"`
	SourceQuery     string             `json:"source_query"`
	DestinationID   string             `json:"destination_id"`
	IntervalSeconds int                `json:"interval_seconds"`
	Schedule        string             `json:"schedule"`
	Enabled         bool               `json:"enabled"`
	Running         bool               `json:"running"`
	NextRunAt       time.Time          `json:"next_run_at"`
	Options         domain.TaskOptions `json:"options"`
	LastStatus      domain.TaskStatus  `json:"last_status"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

func NewTaskView(t domain.ScheduledTask) TaskView {
	return TaskView{
		ID:              t.ID,
		Name:            t.Name,
		Platform:        t.Platform,
		SourceQuery:     t.SourceQuery,
		DestinationID:   t.DestinationID,
		IntervalSeconds: t.IntervalSeconds,
		Schedule:        t.ScheduleLabel(),
		Enabled:         t.Enabled,
		Running:         t.ClaimedAt != nil,
		NextRunAt:       t.NextRunAt,
		Options:         t.Options,
		LastStatus:      t.LastStatus,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

type StatusReport struct {
	State              State      `json:"state"`
	LastTick           *time.Time `json:"last_tick,omitempty"`
	Workers            int        `json:"workers"`
	InFlight           int        `json:"in_flight"`
	PendingCompletions int        `json:"pending_completions"`
	Tasks              []TaskView `json:"tasks"`
}

// Status reports the scheduler state and every task with its last outcome.
func (s *Service) Status(ctx context.Context) (StatusReport, error) {
	tasks, err := s.repo.List(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	rep := StatusReport{
		State:              s.State(),
		Workers:            s.pool.Size(),
		InFlight:           s.pool.InFlight(),
		PendingCompletions: s.PendingCompletions(),
		Tasks:              make([]TaskView, 0, len(tasks)),
	}
	if ms := s.lastTick.Load(); ms > 0 {
		t := time.UnixMilli(ms)
		rep.LastTick = &t
	}
	for _, t := range tasks {
		rep.Tasks = append(rep.Tasks, NewTaskView(t))
	}
	return rep, nil
}
