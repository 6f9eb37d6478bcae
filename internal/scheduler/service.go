package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"curator/internal/dedup"
	"curator/internal/domain"
	"curator/internal/events"
	"curator/internal/registry"
	"curator/internal/sink"
	"curator/internal/telemetry"
	"curator/internal/worker"
)

type State string

const (
	StateIdle        State = "idle"
	StateSelecting   State = "selecting"
	StateDispatching State = "dispatching"
	StateStopped     State = "stopped"
)

// Runner executes one run of a task. *worker.Executor is the production runner.
type Runner interface {
	Run(ctx context.Context, task domain.ScheduledTask) domain.RunOutcome
}

type Destinations interface {
	Get(id string) (sink.Sink, bool)
}

type Config struct {
	Tick            time.Duration `mapstructure:"tick"`
	Workers         int           `mapstructure:"workers"`
	MinInterval     time.Duration `mapstructure:"min_interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// Retention and PruneSchedule drive the delivery record cleanup job.
	// A zero Retention keeps records forever.
	Retention     time.Duration `mapstructure:"-"`
	PruneSchedule string        `mapstructure:"-"`
}

type Deps struct {
	Registry     registry.Repository
	Runner       Runner
	Pool         *worker.Pool
	Dedup        dedup.Store
	Destinations Destinations
	Events       events.Bus
}

type completion struct {
	taskID    string
	nextRunAt time.Time
	status    domain.TaskStatus
}

// Service owns the task schedule: it selects due tasks, runs them on the
// worker pool and records the outcome.
type Service struct {
	repo   registry.Repository
	runner Runner
	pool   *worker.Pool
	dedup  dedup.Store
	dests  Destinations
	bus    events.Bus
	cfg    Config
	now    func() time.Time
	log    zerolog.Logger
	cron   *cron.Cron

	state    atomic.Value
	lastTick atomic.Int64

	mu      sync.Mutex
	pending map[string]completion

	runCtx    context.Context
	runCancel context.CancelFunc

	// admit guards stopping so manual runs never join runs after Stop
	// has begun waiting on it.
	admit    sync.Mutex
	stopping bool
	runs     sync.WaitGroup

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewService(cfg Config, deps Deps) *Service {
	if cfg.Tick <= 0 {
		cfg.Tick = 2 * time.Second
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Minute
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if deps.Pool == nil {
		deps.Pool = worker.NewPool(cfg.Workers)
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	s := &Service{
		repo:      deps.Registry,
		runner:    deps.Runner,
		pool:      deps.Pool,
		dedup:     deps.Dedup,
		dests:     deps.Destinations,
		bus:       deps.Events,
		cfg:       cfg,
		now:       time.Now,
		log:       log.With().Str("component", "scheduler").Logger(),
		cron:      cron.New(),
		pending:   make(map[string]completion),
		runCtx:    runCtx,
		runCancel: runCancel,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.state.Store(StateIdle)
	return s
}

// Start recovers claims left by a previous process, schedules the retention
// job and then ticks until ctx ends or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("scheduler already started")
	}
	defer close(s.done)

	n, err := s.repo.RecoverClaims(ctx)
	if err != nil {
		s.registryError("recover claims", err)
	} else if n > 0 {
		s.log.Info().Int("recovered", n).Msg("released claims from previous run")
	}

	if s.dedup != nil && s.cfg.Retention > 0 && s.cfg.PruneSchedule != "" {
		if _, err := s.cron.AddFunc(s.cfg.PruneSchedule, func() { _, _ = s.Prune(context.Background()) }); err != nil {
			return err
		}
		s.cron.Start()
		defer s.cron.Stop()
	}

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	s.log.Info().Dur("tick", s.cfg.Tick).Int("workers", s.pool.Size()).Msg("scheduler started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stop:
			return nil
		case now := <-ticker.C:
			_ = s.Tick(ctx, now)
		}
	}
}

// Stop ends the tick loop, refuses new manual runs and waits for in-flight
// runs. Runs still going after the shutdown timeout are cancelled; they
// release their claims without advancing. The grace period is always
// granted; ctx only bounds the wait for cancelled runs to return.
func (s *Service) Stop(ctx context.Context) {
	s.admit.Lock()
	s.stopping = true
	s.admit.Unlock()
	s.stopOnce.Do(func() { close(s.stop) })

	drained := make(chan struct{})
	go func() {
		if s.started.Load() {
			<-s.done
		}
		s.runs.Wait()
		s.pool.Wait()
		close(drained)
	}()

	timer := time.NewTimer(s.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		s.log.Warn().Int("inflight", s.pool.InFlight()).Msg("shutdown timeout, cancelling runs")
		s.runCancel()
		select {
		case <-drained:
		case <-ctx.Done():
			s.log.Warn().Int("inflight", s.pool.InFlight()).Msg("abandoning runs; claims are released on next start")
		}
	}

	s.retryPending(context.WithoutCancel(ctx))
	s.runCancel()
	s.state.Store(StateStopped)
	s.log.Info().Msg("scheduler stopped")
}

func (s *Service) State() State { return s.state.Load().(State) }

// setState never leaves StateStopped.
func (s *Service) setState(st State) {
	for {
		cur := s.state.Load()
		if cur == StateStopped || s.state.CompareAndSwap(cur, st) {
			return
		}
	}
}

// Tick runs one scheduling pass: persist completions that failed earlier,
// select and claim due tasks, run them on the pool and wait for the batch.
func (s *Service) Tick(ctx context.Context, now time.Time) error {
	s.lastTick.Store(now.UnixMilli())
	telemetry.TicksTotal.Inc()
	s.setState(StateSelecting)
	defer s.setState(StateIdle)

	s.retryPending(ctx)

	due, err := s.repo.ListDue(ctx, now)
	if err != nil {
		s.registryError("list due", err)
		return err
	}
	if len(due) == 0 {
		return nil
	}

	s.setState(StateDispatching)
	var wg sync.WaitGroup
	for i, task := range due {
		next := domain.NextRunAfter(task.NextRunAt, task.Interval(), now)
		wg.Add(1)
		err := s.pool.Go(ctx, func() {
			defer wg.Done()
			s.execute(task, next)
		})
		if err != nil {
			wg.Done()
			// Not started: hand the rest back untouched.
			for _, t := range due[i:] {
				s.release(t.ID)
			}
			break
		}
	}
	wg.Wait()
	s.bus.Publish(events.Event{Type: events.SchedulerTick, Data: map[string]any{"dispatched": len(due)}})
	return nil
}

func (s *Service) execute(task domain.ScheduledTask, next time.Time) domain.RunOutcome {
	s.bus.Publish(events.Event{Type: events.RunStarted, Data: map[string]any{"task_id": task.ID}})

	out := s.runner.Run(s.runCtx, task)
	s.bus.Publish(events.Event{Type: events.RunFinished, Data: out})

	l := s.log.With().Str("task_id", task.ID).Str("platform", string(task.Platform)).Logger()
	if out.Cancelled {
		l.Warn().Int("items_delivered", out.ItemsDelivered).Msg("run cancelled")
		s.release(task.ID)
		return out
	}

	state := out.State()
	telemetry.RunsTotal.WithLabelValues(string(task.Platform), string(state)).Inc()
	telemetry.RunDuration.WithLabelValues(string(task.Platform)).Observe(out.FinishedAt.Sub(out.StartedAt).Seconds())

	ev := l.Info()
	if state == domain.StateError {
		ev = l.Warn()
	}
	ev.Str("state", string(state)).
		Int("items_fetched", out.ItemsFetched).
		Int("items_delivered", out.ItemsDelivered).
		Int("items_skipped_duplicate", out.ItemsSkippedDuplicate).
		Int("errors", len(out.Errors)).
		Time("next_run", next).
		Msg("task run complete")

	s.record(completion{taskID: task.ID, nextRunAt: next, status: out.Status()})
	return out
}

func (s *Service) record(c completion) {
	err := s.repo.RecordRun(context.Background(), c.taskID, c.nextRunAt, c.status)
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrNotFound):
		// Removed while running.
	default:
		s.registryError("record run", err)
		s.mu.Lock()
		s.pending[c.taskID] = c
		telemetry.PendingRecords.Set(float64(len(s.pending)))
		s.mu.Unlock()
	}
}

func (s *Service) retryPending(ctx context.Context) {
	s.mu.Lock()
	batch := make([]completion, 0, len(s.pending))
	for _, c := range s.pending {
		batch = append(batch, c)
	}
	s.mu.Unlock()

	for _, c := range batch {
		err := s.repo.RecordRun(ctx, c.taskID, c.nextRunAt, c.status)
		if err != nil && !errors.Is(err, registry.ErrNotFound) {
			s.registryError("record run", err)
			continue
		}
		s.mu.Lock()
		delete(s.pending, c.taskID)
		telemetry.PendingRecords.Set(float64(len(s.pending)))
		s.mu.Unlock()
	}
}

func (s *Service) release(id string) {
	if err := s.repo.ReleaseClaim(context.Background(), id); err != nil {
		s.registryError("release claim", err)
	}
}

func (s *Service) registryError(op string, err error) {
	telemetry.RegistryErrors.WithLabelValues(op).Inc()
	s.log.Error().Err(err).Str("op", op).Msg("task registry error")
}

// Prune removes delivery records not seen within the retention window.
func (s *Service) Prune(ctx context.Context) (int64, error) {
	if s.dedup == nil || s.cfg.Retention <= 0 {
		return 0, nil
	}
	before := s.now().Add(-s.cfg.Retention)
	n, err := s.dedup.Prune(ctx, before)
	if err != nil {
		s.log.Error().Err(err).Msg("prune delivery records")
		return 0, err
	}
	telemetry.DedupPrunedTotal.Add(float64(n))
	s.log.Info().Int64("pruned", n).Time("before", before).Msg("pruned delivery records")
	return n, nil
}

// PendingCompletions reports how many run results still wait to be persisted.
func (s *Service) PendingCompletions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
