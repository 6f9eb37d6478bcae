package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"curator/internal/domain"
	"curator/internal/events"
	"curator/internal/registry"
	"curator/internal/scheduler"
	"curator/internal/sink"
	"curator/internal/telemetry"
)

// Host is the scheduler surface served over HTTP. *scheduler.Service implements it.
type Host interface {
	ListTasks(ctx context.Context) ([]domain.ScheduledTask, error)
	GetTask(ctx context.Context, id string) (domain.ScheduledTask, error)
	AddTask(ctx context.Context, req scheduler.NewTask) (domain.ScheduledTask, error)
	UpdateTask(ctx context.Context, id string, p scheduler.TaskPatch) (domain.ScheduledTask, error)
	RemoveTask(ctx context.Context, id string) error
	Enable(ctx context.Context, id string) error
	Disable(ctx context.Context, id string) error
	RunNow(ctx context.Context, id string) (<-chan domain.RunOutcome, error)
	Status(ctx context.Context) (scheduler.StatusReport, error)
}

type Destinations interface {
	Destinations() []domain.Destination
	Get(id string) (sink.Sink, bool)
}

type Options struct {
	Destinations Destinations
	Events       events.Bus
	// Debug mounts pprof under /debug/pprof.
	Debug bool
}

type Server struct {
	r     *chi.Mux
	host  Host
	dests Destinations
	bus   events.Bus

	quit     chan struct{}
	quitOnce sync.Once
}

func NewServer(host Host, opts Options) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	s := &Server{r: r, host: host, dests: opts.Destinations, bus: opts.Events, quit: make(chan struct{})}

	r.Get("/health", s.health)
	r.Handle("/metrics", telemetry.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Get("/events", s.events)

		r.Get("/tasks", s.listTasks)
		r.Post("/tasks", s.addTask)
		r.Get("/tasks/{id}", s.getTask)
		r.Put("/tasks/{id}", s.updateTask)
		r.Delete("/tasks/{id}", s.removeTask)
		r.Post("/tasks/{id}/enable", s.enableTask)
		r.Post("/tasks/{id}/disable", s.disableTask)
		r.Post("/tasks/{id}/run", s.runTask)

		r.Get("/destinations", s.listDestinations)
		r.Post("/destinations/{id}/test", s.testDestination)
	})

	if opts.Debug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.r.ServeHTTP(w, r) }

// Shutdown ends open event streams. Register it with
// http.Server.RegisterOnShutdown; Shutdown waits for active requests and
// would otherwise block on streaming clients.
func (s *Server) Shutdown() { s.quitOnce.Do(func() { close(s.quit) }) }

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	rep, err := s.host.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.host.ListTasks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]scheduler.TaskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, scheduler.NewTaskView(t))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) addTask(w http.ResponseWriter, r *http.Request) {
	var req scheduler.NewTask
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	t, err := s.host.AddTask(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, scheduler.NewTaskView(t))
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.host.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduler.NewTaskView(t))
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	var req scheduler.TaskPatch
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	t, err := s.host.UpdateTask(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduler.NewTaskView(t))
}

func (s *Server) removeTask(w http.ResponseWriter, r *http.Request) {
	if err := s.host.RemoveTask(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) enableTask(w http.ResponseWriter, r *http.Request) {
	if err := s.host.Enable(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) disableTask(w http.ResponseWriter, r *http.Request) {
	if err := s.host.Disable(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// runTask starts a manual run and answers 202. With ?wait=true it answers
// with the run outcome once the run is over.
func (s *Server) runTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := s.host.RunNow(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("wait") != "true" {
		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id, "status": "started"})
		return
	}
	select {
	case out := <-result:
		writeJSON(w, http.StatusOK, out)
	case <-r.Context().Done():
	}
}

func (s *Server) listDestinations(w http.ResponseWriter, r *http.Request) {
	if s.dests == nil {
		writeJSON(w, http.StatusOK, []domain.Destination{})
		return
	}
	writeJSON(w, http.StatusOK, s.dests.Destinations())
}

// testDestination posts a fixed message so an operator can check a
// destination before pointing tasks at it.
func (s *Server) testDestination(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var dst sink.Sink
	ok := false
	if s.dests != nil {
		dst, ok = s.dests.Get(id)
	}
	if !ok {
		http.Error(w, "destination not found", http.StatusNotFound)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := dst.Deliver(ctx, sink.TestMessage()); err != nil {
		log.Warn().Err(err).Str("destination_id", id).Msg("destination test failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"destination_id": id,
			"kind":           string(sink.KindOf(err)),
			"error":          err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"destination_id": id, "status": "delivered"})
}

// events streams bus events as server-sent events until the client leaves
// or the server shuts down.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch, unsubscribe := s.bus.Subscribe(64)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.quit:
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
			flusher.Flush()
		}
	}
}

func writeError(w http.ResponseWriter, err error) {
	var ve *scheduler.ValidationError
	switch {
	case errors.As(err, &ve):
		http.Error(w, ve.Error(), http.StatusBadRequest)
	case errors.Is(err, registry.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, registry.ErrClaimed):
		http.Error(w, "task is running", http.StatusConflict)
	case errors.Is(err, scheduler.ErrStopping):
		http.Error(w, "scheduler is stopping", http.StatusServiceUnavailable)
	default:
		log.Error().Err(err).Msg("api request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
