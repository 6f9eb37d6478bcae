package worker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"curator/internal/connector"
	"curator/internal/dedup"
	"curator/internal/domain"
	"curator/internal/format"
	"curator/internal/sink"
	"curator/internal/telemetry"
)

type Connectors interface {
	Get(p domain.Platform) (connector.Connector, bool)
}

type Sinks interface {
	Get(id string) (sink.Sink, bool)
}

// Executor performs one run of a task: fetch, filter, skip what was already
// delivered, then format and deliver the rest one item at a time.
type Executor struct {
	connectors Connectors
	sinks      Sinks
	formatter  format.Formatter
	dedup      dedup.Store
	now        func() time.Time
	log        zerolog.Logger
}

func NewExecutor(c Connectors, s Sinks, f format.Formatter, d dedup.Store) *Executor {
	return &Executor{
		connectors: c,
		sinks:      s,
		formatter:  f,
		dedup:      d,
		now:        time.Now,
		log:        log.With().Str("component", "executor").Logger(),
	}
}

func (e *Executor) Run(ctx context.Context, task domain.ScheduledTask) (out domain.RunOutcome) {
	out = domain.RunOutcome{TaskID: task.ID, StartedAt: e.now()}
	defer func() { out.FinishedAt = e.now() }()
	l := e.log.With().Str("task_id", task.ID).Str("platform", string(task.Platform)).Logger()

	dst, ok := e.sinks.Get(task.DestinationID)
	if !ok {
		out.AddError(domain.StageDestination, "", string(sink.KindInvalidDestination),
			fmt.Errorf("unknown destination %q", task.DestinationID))
		e.count(&out)
		return out
	}
	conn, ok := e.connectors.Get(task.Platform)
	if !ok {
		out.AddError(domain.StageFetch, "", string(connector.KindInvalidQuery),
			fmt.Errorf("no connector for platform %q", task.Platform))
		e.count(&out)
		return out
	}

	items, err := conn.Fetch(ctx, task.SourceQuery)
	if err != nil {
		if ctx.Err() != nil {
			out.Cancelled = true
			return out
		}
		out.AddError(domain.StageFetch, "", string(connector.KindOf(err)), err)
		l.Warn().Err(err).Str("kind", string(connector.KindOf(err))).Msg("fetch failed")
		e.count(&out)
		return out
	}
	out.ItemsFetched = len(items)

	items, filtered := Filter(items, task.Options)
	out.ItemsFiltered = filtered

	for _, item := range items {
		if ctx.Err() != nil {
			out.Cancelled = true
			break
		}
		if !e.process(ctx, task, dst, item, &out, l) {
			break
		}
	}

	e.count(&out)
	l.Debug().
		Int("items_fetched", out.ItemsFetched).
		Int("items_delivered", out.ItemsDelivered).
		Int("items_skipped_duplicate", out.ItemsSkippedDuplicate).
		Int("errors", len(out.Errors)).
		Msg("run finished")
	return out
}

// process handles one item and reports whether the run should go on.
func (e *Executor) process(ctx context.Context, task domain.ScheduledTask, dst sink.Sink, item domain.CandidateItem, out *domain.RunOutcome, l zerolog.Logger) bool {
	seen, err := e.dedup.Exists(ctx, task.ID, item.PlatformID)
	if err != nil {
		if ctx.Err() != nil {
			out.Cancelled = true
			return false
		}
		// Without an answer the item is left for the next run rather than risk a repost.
		out.AddError(domain.StageDedup, item.PlatformID, "", err)
		return true
	}
	if seen {
		out.ItemsSkippedDuplicate++
		if err := e.dedup.Touch(ctx, task.ID, item.PlatformID, e.now()); err != nil {
			l.Debug().Err(err).Str("item", item.PlatformID).Msg("touch delivery record")
		}
		return true
	}

	msg, err := e.formatter.Format(item, task.Platform)
	if err != nil {
		out.AddError(domain.StageFormat, item.PlatformID, "", err)
		return true
	}

	if err := dst.Deliver(ctx, msg); err != nil {
		if ctx.Err() != nil {
			out.Cancelled = true
			return false
		}
		kind := sink.KindOf(err)
		out.AddError(domain.StageDeliver, item.PlatformID, string(kind), err)
		l.Warn().Err(err).Str("item", item.PlatformID).Str("destination_id", task.DestinationID).Str("kind", string(kind)).Msg("delivery failed")
		return true
	}
	out.ItemsDelivered++

	// The item is out; a failed record can only cause a repost later.
	if err := e.dedup.Record(context.WithoutCancel(ctx), task.ID, item.PlatformID, e.now()); err != nil {
		out.AddError(domain.StageRecord, item.PlatformID, "", err)
		l.Error().Err(err).Str("item", item.PlatformID).Msg("record delivery")
	}
	return true
}

func (e *Executor) count(out *domain.RunOutcome) {
	telemetry.ItemsTotal.WithLabelValues("fetched").Add(float64(out.ItemsFetched))
	telemetry.ItemsTotal.WithLabelValues("filtered").Add(float64(out.ItemsFiltered))
	telemetry.ItemsTotal.WithLabelValues("delivered").Add(float64(out.ItemsDelivered))
	telemetry.ItemsTotal.WithLabelValues("duplicate").Add(float64(out.ItemsSkippedDuplicate))
	for _, re := range out.Errors {
		telemetry.RunErrors.WithLabelValues(re.Stage, re.Kind).Inc()
	}
}

// Filter applies keyword and engagement filters and the item cap, keeping
// connector order.
// It returns the kept items and how many were dropped.
func Filter(items []domain.CandidateItem, opts domain.TaskOptions) ([]domain.CandidateItem, int) {
	include := lower(opts.IncludeKeywords)
	exclude := lower(opts.ExcludeKeywords)

	kept := make([]domain.CandidateItem, 0, len(items))
	for _, it := range items {
		text := strings.ToLower(it.Text())
		if len(include) > 0 && !containsAny(text, include) {
			continue
		}
		if containsAny(text, exclude) {
			continue
		}
		if !engaged(it, opts) {
			continue
		}
		if opts.MaxItems > 0 && len(kept) >= opts.MaxItems {
			break
		}
		kept = append(kept, it)
	}
	return kept, len(items) - len(kept)
}

func engaged(it domain.CandidateItem, o domain.TaskOptions) bool {
	switch {
	case o.MinViews > 0 && metric(it, "views") < o.MinViews:
		return false
	case o.MinLikes > 0 && metric(it, "likes") < o.MinLikes:
		return false
	case o.MinUpvotes > 0 && metric(it, "upvotes") < o.MinUpvotes:
		return false
	case o.MinEngagement > 0 && Engagement(it) < o.MinEngagement:
		return false
	}
	return true
}

// Engagement scores an item from its platform metrics. Likes and upvotes
// count once, comments five times and views once per hundred.
func Engagement(it domain.CandidateItem) int {
	return metric(it, "likes") + metric(it, "upvotes") + 5*metric(it, "comments") + metric(it, "views")/100
}

// metric reads a numeric Extra value. Missing or unparsable values are zero.
func metric(it domain.CandidateItem, key string) int {
	n, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(it.Extra[key]), ",", ""))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func lower(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			out = append(out, w)
		}
	}
	return out
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
