package domain

import (
	"fmt"
	"strings"
	"time"
)

type Platform string

const (
	PlatformYouTube Platform = "youtube"
	PlatformReddit  Platform = "reddit"
	PlatformRSS     Platform = "rss"
	PlatformCommand Platform = "command"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformYouTube, PlatformReddit, PlatformRSS, PlatformCommand:
		return true
	}
	return false
}

// RunState is the coarse result of a task run, shown by Status.
type RunState string

const (
	StateNever   RunState = "never"
	StateSuccess RunState = "success"
	StatePartial RunState = "partial"
	StateError   RunState = "error"
)

// TaskOptions are optional per-task knobs. They are stored as JSON so new
// fields can be added without breaking older readers.
type TaskOptions struct {
	MaxItems        int      `json:"max_items,omitempty"`
	IncludeKeywords []string `json:"include_keywords,omitempty"`
	ExcludeKeywords []string `json:"exclude_keywords,omitempty"`
	// Engagement minimums. Items without the metric count as zero.
	MinViews      int `json:"min_views,omitempty"`
	MinLikes      int `json:"min_likes,omitempty"`
	MinUpvotes    int `json:"min_upvotes,omitempty"`
	MinEngagement int `json:"min_engagement,omitempty"`
}

// TaskStatus is the last outcome of a task. It is never read to drive scheduling.
type TaskStatus struct {
	State                 RunState  `json:"state"`
	At                    time.Time `json:"at"`
	Message               string    `json:"message,omitempty"`
	ItemsFetched          int       `json:"items_fetched"`
	ItemsDelivered        int       `json:"items_delivered"`
	ItemsSkippedDuplicate int       `json:"items_skipped_duplicate"`
	Errors                int       `json:"errors"`
}

type ScheduledTask struct {
	ID              string
	Name            string
	Platform        Platform
	SourceQuery     string
	DestinationID   string
	IntervalSeconds int
	NextRunAt       time.Time
	Enabled         bool
	Options         TaskOptions
	LastStatus      TaskStatus
	ClaimedAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (t ScheduledTask) Interval() time.Duration {
	return time.Duration(t.IntervalSeconds) * time.Second
}

// ScheduleLabel renders the interval the way an operator would say it.
func (t ScheduledTask) ScheduleLabel() string {
	return EveryLabel(t.Interval())
}

func EveryLabel(d time.Duration) string {
	units := []struct {
		name string
		size time.Duration
	}{
		{"week", 7 * 24 * time.Hour},
		{"day", 24 * time.Hour},
		{"hour", time.Hour},
		{"minute", time.Minute},
		{"second", time.Second},
	}
	for _, u := range units {
		if d >= u.size && d%u.size == 0 {
			n := int(d / u.size)
			if n == 1 {
				return "Every " + u.name
			}
			return fmt.Sprintf("Every %d %ss", n, u.name)
		}
	}
	return "Every " + d.String()
}

// CandidateItem is one piece of content returned by a connector.
type CandidateItem struct {
	PlatformID  string            `json:"id"`
	Title       string            `json:"title,omitempty"`
	URL         string            `json:"url,omitempty"`
	Author      string            `json:"author,omitempty"`
	Description string            `json:"description,omitempty"`
	Thumbnail   string            `json:"thumbnail,omitempty"`
	PublishedAt time.Time         `json:"published_at,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Text is the searchable text used by keyword filters.
func (c CandidateItem) Text() string {
	return strings.Join([]string{c.Title, c.Description, c.Author, c.URL}, " ")
}

type DeliveryRecord struct {
	TaskID      string
	PlatformID  string
	DeliveredAt time.Time
	LastSeenAt  time.Time
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type Embed struct {
	Title       string       `json:"title,omitempty"`
	URL         string       `json:"url,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Author      string       `json:"author,omitempty"`
	Thumbnail   string       `json:"thumbnail,omitempty"`
	Timestamp   time.Time    `json:"timestamp,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

type FormattedMessage struct {
	Platform Platform `json:"platform"`
	Content  string   `json:"content"`
	Embed    *Embed   `json:"embed,omitempty"`
}

type DestinationType string

const (
	DestinationDiscord  DestinationType = "discord"
	DestinationSlack    DestinationType = "slack"
	DestinationWebhook  DestinationType = "webhook"
	DestinationTelegram DestinationType = "telegram"
)

// Destination is a configured delivery target. Tasks reference it by ID.
type Destination struct {
	ID         string          `mapstructure:"id" json:"id"`
	Type       DestinationType `mapstructure:"type" json:"type"`
	URL        string          `mapstructure:"url" json:"-"`
	Token      string          `mapstructure:"token" json:"-"`
	ChatID     int64           `mapstructure:"chat_id" json:"chat_id,omitempty"`
	Username   string          `mapstructure:"username" json:"username,omitempty"`
	RatePerSec int             `mapstructure:"rate_per_sec" json:"rate_per_sec,omitempty"`
}

// Run stages reported in RunError.Stage.
const (
	StageDestination = "destination"
	StageFetch       = "fetch"
	StageFormat      = "format"
	StageDeliver     = "deliver"
	StageDedup       = "dedup"
	StageRecord      = "record"
)

type RunError struct {
	Stage   string `json:"stage"`
	Item    string `json:"item,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

type RunOutcome struct {
	TaskID                string     `json:"task_id"`
	StartedAt             time.Time  `json:"started_at"`
	FinishedAt            time.Time  `json:"finished_at"`
	ItemsFetched          int        `json:"items_fetched"`
	ItemsFiltered         int        `json:"items_filtered"`
	ItemsDelivered        int        `json:"items_delivered"`
	ItemsSkippedDuplicate int        `json:"items_skipped_duplicate"`
	Errors                []RunError `json:"errors,omitempty"`
	// Cancelled is set when shutdown stopped the run before it finished.
	Cancelled bool `json:"cancelled,omitempty"`
}

func (o *RunOutcome) AddError(stage, item, kind string, err error) {
	o.Errors = append(o.Errors, RunError{Stage: stage, Item: item, Kind: kind, Message: err.Error()})
}

// State is error when nothing could be delivered because of failures,
// partial when some failures happened alongside deliveries.
func (o RunOutcome) State() RunState {
	if len(o.Errors) == 0 {
		return StateSuccess
	}
	for _, e := range o.Errors {
		if e.Stage == StageDestination || e.Stage == StageFetch {
			return StateError
		}
	}
	if o.ItemsDelivered == 0 {
		return StateError
	}
	return StatePartial
}

func (o RunOutcome) Status() TaskStatus {
	st := TaskStatus{
		State:                 o.State(),
		At:                    o.FinishedAt,
		ItemsFetched:          o.ItemsFetched,
		ItemsDelivered:        o.ItemsDelivered,
		ItemsSkippedDuplicate: o.ItemsSkippedDuplicate,
		Errors:                len(o.Errors),
	}
	if n := len(o.Errors); n > 0 {
		last := o.Errors[n-1]
		st.Message = last.Stage + ": " + last.Message
		if last.Item != "" {
			st.Message = last.Stage + " " + last.Item + ": " + last.Message
		}
	}
	return st
}

// NextRunAfter advances a scheduled slot by whole intervals until it lies
// after now. A task that missed several slots runs once, not once per slot.
func NextRunAfter(scheduled time.Time, interval time.Duration, now time.Time) time.Time {
	if interval <= 0 {
		return now
	}
	next := scheduled.Add(interval)
	if next.After(now) {
		return next
	}
	missed := now.Sub(next)/interval + 1
	return next.Add(missed * interval)
}
