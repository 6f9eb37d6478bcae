package domain

import (
	"errors"
	"testing"
	"time"
)

func TestNextRunAfter(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	hour := time.Hour
	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"on time", base, base.Add(hour)},
		{"slightly late", base.Add(2 * time.Second), base.Add(hour)},
		{"exactly one slot late", base.Add(hour), base.Add(2 * hour)},
		{"missed several slots", base.Add(5*hour + 30*time.Minute), base.Add(6 * hour)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NextRunAfter(base, hour, tc.now)
			if !got.Equal(tc.want) {
				t.Fatalf("next = %v, want %v", got, tc.want)
			}
			if !got.After(tc.now) {
				t.Fatal("next run must lie after now")
			}
		})
	}
}

func TestRunOutcomeState(t *testing.T) {
	boom := errors.New("boom")
	var ok RunOutcome
	ok.ItemsDelivered = 3
	if ok.State() != StateSuccess {
		t.Fatalf("state = %s", ok.State())
	}

	var empty RunOutcome
	if empty.State() != StateSuccess {
		t.Fatal("a run with nothing new is a success")
	}

	partial := RunOutcome{ItemsDelivered: 4}
	partial.AddError(StageDeliver, "3", "transient", boom)
	if partial.State() != StatePartial {
		t.Fatalf("state = %s", partial.State())
	}

	allFailed := RunOutcome{}
	allFailed.AddError(StageDeliver, "1", "rejected", boom)
	if allFailed.State() != StateError {
		t.Fatalf("state = %s", allFailed.State())
	}

	fetch := RunOutcome{ItemsDelivered: 1}
	fetch.AddError(StageFetch, "", "auth", boom)
	if fetch.State() != StateError {
		t.Fatalf("state = %s", fetch.State())
	}

	st := partial.Status()
	if st.Errors != 1 || st.Message != "deliver 3: boom" || st.State != StatePartial {
		t.Fatalf("status = %+v", st)
	}
}

func TestEveryLabel(t *testing.T) {
	cases := map[time.Duration]string{
		time.Hour:           "Every hour",
		2 * time.Hour:       "Every 2 hours",
		90 * time.Minute:    "Every 90 minutes",
		24 * time.Hour:      "Every day",
		14 * 24 * time.Hour: "Every 2 weeks",
		45 * time.Second:    "Every 45 seconds",
	}
	for d, want := range cases {
		if got := EveryLabel(d); got != want {
			t.Errorf("EveryLabel(%v) = %q, want %q", d, got, want)
		}
	}
}
