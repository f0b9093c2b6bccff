package schedule

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/go-cmp/cmp"
)

func TestNextDaily(t *testing.T) {

	kolkata, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		after time.Time
		want  time.Time
	}{
		{
			name:  "later today",
			after: time.Date(2026, 3, 2, 8, 59, 0, 0, kolkata),
			want:  time.Date(2026, 3, 2, 9, 0, 0, 0, kolkata),
		},
		{
			name:  "exactly on the hour goes to tomorrow",
			after: time.Date(2026, 3, 2, 9, 0, 0, 0, kolkata),
			want:  time.Date(2026, 3, 3, 9, 0, 0, 0, kolkata),
		},
		{
			name:  "month end",
			after: time.Date(2026, 3, 31, 22, 0, 0, 0, kolkata),
			want:  time.Date(2026, 4, 1, 9, 0, 0, 0, kolkata),
		},
		{
			name:  "given in another zone",
			after: time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC), // 08:30 in Kolkata
			want:  time.Date(2026, 3, 2, 9, 0, 0, 0, kolkata),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextDaily(tt.after, 9, kolkata)
			if !got.Equal(tt.want) {
				t.Errorf("got %s want %s", got, tt.want)
			}
		})
	}
}

func TestNextWeekly(t *testing.T) {

	// 2 March 2026 is a Monday
	tests := []struct {
		name  string
		after time.Time
		day   time.Weekday
		want  time.Time
	}{
		{"same day before hour", time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), time.Monday, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		{"same day after hour", time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), time.Monday, time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)},
		{"later in week", time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), time.Friday, time.Date(2026, 3, 6, 9, 0, 0, 0, time.UTC)},
		{"earlier weekday", time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC), time.Monday, time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)},
		{"sunday", time.Date(2026, 3, 7, 23, 0, 0, 0, time.UTC), time.Sunday, time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextWeekly(tt.after, tt.day, 9, nil)
			if !got.Equal(tt.want) {
				t.Errorf("got %s want %s", got, tt.want)
			}
		})
	}
}

func TestRegisterReplaces(t *testing.T) {

	s := New(nil)
	s.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }

	s.Register("daily-sync", Daily{Hour: 9}, func(context.Context) {})
	s.Register("weekly-summary", Weekly{Day: time.Monday, Hour: 9}, func(context.Context) {})
	s.Register("daily-sync", Daily{Hour: 11}, func(context.Context) {})

	if diff := cmp.Diff([]string{"daily-sync", "weekly-summary"}, s.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
	next, ok := s.NextRun("daily-sync")
	if !ok || !next.Equal(time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)) {
		t.Errorf("replacement not in effect: next %s", next)
	}

	s.Remove("daily-sync")
	if _, ok := s.NextRun("daily-sync"); ok {
		t.Error("removed job still registered")
	}
}

// every fires at a fixed interval.
type every time.Duration

func (e every) Next(after time.Time) time.Time { return after.Add(time.Duration(e)) }

func TestRun(t *testing.T) {

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s := New(nil)
	fired := make(chan string, 10)
	s.Register("fast", every(5*time.Millisecond), func(context.Context) { fired <- "fast" })
	s.Register("never", every(time.Hour), func(context.Context) { fired <- "never" })

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for range 3 {
		select {
		case name := <-fired:
			if name != "fast" {
				t.Errorf("unexpected job %q ran", name)
			}
		case <-ctx.Done():
			t.Fatal("job did not fire")
		}
	}

	// a job registered while Run waits is picked up
	s.Register("never", every(time.Millisecond), func(context.Context) { fired <- "late" })
	s.Remove("fast")
	for {
		select {
		case name := <-fired:
			if name == "late" {
				cancel()
				if err := <-done; !errors.Is(err, context.Canceled) {
					t.Errorf("run returned %v", err)
				}
				return
			}
		case <-ctx.Done():
			t.Fatal("replacement job did not fire")
		}
	}
}
