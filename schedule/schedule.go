// Package schedule runs named jobs on recurring triggers within the serving process.
//
// Registering a job under a name that is already registered replaces the earlier
// job, so setting up the schedule twice leaves one trigger per name. Jobs run one at
// a time on the goroutine calling Run.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Trigger computes the next firing time strictly after the given time.
type Trigger interface {
	Next(after time.Time) time.Time
}

// Daily fires every day at Hour:00 in Location.
type Daily struct {
	Hour     int
	Location *time.Location
}

// Next implements Trigger.
func (d Daily) Next(after time.Time) time.Time {
	return NextDaily(after, d.Hour, d.Location)
}

func (d Daily) String() string {
	return fmt.Sprintf("daily at %02d:00 %s", d.Hour, locationName(d.Location))
}

// Weekly fires every week on Day at Hour:00 in Location.
type Weekly struct {
	Day      time.Weekday
	Hour     int
	Location *time.Location
}

// Next implements Trigger.
func (w Weekly) Next(after time.Time) time.Time {
	return NextWeekly(after, w.Day, w.Hour, w.Location)
}

func (w Weekly) String() string {
	return fmt.Sprintf("weekly on %s at %02d:00 %s", w.Day, w.Hour, locationName(w.Location))
}

func locationName(loc *time.Location) string {
	if loc == nil {
		return "UTC"
	}
	return loc.String()
}

// NextDaily returns the first hour:00 in loc strictly after after.
func NextDaily(after time.Time, hour int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := after.In(loc)
	next := time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, loc)
	if !next.After(t) {
		next = time.Date(t.Year(), t.Month(), t.Day()+1, hour, 0, 0, 0, loc)
	}
	return next
}

// NextWeekly returns the first day at hour:00 in loc strictly after after.
func NextWeekly(after time.Time, day time.Weekday, hour int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := after.In(loc)
	ahead := (int(day) - int(t.Weekday()) + 7) % 7
	next := time.Date(t.Year(), t.Month(), t.Day()+ahead, hour, 0, 0, 0, loc)
	if !next.After(t) {
		next = time.Date(t.Year(), t.Month(), t.Day()+ahead+7, hour, 0, 0, 0, loc)
	}
	return next
}

// Job is the work run when a trigger fires.
type Job func(ctx context.Context)

type entry struct {
	trigger Trigger
	job     Job
	next    time.Time
}

// Scheduler holds named jobs and runs them when their triggers fire.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
	wake    chan struct{}
	log     *slog.Logger
	now     func() time.Time
}

// New returns an empty Scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		entries: map[string]*entry{},
		wake:    make(chan struct{}, 1),
		log:     logger,
		now:     time.Now,
	}
}

// Register adds job under name, replacing any job already registered under that name.
func (s *Scheduler) Register(name string, trigger Trigger, job Job) {
	s.mu.Lock()
	_, replaced := s.entries[name]
	e := &entry{trigger: trigger, job: job, next: trigger.Next(s.now())}
	s.entries[name] = e
	s.mu.Unlock()

	if replaced {
		s.log.Info(fmt.Sprintf("schedule: replaced trigger %q, next run %s", name, e.next.Format(time.RFC3339)))
	} else {
		s.log.Info(fmt.Sprintf("schedule: registered trigger %q, next run %s", name, e.next.Format(time.RFC3339)))
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Remove deletes the job registered under name, if any.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	delete(s.entries, name)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Names returns the registered job names in order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for n := range s.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NextRun returns the next firing time of the named job.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}
	return e.next, true
}

// due returns the name and entry firing soonest.
func (s *Scheduler) due() (string, *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var name string
	var soonest *entry
	for n, e := range s.entries {
		if soonest == nil || e.next.Before(soonest.next) || (e.next.Equal(soonest.next) && n < name) {
			name, soonest = n, e
		}
	}
	return name, soonest
}

// Run fires jobs until ctx is done, returning the context error. Registrations made
// while Run waits take effect immediately.
func (s *Scheduler) Run(ctx context.Context) error {

	for {
		name, e := s.due()

		var fire <-chan time.Time
		var timer *time.Timer
		if e != nil {
			timer = time.NewTimer(e.next.Sub(s.now()))
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
			continue
		case <-fire:
		}

		s.mu.Lock()
		current, ok := s.entries[name]
		if ok && current == e {
			e.next = e.trigger.Next(s.now())
		}
		s.mu.Unlock()
		if !ok || current != e {
			continue
		}

		s.log.Info(fmt.Sprintf("schedule: running %q", name))
		e.job(ctx)
	}
}
