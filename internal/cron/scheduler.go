// Package cron implements the Cron Scheduler: wall-clock schedules that
// synthesize catalog task descriptions into a dedicated cron-owned queue
// for a project when they fire.
package cron

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes schedule error categories.
type Kind string

const (
	KindInvalidPattern   Kind = "invalid_pattern"
	KindUnknownTaskName  Kind = "unknown_task_name"
	KindUnknownScheduleID Kind = "unknown_schedule_id"
)

// Error is returned by every Scheduler operation that fails.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cron: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("cron: %s", e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Schedule is a cron-pattern-driven trigger.
type Schedule struct {
	ID         string
	Pattern    string
	TaskNames  []string
	ProjectDir string
	Enabled    bool
	LastRun    *time.Time
	NextRun    time.Time

	compiled *Pattern
}

// QueueName is the name of the cron-owned queue a schedule's fired tasks
// are pushed into for its target project.
const QueueName = "cron"

// Enqueuer pushes a synthesized task description into a named queue.
// queue.Manager.Add satisfies this.
type Enqueuer interface {
	Add(queueName, description, projectDir string, priority int) (string, error)
}

// Scheduler owns the set of registered schedules. It is the sole writer
// of schedule state; external operations (Add/Disable/Remove) take
// the same mutex a background ticker would use.
type Scheduler struct {
	mu        sync.Mutex
	schedules map[string]*Schedule
	enqueuer  Enqueuer
	now       func() time.Time
}

// New constructs a Scheduler. Cron schedules are not persisted across
// restarts; callers re-register them via control commands or startup
// configuration.
func New(enqueuer Enqueuer) *Scheduler {
	return &Scheduler{
		schedules: make(map[string]*Schedule),
		enqueuer:  enqueuer,
		now:       time.Now,
	}
}

// Add validates pattern and catalog task names, computes next-run, and
// stores the schedule.
func (s *Scheduler) Add(pattern string, taskNames []string, projectDir string) (string, error) {
	compiled, err := ParsePattern(pattern)
	if err != nil {
		return "", newErr(KindInvalidPattern, pattern, err)
	}
	for _, name := range taskNames {
		if _, ok := CatalogDescription(name); !ok {
			return "", newErr(KindUnknownTaskName, name, nil)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sched := &Schedule{
		ID:         uuid.NewString(),
		Pattern:    pattern,
		TaskNames:  append([]string{}, taskNames...),
		ProjectDir: projectDir,
		Enabled:    true,
		compiled:   compiled,
	}
	next, ok := compiled.Next(s.now())
	if !ok {
		// Grammar-valid pattern that can never match the calendar (e.g. Feb
		// 30): mirrors the never-fires schedule of the original, which
		// leaves next_run unset and treats the schedule as never due.
		sched.Enabled = false
	} else {
		sched.NextRun = next
	}
	s.schedules[sched.ID] = sched
	return sched.ID, nil
}

// List returns every schedule sorted by next-run.
func (s *Scheduler) List() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, *sched)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRun.Before(out[j].NextRun) })
	return out
}

// Disable marks a schedule inactive without removing it.
func (s *Scheduler) Disable(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return newErr(KindUnknownScheduleID, id, nil)
	}
	sched.Enabled = false
	return nil
}

// Remove deletes a schedule entirely.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return newErr(KindUnknownScheduleID, id, nil)
	}
	delete(s.schedules, id)
	return nil
}

// Tick returns the set of schedules whose next-run is at or before now;
// for each, it advances next-run, sets last-run, and pushes the
// corresponding catalog task descriptions into the cron-owned queue for
// the schedule's project. Firings are processed in schedule-id order
// within the tick for deterministic ordering. A missed firing window
// (next-run more than a minute in the past) still fires exactly once; it
// is not back-filled.
func (s *Scheduler) Tick(now time.Time) []Schedule {
	s.mu.Lock()
	var due []*Schedule
	for _, sched := range s.schedules {
		if sched.Enabled && !sched.NextRun.After(now) {
			due = append(due, sched)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })

	fired := make([]Schedule, 0, len(due))
	for _, sched := range due {
		lastRun := now
		sched.LastRun = &lastRun
		next, ok := sched.compiled.Next(now)
		if !ok {
			sched.Enabled = false
			sched.NextRun = time.Time{}
		} else {
			sched.NextRun = next
		}
		fired = append(fired, *sched)
	}
	s.mu.Unlock()

	for _, sched := range fired {
		for _, name := range sched.TaskNames {
			desc, _ := CatalogDescription(name)
			if _, err := s.enqueuer.Add(QueueName, desc, sched.ProjectDir, 0); err != nil {
				continue
			}
		}
	}
	return fired
}

// Loop runs the cooperative scheduler: it wakes at the minimum of the
// next-run over all enabled schedules or a responsiveness ceiling,
// correcting for drift at each wake, until stop is closed.
func (s *Scheduler) Loop(stop <-chan struct{}, ceiling time.Duration) {
	for {
		wait := s.nextWait(ceiling)
		timer := time.NewTimer(wait)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
			s.Tick(s.now())
		}
	}
}

func (s *Scheduler) nextWait(ceiling time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	min := ceiling
	for _, sched := range s.schedules {
		if !sched.Enabled {
			continue
		}
		until := sched.NextRun.Sub(now)
		if until < min {
			min = until
		}
	}
	if min < 0 {
		min = 0
	}
	return min
}
