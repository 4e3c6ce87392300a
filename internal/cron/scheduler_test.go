package cron

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	added []string
}

func (f *fakeEnqueuer) Add(queueName, description, projectDir string, priority int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, description)
	return "task-id", nil
}

func TestSchedulerAddValidatesPatternAndTaskNames(t *testing.T) {
	s := New(&fakeEnqueuer{})
	_, err := s.Add("not a pattern", []string{"run_tests"}, "/tmp/web")
	require.Error(t, err)

	_, err = s.Add("*/1 * * * *", []string{"not_a_task"}, "/tmp/web")
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, KindUnknownTaskName, cerr.Kind)
}

func TestSchedulerTickFiresAndAdvances(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := New(enq)
	s.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	id, err := s.Add("*/1 * * * *", []string{"run_tests"}, "/tmp/web")
	require.NoError(t, err)

	later := s.now().Add(60 * time.Second)
	fired := s.Tick(later)
	require.Len(t, fired, 1)
	require.Equal(t, id, fired[0].ID)
	require.True(t, fired[0].NextRun.After(later))
	require.Contains(t, enq.added, "Run project test suite")

	list := s.List()
	require.Len(t, list, 1)
	require.NotNil(t, list[0].LastRun)
}

func TestSchedulerTickNextRunAlwaysAfterNow(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := New(enq)
	base := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	_, err := s.Add("0 0 1 * *", []string{"clean_code"}, "/tmp/web")
	require.NoError(t, err)

	fired := s.Tick(base.AddDate(0, 1, 1))
	for _, sched := range fired {
		require.True(t, sched.NextRun.After(base.AddDate(0, 1, 1)))
	}
	for _, sched := range s.List() {
		require.True(t, sched.NextRun.After(base) || !sched.Enabled)
	}
}

func TestSchedulerAddDisablesScheduleThatCanNeverFire(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := New(enq)
	s.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	id, err := s.Add("0 0 30 2 *", []string{"run_tests"}, "/tmp/web")
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 1)
	require.False(t, list[0].Enabled)
	require.True(t, list[0].NextRun.IsZero())

	// A tick must not treat the zero NextRun as due, and the wait used by
	// Loop must not be driven to zero by it either.
	fired := s.Tick(s.now().AddDate(1, 0, 0))
	require.Empty(t, fired)
	require.Equal(t, time.Hour, s.nextWait(time.Hour))

	require.NoError(t, s.Remove(id))
}

func TestSchedulerRemoveAndDisable(t *testing.T) {
	s := New(&fakeEnqueuer{})
	id, err := s.Add("*/5 * * * *", []string{"run_tests"}, "/tmp/web")
	require.NoError(t, err)

	require.NoError(t, s.Disable(id))
	require.False(t, s.List()[0].Enabled)

	require.NoError(t, s.Remove(id))
	require.Empty(t, s.List())

	require.Error(t, s.Disable(id))
}
