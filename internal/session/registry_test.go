package session

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kingrea/assistant-bridge/internal/assistant"
	"github.com/kingrea/assistant-bridge/internal/config"
)

func fakeAssistantPath(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fixture is POSIX-shell only")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-assistant.sh")
	script := "#!/bin/sh\necho '> ready'\nwhile IFS= read -r line; do\n  echo \"echo: $line\"\ndone\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestRegistry(t *testing.T, maxSessions int) *Registry {
	t.Helper()
	cfg := &config.Config{
		Limits: config.Limits{MaxSessions: maxSessions, IdleTimeout: time.Hour},
	}
	exePath := fakeAssistantPath(t)
	factory := func() *assistant.Handler {
		return assistant.New(assistant.Config{Path: exePath, StartupTotal: 2 * time.Second})
	}
	return New(cfg, factory, nil, nil)
}

func TestRegistryCreateAndSend(t *testing.T) {
	reg := newTestRegistry(t, 2)
	ctx := context.Background()
	projectDir := t.TempDir()

	sess, err := reg.Create(ctx, projectDir, "")
	require.NoError(t, err)
	require.Equal(t, filepath.Base(projectDir), sess.ProjectName)

	_, err = reg.Send(sess.ID, "hello")
	require.NoError(t, err)

	select {
	case c := <-reg.Stream(sess):
		require.Contains(t, c.Text, "echo: hello")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}

	require.NoError(t, reg.Terminate(ctx, sess.ID))
}

func TestRegistryEnforcesMaxSessions(t *testing.T) {
	reg := newTestRegistry(t, 2)
	ctx := context.Background()

	_, err := reg.Create(ctx, t.TempDir(), "a")
	require.NoError(t, err)
	_, err = reg.Create(ctx, t.TempDir(), "b")
	require.NoError(t, err)

	_, err = reg.Create(ctx, t.TempDir(), "c")
	require.Error(t, err)
	var sessErr *Error
	require.ErrorAs(t, err, &sessErr)
	require.Equal(t, KindLimitExceeded, sessErr.Kind)
	require.Equal(t, 2, reg.Count())
}

func TestRegistryCreateConcurrentNeverExceedsMaxSessions(t *testing.T) {
	const maxSessions = 2
	const attempts = 8
	reg := newTestRegistry(t, maxSessions)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes, failures int
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Create(ctx, t.TempDir(), "")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
			} else {
				successes++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, maxSessions, successes)
	require.Equal(t, attempts-maxSessions, failures)
	require.Equal(t, maxSessions, reg.Count())
}

func TestRegistrySwitchUnknownSession(t *testing.T) {
	reg := newTestRegistry(t, 2)
	err := reg.Switch("does-not-exist")
	require.Error(t, err)
	var sessErr *Error
	require.ErrorAs(t, err, &sessErr)
	require.Equal(t, KindNoSuchSession, sessErr.Kind)
}

func TestRegistryListSortedByActivity(t *testing.T) {
	reg := newTestRegistry(t, 3)
	ctx := context.Background()

	a, err := reg.Create(ctx, t.TempDir(), "a")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	b, err := reg.Create(ctx, t.TempDir(), "b")
	require.NoError(t, err)

	snaps := reg.List()
	require.Len(t, snaps, 2)
	require.Equal(t, b.ID, snaps[0].ID)
	require.Equal(t, a.ID, snaps[1].ID)
}

func TestRegistryInvalidProjectDir(t *testing.T) {
	reg := newTestRegistry(t, 2)
	_, err := reg.Create(context.Background(), filepath.Join(t.TempDir(), "missing"), "")
	require.Error(t, err)
	var sessErr *Error
	require.ErrorAs(t, err, &sessErr)
	require.Equal(t, KindInvalidProject, sessErr.Kind)
}

func TestRegistryReapIdle(t *testing.T) {
	cfg := &config.Config{Limits: config.Limits{MaxSessions: 2, IdleTimeout: 10 * time.Millisecond}}
	exePath := fakeAssistantPath(t)
	factory := func() *assistant.Handler {
		return assistant.New(assistant.Config{Path: exePath, StartupTotal: 2 * time.Second})
	}
	reg := New(cfg, factory, nil, nil)
	ctx := context.Background()

	sess, err := reg.Create(ctx, t.TempDir(), "a")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	reaped := reg.ReapIdle(ctx)
	require.Contains(t, reaped, sess.ID)
	require.Equal(t, 0, reg.Count())
}
