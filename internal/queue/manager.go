package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kingrea/assistant-bridge/internal/logbook"
)

// Kind distinguishes queue error categories.
type Kind string

const (
	KindUnknownQueue Kind = "unknown_queue"
	KindQueueBusy    Kind = "queue_busy"
	KindTaskTimeout  Kind = "task_timeout"
	KindQueueFull    Kind = "queue_full"
)

// Error is returned by every Manager operation that fails.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("queue: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("queue: %s", e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Executor runs one task description through a session for a project
// and returns its collected output. session.Registry.ExecuteOneShot
// satisfies this.
type Executor interface {
	ExecuteOneShot(ctx context.Context, projectDir, text string, timeout time.Duration) (string, error)
}

// queueState is one named queue's pending list, run lock, and history.
type queueState struct {
	name     string
	pending  []*Task
	history  []*Task
	running  bool
	cancelFn func()
}

// Manager owns all named queues.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*queueState

	executor     Executor
	store        *store
	historyCap   int
	capacity     int
	taskTimeout  time.Duration
	defaultRetry int
	concurrency  *semaphore.Weighted
	logger       *slog.Logger
	book         *logbook.Logbook

	saveMu      sync.Mutex
	saveTimer   *time.Timer
	saveDebounce time.Duration
}

// Options configures a Manager.
type Options struct {
	DataDir      string
	HistoryCap   int
	Capacity     int // max pending tasks per queue; 0 means unbounded
	TaskTimeout  time.Duration
	DefaultRetry int
	Concurrency  int64
	Debounce     time.Duration
	Logger       *slog.Logger
	Logbook      *logbook.Logbook
}

// New constructs a Manager and rehydrates queues.json from DataDir, if
// present. Any task left `running` from a prior crash is forced back to
// `pending`.
func New(executor Executor, opts Options) (*Manager, error) {
	if opts.HistoryCap == 0 {
		opts.HistoryCap = 100
	}
	if opts.TaskTimeout == 0 {
		opts.TaskTimeout = 30 * time.Minute
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = 3
	}
	if opts.Debounce == 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	st, err := newStore(opts.DataDir)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		queues:       make(map[string]*queueState),
		executor:     executor,
		store:        st,
		historyCap:   opts.HistoryCap,
		capacity:     opts.Capacity,
		taskTimeout:  opts.TaskTimeout,
		defaultRetry: opts.DefaultRetry,
		concurrency:  semaphore.NewWeighted(opts.Concurrency),
		logger:       opts.Logger,
		book:         opts.Logbook,
		saveDebounce: opts.Debounce,
	}

	doc, err := st.load()
	if err != nil {
		return nil, err
	}
	for name, q := range doc.Queues {
		qs := &queueState{name: name}
		for _, t := range q.Pending {
			task := t
			if task.Status == StatusRunning {
				task.retry()
			}
			qs.pending = append(qs.pending, &task)
		}
		for _, t := range q.History {
			task := t
			qs.history = append(qs.history, &task)
		}
		m.queues[name] = qs
	}
	return m, nil
}

func (m *Manager) queueFor(name string) *queueState {
	qs, ok := m.queues[name]
	if !ok {
		qs = &queueState{name: name}
		m.queues[name] = qs
	}
	return qs
}

// Add enqueues a task and returns its id. It returns a QueueFull error
// without enqueuing when the queue's pending list is already at capacity.
func (m *Manager) Add(queueName, description, projectDir string, priority int) (string, error) {
	m.mu.Lock()
	qs := m.queueFor(queueName)
	if m.capacity > 0 && len(qs.pending) >= m.capacity {
		m.mu.Unlock()
		return "", newErr(KindQueueFull, fmt.Sprintf("%s has %d pending tasks (capacity %d)", queueName, len(qs.pending), m.capacity), nil)
	}
	task := &Task{
		ID:          uuid.NewString(),
		Queue:       queueName,
		Description: description,
		ProjectDir:  projectDir,
		Status:      StatusPending,
		Priority:    priority,
		CreatedAt:   time.Now(),
		MaxRetries:  m.defaultRetry,
	}
	qs.pending = append(qs.pending, task)
	sortPending(qs.pending)
	m.mu.Unlock()

	m.scheduleSave()
	return task.ID, nil
}

func sortPending(tasks []*Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

// ProgressFunc receives a one-line progress update per task as a run
// proceeds.
type ProgressFunc func(line string)

// Run drives the named queue's pending tasks sequentially through the
// executor until the queue empties, a task fails (stopping the run, per
// the default pause policy), or ctx is cancelled.
func (m *Manager) Run(ctx context.Context, queueName string, progress ProgressFunc) error {
	m.mu.Lock()
	qs, ok := m.queues[queueName]
	if !ok || len(qs.pending) == 0 {
		m.mu.Unlock()
		if !ok {
			return newErr(KindUnknownQueue, queueName, nil)
		}
		return nil
	}
	if qs.running {
		m.mu.Unlock()
		return newErr(KindQueueBusy, queueName, nil)
	}
	qs.running = true
	runCtx, cancel := context.WithCancel(ctx)
	qs.cancelFn = cancel
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		qs.running = false
		qs.cancelFn = nil
		m.mu.Unlock()
		m.scheduleSave()
	}()

	for {
		m.mu.Lock()
		if len(qs.pending) == 0 {
			m.mu.Unlock()
			return nil
		}
		task := qs.pending[0]
		qs.pending = qs.pending[1:]
		m.mu.Unlock()

		if err := m.concurrency.Acquire(runCtx, 1); err != nil {
			task.cancel()
			m.finish(qs, task, progress)
			return runCtx.Err()
		}
		m.runTask(runCtx, task, progress)
		m.concurrency.Release(1)
		m.finish(qs, task, progress)

		if task.Status == StatusFailed {
			return nil
		}
		if runCtx.Err() != nil {
			return runCtx.Err()
		}
	}
}

func (m *Manager) runTask(ctx context.Context, task *Task, progress ProgressFunc) {
	task.start()
	if progress != nil {
		progress(fmt.Sprintf("running: %s", task.Description))
	}

	result, err := m.executor.ExecuteOneShot(ctx, task.ProjectDir, task.Description, m.taskTimeout)
	if err != nil {
		task.fail(err.Error())
		if progress != nil {
			progress(fmt.Sprintf("failed: %s (%v)", task.Description, err))
		}
		return
	}
	task.complete(result)
	if progress != nil {
		progress(fmt.Sprintf("completed: %s", task.Description))
	}
}

func (m *Manager) finish(qs *queueState, task *Task, progress ProgressFunc) {
	m.mu.Lock()
	qs.history = append(qs.history, task)
	if len(qs.history) > m.historyCap {
		qs.history = qs.history[len(qs.history)-m.historyCap:]
	}
	retried := false
	if task.Status == StatusFailed && task.CanRetry() {
		task.retry()
		qs.pending = append([]*Task{task}, qs.pending...)
		qs.history = qs.history[:len(qs.history)-1]
		retried = true
	}
	m.mu.Unlock()
	m.scheduleSave()

	if !retried {
		m.book.Append("task_finished", map[string]any{
			"queue": qs.name, "task_id": task.ID, "status": string(task.Status), "description": task.Description,
		})
	}
}

// Cancel stops an in-flight run of the named queue, if any.
func (m *Manager) Cancel(queueName string) error {
	m.mu.Lock()
	qs, ok := m.queues[queueName]
	if !ok {
		m.mu.Unlock()
		return newErr(KindUnknownQueue, queueName, nil)
	}
	cancel := qs.cancelFn
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Summary is the status snapshot returned for one queue.
type Summary struct {
	Name    string
	Pending int
	History []Task
}

// Status returns a summary for one named queue, or for every queue when
// name is empty.
func (m *Manager) Status(name string) ([]Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name != "" {
		qs, ok := m.queues[name]
		if !ok {
			return nil, newErr(KindUnknownQueue, name, nil)
		}
		return []Summary{summarize(qs)}, nil
	}
	names := make([]string, 0, len(m.queues))
	for n := range m.queues {
		names = append(names, n)
	}
	sort.Strings(names)
	summaries := make([]Summary, 0, len(names))
	for _, n := range names {
		summaries = append(summaries, summarize(m.queues[n]))
	}
	return summaries, nil
}

func summarize(qs *queueState) Summary {
	history := make([]Task, len(qs.history))
	for i, t := range qs.history {
		history[i] = *t
	}
	return Summary{Name: qs.name, Pending: len(qs.pending), History: history}
}

// Clear empties the named queue's pending list.
func (m *Manager) Clear(name string) error {
	m.mu.Lock()
	qs, ok := m.queues[name]
	if !ok {
		m.mu.Unlock()
		return newErr(KindUnknownQueue, name, nil)
	}
	qs.pending = nil
	m.mu.Unlock()
	m.scheduleSave()
	return nil
}

// scheduleSave coalesces bursts of state changes into a single debounced
// write of queues.json.
func (m *Manager) scheduleSave() {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	if m.saveTimer != nil {
		m.saveTimer.Stop()
	}
	m.saveTimer = time.AfterFunc(m.saveDebounce, func() {
		if err := m.saveNow(); err != nil {
			m.logger.Warn("persist queues.json failed", "err", err)
		}
	})
}

// Flush forces an immediate synchronous save, bypassing the debounce.
func (m *Manager) Flush() error {
	m.saveMu.Lock()
	if m.saveTimer != nil {
		m.saveTimer.Stop()
		m.saveTimer = nil
	}
	m.saveMu.Unlock()
	return m.saveNow()
}

func (m *Manager) saveNow() error {
	m.mu.Lock()
	doc := document{Version: 1, Queues: make(map[string]queueDoc, len(m.queues))}
	for name, qs := range m.queues {
		doc.Queues[name] = queueDoc{Pending: derefAll(qs.pending), History: derefAll(qs.history)}
	}
	m.mu.Unlock()
	return m.store.save(doc)
}

func derefAll(tasks []*Task) []Task {
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		out[i] = *t
	}
	return out
}
