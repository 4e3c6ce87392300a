package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/assistant-bridge/internal/assistant"
	"github.com/kingrea/assistant-bridge/internal/config"
	"github.com/kingrea/assistant-bridge/internal/logbook"
)

// Kind distinguishes session error categories.
type Kind string

const (
	KindNoSuchSession  Kind = "no_such_session"
	KindLimitExceeded  Kind = "limit_exceeded"
	KindInvalidProject Kind = "invalid_project"
)

// Error is returned by every Registry operation that fails.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("session: %s", e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// HandlerFactory builds a fresh Handler for a new session; tests supply
// one whose Handler runs a small shell script in place of the assistant
// CLI.
type HandlerFactory func() *assistant.Handler

// Registry owns the set of live sessions and their handlers.
type Registry struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	reserved  int // slots claimed toward max_sessions by a Create in flight
	currentID string

	cfg        *config.Config
	newHandler HandlerFactory
	logger     *slog.Logger
	clock      func() time.Time
	book       *logbook.Logbook
}

// New builds a Registry. newHandler constructs a Handler for a fresh
// session; cmd/bridge supplies one bound to the real assistant.Config.
// book may be nil; its methods tolerate a nil receiver.
func New(cfg *config.Config, newHandler HandlerFactory, logger *slog.Logger, book *logbook.Logbook) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions:   make(map[string]*Session),
		cfg:        cfg,
		newHandler: newHandler,
		logger:     logger,
		clock:      time.Now,
		book:       book,
	}
}

// Create allocates a session id, starts a Handler bound to projectDir,
// and registers the session. The max_sessions cap is reserved under the
// same lock that checks it, before the (slow, blocking) handler start —
// two concurrent Create calls otherwise both pass the check, both start a
// handler, and both insert, crossing the cap. The reservation is released
// if the handler fails to start.
func (r *Registry) Create(ctx context.Context, projectDir, projectName string) (*Session, error) {
	if err := r.validateProject(projectDir); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if len(r.sessions)+r.reserved >= r.cfg.Limits.MaxSessions {
		r.mu.Unlock()
		return nil, newErr(KindLimitExceeded, fmt.Sprintf("max_sessions=%d reached", r.cfg.Limits.MaxSessions), nil)
	}
	r.reserved++
	r.mu.Unlock()

	releaseReservation := func() {
		r.mu.Lock()
		r.reserved--
		r.mu.Unlock()
	}

	handler := r.newHandler()
	if err := handler.Start(ctx, assistant.StartOptions{ProjectDir: projectDir, SessionID: uuid.NewString()}); err != nil {
		releaseReservation()
		return nil, newErr(KindInvalidProject, "start handler", err)
	}

	if projectName == "" {
		projectName = deriveProjectName(projectDir)
	}
	sess := newSession(projectDir, projectName, handler)

	r.mu.Lock()
	r.reserved--
	r.sessions[sess.ID] = sess
	if r.currentID == "" {
		r.currentID = sess.ID
	}
	r.mu.Unlock()

	r.logger.Info("session created", "session_id", sess.ID, "project", projectName)
	r.book.Append("session_created", map[string]any{"session_id": sess.ID, "project": projectName, "project_dir": projectDir})
	return sess, nil
}

func (r *Registry) validateProject(projectDir string) error {
	if r.cfg.HasProjectSet() {
		found := false
		for _, p := range r.cfg.Projects {
			if p.Path == projectDir {
				found = true
				break
			}
		}
		if !found {
			return newErr(KindInvalidProject, fmt.Sprintf("%s is not a configured project", projectDir), nil)
		}
	}
	if info, err := os.Stat(projectDir); err != nil || !info.IsDir() {
		return newErr(KindInvalidProject, fmt.Sprintf("%s does not exist", projectDir), err)
	}
	return nil
}

// Switch sets the current routing target for conversational messages.
func (r *Registry) Switch(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		return newErr(KindNoSuchSession, sessionID, nil)
	}
	if sess.State() != StateActive {
		return newErr(KindNoSuchSession, fmt.Sprintf("%s is not active", sessionID), nil)
	}
	r.currentID = sessionID
	sess.touch()
	return nil
}

// Current returns the current session, or nil if none is set.
func (r *Registry) Current() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.currentID == "" {
		return nil
	}
	return r.sessions[r.currentID]
}

// List returns a snapshot for each known session, most recently active
// first.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	snaps := make([]Snapshot, len(sessions))
	for i, s := range sessions {
		snaps[i] = s.snapshot()
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].LastActivity.After(snaps[j].LastActivity) })
	return snaps
}

// Send forwards text to a session's Handler and records the exchange.
func (r *Registry) Send(sessionID, text string) (*Session, error) {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil, newErr(KindNoSuchSession, sessionID, nil)
	}

	sess.touch()
	sess.appendTurn(RoleUser, text)
	r.book.Append("user_turn", map[string]any{"session_id": sess.ID, "text": text})
	if err := sess.handler.Send(text); err != nil {
		return sess, err
	}
	return sess, nil
}

// Stream exposes the session handler's output stream so callers can pipe
// chunks back to the chat transport and append the collected reply to
// the conversation log once drained.
func (r *Registry) Stream(sess *Session) <-chan assistant.Chunk {
	return sess.handler.Stream()
}

// RecordAssistantReply appends the collected assistant output for a turn
// to the session's conversation log.
func (r *Registry) RecordAssistantReply(sess *Session, content string) {
	sess.appendTurn(RoleAssistant, content)
	r.book.Append("assistant_turn", map[string]any{"session_id": sess.ID, "text": content})
	if h := sess.handler.Health(); h.ExternalSessionID != "" {
		sess.mu.Lock()
		sess.ExternalSessionID = h.ExternalSessionID
		sess.mu.Unlock()
	}
}

// Terminate stops the session's handler and marks it inactive.
func (r *Registry) Terminate(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return newErr(KindNoSuchSession, sessionID, nil)
	}

	err := sess.handler.Terminate(ctx)
	sess.markInactive()
	r.book.Append("session_terminated", map[string]any{"session_id": sessionID})

	r.mu.Lock()
	if r.currentID == sessionID {
		r.currentID = ""
	}
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	return err
}

// ReapIdle terminates and removes sessions whose last activity is older
// than the configured idle timeout.
func (r *Registry) ReapIdle(ctx context.Context) []string {
	cutoff := r.clock().Add(-r.cfg.Limits.IdleTimeout)

	r.mu.Lock()
	var stale []string
	for id, s := range r.sessions {
		if s.LastActivityAt().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	for _, id := range stale {
		if err := r.Terminate(ctx, id); err != nil {
			r.logger.Warn("reap idle session", "session_id", id, "err", err)
		} else {
			r.logger.Info("reaped idle session", "session_id", id)
		}
	}
	return stale
}

// ExecuteOneShot creates a short-lived session, runs a single
// non-interactive exchange, terminates it, and returns the result. It
// does not count against the active-session cap beyond its own
// lifetime.
func (r *Registry) ExecuteOneShot(ctx context.Context, projectDir string, text string, timeout time.Duration) (string, error) {
	if err := r.validateProject(projectDir); err != nil {
		return "", err
	}
	handler := r.newHandler()
	if err := handler.Start(ctx, assistant.StartOptions{ProjectDir: projectDir, SessionID: uuid.NewString()}); err != nil {
		return "", newErr(KindInvalidProject, "start handler", err)
	}
	defer handler.Terminate(ctx)

	return handler.Execute(ctx, text, timeout)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
