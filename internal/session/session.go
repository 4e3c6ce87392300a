// Package session implements the Session Registry: the set of active
// sessions and their assistant Handlers, with a session cap and idle
// expiry.
package session

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/assistant-bridge/internal/assistant"
)

// Role distinguishes a conversation log entry's speaker.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one entry in a session's append-only conversation log.
type Turn struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// State mirrors the session's observable lifecycle, independent of the
// underlying handler's finite state machine.
type State string

const (
	StateActive   State = "active"
	StateInactive State = "inactive"
)

// Session is a logical conversation bound to one project directory and
// one live assistant subprocess.
type Session struct {
	ID                string
	ProjectName       string
	ProjectDir        string
	CreatedAt         time.Time
	LastActivity      time.Time
	ExternalSessionID string

	mu      sync.Mutex
	state   State
	history []Turn
	handler *assistant.Handler
}

func newSession(projectDir, projectName string, handler *assistant.Handler) *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		ProjectName:  projectName,
		ProjectDir:   projectDir,
		CreatedAt:    now,
		LastActivity: now,
		state:        StateActive,
		handler:      handler,
	}
}

func deriveProjectName(projectDir string) string {
	return filepath.Base(filepath.Clean(projectDir))
}

// State returns the session's observable state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) markInactive() {
	s.mu.Lock()
	s.state = StateInactive
	s.mu.Unlock()
}

// History returns a snapshot of the conversation log.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) appendTurn(role Role, content string) {
	s.mu.Lock()
	s.history = append(s.history, Turn{Role: role, Content: content, Timestamp: time.Now()})
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivityAt returns the time of the session's most recent activity.
func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastActivity
}

// Snapshot is the read-only view returned by Registry.List.
type Snapshot struct {
	ID                string
	Project           string
	ProjectDir        string
	CreatedAt         time.Time
	LastActivity      time.Time
	State             State
	ConversationLen   int
	ExternalSessionID string
}

func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:                s.ID,
		Project:           s.ProjectName,
		ProjectDir:        s.ProjectDir,
		CreatedAt:         s.CreatedAt,
		LastActivity:      s.LastActivity,
		State:             s.state,
		ConversationLen:   len(s.history),
		ExternalSessionID: s.ExternalSessionID,
	}
}

