package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/assistant-bridge/internal/chatapi"
	"github.com/kingrea/assistant-bridge/internal/config"
	"github.com/kingrea/assistant-bridge/internal/cron"
	"github.com/kingrea/assistant-bridge/internal/queue"
	"github.com/kingrea/assistant-bridge/internal/session"
)

const noActiveSessionNotice = "no active session — use @@switch <project> or @@new <project> first"

// replyIdleWindow bounds how long the pump waits for more chunks before
// flushing what it has collected as one chat message.
const replyIdleWindow = 120 * time.Millisecond

// Router classifies inbound chat lines and dispatches them to the
// Session Registry, Task Queue Manager, and Cron Scheduler.
type Router struct {
	cfg      *config.Config
	registry *session.Registry
	queues   *queue.Manager
	cron     *cron.Scheduler
	sender   chatapi.Sender

	pumpMu sync.Mutex
	pumped map[string]bool
}

// New builds a Router over the given components.
func New(cfg *config.Config, registry *session.Registry, queues *queue.Manager, scheduler *cron.Scheduler, sender chatapi.Sender) *Router {
	return &Router{cfg: cfg, registry: registry, queues: queues, cron: scheduler, sender: sender, pumped: make(map[string]bool)}
}

// Handle classifies and dispatches a single inbound chat message.
func (r *Router) Handle(ctx context.Context, msg chatapi.Message) {
	if IsCommandText(msg.Text) {
		r.handleCommand(ctx, msg)
		return
	}
	r.handleConversation(ctx, msg)
}

func (r *Router) reply(ctx context.Context, msg chatapi.Message, text string) {
	_ = r.sender.Send(ctx, msg.ChannelID, text)
}

func (r *Router) handleCommand(ctx context.Context, msg chatapi.Message) {
	parsed, err := Parse(msg.Text)
	if err != nil {
		r.reply(ctx, msg, "unrecognized command — try @@help")
		return
	}
	if len(parsed.Args) < MinArgs(parsed.Command) {
		r.reply(ctx, msg, UsageFor(parsed.Command))
		return
	}

	var result string
	switch parsed.Command {
	case CmdProjects:
		result = r.cmdProjects()
	case CmdSwitch:
		result = r.cmdSwitch(ctx, msg, parsed.Args[0])
	case CmdNew:
		result = r.cmdNew(ctx, msg, parsed.Args[0])
	case CmdSessions:
		result = r.cmdSessions()
	case CmdQuit:
		result = r.cmdQuit(ctx)
	case CmdHelp:
		result = HelpText()
	case CmdQueueAdd:
		result = r.cmdQueueAdd(parsed.Args)
	case CmdQueue:
		result = r.cmdQueue(ctx, msg, parsed.Args[0])
	case CmdQueueStatus:
		result = r.cmdQueueStatus(parsed.Args)
	case CmdQueueClear:
		result = r.cmdQueueClear(parsed.Args[0])
	case CmdCron:
		result = r.cmdCron(parsed.Args)
	default:
		result = "unrecognized command — try @@help"
	}
	r.reply(ctx, msg, result)
}

func (r *Router) cmdProjects() string {
	if len(r.cfg.Projects) == 0 {
		return "no projects configured"
	}
	var b strings.Builder
	for _, p := range r.cfg.Projects {
		fmt.Fprintf(&b, "%s\t%s\t%s\n", p.Name, p.Path, p.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) projectDir(name string) (string, string, bool) {
	if p, ok := r.cfg.Project(name); ok {
		return p.Path, p.Name, true
	}
	if !r.cfg.HasProjectSet() {
		return name, name, true
	}
	return "", "", false
}

func (r *Router) cmdSwitch(ctx context.Context, msg chatapi.Message, name string) string {
	dir, projectName, ok := r.projectDir(name)
	if !ok {
		return fmt.Sprintf("unknown project %q", name)
	}
	for _, snap := range r.registry.List() {
		if snap.Project == projectName {
			if err := r.registry.Switch(snap.ID); err != nil {
				return errMessage(err)
			}
			if sess := r.registry.Current(); sess != nil {
				r.ensurePump(ctx, sess, msg.ChannelID)
			}
			return fmt.Sprintf("switched to %s", projectName)
		}
	}
	sess, err := r.registry.Create(ctx, dir, projectName)
	if err != nil {
		return errMessage(err)
	}
	if err := r.registry.Switch(sess.ID); err != nil {
		return errMessage(err)
	}
	r.ensurePump(ctx, sess, msg.ChannelID)
	return fmt.Sprintf("switched to %s (new session)", projectName)
}

func (r *Router) cmdNew(ctx context.Context, msg chatapi.Message, name string) string {
	dir, projectName, ok := r.projectDir(name)
	if !ok {
		return fmt.Sprintf("unknown project %q", name)
	}
	sess, err := r.registry.Create(ctx, dir, projectName)
	if err != nil {
		return errMessage(err)
	}
	if err := r.registry.Switch(sess.ID); err != nil {
		return errMessage(err)
	}
	r.ensurePump(ctx, sess, msg.ChannelID)
	return fmt.Sprintf("created new session for %s", projectName)
}

func (r *Router) cmdSessions() string {
	snaps := r.registry.List()
	if len(snaps) == 0 {
		return "no active sessions"
	}
	var b strings.Builder
	for _, s := range snaps {
		fmt.Fprintf(&b, "%s\t%s\t%s\tlast_activity=%s\n", s.ID, s.Project, s.State, s.LastActivity.Format(time.RFC3339))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) cmdQuit(ctx context.Context) string {
	current := r.registry.Current()
	if current == nil {
		return noActiveSessionNotice
	}
	if err := r.registry.Terminate(ctx, current.ID); err != nil {
		return errMessage(err)
	}
	return "session terminated"
}

func (r *Router) cmdQueueAdd(args []string) string {
	queueName := args[0]
	description := strings.Join(args[1:], " ")
	if strings.TrimSpace(description) == "" {
		return "usage: " + usage[CmdQueueAdd]
	}
	projectDir := ""
	if current := r.registry.Current(); current != nil {
		projectDir = current.ProjectDir
	}
	id, err := r.queues.Add(queueName, description, projectDir, 0)
	if err != nil {
		return errMessage(err)
	}
	return fmt.Sprintf("queued %s in %s (id=%s)", description, queueName, id)
}

func (r *Router) cmdQueue(ctx context.Context, msg chatapi.Message, queueName string) string {
	go func() {
		_ = r.queues.Run(ctx, queueName, func(line string) {
			r.reply(ctx, msg, line)
		})
	}()
	return fmt.Sprintf("running queue %s", queueName)
}

func (r *Router) cmdQueueStatus(args []string) string {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	summaries, err := r.queues.Status(name)
	if err != nil {
		return errMessage(err)
	}
	var b strings.Builder
	for _, s := range summaries {
		completed, failed := 0, 0
		for _, h := range s.History {
			switch h.Status {
			case queue.StatusCompleted:
				completed++
			case queue.StatusFailed:
				failed++
			}
		}
		fmt.Fprintf(&b, "%s: pending=%d completed=%d failed=%d\n", s.Name, s.Pending, completed, failed)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) cmdQueueClear(queueName string) string {
	if err := r.queues.Clear(queueName); err != nil {
		return errMessage(err)
	}
	return fmt.Sprintf("cleared queue %s", queueName)
}

func (r *Router) cmdCron(args []string) string {
	pattern := args[0]
	names := strings.Split(args[1], ",")
	for i := range names {
		names[i] = strings.TrimSpace(names[i])
	}
	projectDir := ""
	if current := r.registry.Current(); current != nil {
		projectDir = current.ProjectDir
	}
	id, err := r.cron.Add(pattern, names, projectDir)
	if err != nil {
		return errMessage(err)
	}
	return fmt.Sprintf("registered schedule %s (%s)", id, pattern)
}

func (r *Router) handleConversation(ctx context.Context, msg chatapi.Message) {
	current := r.registry.Current()
	if current == nil {
		r.reply(ctx, msg, noActiveSessionNotice)
		return
	}

	r.ensurePump(ctx, current, msg.ChannelID)

	if _, err := r.registry.Send(current.ID, msg.Text); err != nil {
		r.reply(ctx, msg, errMessage(err))
	}
}

// ensurePump starts, at most once per session, a background goroutine
// that drains the session's assistant output stream and forwards it to
// the chat channel that last addressed it, grouping chunks into replies
// on idle pauses rather than waiting for the process to exit.
func (r *Router) ensurePump(ctx context.Context, sess *session.Session, channelID string) {
	r.pumpMu.Lock()
	if r.pumped[sess.ID] {
		r.pumpMu.Unlock()
		return
	}
	r.pumped[sess.ID] = true
	r.pumpMu.Unlock()

	go r.pumpReplies(ctx, sess, channelID)
}

func (r *Router) pumpReplies(ctx context.Context, sess *session.Session, channelID string) {
	var collected strings.Builder
	flush := func() {
		if collected.Len() == 0 {
			return
		}
		text := collected.String()
		collected.Reset()
		_ = r.sender.Send(ctx, channelID, text)
		r.registry.RecordAssistantReply(sess, text)
	}

	idle := time.NewTimer(replyIdleWindow)
	defer idle.Stop()
	stream := r.registry.Stream(sess)
	for {
		select {
		case chunk, ok := <-stream:
			if !ok {
				flush()
				return
			}
			if chunk.Err != nil {
				flush()
				_ = r.sender.Send(ctx, channelID, errMessage(chunk.Err))
				if chunk.End {
					return
				}
				continue
			}
			if chunk.Text != "" {
				collected.WriteString(chunk.Text)
			}
			if chunk.End {
				flush()
				return
			}
			idle.Reset(replyIdleWindow)
		case <-idle.C:
			flush()
			idle.Reset(replyIdleWindow)
		}
	}
}

func errMessage(err error) string {
	return err.Error()
}
