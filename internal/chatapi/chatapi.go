// Package chatapi defines the contract the core consumes from a chat
// transport. The core never imports a concrete transport implementation;
// cmd/bridge wires one in.
package chatapi

import (
	"context"
	"sync"
	"time"
)

// Message is an inbound line from the chat transport.
type Message struct {
	Text      string
	UserID    string
	ChannelID string
	Timestamp time.Time
	ThreadRef string
}

// IsCommand reports whether the message's text, after left-trim, begins
// with the control prefix "@@".
func (m Message) IsCommand() bool {
	return len(trimLeftSpace(m.Text)) >= 2 && trimLeftSpace(m.Text)[:2] == "@@"
}

func trimLeftSpace(s string) string {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	return s[i:]
}

// Sender pushes text to a channel. Implementations own their own retry
// policy for transient failures; permanent failures are returned here.
type Sender interface {
	Send(ctx context.Context, channelID, text string) error
	Typing(ctx context.Context, channelID string) error
}

// Receiver exposes the inbound stream of chat messages.
type Receiver interface {
	Messages() <-chan Message
}

// MemoryTransport is an in-memory Sender+Receiver used by tests; it is
// not a production transport.
type MemoryTransport struct {
	mu       sync.Mutex
	inbound  chan Message
	Sent     []SentMessage
	typingCh chan string
}

// SentMessage records one call to Send, for assertions in tests.
type SentMessage struct {
	ChannelID string
	Text      string
}

// NewMemoryTransport creates an in-memory transport with the given
// inbound buffer size.
func NewMemoryTransport(buffer int) *MemoryTransport {
	return &MemoryTransport{
		inbound:  make(chan Message, buffer),
		typingCh: make(chan string, buffer),
	}
}

// Push enqueues an inbound message as if received from the transport.
func (t *MemoryTransport) Push(msg Message) {
	t.inbound <- msg
}

// Close signals no further inbound messages will arrive.
func (t *MemoryTransport) Close() {
	close(t.inbound)
}

// Messages implements Receiver.
func (t *MemoryTransport) Messages() <-chan Message {
	return t.inbound
}

// Send implements Sender.
func (t *MemoryTransport) Send(_ context.Context, channelID, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Sent = append(t.Sent, SentMessage{ChannelID: channelID, Text: text})
	return nil
}

// Typing implements Sender.
func (t *MemoryTransport) Typing(_ context.Context, channelID string) error {
	select {
	case t.typingCh <- channelID:
	default:
	}
	return nil
}

// SentTexts returns the text of every message sent to the given channel,
// in send order.
func (t *MemoryTransport) SentTexts(channelID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, s := range t.Sent {
		if s.ChannelID == channelID {
			out = append(out, s.Text)
		}
	}
	return out
}
