package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/kingrea/assistant-bridge/internal/chatapi"
)

// consoleTransport is the default chatapi.Sender+Receiver for running the
// bridge against a local terminal instead of a real chat service. It
// treats the whole process as a single channel named "console".
type consoleTransport struct {
	inbound chan chatapi.Message
	out     io.Writer
}

const consoleChannelID = "console"

func newConsoleTransport(in io.Reader, out io.Writer) *consoleTransport {
	t := &consoleTransport{inbound: make(chan chatapi.Message, 16), out: out}
	go t.readLoop(in)
	return t
}

func (t *consoleTransport) readLoop(in io.Reader) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		t.inbound <- chatapi.Message{
			Text:      scanner.Text(),
			UserID:    "local",
			ChannelID: consoleChannelID,
			Timestamp: time.Now(),
		}
	}
	close(t.inbound)
}

func (t *consoleTransport) Messages() <-chan chatapi.Message {
	return t.inbound
}

func (t *consoleTransport) Send(_ context.Context, _ string, text string) error {
	_, err := fmt.Fprintln(t.out, text)
	return err
}

func (t *consoleTransport) Typing(_ context.Context, _ string) error {
	return nil
}

var _ chatapi.Sender = (*consoleTransport)(nil)
var _ chatapi.Receiver = (*consoleTransport)(nil)
