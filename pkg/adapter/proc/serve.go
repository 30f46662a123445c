package proc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/txnest/txnest/pkg/core/log"
)

// Handler handles the messages which the worker process receives from
// its controlling process.
type Handler interface {
	// OnMessage handles one inbound message, optionally returning a
	// reply message to be sent back.
	OnMessage(ctx context.Context, m Message) (*Message, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, m Message) (*Message, error)

// OnMessage calls f(ctx, m).
func (f HandlerFunc) OnMessage(
	ctx context.Context, m Message,
) (*Message, error) {
	return f(ctx, m)
}

// Serve runs the worker side of the message channel, normally over
// the worker's standard input and output. It announces the worker
// with a hello message, answers every inbound hello with a good-day
// (the health probe), and dispatches other messages to h, sending
// back its reply, if any. Serve returns when a shutdown message
// arrives or in is closed. A failing handler is logged and does not
// terminate the loop.
func Serve(ctx context.Context, in io.Reader, out io.Writer, h Handler) error {
	r := bufio.NewReader(in)
	if err := writeMessage(out, Message{Type: TypeHello}); err != nil {
		return fmt.Errorf("announcing worker: %w", err)
	}
	for {
		m, err := readMessage(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading message: %w", err)
		}
		switch m.Type {
		case TypeHello:
			if err := writeMessage(out, Message{Type: TypeGoodDay}); err != nil {
				return fmt.Errorf("answering hello: %w", err)
			}
		case TypeShutdown:
			return nil
		default:
			if h == nil {
				continue
			}
			reply, err := h.OnMessage(ctx, m)
			if err != nil {
				log.Warn(
					ctx, "message handler failed",
					log.Err("error", err),
				)
				continue
			}
			if reply == nil {
				continue
			}
			if err := writeMessage(out, *reply); err != nil {
				return fmt.Errorf("sending reply: %w", err)
			}
		}
	}
}
