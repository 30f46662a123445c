// Copyright (c) 2024 The txnest Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package proc controls an auxiliary worker process. A Control works
// as a portal between the main process and the worker: it launches
// the worker process and exchanges newline-delimited JSON messages
// with it over the worker's standard input and output pipes, with a
// pluggable handler for the inbound messages. The Serve function
// implements the worker side of the same channel.
//
// This subsystem is independent of the transaction core and shares no
// state with it.
package proc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/txnest/txnest/pkg/core/log"
)

// MessageHandler is the pluggable handler for messages which are
// received from the worker process. Its methods are invoked from the
// channel reader goroutine.
type MessageHandler interface {
	// OnGoodDay is a test signal which the worker sends in response
	// to a hello message. It can be used for checking the healthiness
	// of the worker.
	OnGoodDay()

	// OnMessage receives every other inbound message.
	OnMessage(m Message)

	// OnChannelError reports that the message channel broke down.
	// The Control is disconnected already when this is invoked; a new
	// Launch call is needed for talking to a fresh worker.
	OnChannelError(err error)
}

// Control launches a worker process and keeps the message channel to
// it. The zero Control is not usable; use NewControl.
type Control struct {
	command string
	args    []string

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	connected bool
	closing   bool
	pending   []Message
	handler   MessageHandler
	dones     []func(error)
}

// NewControl creates a Control which will launch the worker process
// by running the given command with the given args.
func NewControl(command string, args ...string) *Control {
	return &Control{command: command, args: args}
}

// Connected reports whether the message channel to the worker process
// is established.
func (c *Control) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SetMessageHandler installs the handler for inbound messages and
// channel errors. It must be set before Launch; messages which arrive
// while no handler is set are dropped.
func (c *Control) SetMessageHandler(h MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Launch starts the worker process and connects to it asynchronously.
// The done callback, if non-nil, is invoked exactly once, from
// another goroutine, after the worker announced itself over the
// channel or the launch failed. If the channel is connected already,
// done reports success without launching anything, and if a launch is
// in flight already, done joins the callbacks waiting for it.
func (c *Control) Launch(ctx context.Context, done func(error)) {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		if done != nil {
			go done(nil)
		}
		return
	}
	if done != nil {
		c.dones = append(c.dones, done)
	}
	if c.cmd != nil {
		c.mu.Unlock()
		return // a launch is in flight
	}
	cmd := exec.CommandContext(ctx, c.command, c.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.failLaunchLocked(fmt.Errorf("stdin pipe: %w", err))
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.failLaunchLocked(fmt.Errorf("stdout pipe: %w", err))
		return
	}
	if err := cmd.Start(); err != nil {
		c.failLaunchLocked(fmt.Errorf("starting worker: %w", err))
		return
	}
	c.cmd = cmd
	c.stdin = stdin
	c.closing = false
	c.mu.Unlock()
	log.Debug(ctx, "worker process launched")
	go c.run(ctx, bufio.NewReader(stdout))
}

// failLaunchLocked reports err to all waiting done callbacks and
// releases the mutex which the caller holds.
func (c *Control) failLaunchLocked(err error) {
	dones := c.dones
	c.dones = nil
	c.mu.Unlock()
	for _, d := range dones {
		go d(err)
	}
}

// run waits for the worker's hello announcement, flushes the queued
// outbound messages, and then keeps dispatching inbound messages
// until the channel breaks down.
func (c *Control) run(ctx context.Context, r *bufio.Reader) {
	m, err := readMessage(r)
	if err == nil && m.Type != TypeHello {
		err = fmt.Errorf("expected a hello message, got %q", m.Type)
	}
	if err != nil {
		c.mu.Lock()
		c.cmd = nil
		c.stdin = nil
		c.failLaunchLocked(fmt.Errorf("connecting to worker: %w", err))
		return
	}
	c.mu.Lock()
	c.connected = true
	stdin := c.stdin
	pending := c.pending
	c.pending = nil
	dones := c.dones
	c.dones = nil
	c.mu.Unlock()
	log.Debug(ctx, "worker channel connected")
	for _, pm := range pending {
		if err := writeMessage(stdin, pm); err != nil {
			log.Warn(
				ctx, "flushing queued message failed",
				log.Err("error", err),
			)
		}
	}
	for _, d := range dones {
		d(nil)
	}
	for {
		m, err := readMessage(r)
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			h := c.handler
			c.connected = false
			c.mu.Unlock()
			if !closing && h != nil {
				h.OnChannelError(err)
			}
			return
		}
		c.mu.Lock()
		h := c.handler
		c.mu.Unlock()
		if h == nil {
			continue
		}
		switch m.Type {
		case TypeGoodDay:
			h.OnGoodDay()
		default:
			h.OnMessage(m)
		}
	}
}

// Send delivers m to the worker process. Messages which are sent
// after Launch but before the channel connects are queued and flushed
// on connect, in order.
func (c *Control) Send(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		if c.cmd == nil {
			return fmt.Errorf("worker process is not launched")
		}
		c.pending = append(c.pending, m)
		return nil
	}
	return writeMessage(c.stdin, m)
}

// SendHello sends a hello message to the worker process for testing
// purposes. A healthy worker answers with a good-day message, which
// is reported through the MessageHandler.
func (c *Control) SendHello() error {
	return c.Send(Message{Type: TypeHello})
}

// Shutdown asks the worker process to terminate, tears the message
// channel down, and waits for the process to exit.
func (c *Control) Shutdown() error {
	c.mu.Lock()
	cmd := c.cmd
	stdin := c.stdin
	connected := c.connected
	c.closing = true
	c.cmd = nil
	c.stdin = nil
	c.connected = false
	c.pending = nil
	c.mu.Unlock()
	if cmd == nil {
		return nil
	}
	if connected {
		if err := writeMessage(stdin, Message{Type: TypeShutdown}); err != nil {
			log.Warn(
				context.Background(), "sending shutdown message failed",
				log.Err("error", err),
			)
		}
	}
	if err := stdin.Close(); err != nil {
		return fmt.Errorf("closing worker stdin: %w", err)
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("waiting for worker exit: %w", err)
	}
	return nil
}
