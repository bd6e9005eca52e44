// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/indienet-foundation/indienet/bridge"
	"github.com/indienet-foundation/indienet/nostr"
)

// agentEvent is one line written to the subprocess. Every inbound
// message, observed public note, and relay rejection becomes one
// JSON object on the agent's stdin.
type agentEvent struct {
	Type      string `json:"type"`
	Sender    string `json:"sender,omitempty"`
	Text      string `json:"text,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	Relay     string `json:"relay,omitempty"`
	Message   string `json:"message,omitempty"`
}

// agentCommand is one line read from the subprocess stdout.
type agentCommand struct {
	Type  string   `json:"type"`
	To    string   `json:"to,omitempty"`
	Text  string   `json:"text,omitempty"`
	Name  string   `json:"name,omitempty"`
	About string   `json:"about,omitempty"`
	Keys  []string `json:"keys,omitempty"`
}

// subprocessRuntime runs the agent as a child process speaking
// line-delimited JSON: events in on stdin, commands out on stdout.
// It implements both bridge.Runtime and bridge.Notifier.
type subprocessRuntime struct {
	logger *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	// Guards writes to the subprocess stdin; Deliver and the
	// Notifier callbacks run on different goroutines.
	writeMu sync.Mutex

	// bridge is set after construction because the bridge itself
	// needs the runtime first. Only the command loop reads it.
	bridge *bridge.Bridge

	done chan struct{}
}

func newSubprocessRuntime(command []string, logger *slog.Logger) (*subprocessRuntime, error) {
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("agent stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agent stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting agent process: %w", err)
	}
	logger.Info("agent process started", "pid", cmd.Process.Pid, "command", command[0])

	return &subprocessRuntime{
		logger: logger,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		done:   make(chan struct{}),
	}, nil
}

// attach wires the bridge in and starts the command loop. Must be
// called exactly once before any traffic flows.
func (r *subprocessRuntime) attach(b *bridge.Bridge) {
	r.bridge = b
	go r.commandLoop()
}

func (r *subprocessRuntime) writeEvent(event agentEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding agent event: %w", err)
	}
	line = append(line, '\n')

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if _, err := r.stdin.Write(line); err != nil {
		return fmt.Errorf("writing to agent process: %w", err)
	}
	return nil
}

// Deliver implements bridge.Runtime.
func (r *subprocessRuntime) Deliver(message bridge.InboundMessage) error {
	return r.writeEvent(agentEvent{
		Type:      string(message.Kind),
		Sender:    message.Sender,
		Text:      message.Text,
		Timestamp: message.Timestamp.Unix(),
		EventID:   message.SourceEventID,
	})
}

// PublicPost implements bridge.Notifier.
func (r *subprocessRuntime) PublicPost(event *nostr.Event) {
	err := r.writeEvent(agentEvent{
		Type:      "note",
		Sender:    event.PubKey,
		Text:      event.Content,
		Timestamp: event.CreatedAt,
		EventID:   event.ID,
	})
	if err != nil {
		r.logger.Error("forwarding public note to agent", "error", err)
	}
}

// PublishRejected implements bridge.Notifier.
func (r *subprocessRuntime) PublishRejected(rejection *nostr.RelayError) {
	err := r.writeEvent(agentEvent{
		Type:    "rejected",
		Relay:   rejection.Relay,
		EventID: rejection.EventID,
		Message: rejection.Message,
	})
	if err != nil {
		r.logger.Error("forwarding rejection to agent", "error", err)
	}
}

// commandLoop reads commands from the subprocess until its stdout
// closes. Malformed lines are logged and skipped.
func (r *subprocessRuntime) commandLoop() {
	defer close(r.done)

	scanner := bufio.NewScanner(r.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var command agentCommand
		if err := json.Unmarshal(line, &command); err != nil {
			r.logger.Warn("malformed agent command", "error", err)
			continue
		}
		r.execute(command)
	}
	if err := scanner.Err(); err != nil {
		r.logger.Error("reading agent output", "error", err)
	}
}

func (r *subprocessRuntime) execute(command agentCommand) {
	var err error
	switch command.Type {
	case "reply":
		_, err = r.bridge.SendReply(command.To, command.Text)
	case "post":
		_, err = r.bridge.PublishPost(command.Text, nil)
	case "profile":
		_, err = r.bridge.PublishProfile(command.Name, command.About)
	case "follow":
		_, err = r.bridge.PublishFollowList(command.Keys)
	default:
		r.logger.Warn("unknown agent command", "type", command.Type)
		return
	}
	if err != nil {
		r.logger.Error("executing agent command", "type", command.Type, "error", err)
	}
}

// stop closes the agent's stdin, waits briefly for a clean exit, and
// falls back to SIGTERM.
func (r *subprocessRuntime) stop() {
	r.writeMu.Lock()
	r.stdin.Close()
	r.writeMu.Unlock()

	waited := make(chan error, 1)
	go func() { waited <- r.cmd.Wait() }()

	select {
	case err := <-waited:
		if err != nil {
			r.logger.Warn("agent process exited", "error", err)
		}
	case <-time.After(5 * time.Second):
		r.logger.Warn("agent process did not exit, sending SIGTERM")
		r.cmd.Process.Signal(syscall.SIGTERM)
		if err := <-waited; err != nil {
			r.logger.Warn("agent process exited", "error", err)
		}
	}
	<-r.done
}
