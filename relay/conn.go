// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/indienet-foundation/indienet/lib/clock"
)

// ConnectionOptions tunes one relay connection. The zero value is
// not usable; DefaultConnectionOptions supplies working values.
type ConnectionOptions struct {
	// DialTimeout bounds the websocket handshake.
	DialTimeout time.Duration

	// BackoffInitial is the first reconnect delay. Each consecutive
	// failure doubles it up to BackoffMax, with full jitter so a
	// relay restart does not see synchronized reconnect storms.
	BackoffInitial time.Duration

	// BackoffMax caps the reconnect delay.
	BackoffMax time.Duration

	// SendQueueSize bounds the outbound frame queue. On overflow the
	// oldest frame is dropped and a warning logged.
	SendQueueSize int

	// DegradedAfter is the consecutive-failure count after which
	// Health reports the relay degraded.
	DegradedAfter int
}

// DefaultConnectionOptions returns production tuning.
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		DialTimeout:    10 * time.Second,
		BackoffInitial: time.Second,
		BackoffMax:     time.Minute,
		SendQueueSize:  128,
		DegradedAfter:  5,
	}
}

// withDefaults fills every unset or non-positive field from
// DefaultConnectionOptions. A zero SendQueueSize must never reach a
// Connection: Send's drop-oldest loop cannot make progress on a
// zero-capacity channel.
func (o ConnectionOptions) withDefaults() ConnectionOptions {
	defaults := DefaultConnectionOptions()
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaults.DialTimeout
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = defaults.BackoffInitial
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = defaults.BackoffMax
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = defaults.SendQueueSize
	}
	if o.DegradedAfter <= 0 {
		o.DegradedAfter = defaults.DegradedAfter
	}
	return o
}

// inboundFrame is one raw frame read from a relay, tagged with its
// source for logs and publish-status correlation.
type inboundFrame struct {
	relay string
	data  []byte
}

// Connection owns one relay websocket and keeps it alive. Frames
// queued with Send survive reconnects (up to the queue bound); frames
// read from the socket are handed to the pool's dispatch queue, never
// processed on the read loop.
type Connection struct {
	url     string
	logger  *slog.Logger
	clock   clock.Clock
	options ConnectionOptions

	// dispatch is the pool's fan-in queue.
	dispatch chan<- inboundFrame

	// replayFrames returns the REQ frames for every active
	// subscription. Called after each successful dial so a reconnect
	// resumes the same subscriptions.
	replayFrames func() [][]byte

	// outbound carries frames from Send to the write loop. Persistent
	// across reconnects.
	outbound chan []byte

	// closed signals permanent shutdown to the run loop and both
	// session loops.
	closed    chan struct{}
	closeOnce sync.Once

	// done is closed when the run loop has fully stopped.
	done chan struct{}

	mu        sync.Mutex
	state     State
	lastError error
	attempt   int
}

// newConnection creates a connection and starts its run loop. The
// connection dials immediately and redials forever until Close.
func newConnection(url string, dispatch chan<- inboundFrame, replayFrames func() [][]byte,
	logger *slog.Logger, clk clock.Clock, options ConnectionOptions) *Connection {
	c := &Connection{
		url:          url,
		logger:       logger.With("relay", url),
		clock:        clk,
		options:      options,
		dispatch:     dispatch,
		replayFrames: replayFrames,
		outbound:     make(chan []byte, options.SendQueueSize),
		closed:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	go c.run()
	return c
}

// Send enqueues a frame for delivery. Never blocks: when the queue is
// full the oldest queued frame is dropped to make room. Returns
// ErrClosed after Close.
func (c *Connection) Send(frame []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	for {
		select {
		case c.outbound <- frame:
			return nil
		default:
		}
		select {
		case <-c.outbound:
			c.logger.Warn("outbound queue full, dropping oldest frame",
				"queue_size", c.options.SendQueueSize)
		default:
		}
	}
}

// Health returns a snapshot of the connection's state.
func (c *Connection) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()

	health := Health{
		URL:              c.url,
		State:            c.state,
		ReconnectAttempt: c.attempt,
		Degraded:         c.attempt >= c.options.DegradedAfter,
	}
	if c.lastError != nil {
		health.LastError = c.lastError.Error()
	}
	return health
}

// Close shuts the connection down permanently: cancels any backoff
// wait, closes the socket, and stops both loops. Idempotent. Returns
// once the run loop has exited.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	<-c.done
	return nil
}

func (c *Connection) setState(state State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	if err != nil {
		c.lastError = err
	}
}

// run is the connection lifecycle loop: dial, session, backoff,
// repeat until Close.
func (c *Connection) run() {
	defer close(c.done)
	defer c.setState(StateClosed, nil)

	for {
		select {
		case <-c.closed:
			return
		default:
		}

		c.setState(StateConnecting, nil)
		socket, err := c.dial()
		if err != nil {
			c.failed("dial failed", err)
			if !c.waitBackoff() {
				return
			}
			continue
		}

		c.mu.Lock()
		c.state = StateConnected
		c.lastError = nil
		wasDown := c.attempt
		c.attempt = 0
		c.mu.Unlock()
		if wasDown > 0 {
			c.logger.Info("reconnected", "after_attempts", wasDown)
		} else {
			c.logger.Info("connected")
		}

		// Resume subscriptions before any queued frames flow. No
		// writer goroutine is running yet, so writing directly here
		// is safe.
		if err := c.replaySubscriptions(socket); err != nil {
			socket.Close()
			c.failed("subscription replay failed", err)
			if !c.waitBackoff() {
				return
			}
			continue
		}

		err = c.session(socket)
		select {
		case <-c.closed:
			return
		default:
		}
		c.failed("connection lost", err)
		if !c.waitBackoff() {
			return
		}
	}
}

func (c *Connection) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.options.DialTimeout}
	socket, _, err := dialer.DialContext(context.Background(), c.url, nil)
	return socket, err
}

func (c *Connection) replaySubscriptions(socket *websocket.Conn) error {
	for _, frame := range c.replayFrames() {
		if err := socket.WriteMessage(websocket.TextMessage, frame); err != nil {
			return err
		}
	}
	return nil
}

// session runs the read and write loops until either fails or Close
// is called, then tears the socket down and waits for both to exit.
func (c *Connection) session(socket *websocket.Conn) error {
	stopWriter := make(chan struct{})
	loopErrors := make(chan error, 2)

	go func() { loopErrors <- c.writeLoop(socket, stopWriter) }()
	go func() { loopErrors <- c.readLoop(socket) }()

	var sessionErr error
	remaining := 2
	select {
	case sessionErr = <-loopErrors:
		remaining = 1
	case <-c.closed:
	}

	close(stopWriter)
	socket.Close()
	for ; remaining > 0; remaining-- {
		<-loopErrors
	}
	return sessionErr
}

func (c *Connection) writeLoop(socket *websocket.Conn, stop <-chan struct{}) error {
	for {
		select {
		case frame := <-c.outbound:
			if err := socket.WriteMessage(websocket.TextMessage, frame); err != nil {
				return err
			}
		case <-stop:
			return nil
		}
	}
}

func (c *Connection) readLoop(socket *websocket.Conn) error {
	for {
		_, data, err := socket.ReadMessage()
		if err != nil {
			return err
		}
		select {
		case c.dispatch <- inboundFrame{relay: c.url, data: data}:
		case <-c.closed:
			return nil
		}
	}
}

// failed records a failure and bumps the attempt counter.
func (c *Connection) failed(message string, err error) {
	c.mu.Lock()
	c.attempt++
	c.lastError = err
	c.state = StateBackoff
	attempt := c.attempt
	degraded := attempt >= c.options.DegradedAfter
	c.mu.Unlock()

	if degraded {
		c.logger.Warn(message, "error", err, "attempt", attempt, "degraded", true)
	} else {
		c.logger.Debug(message, "error", err, "attempt", attempt)
	}
}

// waitBackoff sleeps out the reconnect delay. Returns false when
// Close interrupted the wait.
func (c *Connection) waitBackoff() bool {
	c.mu.Lock()
	attempt := c.attempt
	c.mu.Unlock()

	select {
	case <-c.clock.After(c.backoffDelay(attempt)):
		return true
	case <-c.closed:
		return false
	}
}

// backoffDelay computes the delay before reconnect attempt n:
// exponential from BackoffInitial, capped at BackoffMax, with full
// jitter.
func (c *Connection) backoffDelay(attempt int) time.Duration {
	ceiling := c.options.BackoffMax
	// Shifts beyond 30 doublings would overflow long before any
	// realistic cap.
	if attempt < 30 {
		exponential := c.options.BackoffInitial << (attempt - 1)
		if exponential < ceiling {
			ceiling = exponential
		}
	}
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(ceiling))) + 1
}
