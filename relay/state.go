// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import "errors"

// ErrClosed reports an operation on a closed Pool or Connection.
var ErrClosed = errors.New("relay: closed")

// State is a connection's position in its lifecycle.
type State int

const (
	// StateDisconnected is the initial state before the first dial.
	StateDisconnected State = iota

	// StateConnecting means a dial is in flight.
	StateConnecting

	// StateConnected means the websocket is up and frames flow.
	StateConnected

	// StateBackoff means the last dial or session failed and the
	// connection is waiting out its reconnect delay.
	StateBackoff

	// StateClosed is terminal: the connection was shut down
	// deliberately and will not redial.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Health is a point-in-time snapshot of one relay connection, for
// status surfaces and logs.
type Health struct {
	// URL is the relay websocket URL.
	URL string

	// State is the lifecycle state at snapshot time.
	State State

	// LastError is the most recent dial or session error, empty when
	// none has occurred since the last successful connect.
	LastError string

	// ReconnectAttempt counts consecutive failed connection attempts.
	// Reset to zero on a successful connect.
	ReconnectAttempt int

	// Degraded is set once ReconnectAttempt crosses the configured
	// threshold. Reconnection continues regardless; this only marks
	// the relay as probably unavailable.
	Degraded bool
}
