// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time operations for testability.
//
// Production code injects [Real]; tests inject [Fake] and drive time
// deterministically with [FakeClock.Advance]. Every production
// function that would call time.Now, time.After, time.AfterFunc,
// time.NewTicker, or time.Sleep accepts a [Clock] (or is a method on
// a struct holding one) instead of calling the time package directly.
//
// The relay package depends on this for reconnect backoff timers and
// websocket ping tickers: backoff tests advance a fake clock through
// the full exponential schedule in microseconds of wall time.
//
// [FakeClock.WaitForTimers] removes the race between a goroutine
// registering a timer and the test advancing the clock: block until
// the expected number of waiters is registered, then Advance.
package clock
