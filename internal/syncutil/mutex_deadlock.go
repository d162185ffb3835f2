//go:build deadlock

// Package syncutil selects the mutex implementation at build time.
// This file is compiled with -tags=deadlock and reports lock-order
// inversions and long waits through github.com/sasha-s/go-deadlock.
package syncutil

import deadlock "github.com/sasha-s/go-deadlock"

// Mutex guards shared session state such as the session log writer and
// the host abort latch.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex guards read-mostly state such as the detection cache.
type RWMutex struct {
	deadlock.RWMutex
}
