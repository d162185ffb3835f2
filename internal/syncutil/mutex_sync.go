//go:build !deadlock

// Package syncutil selects the mutex implementation at build time.
// Default builds use sync.Mutex; build with -tags=deadlock to swap in
// github.com/sasha-s/go-deadlock.
package syncutil

import "sync"

// Mutex guards shared session state such as the session log writer and
// the host abort latch.
//
//nolint:gocritic // embedding exposes Lock/Unlock directly
type Mutex struct {
	sync.Mutex
}

// RWMutex guards read-mostly state such as the detection cache.
//
//nolint:gocritic // embedding exposes the lock methods directly
type RWMutex struct {
	sync.RWMutex
}
