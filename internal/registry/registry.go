// Package registry tracks active conversations for graceful shutdown.
package registry

import (
	"sync"
	"sync/atomic"
)

// Registry tracks running conversations and supports draining. When draining
// is enabled new conversations are rejected while in-flight ones finish and
// release their capture hardware naturally.
//
// The mutex makes the draining check and wg.Add atomic in Add(), preventing a
// race where StartDraining+Wait could slip between the check and the
// increment.
type Registry struct {
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
	count    atomic.Int64
}

func New() *Registry {
	return &Registry{}
}

// Add registers a new conversation. Returns false if the registry is
// draining, meaning no new conversations should start.
func (r *Registry) Add() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.draining {
		return false
	}
	r.wg.Add(1)
	r.count.Add(1)
	return true
}

// Done marks a conversation as finished. Must be called exactly once per
// successful Add.
func (r *Registry) Done() {
	r.count.Add(-1)
	r.wg.Done()
}

// StartDraining makes all future Add calls return false.
func (r *Registry) StartDraining() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.draining = true
}

// IsDraining reports whether the registry is in draining mode.
func (r *Registry) IsDraining() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.draining
}

// ActiveCount returns the number of running conversations.
func (r *Registry) ActiveCount() int64 {
	return r.count.Load()
}

// Wait blocks until every added conversation has called Done.
func (r *Registry) Wait() {
	r.wg.Wait()
}
