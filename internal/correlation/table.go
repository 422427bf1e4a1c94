// Package correlation joins asynchronous device responses back to the
// command that is waiting for them.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNoResponse is returned when no response arrived before the timeout
	ErrNoResponse = errors.New("correlation: no response")
	// ErrDuplicateRequest is returned when the request id is already in flight
	ErrDuplicateRequest = errors.New("correlation: request id already pending")
)

type pending struct {
	done      chan bool
	createdAt time.Time
}

// Table maps in-flight request ids to their completion handles
type Table struct {
	mu      sync.Mutex
	entries map[string]*pending
}

// NewTable creates an empty table
func NewTable() *Table {
	return &Table{entries: make(map[string]*pending)}
}

// Wait registers requestID, calls send, then blocks until the request is
// resolved, the timeout elapses or ctx is done. The entry is removed before
// Wait returns on every path.
func (t *Table) Wait(ctx context.Context, requestID string, timeout time.Duration, send func() error) (bool, error) {
	p := &pending{done: make(chan bool, 1), createdAt: time.Now()}

	t.mu.Lock()
	if _, exists := t.entries[requestID]; exists {
		t.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrDuplicateRequest, requestID)
	}
	t.entries[requestID] = p
	t.mu.Unlock()

	defer t.remove(requestID, p)

	if err := send(); err != nil {
		return false, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ok := <-p.done:
		return ok, nil
	case <-timer.C:
		return false, fmt.Errorf("%w: %s after %v", ErrNoResponse, requestID, timeout)
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Resolve completes the waiter for requestID. It reports false when no waiter
// exists, e.g. because it already timed out.
func (t *Table) Resolve(requestID string, ok bool) bool {
	t.mu.Lock()
	p, exists := t.entries[requestID]
	t.mu.Unlock()
	if !exists {
		return false
	}
	select {
	case p.done <- ok:
		return true
	default:
		// already resolved
		return false
	}
}

// Len returns the number of in-flight requests
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Pending reports whether requestID is in flight and since when
func (t *Table) Pending(requestID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[requestID]
	if !ok {
		return time.Time{}, false
	}
	return p.createdAt, true
}

func (t *Table) remove(requestID string, p *pending) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.entries[requestID] == p {
		delete(t.entries, requestID)
	}
}
