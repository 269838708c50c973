// Package scheduler decides when the background aggregation worker runs.
// It tracks in-flight sync operations and debounces ingest activity so a
// large backfill triggers one aggregation pass instead of thousands.
package scheduler

import (
	"sync"
	"time"
)

// neverActive is reported while no ingest activity has been observed yet.
const neverActive = time.Duration(1<<62 - 1)

// defaultOperationTTL bounds how long an operation may stay registered. A
// chunked session whose final chunk never arrives would otherwise hold the
// worker gate closed forever.
const defaultOperationTTL = 30 * time.Minute

// Tracker is an in-memory registry of in-flight bulk-ingest operations per
// user. Ingestion handlers run concurrently, so all access is serialized
// behind a mutex. Last-activity is tracked globally, not per user: one
// user's heavy backfill delays the shared worker for everyone, which is
// acceptable because the worker drains all users' pending rows anyway.
type Tracker struct {
	mu           sync.Mutex
	operations   map[string]map[string]time.Time
	lastActivity time.Time
	onEnd        func()
	now          func() time.Time
	ttl          time.Duration
}

// NewTracker constructs an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		operations: make(map[string]map[string]time.Time),
		now:        time.Now,
		ttl:        defaultOperationTTL,
	}
}

// OnEnd registers a hook invoked after every operation end, outside the
// tracker lock. The gate uses it to re-evaluate whether the worker should
// start.
func (t *Tracker) OnEnd(hook func()) {
	t.mu.Lock()
	t.onEnd = hook
	t.mu.Unlock()
}

// Start registers an in-flight operation and stamps last activity.
func (t *Tracker) Start(userID, operationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ops, ok := t.operations[userID]
	if !ok {
		ops = make(map[string]time.Time)
		t.operations[userID] = ops
	}
	ops[operationID] = t.now()
	t.lastActivity = t.now()
}

// End removes the operation, re-stamps last activity, and invokes the
// registered hook.
func (t *Tracker) End(userID, operationID string) {
	t.mu.Lock()
	if ops, ok := t.operations[userID]; ok {
		delete(ops, operationID)
		if len(ops) == 0 {
			delete(t.operations, userID)
		}
	}
	t.lastActivity = t.now()
	hook := t.onEnd
	t.mu.Unlock()

	if hook != nil {
		hook()
	}
}

// Touch stamps last activity without registering an operation. Incremental
// submissions use it so the cooldown window restarts on every push.
func (t *Tracker) Touch() {
	t.mu.Lock()
	t.lastActivity = t.now()
	t.mu.Unlock()
}

// HasActiveOperations reports whether any user has an operation in flight.
// Operations older than the TTL are dropped first: a session that never
// sent its final chunk must not block the worker indefinitely.
func (t *Tracker) HasActiveOperations() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.ttl)
	for userID, ops := range t.operations {
		for operationID, startedAt := range ops {
			if startedAt.Before(cutoff) {
				delete(ops, operationID)
			}
		}
		if len(ops) == 0 {
			delete(t.operations, userID)
		}
	}
	return len(t.operations) > 0
}

// TimeSinceLastActivity returns the elapsed time since the most recent
// start, end, or touch across all users.
func (t *Tracker) TimeSinceLastActivity() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastActivity.IsZero() {
		return neverActive
	}
	return t.now().Sub(t.lastActivity)
}
