package router

import (
	"sync"
	"time"
)

// pendingKey correlates an asynchronous module response to its execution.
type pendingKey struct {
	SessionID   string
	ExecutionID string
}

type pendingEntry struct {
	ch       chan *ModuleResponse
	deadline time.Time
}

// PendingTable tracks executions awaiting an asynchronous response on the
// responses stream or the callback endpoint.
type PendingTable struct {
	mu      sync.Mutex
	entries map[pendingKey]*pendingEntry
}

// NewPendingTable creates an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[pendingKey]*pendingEntry)}
}

// Add registers an execution and returns the channel its response will be
// delivered on. The entry expires at deadline.
func (p *PendingTable) Add(sessionID, executionID string, timeout time.Duration) <-chan *ModuleResponse {
	ch := make(chan *ModuleResponse, 1)
	p.mu.Lock()
	p.entries[pendingKey{sessionID, executionID}] = &pendingEntry{
		ch:       ch,
		deadline: time.Now().Add(timeout),
	}
	p.mu.Unlock()
	return ch
}

// Complete delivers a response to its waiting execution. Returns false when
// no execution is waiting (late, duplicate, or unsolicited response).
func (p *PendingTable) Complete(resp *ModuleResponse) bool {
	key := pendingKey{resp.SessionID, resp.ExecutionID}
	p.mu.Lock()
	entry, ok := p.entries[key]
	if ok {
		delete(p.entries, key)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	entry.ch <- resp
	return true
}

// Drop removes an execution without delivering anything.
func (p *PendingTable) Drop(sessionID, executionID string) {
	p.mu.Lock()
	delete(p.entries, pendingKey{sessionID, executionID})
	p.mu.Unlock()
}

// Sweep discards expired entries; call it periodically.
func (p *PendingTable) Sweep() int {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for key, entry := range p.entries {
		if now.After(entry.deadline) {
			delete(p.entries, key)
			close(entry.ch)
			n++
		}
	}
	return n
}

// Len reports the number of in-flight executions.
func (p *PendingTable) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
