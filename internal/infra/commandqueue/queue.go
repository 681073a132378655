// Package commandqueue holds per-device pending commands awaiting the
// next device poll (C11). The mutex-guarded map shape follows
// the reference marketplace and democracy packages' per-entity state
// maps, here keyed by device id instead of listing/proposal id.
package commandqueue

import (
	"sync"

	"github.com/hydroloop/gateway/internal/domain"
)

// Queue holds one PendingCommands set per device, last-writer-wins on
// each individual command name.
type Queue struct {
	mu      sync.Mutex
	pending map[string]domain.PendingCommands
}

// New creates an empty command queue.
func New() *Queue {
	return &Queue{pending: make(map[string]domain.PendingCommands)}
}

// Enqueue sets command=value for deviceID, overwriting any unacquired
// value already queued for that command name (last-writer-wins).
func (q *Queue) Enqueue(deviceID, command, value string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cmds, ok := q.pending[deviceID]
	if !ok {
		cmds = make(domain.PendingCommands)
		q.pending[deviceID] = cmds
	}
	cmds[command] = value
}

// AcquirePending atomically snapshots and clears deviceID's pending
// commands, substituting the implicit led=off default when none was
// queued. This is the device-poll read path: every poll drains the
// full queue, so a missed poll never double-delivers a stale command.
func (q *Queue) AcquirePending(deviceID string) domain.PendingCommands {
	q.mu.Lock()
	defer q.mu.Unlock()
	cmds := q.pending[deviceID]
	delete(q.pending, deviceID)
	return cmds.Clone()
}

// Peek returns a copy of deviceID's pending commands without clearing
// them, for API inspection.
func (q *Queue) Peek(deviceID string) domain.PendingCommands {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending[deviceID].Clone()
}
