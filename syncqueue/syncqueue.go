// Package syncqueue is the durable log of mutations that have not yet been
// confirmed by the remote store.  The queue lives in the local store, so
// operations survive a crash mid-drain and are simply retried; the remote
// layer's writes are idempotent, which makes the retry safe.
package syncqueue

import (
	"fmt"

	"github.com/israfil-hossain/mediremind/dbtypes"
	"github.com/israfil-hossain/mediremind/localstore"
)

const queueCollection = dbtypes.Collection("sync_queue")

// Queue is the durable pending-operation log.
type Queue struct {
	store *localstore.Store
}

func New(store *localstore.Store) *Queue {
	return &Queue{store: store}
}

// Enqueue appends op to the log.
func (q *Queue) Enqueue(op dbtypes.PendingOperation) error {
	var ops []dbtypes.PendingOperation
	err := q.store.Update(queueCollection, &ops, func() (bool, error) {
		ops = append(ops, op)
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("while enqueuing operation %s: %w", op.ID, err)
	}
	return nil
}

// Dequeue removes the operation with the given id.  Removing an id that is
// no longer queued is not an error.
func (q *Queue) Dequeue(id string) error {
	var ops []dbtypes.PendingOperation
	err := q.store.Update(queueCollection, &ops, func() (bool, error) {
		kept := ops[:0]
		for _, op := range ops {
			if op.ID != id {
				kept = append(kept, op)
			}
		}
		changed := len(kept) != len(ops)
		ops = kept
		return changed, nil
	})
	if err != nil {
		return fmt.Errorf("while dequeuing operation %s: %w", id, err)
	}
	return nil
}

// Snapshot returns the queued operations in enqueue order without removing
// them.  Items are only removed, via Dequeue, once the corresponding remote
// write has been confirmed.
func (q *Queue) Snapshot() ([]dbtypes.PendingOperation, error) {
	var ops []dbtypes.PendingOperation
	if err := q.store.List(queueCollection, &ops); err != nil {
		return nil, fmt.Errorf("while reading sync queue: %w", err)
	}
	return ops, nil
}

// Len returns the number of queued operations.
func (q *Queue) Len() (int, error) {
	ops, err := q.Snapshot()
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

// Clear drops every queued operation.  Used on sign-out.
func (q *Queue) Clear() error {
	if err := q.store.Put(queueCollection, []dbtypes.PendingOperation{}); err != nil {
		return fmt.Errorf("while clearing sync queue: %w", err)
	}
	return nil
}
