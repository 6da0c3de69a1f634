// Package syncer coordinates local mutations with the remote document store.
//
// Every mutation commits locally first; the coordinator then either writes
// through to the remote store or defers the operation into the durable sync
// queue.  The local store stays the source of truth for the UI at all times,
// so a sync failure is never fatal; the worst case is "not yet backed up".
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/israfil-hossain/mediremind/dbtypes"
	"github.com/israfil-hossain/mediremind/docstore"
	"github.com/israfil-hossain/mediremind/localstore"
	"github.com/israfil-hossain/mediremind/syncmetrics"
	"github.com/israfil-hossain/mediremind/syncqueue"
)

const lastSyncMeta = "sync/last"

// bulkPushParallelism bounds concurrent remote writes during a full push.
const bulkPushParallelism = 4

// RemoteStore is the slice of the document store client the coordinator uses.
type RemoteStore interface {
	Write(ctx context.Context, col dbtypes.Collection, id string, doc docstore.Document, action dbtypes.Action) (docstore.WriteResult, error)
	ListCollection(ctx context.Context, col dbtypes.Collection) ([]docstore.Document, error)
}

// Identity is the slice of the identity provider the coordinator uses.
type Identity interface {
	UserID() string
}

// Coordinator is the sync orchestration point.  One instance exists per
// process; the connectivity monitor and the storage layer both feed it.
type Coordinator struct {
	store   *localstore.Store
	queue   *syncqueue.Queue
	remote  RemoteStore
	ident   Identity
	metrics *syncmetrics.Metrics

	// draining makes queue drains single flight: a trigger that arrives
	// while a drain is running is dropped, not queued.
	draining atomic.Bool

	mu        sync.Mutex
	connected bool
	reachable bool
	lastSync  time.Time

	now func() time.Time
}

type CoordinatorOpt func(*Coordinator)

// WithMetrics attaches sync counters.
func WithMetrics(m *syncmetrics.Metrics) CoordinatorOpt {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) CoordinatorOpt {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator, loading the persisted last-sync timestamp.
func New(store *localstore.Store, queue *syncqueue.Queue, remote RemoteStore, ident Identity, opts ...CoordinatorOpt) *Coordinator {
	c := &Coordinator{
		store:  store,
		queue:  queue,
		remote: remote,
		ident:  ident,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if raw, ok, err := store.GetMeta(lastSyncMeta); err == nil && ok {
		if t, err := time.Parse(time.RFC3339, string(raw)); err == nil {
			c.lastSync = t
		}
	}
	return c
}

// SetNetState records the latest connectivity sample.
func (c *Coordinator) SetNetState(connected, reachable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = connected
	c.reachable = reachable
}

// IsOnline reports whether remote writes are currently worth attempting:
// connected, internet reachable, and a user signed in.
func (c *Coordinator) IsOnline() bool {
	c.mu.Lock()
	connected := c.connected && c.reachable
	c.mu.Unlock()
	return connected && c.ident.UserID() != ""
}

// LastSyncTime returns the completion time of the last successful full sync
// or drain.  The second return is false if no sync has ever completed.
func (c *Coordinator) LastSyncTime() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSync, !c.lastSync.IsZero()
}

func (c *Coordinator) markSynced() {
	now := c.now()
	c.mu.Lock()
	c.lastSync = now
	c.mu.Unlock()
	if err := c.store.SetMeta(lastSyncMeta, []byte(now.Format(time.RFC3339))); err != nil {
		slog.Warn("Could not persist last-sync timestamp", slog.Any("err", err))
	}
}

// SyncOrQueue pushes one mutation to the remote store, deferring it into the
// queue when the device is offline, signed out, or the write fails.  It never
// propagates an error back into the mutation path: the local write has
// already committed and must not appear to fail.
func (c *Coordinator) SyncOrQueue(ctx context.Context, col dbtypes.Collection, action dbtypes.Action, id string, entity any) {
	if c.ident.UserID() == "" {
		// Signed out: nothing to sync, and nothing to queue either.
		// A later first login runs a full push instead.
		return
	}

	if !c.IsOnline() {
		c.enqueue(ctx, col, action, id, entity)
		return
	}

	doc, err := encodeForWrite(col, action, entity)
	if err != nil {
		slog.WarnContext(ctx, "Could not encode entity for remote write, queuing",
			slog.String("collection", string(col)), slog.String("id", id), slog.Any("err", err))
		c.enqueue(ctx, col, action, id, entity)
		return
	}

	result, err := c.remote.Write(ctx, col, id, doc, action)
	c.metrics.RecordRemoteWrite(ctx, string(col), result.String())
	if result == docstore.WriteOK {
		return
	}

	slog.InfoContext(ctx, "Direct sync failed, queuing operation",
		slog.String("collection", string(col)), slog.String("id", id),
		slog.String("result", result.String()), slog.Any("err", err))
	c.enqueue(ctx, col, action, id, entity)
}

func encodeForWrite(col dbtypes.Collection, action dbtypes.Action, entity any) (docstore.Document, error) {
	if action == dbtypes.ActionDelete {
		return nil, nil
	}
	return docstore.EncodeEntity(col, entity)
}

func (c *Coordinator) enqueue(ctx context.Context, col dbtypes.Collection, action dbtypes.Action, id string, entity any) {
	var payload []byte
	var err error
	if action == dbtypes.ActionDelete {
		payload, err = json.Marshal(dbtypes.DeletePayload{ID: id})
	} else {
		payload, err = json.Marshal(entity)
	}
	if err != nil {
		slog.ErrorContext(ctx, "Could not marshal operation payload; mutation will not be backed up",
			slog.String("collection", string(col)), slog.String("id", id), slog.Any("err", err))
		return
	}

	op := dbtypes.PendingOperation{
		ID:         dbtypes.NewID(),
		Collection: col,
		Action:     action,
		Payload:    payload,
		CreatedAt:  c.now(),
	}
	if err := c.queue.Enqueue(op); err != nil {
		slog.ErrorContext(ctx, "Could not enqueue operation", slog.Any("err", err))
		return
	}
	c.metrics.RecordQueued(ctx, string(col))
}

// DrainReport describes the outcome of one queue drain pass.
type DrainReport struct {
	// Skipped is true when another drain was already in flight or the
	// device was offline; nothing was attempted.
	Skipped bool

	// Processed counts operations confirmed remotely and removed.
	Processed int

	// Dropped counts operations removed because the remote store rejected
	// them permanently; retrying the identical write cannot succeed.
	Dropped int

	// Remaining counts operations still queued after the pass.
	Remaining int
}

// Drain pushes queued operations to the remote store in enqueue order.  An
// operation is removed only after its remote write is confirmed.  On a
// retriable failure the pass stops so queue order is preserved; the failed
// operation and everything behind it stay queued for the next pass.
//
// Drains are single flight: if one is already running this call reports
// Skipped and does nothing.
func (c *Coordinator) Drain(ctx context.Context) (DrainReport, error) {
	if !c.draining.CompareAndSwap(false, true) {
		return DrainReport{Skipped: true}, nil
	}
	defer c.draining.Store(false)

	if !c.IsOnline() {
		n, _ := c.queue.Len()
		return DrainReport{Skipped: true, Remaining: n}, nil
	}

	ops, err := c.queue.Snapshot()
	if err != nil {
		return DrainReport{}, fmt.Errorf("while snapshotting queue: %w", err)
	}
	if len(ops) == 0 {
		return DrainReport{}, nil
	}

	slog.InfoContext(ctx, "Draining sync queue", slog.Int("pending", len(ops)))
	c.metrics.RecordDrainPass(ctx)

	report := DrainReport{Remaining: len(ops)}
	for _, op := range ops {
		id, doc, err := decodeOperation(op)
		var result docstore.WriteResult
		if err != nil {
			// An undecodable operation can never be written; treat it
			// like a permanent remote rejection.
			result = docstore.WritePermanent
		} else {
			result, err = c.remote.Write(ctx, op.Collection, id, doc, op.Action)
			c.metrics.RecordRemoteWrite(ctx, string(op.Collection), result.String())
		}

		switch result {
		case docstore.WriteOK:
			if err := c.queue.Dequeue(op.ID); err != nil {
				return report, fmt.Errorf("while removing confirmed operation %s: %w", op.ID, err)
			}
			report.Processed++
			report.Remaining--
		case docstore.WritePermanent:
			slog.WarnContext(ctx, "Dropping permanently failed operation",
				slog.String("op", op.ID), slog.String("collection", string(op.Collection)), slog.Any("err", err))
			if err := c.queue.Dequeue(op.ID); err != nil {
				return report, fmt.Errorf("while removing rejected operation %s: %w", op.ID, err)
			}
			report.Dropped++
			report.Remaining--
		default:
			return report, fmt.Errorf("while draining operation %s: %w", op.ID, err)
		}
	}

	if report.Remaining == 0 {
		c.markSynced()
	}
	return report, nil
}

// decodeOperation reconstructs the remote write for a queued operation.
func decodeOperation(op dbtypes.PendingOperation) (string, docstore.Document, error) {
	if op.Action == dbtypes.ActionDelete {
		del := dbtypes.DeletePayload{}
		if err := json.Unmarshal(op.Payload, &del); err != nil {
			return "", nil, fmt.Errorf("while unmarshaling delete payload: %w", err)
		}
		return del.ID, nil, nil
	}

	switch op.Collection {
	case dbtypes.CollectionMedications:
		e := &dbtypes.Medication{}
		if err := json.Unmarshal(op.Payload, e); err != nil {
			return "", nil, fmt.Errorf("while unmarshaling medication payload: %w", err)
		}
		return e.ID, docstore.EncodeMedication(e), nil
	case dbtypes.CollectionDoseEvents:
		e := &dbtypes.DoseEvent{}
		if err := json.Unmarshal(op.Payload, e); err != nil {
			return "", nil, fmt.Errorf("while unmarshaling dose event payload: %w", err)
		}
		return e.ID, docstore.EncodeDoseEvent(e), nil
	case dbtypes.CollectionPrescriptions:
		e := &dbtypes.Prescription{}
		if err := json.Unmarshal(op.Payload, e); err != nil {
			return "", nil, fmt.Errorf("while unmarshaling prescription payload: %w", err)
		}
		return e.ID, docstore.EncodePrescription(e), nil
	case dbtypes.CollectionFamilyProfiles:
		e := &dbtypes.FamilyProfile{}
		if err := json.Unmarshal(op.Payload, e); err != nil {
			return "", nil, fmt.Errorf("while unmarshaling family profile payload: %w", err)
		}
		return e.ID, docstore.EncodeFamilyProfile(e), nil
	case dbtypes.CollectionUserProfile:
		e := &dbtypes.UserProfile{}
		if err := json.Unmarshal(op.Payload, e); err != nil {
			return "", nil, fmt.Errorf("while unmarshaling profile payload: %w", err)
		}
		return dbtypes.UserProfileDocID, docstore.EncodeUserProfile(e), nil
	}
	return "", nil, fmt.Errorf("unknown collection %q", op.Collection)
}

// SyncResult is the outcome of a manual sync, shaped for direct display.
type SyncResult struct {
	Success bool
	Error   string
}

// SyncNow forces an immediate full push of all medications and dose events,
// then drains the queue.  Used for the first-login bulk backup and the
// manual "sync now" control.
func (c *Coordinator) SyncNow(ctx context.Context) SyncResult {
	c.mu.Lock()
	connected := c.connected && c.reachable
	c.mu.Unlock()
	if !connected {
		return SyncResult{Error: "no internet connection"}
	}
	if c.ident.UserID() == "" {
		return SyncResult{Error: "not signed in"}
	}

	var meds []dbtypes.Medication
	if err := c.store.List(dbtypes.CollectionMedications, &meds); err != nil {
		return SyncResult{Error: fmt.Sprintf("while reading medications: %v", err)}
	}
	var events []dbtypes.DoseEvent
	if err := c.store.List(dbtypes.CollectionDoseEvents, &events); err != nil {
		return SyncResult{Error: fmt.Sprintf("while reading dose events: %v", err)}
	}

	sem := semaphore.NewWeighted(bulkPushParallelism)
	g, gctx := errgroup.WithContext(ctx)

	push := func(col dbtypes.Collection, id string, doc docstore.Document) {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			result, err := c.remote.Write(gctx, col, id, doc, dbtypes.ActionUpdate)
			c.metrics.RecordRemoteWrite(gctx, string(col), result.String())
			if result != docstore.WriteOK {
				return fmt.Errorf("while pushing %s/%s: %w", col, id, err)
			}
			return nil
		})
	}

	for i := range meds {
		med := meds[i]
		push(dbtypes.CollectionMedications, med.ID, docstore.EncodeMedication(&med))
	}
	for i := range events {
		ev := events[i]
		push(dbtypes.CollectionDoseEvents, ev.ID, docstore.EncodeDoseEvent(&ev))
	}

	if err := g.Wait(); err != nil {
		return SyncResult{Error: err.Error()}
	}

	if _, err := c.Drain(ctx); err != nil {
		return SyncResult{Error: err.Error()}
	}

	c.markSynced()
	return SyncResult{Success: true}
}

// RestoreResult is the outcome of a restore, including partial failures.
type RestoreResult struct {
	Success bool

	// Partial is true when some collections restored and others failed.
	Partial bool

	// Restored maps each successfully restored collection to its document
	// count.
	Restored map[dbtypes.Collection]int

	Errors []string
}

// RestoreFromCloud fetches every remote collection for the signed-in user and
// overwrites the local collections wholesale.  This is a destructive pull,
// not a merge; warning the user first is the caller's responsibility.
//
// Collections that fetch successfully are applied even when others fail; the
// result reports such partial failures explicitly.
func (c *Coordinator) RestoreFromCloud(ctx context.Context) RestoreResult {
	if c.ident.UserID() == "" {
		return RestoreResult{Errors: []string{"not signed in"}}
	}

	result := RestoreResult{Restored: map[dbtypes.Collection]int{}}

	restore := func(col dbtypes.Collection, apply func([]docstore.Document) (int, error)) {
		docs, err := c.remote.ListCollection(ctx, col)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", col, err))
			return
		}
		n, err := apply(docs)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", col, err))
			return
		}
		result.Restored[col] = n
	}

	restore(dbtypes.CollectionMedications, func(docs []docstore.Document) (int, error) {
		meds := make([]dbtypes.Medication, 0, len(docs))
		for _, doc := range docs {
			m, err := docstore.DecodeMedication(doc)
			if err != nil {
				return 0, err
			}
			meds = append(meds, *m)
		}
		return len(meds), c.store.Put(dbtypes.CollectionMedications, meds)
	})
	restore(dbtypes.CollectionDoseEvents, func(docs []docstore.Document) (int, error) {
		events := make([]dbtypes.DoseEvent, 0, len(docs))
		for _, doc := range docs {
			e, err := docstore.DecodeDoseEvent(doc)
			if err != nil {
				return 0, err
			}
			events = append(events, *e)
		}
		return len(events), c.store.Put(dbtypes.CollectionDoseEvents, events)
	})
	restore(dbtypes.CollectionPrescriptions, func(docs []docstore.Document) (int, error) {
		ps := make([]dbtypes.Prescription, 0, len(docs))
		for _, doc := range docs {
			p, err := docstore.DecodePrescription(doc)
			if err != nil {
				return 0, err
			}
			ps = append(ps, *p)
		}
		return len(ps), c.store.Put(dbtypes.CollectionPrescriptions, ps)
	})
	restore(dbtypes.CollectionFamilyProfiles, func(docs []docstore.Document) (int, error) {
		fps := make([]dbtypes.FamilyProfile, 0, len(docs))
		for _, doc := range docs {
			fp, err := docstore.DecodeFamilyProfile(doc)
			if err != nil {
				return 0, err
			}
			fps = append(fps, *fp)
		}
		return len(fps), c.store.Put(dbtypes.CollectionFamilyProfiles, fps)
	})

	restore(dbtypes.CollectionUserProfile, func(docs []docstore.Document) (int, error) {
		if len(docs) == 0 {
			return 0, nil
		}
		p, err := docstore.DecodeUserProfile(docs[0])
		if err != nil {
			return 0, err
		}
		raw, err := json.Marshal(p)
		if err != nil {
			return 0, err
		}
		return 1, c.store.SetMeta(localstore.UserProfileMeta, raw)
	})

	result.Success = len(result.Errors) == 0
	result.Partial = !result.Success && len(result.Restored) > 0
	if result.Success {
		c.markSynced()
	}
	return result
}

// Status is a point-in-time summary of sync health for debug surfaces.
type Status struct {
	Online      bool      `json:"online"`
	QueueLength int       `json:"queueLength"`
	Draining    bool      `json:"draining"`
	LastSync    time.Time `json:"lastSync,omitempty"`
}

func (c *Coordinator) Status() Status {
	n, _ := c.queue.Len()
	last, _ := c.LastSyncTime()
	return Status{
		Online:      c.IsOnline(),
		QueueLength: n,
		Draining:    c.draining.Load(),
		LastSync:    last,
	}
}

// Reset tears down sync state on sign-out: the pending queue and the
// last-sync marker belong to the departing user.
func (c *Coordinator) Reset() error {
	if err := c.queue.Clear(); err != nil {
		return err
	}
	if err := c.store.DeleteMeta(lastSyncMeta); err != nil {
		return err
	}
	c.mu.Lock()
	c.lastSync = time.Time{}
	c.mu.Unlock()
	return nil
}
