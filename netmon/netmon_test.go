package netmon

import (
	"context"
	"sync"
	"testing"

	"github.com/israfil-hossain/mediremind/dbtypes"
	"github.com/israfil-hossain/mediremind/docstore"
	"github.com/israfil-hossain/mediremind/localstore"
	"github.com/israfil-hossain/mediremind/syncer"
	"github.com/israfil-hossain/mediremind/syncqueue"
)

type countingRemote struct {
	mu     sync.Mutex
	writes int
}

func (r *countingRemote) Write(ctx context.Context, col dbtypes.Collection, id string, doc docstore.Document, action dbtypes.Action) (docstore.WriteResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	return docstore.WriteOK, nil
}

func (r *countingRemote) ListCollection(ctx context.Context, col dbtypes.Collection) ([]docstore.Document, error) {
	return nil, nil
}

func (r *countingRemote) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

type staticIdent struct{}

func (staticIdent) UserID() string { return "user-1" }

type scriptedProber struct {
	states []bool
	i      int
}

func (p *scriptedProber) Probe(ctx context.Context) bool {
	if p.i >= len(p.states) {
		return p.states[len(p.states)-1]
	}
	state := p.states[p.i]
	p.i++
	return state
}

func newTestMonitor(t *testing.T, remote syncer.RemoteStore, prober Prober) (*Monitor, *syncer.Coordinator) {
	t.Helper()

	store, err := localstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	coordinator := syncer.New(store, syncqueue.New(store), remote, staticIdent{})
	return New(coordinator, WithProber(prober)), coordinator
}

func TestReconnectDrainsQueue(t *testing.T) {
	remote := &countingRemote{}
	prober := &scriptedProber{states: []bool{false, true}}
	monitor, coordinator := newTestMonitor(t, remote, prober)

	ctx := context.Background()

	// Offline sample: a mutation lands in the queue instead of the remote.
	monitor.Sample(ctx)
	med := dbtypes.Medication{ID: "med-1", Name: "Aspirin"}
	coordinator.SyncOrQueue(ctx, dbtypes.CollectionMedications, dbtypes.ActionAdd, med.ID, &med)
	if got := remote.count(); got != 0 {
		t.Fatalf("Remote writes while offline: got %d, want 0", got)
	}

	// Online sample: the offline-to-online edge drains the queue.
	monitor.Sample(ctx)
	if got := remote.count(); got != 1 {
		t.Errorf("Remote writes after reconnect: got %d, want 1", got)
	}
	if got := coordinator.Status().QueueLength; got != 0 {
		t.Errorf("Queue length after reconnect: got %d, want 0", got)
	}
}

func TestSteadyOnlineDoesNotRedrain(t *testing.T) {
	remote := &countingRemote{}
	prober := &scriptedProber{states: []bool{true, true, true}}
	monitor, coordinator := newTestMonitor(t, remote, prober)

	ctx := context.Background()
	monitor.Sample(ctx)

	// Queue an operation behind the coordinator's back: direct writes are
	// disabled by dropping connectivity just for the mutation.
	coordinator.SetNetState(false, false)
	med := dbtypes.Medication{ID: "med-1", Name: "Aspirin"}
	coordinator.SyncOrQueue(ctx, dbtypes.CollectionMedications, dbtypes.ActionAdd, med.ID, &med)

	// Steady online samples must not trigger a drain; only an edge does.
	monitor.Sample(ctx)
	monitor.Sample(ctx)
	if got := remote.count(); got != 0 {
		t.Errorf("Remote writes on steady online samples: got %d, want 0", got)
	}
	if got := coordinator.Status().QueueLength; got != 1 {
		t.Errorf("Queue length: got %d, want 1", got)
	}
}

func TestFirstSampleOnlineDrains(t *testing.T) {
	remote := &countingRemote{}
	prober := &scriptedProber{states: []bool{true}}
	monitor, coordinator := newTestMonitor(t, remote, prober)

	ctx := context.Background()

	// Simulate a queue left over from a previous run.
	coordinator.SetNetState(false, false)
	med := dbtypes.Medication{ID: "med-1", Name: "Aspirin"}
	coordinator.SyncOrQueue(ctx, dbtypes.CollectionMedications, dbtypes.ActionAdd, med.ID, &med)

	monitor.Sample(ctx)
	if got := remote.count(); got != 1 {
		t.Errorf("Remote writes after first online sample: got %d, want 1", got)
	}
}
