package matchstore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrFault is the cause of every error injected by a FaultStore. Match it
// with errors.Is to tell injected faults from real store failures.
var ErrFault = errors.New("matchstore: injected fault")

// FaultStore wraps a Store and fails a configured fraction of operations
// before they reach the wrapped store. The persistence layer never retries,
// so callers see injected faults exactly as they would see real store
// failures. Close is never injected, keeping cleanup deterministic.
type FaultStore struct {
	store Store
	rate  float64

	connectFaults atomic.Int64
	findFaults    atomic.Int64
	upsertFaults  atomic.Int64
	existsFaults  atomic.Int64
	listFaults    atomic.Int64
}

var _ Store = (*FaultStore)(nil)

// NewFaultStore wraps store so that roughly rate of its operations fail.
// rate is clamped to [0.0, 1.0].
func NewFaultStore(store Store, rate float64) *FaultStore {
	if rate < 0.0 {
		rate = 0.0
	}
	if rate > 1.0 {
		rate = 1.0
	}
	return &FaultStore{store: store, rate: rate}
}

func (f *FaultStore) shouldFault() bool {
	return randFloat64() < f.rate
}

func (f *FaultStore) faultErr(op string) error {
	return fmt.Errorf("%s (rate %.2f): %w", op, f.rate, ErrFault)
}

func (f *FaultStore) Connect(ctx context.Context) error {
	if f.shouldFault() {
		f.connectFaults.Add(1)
		return f.faultErr("connect")
	}
	return f.store.Connect(ctx)
}

func (f *FaultStore) FindOne(ctx context.Context, id GameID) (GameState, error) {
	if f.shouldFault() {
		f.findFaults.Add(1)
		return GameState{}, f.faultErr("findone")
	}
	return f.store.FindOne(ctx, id)
}

func (f *FaultStore) Upsert(ctx context.Context, id GameID, state GameState) error {
	if f.shouldFault() {
		f.upsertFaults.Add(1)
		return f.faultErr("upsert")
	}
	return f.store.Upsert(ctx, id, state)
}

func (f *FaultStore) Exists(ctx context.Context, id GameID) (bool, error) {
	if f.shouldFault() {
		f.existsFaults.Add(1)
		return false, f.faultErr("exists")
	}
	return f.store.Exists(ctx, id)
}

func (f *FaultStore) ListRecent(ctx context.Context, limit int) ([]GameInfo, error) {
	if f.shouldFault() {
		f.listFaults.Add(1)
		return nil, f.faultErr("listrecent")
	}
	return f.store.ListRecent(ctx, limit)
}

func (f *FaultStore) Close() error {
	return f.store.Close()
}

// FaultStats counts injected faults per operation.
type FaultStats struct {
	Connect    int64
	FindOne    int64
	Upsert     int64
	Exists     int64
	ListRecent int64
}

func (f *FaultStore) Faults() FaultStats {
	return FaultStats{
		Connect:    f.connectFaults.Load(),
		FindOne:    f.findFaults.Load(),
		Upsert:     f.upsertFaults.Load(),
		Exists:     f.existsFaults.Load(),
		ListRecent: f.listFaults.Load(),
	}
}
