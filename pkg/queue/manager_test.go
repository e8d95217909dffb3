package queue

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dts-project/dts/pkg/control"
	"github.com/dts-project/dts/pkg/dtserr"
	"github.com/dts-project/dts/pkg/spool"
	"github.com/dts-project/dts/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestQueue(name, dest string) *types.Queue {
	return &types.Queue{Name: name, Type: types.QueueTransfer, Dest: dest}
}

func seedObject(t *testing.T, store *spool.Store, queueName string, size int64) int64 {
	t.Helper()
	k, path, err := store.Allocate(queueName, size)
	require.NoError(t, err)

	ctrl := &types.ControlRecord{QueueName: queueName, Filename: "obj.dat", FileSize: size}
	require.NoError(t, os.WriteFile(filepath.Join(path, "_control"), control.Emit(ctrl), 0o644))
	require.NoError(t, store.MarkIngestComplete(queueName, k))
	return k
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestManagerAdvancesOnSuccessfulHop(t *testing.T) {
	store, err := spool.New(t.TempDir())
	require.NoError(t, err)
	q := newTestQueue("q1", "downstream-node")
	seedObject(t, store, q.Name, 10)

	var calls int32
	hop := func(ctx context.Context, q *types.Queue, slotPath string, ctrl *types.ControlRecord) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}

	m := NewManager(q, store, hop, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)
	defer m.Stop()

	waitFor(t, 2*time.Second, func() bool {
		cur, err := store.Current(q.Name)
		return err == nil && cur == 1
	})
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestManagerRetriesSameSlotOnHopFailure(t *testing.T) {
	store, err := spool.New(t.TempDir())
	require.NoError(t, err)
	q := newTestQueue("q1", "downstream-node")
	seedObject(t, store, q.Name, 10)

	var calls int32
	hop := func(ctx context.Context, q *types.Queue, slotPath string, ctrl *types.ControlRecord) error {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return dtserr.ErrTransient
		}
		return nil
	}

	m := NewManager(q, store, hop, nil)
	m.retryBackoff = 50 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)
	defer m.Stop()

	waitFor(t, 5*time.Second, func() bool {
		cur, err := store.Current(q.Name)
		return err == nil && cur == 1
	})
	require.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(3))
}

func TestManagerSkipsErrMarkedSlot(t *testing.T) {
	store, err := spool.New(t.TempDir())
	require.NoError(t, err)
	q := newTestQueue("q1", "downstream-node")
	k := seedObject(t, store, q.Name, 10)
	require.NoError(t, store.MarkErr(q.Name, k))

	hop := func(ctx context.Context, q *types.Queue, slotPath string, ctrl *types.ControlRecord) error {
		t.Fatal("hop should not be called for an ERR-marked slot")
		return nil
	}

	m := NewManager(q, store, hop, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)
	defer m.Stop()

	waitFor(t, 2*time.Second, func() bool {
		cur, err := store.Current(q.Name)
		return err == nil && cur == 1
	})
}

func TestManagerPauseStopsAdmittingWork(t *testing.T) {
	store, err := spool.New(t.TempDir())
	require.NoError(t, err)
	q := newTestQueue("q1", "downstream-node")
	seedObject(t, store, q.Name, 10)

	hop := func(ctx context.Context, q *types.Queue, slotPath string, ctrl *types.ControlRecord) error {
		t.Fatal("hop should not run while paused")
		return nil
	}

	m := NewManager(q, store, hop, nil)
	m.Pause()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)
	defer m.Stop()

	time.Sleep(300 * time.Millisecond)
	cur, err := store.Current(q.Name)
	require.NoError(t, err)
	require.Equal(t, int64(0), cur)
	require.Equal(t, types.QueuePaused, m.State())
}

func TestManagerPokeSkipsWithoutHop(t *testing.T) {
	store, err := spool.New(t.TempDir())
	require.NoError(t, err)
	q := newTestQueue("q1", "downstream-node")
	seedObject(t, store, q.Name, 10)

	m := NewManager(q, store, nil, nil)
	require.NoError(t, m.Poke())

	cur, err := store.Current(q.Name)
	require.NoError(t, err)
	require.Equal(t, int64(1), cur)
}

func TestManagerWithoutDestIdles(t *testing.T) {
	store, err := spool.New(t.TempDir())
	require.NoError(t, err)
	q := newTestQueue("endpoint", "")

	m := NewManager(q, store, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, types.QueueWaiting, m.State())
	cancel()
	m.Stop()
}

type unreachable struct{}

func (unreachable) IsReachable(string) bool { return false }

func TestManagerWaitsWhenDownstreamUnreachable(t *testing.T) {
	store, err := spool.New(t.TempDir())
	require.NoError(t, err)
	q := newTestQueue("q1", "downstream-node")
	seedObject(t, store, q.Name, 10)

	hop := func(ctx context.Context, q *types.Queue, slotPath string, ctrl *types.ControlRecord) error {
		t.Fatal("hop should not run while downstream is unreachable")
		return nil
	}

	m := NewManager(q, store, hop, unreachable{})
	m.retryBackoff = 50 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)
	defer m.Stop()

	time.Sleep(100 * time.Millisecond)
	cur, err := store.Current(q.Name)
	require.NoError(t, err)
	require.Equal(t, int64(0), cur)
}
