package queue

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dts-project/dts/pkg/control"
	"github.com/dts-project/dts/pkg/dtserr"
	"github.com/dts-project/dts/pkg/log"
	"github.com/dts-project/dts/pkg/metrics"
	"github.com/dts-project/dts/pkg/spool"
	"github.com/dts-project/dts/pkg/types"
	"github.com/rs/zerolog"
)

// pollInterval is the short sleep used while waiting for backlog or for a
// slot's _lock to clear.
const pollInterval = 200 * time.Millisecond

// retryBackoff is the constant backoff between retries of the same slot.
const retryBackoff = 2 * time.Second

// Reachable reports whether the queue's downstream peer currently accepts
// connections; satisfied by pkg/daemon.Monitor.
type Reachable interface {
	IsReachable(queueName string) bool
}

// HopFunc performs one complete upstream-to-downstream hop for the slot at
// slotPath, carrying ctrl. A nil error means the hop completed with
// status OK and current may advance.
type HopFunc func(ctx context.Context, q *types.Queue, slotPath string, ctrl *types.ControlRecord) error

// Manager runs the backlog-drain loop for exactly one queue.
type Manager struct {
	queue *types.Queue
	store *spool.Store
	hop   HopFunc
	ready Reachable

	logger zerolog.Logger

	mu    sync.RWMutex
	state types.QueueState

	stopCh chan struct{}
	doneCh chan struct{}

	lastFile atomic.Value // string

	// retryBackoff overrides the package-level retryBackoff constant;
	// tests shrink it to keep retry-loop cases fast.
	retryBackoff time.Duration
}

// NewManager returns a Manager for q, idle until Run is called.
func NewManager(q *types.Queue, store *spool.Store, hop HopFunc, ready Reachable) *Manager {
	m := &Manager{
		queue:        q,
		store:        store,
		hop:          hop,
		ready:        ready,
		logger:       log.WithComponent("queue").With().Str("queue", q.Name).Logger(),
		state:        types.QueueActive,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		retryBackoff: retryBackoff,
	}
	m.lastFile.Store("")
	return m
}

// Name returns the queue's configured name.
func (m *Manager) Name() string { return m.queue.Name }

// State returns the manager's current admission state.
func (m *Manager) State() types.QueueState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) setState(s types.QueueState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Start transitions a paused/waiting queue back to active.
func (m *Manager) Start() {
	m.setState(types.QueueActive)
}

// Pause refuses new work but lets an in-flight hop finish.
func (m *Manager) Pause() {
	m.setState(types.QueuePaused)
}

// Shutdown marks the queue for terminal drain-and-exit.
func (m *Manager) Shutdown() {
	m.setState(types.QueueShutdown)
}

// Stop signals Run to exit immediately regardless of in-flight work's
// state, used at daemon shutdown.
func (m *Manager) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

// Poke forces current += 1 without processing the discarded slot.
func (m *Manager) Poke() error {
	if err := m.store.Poke(m.queue.Name); err != nil {
		return err
	}
	metrics.ObjectsFailedTotal.WithLabelValues(m.queue.Name, "poked").Inc()
	return nil
}

// Flush sets current := next, discarding the entire backlog.
func (m *Manager) Flush() error {
	return m.store.Flush(m.queue.Name)
}

// Backlog returns next - current for this queue.
func (m *Manager) Backlog() (int64, error) {
	next, err := m.store.Next(m.queue.Name)
	if err != nil {
		return 0, err
	}
	cur, err := m.store.Current(m.queue.Name)
	if err != nil {
		return 0, err
	}
	return next - cur, nil
}

// Run drives the main loop until Stop is called or ctx is cancelled. For
// an endpoint queue with no configured downstream, the loop idles:
// delivery happens inside endTransfer on the upstream's call into this
// node, not from this side.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.doneCh)

	if m.queue.Dest == "" {
		m.setState(types.QueueWaiting)
		select {
		case <-ctx.Done():
		case <-m.stopCh:
		}
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		default:
		}

		state := m.State()
		if state == types.QueueShutdown {
			backlog, err := m.Backlog()
			if err != nil || backlog == 0 {
				return
			}
		}
		if state != types.QueueActive && state != types.QueueRunning && state != types.QueueShutdown {
			m.sleep(pollInterval)
			continue
		}

		backlog, err := m.Backlog()
		if err != nil {
			m.logger.Error().Err(err).Msg("backlog check failed")
			m.sleep(m.retryBackoff)
			continue
		}
		if backlog <= 0 {
			m.setState(types.QueueWaiting)
			m.sleep(pollInterval)
			if m.State() == types.QueueWaiting {
				m.setState(types.QueueActive)
			}
			continue
		}

		m.setState(types.QueueRunning)
		m.runOneCycle(ctx)
	}
}

func (m *Manager) runOneCycle(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.QueueLoopDuration, m.queue.Name)
	defer metrics.QueueLoopCyclesTotal.WithLabelValues(m.queue.Name).Inc()

	cur, err := m.store.Current(m.queue.Name)
	if err != nil {
		m.logger.Error().Err(err).Msg("read current failed")
		m.sleep(m.retryBackoff)
		return
	}
	slot, err := m.store.ReadCurrentSlot(m.queue.Name)
	if err != nil {
		m.logger.Error().Err(err).Msg("read current slot failed")
		m.sleep(m.retryBackoff)
		return
	}
	if !slot.Exists {
		return
	}
	if slot.Locked {
		m.sleep(pollInterval)
		return
	}
	if slot.HasErr {
		m.logger.Warn().Int64("slot", cur).Msg("slot marked ERR, skipping")
		metrics.ObjectsFailedTotal.WithLabelValues(m.queue.Name, "marked_err").Inc()
		_ = m.store.AdvanceCurrent(m.queue.Name, m.queue.AutoPurge)
		return
	}

	ctrl, err := control.ReadFile(filepath.Join(slot.Path, "_control"))
	if err != nil {
		m.logger.Warn().Err(err).Int64("slot", cur).Msg("missing or unreadable _control, skipping")
		metrics.ObjectsFailedTotal.WithLabelValues(m.queue.Name, "missing_control").Inc()
		_ = m.store.AdvanceCurrent(m.queue.Name, m.queue.AutoPurge)
		return
	}

	if m.ready != nil && !m.ready.IsReachable(m.queue.Name) {
		m.logger.Warn().Msg("downstream unreachable, retrying")
		m.sleep(m.retryBackoff)
		return
	}

	hopErr := m.hop(ctx, m.queue, slot.Path, ctrl)
	if hopErr != nil {
		kind := "transient"
		switch {
		case isKind(hopErr, dtserr.ErrIntegrity):
			kind = "integrity"
		case isKind(hopErr, dtserr.ErrProtocolViolation):
			kind = "protocol_violation"
		case isKind(hopErr, dtserr.ErrAdmissionRejected):
			kind = "admission_rejected"
		}
		m.logger.Error().Err(hopErr).Int64("slot", cur).Msg("hop failed, will retry")
		metrics.ObjectsFailedTotal.WithLabelValues(m.queue.Name, kind).Inc()
		m.sleep(m.retryBackoff)
		return
	}

	m.lastFile.Store(ctrl.Filename)
	metrics.ObjectsTransferredTotal.WithLabelValues(m.queue.Name).Inc()
	metrics.BytesTransferredTotal.WithLabelValues(m.queue.Name).Add(float64(ctrl.FileSize))
	_ = m.store.AppendLog(m.queue.Name, false, "ok", ctrl.FileSize)
	if err := m.store.AdvanceCurrent(m.queue.Name, m.queue.AutoPurge); err != nil {
		m.logger.Error().Err(err).Msg("advance current failed after successful hop")
	}
}

func (m *Manager) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-m.stopCh:
	}
}

func isKind(err error, kind error) bool {
	for {
		if err == kind {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
		if err == nil {
			return false
		}
	}
}
