package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/dts-project/dts/pkg/config"
	"github.com/dts-project/dts/pkg/health"
	"github.com/dts-project/dts/pkg/log"
)

// Monitor periodically TCP-probes every distinct downstream node named by
// a Dest queue key, and answers pkg/queue.Manager's IsReachable checks
// from the last result rather than probing inline on the hot path.
type Monitor struct {
	cfg      *config.Config
	hc       health.Config
	interval time.Duration

	mu     sync.RWMutex
	status map[string]*health.Status // keyed by node name

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMonitor returns a Monitor over every node cfg's queues name as Dest.
func NewMonitor(cfg *config.Config) *Monitor {
	hc := health.DefaultConfig()
	return &Monitor{
		cfg:      cfg,
		hc:       hc,
		interval: hc.Interval,
		status:   make(map[string]*health.Status),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the probe loop in the background, probing once immediately
// so IsReachable has data before the first queue cycle runs.
func (m *Monitor) Start() {
	go m.run()
}

// Stop halts the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Monitor) run() {
	defer close(m.doneCh)
	m.probeAll()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.probeAll()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) probeAll() {
	logger := log.WithComponent("daemon")
	seen := make(map[string]bool)
	for _, name := range m.cfg.QueueOrder {
		q := m.cfg.Queues[name]
		if q.Dest == "" || seen[q.Dest] {
			continue
		}
		seen[q.Dest] = true

		node, ok := m.cfg.Node(q.Dest)
		if !ok {
			continue
		}

		checker := health.NewTCPChecker(node.Addr()).WithTimeout(m.hc.Timeout)
		result := checker.Check(context.Background())

		m.mu.Lock()
		st, ok := m.status[node.Name]
		if !ok {
			st = health.NewStatus()
			m.status[node.Name] = st
		}
		wasReachable := st.Reachable
		st.Update(result, m.hc)
		nowReachable := st.Reachable
		m.mu.Unlock()

		if wasReachable != nowReachable {
			logger.Info().Str("node", node.Name).Bool("reachable", nowReachable).Msg("downstream reachability changed")
		}
	}
}

// IsReachable implements pkg/queue.Reachable: a queue with no configured
// Dest, or one whose downstream has never been probed, is optimistically
// reachable.
func (m *Monitor) IsReachable(queueName string) bool {
	q, ok := m.cfg.Queue(queueName)
	if !ok || q.Dest == "" {
		return true
	}

	m.mu.RLock()
	st, ok := m.status[q.Dest]
	m.mu.RUnlock()
	if !ok {
		return true
	}
	return st.Reachable
}
