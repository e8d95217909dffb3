package metrics

import (
	"time"

	"github.com/dts-project/dts/pkg/types"
)

// QueueSource is the minimal view of the daemon's queue set a Collector
// needs; pkg/queue implements it. Declared here, rather than imported,
// to keep metrics from depending on the package it instruments.
type QueueSource interface {
	Queues() []*types.Queue
	Backlog(queueName string) (int64, error)
}

// Reachability is the minimal view of pkg/daemon's Monitor a Collector
// needs to feed per-queue health components; declared here for the same
// reason as QueueSource.
type Reachability interface {
	IsReachable(queueName string) bool
}

// Collector periodically samples queue state into the gauge metrics on a
// fixed ticker, and (when a Reachability source is set) refreshes each
// transfer queue's health component from the last downstream probe.
type Collector struct {
	source       QueueSource
	reachability Reachability
	stopCh       chan struct{}
}

// NewCollector returns a Collector sampling from source.
func NewCollector(source QueueSource) *Collector {
	return &Collector{source: source, stopCh: make(chan struct{})}
}

// WithReachability attaches a downstream reachability source, enabling
// per-queue health components; it returns c for chaining at construction.
func (c *Collector) WithReachability(r Reachability) *Collector {
	c.reachability = r
	return c
}

// Start begins sampling on a 15s ticker, collecting immediately first.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the sampling ticker.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	queues := c.source.Queues()

	counts := make(map[[2]string]int)
	for _, q := range queues {
		counts[[2]string{string(q.Type), string(q.State)}]++
	}
	for k, n := range counts {
		QueuesTotal.WithLabelValues(k[0], k[1]).Set(float64(n))
	}

	for _, q := range queues {
		backlog, err := c.source.Backlog(q.Name)
		if err != nil {
			continue
		}
		QueueBacklog.WithLabelValues(q.Name).Set(float64(backlog))
	}

	if c.reachability == nil {
		return
	}
	for _, q := range queues {
		if q.Dest == "" {
			continue
		}
		RegisterQueueReachability(q.Name, c.reachability.IsReachable(q.Name))
	}
}
