package daemon

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/dts-project/dts/pkg/config"
	"github.com/dts-project/dts/pkg/journal"
	"github.com/dts-project/dts/pkg/log"
	"github.com/dts-project/dts/pkg/metrics"
	"github.com/dts-project/dts/pkg/queue"
	"github.com/dts-project/dts/pkg/spool"
	"github.com/dts-project/dts/pkg/types"
	"github.com/dts-project/dts/pkg/xrpc"
	"github.com/rs/zerolog"
)

// Daemon owns every per-process component for one node: the spool, one
// queue.Manager per locally-hosted queue, the xrpc command server,
// downstream reachability monitoring, the metrics collector, and the
// optional hop journal.
type Daemon struct {
	cfg  *config.Config
	self *types.Node

	store     *spool.Store
	queues    *queue.Set
	server    *xrpc.Server
	monitor   *Monitor
	journal   *journal.Journal
	collector *metrics.Collector

	rootMu sync.RWMutex
	fsRoot string // base directory for the file-utility RPC group

	xfers sync.Map // queue+"/"+slot -> context.CancelFunc, in-flight stripe sessions

	logger zerolog.Logger
}

// New constructs a Daemon for cfg.Self's node, opening (but not yet
// serving) its spool, journal, and xrpc server.
func New(cfg *config.Config, dataDir string) (*Daemon, error) {
	self, ok := cfg.Node(cfg.Self)
	if !ok {
		return nil, fmt.Errorf("daemon: node %q not present in config", cfg.Self)
	}

	store, err := spool.New(dataDir)
	if err != nil {
		return nil, err
	}

	jr, err := journal.Open(dataDir)
	if err != nil {
		log.WithComponent("daemon").Warn().Err(err).Msg("journal unavailable, continuing without hop history")
		jr = nil
	}

	fsRoot := self.Root
	if fsRoot == "" {
		fsRoot = dataDir
	}

	d := &Daemon{
		cfg:     cfg,
		self:    self,
		store:   store,
		queues:  queue.NewSet(store),
		server:  xrpc.NewServer(cfg.Password, xrpc.RecoverMiddleware(), xrpc.LoggingMiddleware(), xrpc.MetricsMiddleware()),
		monitor: NewMonitor(cfg),
		journal: jr,
		fsRoot:  fsRoot,
		logger:  log.WithComponent("daemon").With().Str("node", self.Name).Logger(),
	}
	d.registerHandlers()
	return d, nil
}

func (d *Daemon) registerHandlers() {
	d.server.Register("queueAccept", d.handleQueueAccept)
	d.server.Register("initTransfer", d.handleInitTransfer)
	d.server.Register("setQueueControl", d.handleSetQueueControl)
	d.server.Register("xferPush", d.handleXferPush)
	d.server.Register("xferPull", d.handleXferPull)
	d.server.Register("endTransfer", d.handleEndTransfer)
	d.server.Register("cancelTransfer", d.handleCancelTransfer)

	d.server.Register("startQueue", d.handleStartQueue)
	d.server.Register("stopQueue", d.handleStopQueue)
	d.server.Register("pauseQueue", d.handlePauseQueue)
	d.server.Register("pokeQueue", d.handlePokeQueue)
	d.server.Register("flushQueue", d.handleFlushQueue)
	d.server.Register("listQueue", d.handleListQueue)
	d.server.Register("printQueueCfg", d.handlePrintQueueCfg)
	d.server.Register("queueRelease", d.handleQueueRelease)
	d.server.Register("queueComplete", d.handleQueueComplete)

	d.registerFileUtilHandlers()
	d.registerDiagnosticHandlers()
}

// Start recovers every local queue's spool state, opens the xrpc
// listener, begins reachability probing, and starts one manager per
// locally-hosted queue.
func (d *Daemon) Start(ctx context.Context) error {
	d.monitor.Start()

	addr := net.JoinHostPort(d.self.Host, strconv.Itoa(d.self.Port))
	if err := d.server.Listen(addr); err != nil {
		return fmt.Errorf("daemon: %w", err)
	}
	go func() {
		if err := d.server.Serve(); err != nil {
			d.logger.Error().Err(err).Msg("xrpc server exited")
		}
	}()

	hop := NewHopFunc(d)

	for _, q := range d.cfg.QueuesOnNode(d.cfg.Self) {
		if _, err := d.store.Recover(q.Name); err != nil {
			return fmt.Errorf("daemon: recover queue %s: %w", q.Name, err)
		}
		if _, err := d.queues.Add(ctx, q, hop, d.monitor); err != nil {
			return fmt.Errorf("daemon: %w", err)
		}
	}

	d.collector = metrics.NewCollector(d.queues).WithReachability(d.monitor)
	d.collector.Start()

	metrics.RegisterComponent("spool", true, "ready")
	metrics.RegisterComponent("xrpc", true, "ready")
	d.logger.Info().Str("addr", addr).Int("queues", len(d.cfg.QueuesOnNode(d.cfg.Self))).Msg("daemon started")
	return nil
}

// Stop drains and stops every component in reverse dependency order.
func (d *Daemon) Stop() {
	if d.collector != nil {
		d.collector.Stop()
	}
	d.queues.StopAll()
	d.server.Stop()
	d.monitor.Stop()
	if d.journal != nil {
		_ = d.journal.Close()
	}
	d.logger.Info().Msg("daemon stopped")
}

// Addr returns the command-port address the xrpc server is listening on.
func (d *Daemon) Addr() string {
	return d.server.Addr()
}
