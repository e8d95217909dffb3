package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dts-project/dts/pkg/config"
	"github.com/dts-project/dts/pkg/control"
	"github.com/dts-project/dts/pkg/types"
	"github.com/stretchr/testify/require"
)

func mustParseConfig(t *testing.T, text string) *config.Config {
	t.Helper()
	cfg, err := config.Parse(strings.NewReader(text))
	require.NoError(t, err)
	return cfg
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// TestDaemonHopsAndDeliversAcrossTwoNodes builds two Daemons on
// localhost, seeds an object directly into node1's spool for a queue
// whose Dest is node2, and verifies the bytes arrive at node2 and are
// delivered to the configured delivery directory. Each daemon loads its
// own Config, mirroring two independently-deployed dts_config files that
// happen to share a queue name across one hop.
func TestDaemonHopsAndDeliversAcrossTwoNodes(t *testing.T) {
	const cmdPort1 = 29101
	const cmdPort2 = 29102
	const stripePort = 29200

	deliveryDir := t.TempDir()

	cfg1 := mustParseConfig(t, fmt.Sprintf(`
password xyzzy

dts
	name node1
	host 127.0.0.1
	port %d

dts
	name node2
	host 127.0.0.1
	port %d

queue
	name q1
	node node1
	type transfer
	dest node2
	nthreads 1
	port %d
`, cmdPort1, cmdPort2, stripePort))
	cfg1.Self = "node1"

	cfg2 := mustParseConfig(t, fmt.Sprintf(`
password xyzzy

dts
	name node2
	host 127.0.0.1
	port %d

queue
	name q1
	node node2
	type endpoint
	deliverydir %s
	deliverycmd cp $F $D
	nthreads 1
	port %d
`, cmdPort2, deliveryDir, stripePort))
	cfg2.Self = "node2"

	dir1 := t.TempDir()
	dir2 := t.TempDir()

	d1, err := New(cfg1, dir1)
	require.NoError(t, err)
	d2, err := New(cfg2, dir2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, d2.Start(ctx))
	defer d2.Stop()
	require.NoError(t, d1.Start(ctx))
	defer d1.Stop()

	const payload = "hello from node1\n"
	slot, slotPath, err := d1.store.Allocate("q1", int64(len(payload)))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(slotPath, "obj.dat"), []byte(payload), 0o644))

	ctrl := &types.ControlRecord{
		QueueName: "q1",
		Filename:  "obj.dat",
		FileSize:  int64(len(payload)),
	}
	require.NoError(t, control.WriteFile(filepath.Join(slotPath, "_control"), ctrl))
	require.NoError(t, d1.store.MarkIngestComplete("q1", slot))

	deliveredPath := filepath.Join(deliveryDir, "obj.dat")
	waitUntil(t, 10*time.Second, func() bool {
		_, err := os.Stat(deliveredPath)
		return err == nil
	})

	got, err := os.ReadFile(deliveredPath)
	require.NoError(t, err)
	require.Equal(t, payload, string(got))
}

// TestMonitorIsReachableDefaultsOptimistic verifies that a queue with no
// configured Dest, and a queue name absent from the config, are both
// treated as reachable without any probe.
func TestMonitorIsReachableDefaultsOptimistic(t *testing.T) {
	cfg := mustParseConfig(t, `
dts
	name node1
	host 127.0.0.1
	port 29301

queue
	name q1
	node node1
	type endpoint
	deliverydir /tmp/dts-monitor-test
`)
	cfg.Self = "node1"

	m := NewMonitor(cfg)
	require.True(t, m.IsReachable("q1"))
	require.True(t, m.IsReachable("unknown-queue"))
}
