package transport

import (
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dts-project/dts/pkg/types"
	"github.com/stretchr/testify/require"
)

func runPushPair(t *testing.T, size int64, n int, policy types.ChecksumPolicy) {
	t.Helper()

	srcDir := t.TempDir()
	dstDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "in.bin")
	dstPath := filepath.Join(dstDir, "out.bin")

	payload := make([]byte, size)
	_, err := rand.Read(payload)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(srcPath, payload, 0o644))

	basePort := 20000 + int(size%1000)

	var wg sync.WaitGroup
	wg.Add(2)

	var srcRes, dstRes Result
	var srcErr, dstErr error

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go func() {
		defer wg.Done()
		srcRes, srcErr = Run(ctx, Config{
			Mode: ModePush, IsSource: true,
			NStripes: n, BasePort: basePort, FileSize: size,
			Checksum: policy, LocalHost: "127.0.0.1", PeerHost: "127.0.0.1",
			FilePath: srcPath,
		})
	}()
	go func() {
		defer wg.Done()
		// give the server side a head start on the listen-before-accept path
		time.Sleep(20 * time.Millisecond)
		dstRes, dstErr = Run(ctx, Config{
			Mode: ModePush, IsSource: false,
			NStripes: n, BasePort: basePort, FileSize: size,
			Checksum: policy, LocalHost: "127.0.0.1", PeerHost: "127.0.0.1",
			FilePath: dstPath,
		})
	}()
	wg.Wait()

	require.NoError(t, srcErr)
	require.NoError(t, dstErr)
	require.Equal(t, types.StatusOK, srcRes.Status)
	require.Equal(t, types.StatusOK, dstRes.Status)

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestPushSingleStripeNoChecksum(t *testing.T) {
	runPushPair(t, 64*1024, 1, types.ChecksumNone)
}

func TestPushMultiStripeWithChecksum(t *testing.T) {
	runPushPair(t, 5*1024*1024+777, 4, types.ChecksumChunk)
}

func TestPushSizeNotDivisibleByStripeCount(t *testing.T) {
	runPushPair(t, 10*1024*1024+13, 3, types.ChecksumNone)
}

func TestComputeStripesFirstRemainderStripesGetExtraByte(t *testing.T) {
	stripes := types.ComputeStripes(10, 3)
	require.Len(t, stripes, 3)
	require.Equal(t, int64(4), stripes[0].Len())
	require.Equal(t, int64(3), stripes[1].Len())
	require.Equal(t, int64(3), stripes[2].Len())
}
