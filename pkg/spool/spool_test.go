package spool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestAllocateIncrementsNextAndCreatesSlot(t *testing.T) {
	s := newTestStore(t)

	k0, dir0, err := s.Allocate("q1", 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), k0)
	require.DirExists(t, dir0)

	k1, dir1, err := s.Allocate("q1", 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), k1)
	require.DirExists(t, dir1)

	next, err := s.Next("q1")
	require.NoError(t, err)
	require.Equal(t, int64(2), next)
}

func TestMarkIngestCompleteRemovesLock(t *testing.T) {
	s := newTestStore(t)
	k, dir, err := s.Allocate("q1", 0)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, lockMarker))
	require.NoError(t, err)

	require.NoError(t, s.MarkIngestComplete("q1", k))

	_, err = os.Stat(filepath.Join(dir, lockMarker))
	require.True(t, os.IsNotExist(err))
}

func TestReadCurrentSlotReflectsLockAndErrState(t *testing.T) {
	s := newTestStore(t)
	k, _, err := s.Allocate("q1", 0)
	require.NoError(t, err)

	info, err := s.ReadCurrentSlot("q1")
	require.NoError(t, err)
	require.Equal(t, k, info.Index)
	require.True(t, info.Exists)
	require.True(t, info.Locked)
	require.False(t, info.HasErr)

	require.NoError(t, s.MarkIngestComplete("q1", k))
	require.NoError(t, s.MarkErr("q1", k))

	info, err = s.ReadCurrentSlot("q1")
	require.NoError(t, err)
	require.False(t, info.Locked)
	require.True(t, info.HasErr)
}

func TestAdvanceCurrentWithPurgeRemovesSlot(t *testing.T) {
	s := newTestStore(t)
	_, dir0, err := s.Allocate("q1", 0)
	require.NoError(t, err)
	require.NoError(t, s.MarkIngestComplete("q1", 0))

	require.NoError(t, s.AdvanceCurrent("q1", true))

	_, err = os.Stat(dir0)
	require.True(t, os.IsNotExist(err))

	cur, err := s.Current("q1")
	require.NoError(t, err)
	require.Equal(t, int64(1), cur)
}

func TestFlushSetsCurrentToNext(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		_, _, err := s.Allocate("q1", 0)
		require.NoError(t, err)
	}
	require.NoError(t, s.Flush("q1"))

	cur, err := s.Current("q1")
	require.NoError(t, err)
	require.Equal(t, int64(3), cur)
}

func TestPokeAdvancesWithoutPurging(t *testing.T) {
	s := newTestStore(t)
	_, dir0, err := s.Allocate("q1", 0)
	require.NoError(t, err)

	require.NoError(t, s.Poke("q1"))

	require.DirExists(t, dir0)
	cur, err := s.Current("q1")
	require.NoError(t, err)
	require.Equal(t, int64(1), cur)
}

func TestRecoverReconcilesNextAndFindsLockedSlots(t *testing.T) {
	s := newTestStore(t)

	dir, err := s.QueueDir("q1")
	require.NoError(t, err)
	for _, n := range []string{"0", "1", "2"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, n), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2", lockMarker), nil, 0o644))

	inRecovery, err := s.Recover("q1")
	require.NoError(t, err)
	require.Equal(t, []int64{2}, inRecovery)

	next, err := s.Next("q1")
	require.NoError(t, err)
	require.Equal(t, int64(3), next)
}

func TestPurgeBelowRemovesOnlyOlderSlots(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 4; i++ {
		_, _, err := s.Allocate("q1", 0)
		require.NoError(t, err)
	}

	require.NoError(t, s.PurgeBelow("q1", 2))

	_, err := os.Stat(s.SlotDir("q1", 0))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(s.SlotDir("q1", 1))
	require.True(t, os.IsNotExist(err))
	require.DirExists(t, s.SlotDir("q1", 2))
	require.DirExists(t, s.SlotDir("q1", 3))
}

func TestAppendLogWritesToCorrectFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AppendLog("q1", true, "ok", 1024))
	require.NoError(t, s.AppendLog("q1", false, "ok", 2048))

	dir, err := s.QueueDir("q1")
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, logInFile))
	require.FileExists(t, filepath.Join(dir, logOutFile))
}

func TestWriteStatsProducesSummaryLine(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.WriteStats("q1", Stats{NFiles: 5, Rate: 1.2, Time: 30, Size: 1 << 20, Xfer: 1 << 20, Tput: 33.3}))

	dir, err := s.QueueDir("q1")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, statsFile))
	require.NoError(t, err)
	require.Contains(t, string(data), "5 1.200 30.000")
}
