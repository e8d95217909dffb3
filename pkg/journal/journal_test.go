package journal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordAndEntriesRoundTrip(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Record("q1", Entry{TimeSec: 100, Status: "ok", Bytes: 1024}))
	require.NoError(t, j.Record("q1", Entry{TimeSec: 101, Status: "ok", Bytes: 2048}))

	entries, err := j.Entries("q1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, int64(1024), entries[0].Bytes)
	require.Equal(t, int64(2048), entries[1].Bytes)
}

func TestEntriesForUnknownQueueIsEmpty(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	entries, err := j.Entries("nope")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestNilJournalRecordIsNoop(t *testing.T) {
	var j *Journal
	require.NoError(t, j.Record("q1", Entry{}))
	entries, err := j.Entries("q1")
	require.NoError(t, err)
	require.Nil(t, entries)
	require.NoError(t, j.Close())
}

func TestRecordAssignsXferIDWhenEmpty(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Record("q1", Entry{Status: "ok"}))
	entries, err := j.Entries("q1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotEmpty(t, entries[0].XferID)
}
