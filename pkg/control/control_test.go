package control

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/dts-project/dts/pkg/types"
	"github.com/stretchr/testify/require"
)

func sampleRecord() *types.ControlRecord {
	c := &types.ControlRecord{
		QueueName:    "q1",
		QueueHost:    "nodeA",
		QueuePath:    "spool/q1/0",
		Filename:     "data.bin",
		XferFilename: "data.bin",
		SrcPath:      "/submit/data.bin",
		IngestPath:   "nodeA!/submit/data.bin",
		FileSize:     1048576,
		Sum32:        123456,
		CRC32:        987654321,
		MD5:          "d41d8cd98f00b204e9800998ecf8427e",
		IsDir:        false,
		IngestEpoch:  1700000000,
		DeliveryName: "",
	}
	c.Set("foo", "bar baz")
	c.Set("owner", "ops")
	return c
}

func TestRoundTrip(t *testing.T) {
	c := sampleRecord()
	emitted := Emit(c)
	parsed, err := Parse(bytes.NewReader(emitted))
	require.NoError(t, err)
	require.Equal(t, c, parsed)
}

func TestParseToleratesWhitespaceAndUnknownKeys(t *testing.T) {
	raw := "queueName =   q1  \n" +
		"  fsize=42\n" +
		"param_custom = some value\n" +
		"unknownField = preserved\n"
	c, err := Parse(bytes.NewReader([]byte(raw)))
	require.NoError(t, err)
	require.Equal(t, "q1", c.QueueName)
	require.Equal(t, int64(42), c.FileSize)
	v, ok := c.Get("custom")
	require.True(t, ok)
	require.Equal(t, "some value", v)
	v, ok = c.Get("unknownField")
	require.True(t, ok)
	require.Equal(t, "preserved", v)
}

func TestWriteReadFileIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "_control")
	c := sampleRecord()
	require.NoError(t, WriteFile(path, c))

	_, err := os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))

	got, err := ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, c, got)
}

func TestAbsorbParfileOverwritesAndAdds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "q1.par")
	require.NoError(t, os.WriteFile(path, []byte("foo = overwritten\ndeliveryName = final.bin\nnewparam = v\n"), 0o644))

	c := sampleRecord()
	require.NoError(t, AbsorbParfile(c, path))

	v, _ := c.Get("foo")
	require.Equal(t, "overwritten", v)
	require.Equal(t, "final.bin", c.DeliveryName)
	v, ok := c.Get("newparam")
	require.True(t, ok)
	require.Equal(t, "v", v)
}
