package delivery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dts-project/dts/pkg/types"
	"github.com/stretchr/testify/require"
)

func testQueue(t *testing.T, cmd string, policy types.DeliveryPolicy) (*types.Queue, string) {
	t.Helper()
	dir := t.TempDir()
	return &types.Queue{
		Name:           "q1",
		DeliveryDir:    dir,
		DeliveryCmd:    cmd,
		DeliveryPolicy: policy,
	}, dir
}

func testCtrl() *types.ControlRecord {
	return &types.ControlRecord{
		QueueName: "q1",
		QueueHost: "nodeA",
		Filename:  "obj.dat",
		SrcPath:   "/ingest/obj.dat",
		FileSize:  5,
		Sum32:     0xdeadbeef,
		CRC32:     0xcafef00d,
		MD5:       "d41d8cd98f00b204e9800998ecf8427e",
	}
}

func TestDeliverNoCommandIsNoop(t *testing.T) {
	q := &types.Queue{Name: "transfer1"}
	outcome, err := Deliver(context.Background(), q, t.TempDir(), testCtrl())
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome)
}

func TestDeliverSuccessCopiesFile(t *testing.T) {
	slot := t.TempDir()
	ctrl := testCtrl()
	require.NoError(t, os.WriteFile(filepath.Join(slot, ctrl.Filename), []byte("hello"), 0o644))

	q, destDir := testQueue(t, "/bin/cp $F $D", types.DeliveryReplace)

	outcome, err := Deliver(context.Background(), q, slot, ctrl)
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome)

	data, err := os.ReadFile(filepath.Join(destDir, "obj.dat"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestDeliverExitStatus2MarksObjectFailed(t *testing.T) {
	slot := t.TempDir()
	q, _ := testQueue(t, "/bin/sh -c 'exit 2'", types.DeliveryReplace)

	outcome, err := Deliver(context.Background(), q, slot, testCtrl())
	require.Error(t, err)
	require.Equal(t, OutcomeObjectFailed, outcome)
}

func TestDeliverExitStatus3PausesQueue(t *testing.T) {
	slot := t.TempDir()
	q, _ := testQueue(t, "/bin/sh -c 'exit 3'", types.DeliveryReplace)

	outcome, err := Deliver(context.Background(), q, slot, testCtrl())
	require.Error(t, err)
	require.Equal(t, OutcomeQueuePause, outcome)
}

func TestDeliverExitStatus1IsMinorButAdvances(t *testing.T) {
	slot := t.TempDir()
	q, _ := testQueue(t, "/bin/sh -c 'exit 1'", types.DeliveryReplace)

	outcome, err := Deliver(context.Background(), q, slot, testCtrl())
	require.NoError(t, err)
	require.Equal(t, OutcomeMinor, outcome)
}

func TestDeliverUnknownExitStatusIsLoggedButAdvances(t *testing.T) {
	slot := t.TempDir()
	q, _ := testQueue(t, "/bin/sh -c 'exit 42'", types.DeliveryReplace)

	outcome, err := Deliver(context.Background(), q, slot, testCtrl())
	require.NoError(t, err)
	require.Equal(t, OutcomeUnknown, outcome)
}

func TestDeliverMacroSubstitutionFidelity(t *testing.T) {
	slot := t.TempDir()
	ctrl := testCtrl()
	ctrl.Set("foo", "bar baz")

	outFile := filepath.Join(slot, "argv.txt")
	script := filepath.Join(slot, "record-argv.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"$1|$2|$3\" > "+outFile+"\n"), 0o755))

	q, _ := testQueue(t, script+" $F $MD5 $foo", types.DeliveryReplace)

	outcome, err := Deliver(context.Background(), q, slot, ctrl)
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome)

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	require.Contains(t, string(data), ctrl.MD5)
	require.Contains(t, string(data), "bar baz")
}

func TestDeliverNumberPolicyAvoidsCollision(t *testing.T) {
	slot := t.TempDir()
	ctrl := testCtrl()
	require.NoError(t, os.WriteFile(filepath.Join(slot, ctrl.Filename), []byte("hello"), 0o644))

	q, destDir := testQueue(t, "/bin/cp $F $D", types.DeliveryNumber)
	require.NoError(t, os.WriteFile(filepath.Join(destDir, "obj.dat"), []byte("existing"), 0o644))

	outcome, err := Deliver(context.Background(), q, slot, ctrl)
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome)

	require.FileExists(t, filepath.Join(destDir, "obj.dat.1"))
	orig, err := os.ReadFile(filepath.Join(destDir, "obj.dat"))
	require.NoError(t, err)
	require.Equal(t, "existing", string(orig))
}

func TestDeliverOriginalPolicyRefusesOnCollision(t *testing.T) {
	slot := t.TempDir()
	ctrl := testCtrl()
	require.NoError(t, os.WriteFile(filepath.Join(slot, ctrl.Filename), []byte("hello"), 0o644))

	q, destDir := testQueue(t, "/bin/cp $F $D", types.DeliveryOriginal)
	require.NoError(t, os.WriteFile(filepath.Join(destDir, "obj.dat"), []byte("existing"), 0o644))

	outcome, err := Deliver(context.Background(), q, slot, ctrl)
	require.Error(t, err)
	require.Equal(t, OutcomeObjectFailed, outcome)
}

func TestDeliverAbsorbsParfileOnSuccess(t *testing.T) {
	slot := t.TempDir()
	ctrl := testCtrl()
	require.NoError(t, os.WriteFile(filepath.Join(slot, ctrl.Filename), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(slot, "q1.par"), []byte("stage = done\n"), 0o644))

	q, _ := testQueue(t, "/bin/cp $F $D", types.DeliveryReplace)

	outcome, err := Deliver(context.Background(), q, slot, ctrl)
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome)

	v, ok := ctrl.Get("stage")
	require.True(t, ok)
	require.Equal(t, "done", v)
}
