package config

import (
	"strings"
	"testing"

	"github.com/dts-project/dts/pkg/types"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
# global settings
debug = no
hb_time = 30

dts
    name = nodeA
    host = 10.0.0.1
    port = 9000
    contact = 9001
    root = /data/dts
    loPort = 9100
    hiPort = 9199

dts
    name = nodeB
    host = 10.0.0.2
    port = 9000
    root = /data/dts

queue
    name = q1
    node = nodeA
    type = ingest
    src = nodeA
    dest = nodeB
    nthreads = 4
    checksumPolicy = chunk

queue
    name = q1-endpoint
    node = nodeB
    type = endpoint
    src = nodeA
    dest = nodeB
    deliveryDir = /out
    deliveryCmd = /bin/true
    deliveryPolicy = replace
    purge = yes
`

func TestParseBasicStanzas(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	require.False(t, cfg.Debug)
	require.Equal(t, 30, cfg.HBTime)

	require.Len(t, cfg.Nodes, 2)
	a, ok := cfg.Node("nodeA")
	require.True(t, ok)
	require.Equal(t, "10.0.0.1", a.Host)
	require.Equal(t, 9000, a.Port)
	require.Equal(t, 9100, a.LoPort)
	require.Equal(t, 9199, a.HiPort)

	require.Len(t, cfg.Queues, 2)
	q1, ok := cfg.Queue("q1")
	require.True(t, ok)
	require.Equal(t, types.QueueIngest, q1.Type)
	require.Equal(t, 4, q1.NThreads)
	require.Equal(t, types.ChecksumChunk, q1.Checksum)

	ep, ok := cfg.Queue("q1-endpoint")
	require.True(t, ok)
	require.Equal(t, types.QueueEndpoint, ep.Type)
	require.True(t, ep.AutoPurge)
	require.Equal(t, types.DeliveryReplace, ep.DeliveryPolicy)

	require.Equal(t, []*types.Queue{q1}, cfg.QueuesOnNode("nodeA"))
	require.Equal(t, []*types.Queue{ep}, cfg.QueuesOnNode("nodeB"))
}

func TestCfgBoolFirstCharacter(t *testing.T) {
	require.True(t, cfgBool("yes"))
	require.True(t, cfgBool("Y"))
	require.True(t, cfgBool("true"))
	require.True(t, cfgBool("1"))
	require.False(t, cfgBool("no"))
	require.False(t, cfgBool("0"))
	require.False(t, cfgBool(""))
}

func TestParseRejectsDuplicateQueueName(t *testing.T) {
	const dup = `
queue
    name = q1
    node = nodeA
    type = transfer
    src = nodeA
    dest = nodeB

queue
    name = q1
    node = nodeA
    type = transfer
    src = nodeA
    dest = nodeB
`
	_, err := Parse(strings.NewReader(dup))
	require.Error(t, err)
}

func TestParseRejectsEndpointWithoutDeliveryDir(t *testing.T) {
	const bad = `
queue
    name = q1
    node = nodeA
    type = endpoint
    src = nodeA
    dest = nodeB
`
	_, err := Parse(strings.NewReader(bad))
	require.Error(t, err)
}
