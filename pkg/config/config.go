package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dts-project/dts/pkg/types"
)

// Config is a fully loaded configuration: global settings plus every node
// and queue stanza.
type Config struct {
	Debug     bool
	Verbose   bool
	Monitor   string
	Password  string
	OpsPasswd string
	HBTime    int

	// Self is the name of the node this process runs as. It is resolved
	// after parsing by matching the configured hostname, or left to be set
	// explicitly by the caller (e.g. --node on the command line).
	Self string

	Nodes     map[string]*types.Node
	NodeOrder []string

	Queues     map[string]*types.Queue
	QueueOrder []string
}

func newConfig() *Config {
	return &Config{
		Nodes:  make(map[string]*types.Node),
		Queues: make(map[string]*types.Queue),
	}
}

// stanza context, mirroring the original parser's CON_* states.
type context int

const (
	conGlobal context = iota
	conDTS
	conQueue
)

// Parse reads the DTS config grammar from r and returns the assembled
// Config. Unknown keywords within a recognized stanza are an error; blank
// lines and '#' comments are ignored; stanzas are closed implicitly by the
// next stanza keyword or end of input.
func Parse(r io.Reader) (*Config, error) {
	cfg := newConfig()

	ctx := conGlobal
	var node *types.Node
	var queue *types.Queue

	closeQueue := func() error {
		if queue == nil {
			return nil
		}
		if queue.Name == "" {
			return fmt.Errorf("config: queue stanza missing required 'name'")
		}
		if _, dup := cfg.Queues[queue.Name]; dup {
			return fmt.Errorf("config: duplicate queue name %q", queue.Name)
		}
		if queue.Type == types.QueueEndpoint && queue.DeliveryDir == "" {
			return fmt.Errorf("config: queue %q: endpoint queues require deliveryDir", queue.Name)
		}
		cfg.Queues[queue.Name] = queue
		cfg.QueueOrder = append(cfg.QueueOrder, queue.Name)
		queue = nil
		return nil
	}

	closeNode := func() error {
		if node == nil {
			return nil
		}
		if node.Name == "" {
			return fmt.Errorf("config: dts stanza missing required 'name'")
		}
		if _, dup := cfg.Nodes[node.Name]; dup {
			return fmt.Errorf("config: duplicate dts name %q", node.Name)
		}
		cfg.Nodes[node.Name] = node
		cfg.NodeOrder = append(cfg.NodeOrder, node.Name)
		node = nil
		return nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		line := strings.TrimRight(raw, "\r\n")
		trimmed := strings.TrimSpace(line)

		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		key := cfgKey(line)
		val := cfgVal(line)
		stanzaOpener := len(line) > 0 && !isSpace(line[0])

		if stanzaOpener {
			switch strings.ToLower(key) {
			case "dts":
				if err := closeQueue(); err != nil {
					return nil, err
				}
				if err := closeNode(); err != nil {
					return nil, err
				}
				ctx = conDTS
				node = &types.Node{}
				continue

			case "queue":
				if err := closeQueue(); err != nil {
					return nil, err
				}
				ctx = conQueue
				queue = &types.Queue{
					NThreads: 1,
					Checksum: types.ChecksumNone,
					Method:   types.TransportTCP,
				}
				continue
			}
		}

		if stanzaOpener && ctx != conGlobal {
			// Any other bare keyword at column 1 implicitly closes the
			// current stanza and falls back to global context.
			if ctx == conQueue {
				if err := closeQueue(); err != nil {
					return nil, err
				}
			} else if ctx == conDTS {
				if err := closeNode(); err != nil {
					return nil, err
				}
			}
			ctx = conGlobal
		}

		switch ctx {
		case conGlobal:
			if err := applyGlobalKey(cfg, key, val); err != nil {
				return nil, fmt.Errorf("config: line %d: %w", lineNo, err)
			}
		case conDTS:
			if err := applyNodeKey(node, key, val); err != nil {
				return nil, fmt.Errorf("config: line %d: %w", lineNo, err)
			}
		case conQueue:
			if err := applyQueueKey(queue, key, val); err != nil {
				return nil, fmt.Errorf("config: line %d: %w", lineNo, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := closeQueue(); err != nil {
		return nil, err
	}
	if err := closeNode(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyGlobalKey(cfg *Config, key, val string) error {
	switch strings.ToLower(key) {
	case "debug":
		cfg.Debug = cfgBool(val)
	case "verbose":
		cfg.Verbose = cfgBool(val)
	case "monitor":
		cfg.Monitor = val
	case "password", "passwd":
		cfg.Password = val
	case "ops_passwd":
		cfg.OpsPasswd = val
	case "hb_time":
		cfg.HBTime = cfgInt(val)
	default:
		// Unknown global keys are tolerated; only a fixed set is
		// recognized here.
	}
	return nil
}

func applyNodeKey(n *types.Node, key, val string) error {
	if n == nil {
		return fmt.Errorf("key %q outside of a dts stanza", key)
	}
	switch strings.ToLower(key) {
	case "name":
		n.Name = val
	case "host":
		n.Host = val
	case "port":
		n.Port = cfgInt(val)
	case "contact":
		n.Contact = cfgInt(val)
	case "root":
		n.Root = val
	case "loport":
		n.LoPort = cfgInt(val)
	case "hiport":
		n.HiPort = cfgInt(val)
	case "network":
		n.Network = val
	case "copydir":
		n.CopyDir = val
	case "logfile", "dbfile", "password", "passwd", "ops_passwd":
		// Per-node overrides of global settings; not modeled as separate
		// fields here since the core data plane never reads them.
	default:
		return fmt.Errorf("unknown dts keyword %q", key)
	}
	return nil
}

func applyQueueKey(q *types.Queue, key, val string) error {
	if q == nil {
		return fmt.Errorf("key %q outside of a queue stanza", key)
	}
	switch strings.ToLower(key) {
	case "name":
		q.Name = val
	case "node":
		q.Node = val
	case "type":
		switch strings.ToLower(val) {
		case "ingest":
			q.Type = types.QueueIngest
		case "transfer":
			q.Type = types.QueueTransfer
		case "endpoint":
			q.Type = types.QueueEndpoint
		default:
			return fmt.Errorf("queue %q: unknown type %q", q.Name, val)
		}
	case "src":
		q.Src = val
	case "dest":
		q.Dest = val
	case "purge":
		q.AutoPurge = cfgBool(val)
	case "deliverydir":
		q.DeliveryDir = val
	case "deliverycmd":
		q.DeliveryCmd = val
	case "deliveras":
		q.DeliverAs = val
	case "checksumpolicy":
		switch strings.ToLower(val) {
		case "chunk":
			q.Checksum = types.ChecksumChunk
		case "none", "":
			q.Checksum = types.ChecksumNone
		case "packet", "stripe":
			// Reserved names, not functional; treated as none.
			q.Checksum = types.ChecksumNone
		default:
			return fmt.Errorf("queue %q: unknown checksumPolicy %q", q.Name, val)
		}
	case "deliverypolicy":
		switch strings.ToLower(val) {
		case "replace":
			q.DeliveryPolicy = types.DeliveryReplace
		case "number":
			q.DeliveryPolicy = types.DeliveryNumber
		case "original":
			q.DeliveryPolicy = types.DeliveryOriginal
		default:
			return fmt.Errorf("queue %q: unknown deliveryPolicy %q", q.Name, val)
		}
	case "method":
		switch strings.ToLower(val) {
		case "udt":
			q.Method = types.TransportUDT
		default:
			q.Method = types.TransportTCP
		}
	case "mode":
		switch strings.ToLower(val) {
		case "pull":
			q.Mode = types.ModePull
		case "push", "":
			q.Mode = types.ModePush
		default:
			return fmt.Errorf("queue %q: unknown mode %q", q.Name, val)
		}
	case "nthreads":
		q.NThreads = cfgInt(val)
	case "port":
		if val == "" || strings.EqualFold(val, "auto") {
			q.Port = 0
		} else {
			q.Port = cfgInt(val)
		}
	case "keepalive":
		q.Keepalive = cfgBool(val)
	case "udt_rate":
		q.UDTRate = cfgInt(val)
	default:
		return fmt.Errorf("unknown queue keyword %q", key)
	}
	return nil
}

// cfgKey returns the first whitespace-delimited token on the line.
func cfgKey(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// cfgVal returns everything after the first (keyword) token, accepting
// either "key value" or "key = value" spelling, with one layer of
// surrounding quotes stripped.
func cfgVal(line string) string {
	trimmed := strings.TrimSpace(line)
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return ""
	}
	idx := strings.Index(trimmed, fields[0])
	rest := strings.TrimSpace(trimmed[idx+len(fields[0]):])
	rest = strings.TrimPrefix(rest, "=")
	rest = strings.TrimSpace(rest)

	if len(rest) >= 2 {
		if (rest[0] == '"' && rest[len(rest)-1] == '"') ||
			(rest[0] == '\'' && rest[len(rest)-1] == '\'') {
			rest = rest[1 : len(rest)-1]
		}
	}
	return rest
}

// cfgBool is true iff the value's first character is one of 1yYtT,
// case-insensitive.
func cfgBool(val string) bool {
	if val == "" {
		return false
	}
	switch val[0] {
	case '1', 'y', 'Y', 't', 'T':
		return true
	default:
		return false
	}
}

func cfgInt(val string) int {
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return 0
	}
	return n
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t'
}

// LoadFile parses a single config file.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// LoadDir concatenates and parses every regular file in dir, in
// lexicographic order, as a single config stream.
func LoadDir(dir string) (*Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var parts []io.Reader
	var files []*os.File
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		f, err := os.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		files = append(files, f)
		parts = append(parts, f, strings.NewReader("\n"))
	}
	return Parse(io.MultiReader(parts...))
}

// Load resolves the config path from an explicit path, DTS_CONFIG, or
// ~/.dts_config, in that order.
func Load(explicit string) (*Config, error) {
	path := explicit
	if path == "" {
		path = os.Getenv("DTS_CONFIG")
	}
	if path == "" {
		home := os.Getenv("HOME")
		if home == "" {
			return nil, fmt.Errorf("config: no path given, DTS_CONFIG unset, and HOME unset")
		}
		path = filepath.Join(home, ".dts_config")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if info.IsDir() {
		return LoadDir(path)
	}
	return LoadFile(path)
}

// Node looks up a node by name.
func (c *Config) Node(name string) (*types.Node, bool) {
	n, ok := c.Nodes[name]
	return n, ok
}

// Queue looks up a queue by name.
func (c *Config) Queue(name string) (*types.Queue, bool) {
	q, ok := c.Queues[name]
	return q, ok
}

// QueuesOnNode returns every queue whose "node" stanza key names the given
// node, preserving declaration order.
func (c *Config) QueuesOnNode(node string) []*types.Queue {
	var out []*types.Queue
	for _, name := range c.QueueOrder {
		q := c.Queues[name]
		if q.Node == node {
			out = append(out, q)
		}
	}
	return out
}
