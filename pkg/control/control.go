package control

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dts-project/dts/pkg/types"
)

// canonical field keys, in emission order.
const (
	keyQueueName    = "queueName"
	keyQueueHost    = "queueHost"
	keyQueuePath    = "queuePath"
	keyFilename     = "filename"
	keyXferFilename = "xferFilename"
	keySrcPath      = "srcPath"
	keyIngestPath   = "ingestPath"
	keyFileSize     = "fsize"
	keySum32        = "sum32"
	keyCRC32        = "crc32"
	keyMD5          = "md5"
	keyIsDir        = "isDir"
	keyIngestEpoch  = "ingestEpoch"
	keyDeliveryName = "deliveryName"

	paramPrefix = "param_"
)

// Emit serializes a control record as "key = value\n" lines, known fields
// first in canonical order, followed by arbitrary parameters in their
// recorded order.
func Emit(c *types.ControlRecord) []byte {
	var b strings.Builder
	writeField(&b, keyQueueName, c.QueueName)
	writeField(&b, keyQueueHost, c.QueueHost)
	writeField(&b, keyQueuePath, c.QueuePath)
	writeField(&b, keyFilename, c.Filename)
	writeField(&b, keyXferFilename, c.XferFilename)
	writeField(&b, keySrcPath, c.SrcPath)
	writeField(&b, keyIngestPath, c.IngestPath)
	writeField(&b, keyFileSize, strconv.FormatInt(c.FileSize, 10))
	writeField(&b, keySum32, strconv.FormatUint(uint64(c.Sum32), 10))
	writeField(&b, keyCRC32, strconv.FormatUint(uint64(c.CRC32), 10))
	writeField(&b, keyMD5, c.MD5)
	writeField(&b, keyIsDir, strconv.FormatBool(c.IsDir))
	writeField(&b, keyIngestEpoch, strconv.FormatInt(c.IngestEpoch, 10))
	writeField(&b, keyDeliveryName, c.DeliveryName)
	for _, p := range c.Params {
		writeField(&b, paramPrefix+p.Key, p.Value)
	}
	return []byte(b.String())
}

func writeField(b *strings.Builder, key, value string) {
	fmt.Fprintf(b, "%s = %s\n", key, value)
}

// Parse decodes a _control file. Whitespace around keys and values is
// tolerant of arbitrary padding; unknown keys are preserved as parameters
// (with any "param_" prefix stripped back to its bare name), never dropped.
func Parse(r io.Reader) (*types.ControlRecord, error) {
	c := &types.ControlRecord{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])

		switch key {
		case keyQueueName:
			c.QueueName = val
		case keyQueueHost:
			c.QueueHost = val
		case keyQueuePath:
			c.QueuePath = val
		case keyFilename:
			c.Filename = val
		case keyXferFilename:
			c.XferFilename = val
		case keySrcPath:
			c.SrcPath = val
		case keyIngestPath:
			c.IngestPath = val
		case keyFileSize:
			c.FileSize, _ = strconv.ParseInt(val, 10, 64)
		case keySum32:
			n, _ := strconv.ParseUint(val, 10, 32)
			c.Sum32 = uint32(n)
		case keyCRC32:
			n, _ := strconv.ParseUint(val, 10, 32)
			c.CRC32 = uint32(n)
		case keyMD5:
			c.MD5 = val
		case keyIsDir:
			c.IsDir, _ = strconv.ParseBool(val)
		case keyIngestEpoch:
			c.IngestEpoch, _ = strconv.ParseInt(val, 10, 64)
		case keyDeliveryName:
			c.DeliveryName = val
		default:
			name := strings.TrimPrefix(key, paramPrefix)
			c.Set(name, val)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	return c, nil
}

// WriteFile writes a record to path, atomically via a temp file + rename so
// a crash mid-write never leaves a partially written _control behind.
func WriteFile(path string, c *types.ControlRecord) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, Emit(c), 0o644); err != nil {
		return fmt.Errorf("control: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("control: %w", err)
	}
	return nil
}

// ReadFile reads and parses the record at path.
func ReadFile(path string) (*types.ControlRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// AbsorbParfile loads "key = value" pairs from a delivery-left parameter
// file into the control record's parameter list, overwriting any existing
// values for the same key.
func AbsorbParfile(c *types.ControlRecord, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("control: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		switch key {
		case "deliveryName":
			c.DeliveryName = val
		default:
			c.Set(key, val)
		}
	}
	return scanner.Err()
}
