package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/dts-project/dts/pkg/dtserr"
	"github.com/dts-project/dts/pkg/types"
)

// Mode is the coordinator's view of a session: which RPC initiated it.
type Mode int

const (
	// ModePush: the source pushes bytes to the destination.
	ModePush Mode = iota
	// ModePull: the destination pulls bytes from the source.
	ModePull
)

// Config describes one file transfer session.
type Config struct {
	Mode Mode

	// IsSource is true when this process holds the file's bytes to send,
	// regardless of which side is the TCP server.
	IsSource bool

	NStripes  int
	BasePort  int
	FileSize  int64
	ChunkSize int
	Checksum  types.ChecksumPolicy
	UDTRateMbps int

	// PeerHost is the remote host for whichever side dials.
	PeerHost string
	// LocalHost is the address this side's listeners bind to.
	LocalHost string

	// FilePath is the on-disk path of the object being transferred.
	FilePath string
}

// isServer reports whether this side of the session listens for stripe
// connections: the source is server in push mode, the destination is
// server in pull mode.
func (c Config) isServer() bool {
	return c.IsSource == (c.Mode == ModePush)
}

// Result mirrors the (tsec, tusec, status) tuple returned by
// xferPush/xferPull and sendFile/receiveFile.
type Result struct {
	Elapsed time.Duration
	Status  types.Status
}

// Run executes one transfer session: N stripe workers are spawned, each
// opens or dials its own data socket, and the session succeeds only when
// every worker reports OK.
func Run(ctx context.Context, cfg Config) (Result, error) {
	start := time.Now()

	n := cfg.NStripes
	if n <= 0 {
		n = 1
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	f, err := os.OpenFile(cfg.FilePath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return Result{Status: types.StatusErr}, fmt.Errorf("transport: open %s: %w", cfg.FilePath, err)
	}
	defer f.Close()

	// The receiving side pre-allocates the destination file to the
	// declared size before any stripe writes.
	if !cfg.IsSource {
		if err := f.Truncate(cfg.FileSize); err != nil {
			return Result{Status: types.StatusErr}, fmt.Errorf("transport: truncate %s: %w", cfg.FilePath, err)
		}
	}

	stripes := types.ComputeStripes(cfg.FileSize, n)

	var ioMu sync.Mutex // stripe I/O mutex: serializes disk touches only
	var ready sync.WaitGroup
	ready.Add(n)

	results := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)

	for t := 0; t < n; t++ {
		go func(t int) {
			defer wg.Done()
			results[t] = runStripe(ctx, cfg, stripes[t], f, &ioMu, &ready, chunkSize)
		}(t)
	}
	wg.Wait()

	for _, err := range results {
		if err != nil {
			return Result{Elapsed: time.Since(start), Status: types.StatusErr}, err
		}
	}
	return Result{Elapsed: time.Since(start), Status: types.StatusOK}, nil
}

func runStripe(ctx context.Context, cfg Config, stripe types.Stripe, f *os.File, ioMu *sync.Mutex, ready *sync.WaitGroup, chunkSize int) error {
	port := cfg.BasePort + stripe.Index
	var conn net.Conn
	var err error

	if cfg.isServer() {
		addr := net.JoinHostPort(cfg.LocalHost, strconv.Itoa(port))
		ln, lerr := listenStripe(ctx, addr)
		if lerr != nil {
			ready.Done()
			return fmt.Errorf("transport: stripe %d listen: %w", stripe.Index, lerr)
		}
		defer ln.Close()
		ready.Done()
		ready.Wait()

		conn, err = ln.Accept()
		if err != nil {
			return fmt.Errorf("%w: stripe %d accept: %v", dtserr.ErrTransient, stripe.Index, err)
		}
		tuneDataConn(conn)
	} else {
		ready.Done()
		ready.Wait()

		addr := net.JoinHostPort(cfg.PeerHost, strconv.Itoa(port))
		conn, err = dialStripeRetry(ctx, addr, cfg.UDTRateMbps)
		if err != nil {
			return fmt.Errorf("%w: stripe %d dial: %v", dtserr.ErrTransient, stripe.Index, err)
		}
	}
	defer conn.Close()

	if cfg.IsSource {
		return sendStripe(conn, f, stripe, ioMu, chunkSize, cfg.Checksum)
	}
	return recvStripe(conn, f, stripe, ioMu, chunkSize, cfg.Checksum)
}

// sendStripe writes stripe's bytes from f to conn in chunkSize blocks,
// resending a chunk up to MaxResendAttempts times when the checksum policy
// is "chunk" and the receiver reports a mismatch.
func sendStripe(conn net.Conn, f *os.File, stripe types.Stripe, ioMu *sync.Mutex, chunkSize int, policy types.ChecksumPolicy) error {
	remaining := stripe.Len()
	offset := stripe.Start

	if err := writeHeader(conn, header{ChunkSize: int32(min64(int64(chunkSize), remaining)), Offset: stripe.Start, MaxBytes: stripe.Len()}); err != nil {
		return err
	}

	buf := make([]byte, chunkSize)
	for remaining > 0 {
		n := chunkSize
		if int64(n) > remaining {
			n = int(remaining)
		}

		ioMu.Lock()
		_, err := f.ReadAt(buf[:n], offset)
		ioMu.Unlock()
		if err != nil && err != io.EOF {
			return fmt.Errorf("transport: stripe %d read: %w", stripe.Index, err)
		}

		ok := false
		for attempt := 0; attempt < MaxResendAttempts; attempt++ {
			var h header
			h.ChunkSize = int32(n)
			h.Offset = offset
			if policy == types.ChecksumChunk {
				h.Sum32 = additive32(buf[:n])
			}
			if err := writeHeader(conn, h); err != nil {
				return err
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return fmt.Errorf("%w: stripe %d write: %v", dtserr.ErrTransient, stripe.Index, err)
			}

			if policy != types.ChecksumChunk {
				ok = true
				break
			}

			ack, err := readHeader(conn)
			if err != nil {
				return fmt.Errorf("%w: stripe %d ack: %v", dtserr.ErrTransient, stripe.Index, err)
			}
			if ack.Sum32 == h.Sum32 {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%w: stripe %d chunk at offset %d exceeded %d resend attempts",
				dtserr.ErrIntegrity, stripe.Index, offset, MaxResendAttempts)
		}

		offset += int64(n)
		remaining -= int64(n)
	}
	return nil
}

// recvStripe reads stripe's bytes from conn into f, verifying and acking
// each chunk when the checksum policy is "chunk".
func recvStripe(conn net.Conn, f *os.File, stripe types.Stripe, ioMu *sync.Mutex, chunkSize int, policy types.ChecksumPolicy) error {
	if _, err := readHeader(conn); err != nil {
		return fmt.Errorf("%w: stripe %d open header: %v", dtserr.ErrProtocolViolation, stripe.Index, err)
	}

	remaining := stripe.Len()
	offset := stripe.Start
	buf := make([]byte, chunkSize)

	for remaining > 0 {
		for {
			h, err := readHeader(conn)
			if err != nil {
				return fmt.Errorf("%w: stripe %d chunk header: %v", dtserr.ErrTransient, stripe.Index, err)
			}
			if h.ChunkSize < 0 {
				return fmt.Errorf("%w: stripe %d short terminator before maxbytes reached", dtserr.ErrProtocolViolation, stripe.Index)
			}
			n := int(h.ChunkSize)
			if _, err := io.ReadFull(conn, buf[:n]); err != nil {
				return fmt.Errorf("%w: stripe %d chunk body: %v", dtserr.ErrTransient, stripe.Index, err)
			}

			if policy == types.ChecksumChunk {
				sum := additive32(buf[:n])
				if sum != h.Sum32 {
					// mismatch: ack with a deliberately wrong sum so the
					// sender knows to retransmit.
					if err := writeHeader(conn, header{Sum32: sum + 1}); err != nil {
						return err
					}
					continue
				}
				if err := writeHeader(conn, header{Sum32: sum}); err != nil {
					return err
				}
			}

			ioMu.Lock()
			_, werr := f.WriteAt(buf[:n], h.Offset)
			ioMu.Unlock()
			if werr != nil {
				return fmt.Errorf("transport: stripe %d write: %w", stripe.Index, werr)
			}

			offset += int64(n)
			remaining -= int64(n)
			break
		}
	}
	return nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
