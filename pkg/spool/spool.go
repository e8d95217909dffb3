package spool

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dts-project/dts/pkg/dtserr"
	"github.com/dts-project/dts/pkg/log"
	"golang.org/x/sys/unix"
)

const (
	nextFile    = "next"
	currentFile = "current"
	lockMarker  = "_lock"
	statusFile  = "_status"
	errMarker   = "ERR"
	logInFile   = "log.in"
	logOutFile  = "log.out"
	statsFile   = "stats"
)

// Store owns the on-disk spool tree for every queue on this daemon,
// rooted at <root>/spool.
type Store struct {
	root string
}

// New returns a Store rooted at root/spool, creating the directory if
// necessary.
func New(root string) (*Store, error) {
	dir := filepath.Join(root, "spool")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("spool: %w", err)
	}
	return &Store{root: dir}, nil
}

// QueueDir returns the spool directory for a named queue, creating it if
// necessary.
func (s *Store) QueueDir(queue string) (string, error) {
	dir := filepath.Join(s.root, queue)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("spool: %w", err)
	}
	return dir, nil
}

// SlotDir returns the path of slot k within a queue.
func (s *Store) SlotDir(queue string, k int64) string {
	return filepath.Join(s.root, queue, strconv.FormatInt(k, 10))
}

func readCounter(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("spool: malformed counter %s: %w", path, err)
	}
	return n, nil
}

func writeCounter(path string, v int64) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(v, 10)), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Next returns the queue's current "next" counter value.
func (s *Store) Next(queue string) (int64, error) {
	dir, err := s.QueueDir(queue)
	if err != nil {
		return 0, err
	}
	return readCounter(filepath.Join(dir, nextFile))
}

// Current returns the queue's current "current" counter value.
func (s *Store) Current(queue string) (int64, error) {
	dir, err := s.QueueDir(queue)
	if err != nil {
		return 0, err
	}
	return readCounter(filepath.Join(dir, currentFile))
}

// Allocate atomically increments "next", creates the new slot directory,
// marks it "ready" and locked, and returns the slot index and absolute
// path. It returns dtserr.ErrDiskFull if declaredSize bytes of free space
// are not available.
func (s *Store) Allocate(queue string, declaredSize int64) (int64, string, error) {
	dir, err := s.QueueDir(queue)
	if err != nil {
		return 0, "", err
	}

	if err := checkFreeSpace(dir, declaredSize); err != nil {
		return 0, "", err
	}

	var k int64
	lockPath := filepath.Join(dir, nextFile+".lck")
	err = withFileLock(lockPath, func(*os.File) error {
		n, err := readCounter(filepath.Join(dir, nextFile))
		if err != nil {
			return err
		}
		k = n
		return writeCounter(filepath.Join(dir, nextFile), n+1)
	})
	if err != nil {
		return 0, "", err
	}

	slot := s.SlotDir(queue, k)
	if err := os.MkdirAll(slot, 0o755); err != nil {
		return 0, "", fmt.Errorf("spool: %w", err)
	}
	if err := os.WriteFile(filepath.Join(slot, statusFile), []byte("ready"), 0o644); err != nil {
		return 0, "", fmt.Errorf("spool: %w", err)
	}
	if err := touch(filepath.Join(slot, lockMarker)); err != nil {
		return 0, "", fmt.Errorf("spool: %w", err)
	}
	return k, slot, nil
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// MarkIngestComplete removes the slot's _lock marker. The caller must have
// already written _control; order matters, the manager treats absence of
// _lock as "payload and control durable".
func (s *Store) MarkIngestComplete(queue string, k int64) error {
	return os.Remove(filepath.Join(s.SlotDir(queue, k), lockMarker))
}

// SlotInfo describes the result of reading a queue's current slot.
type SlotInfo struct {
	Index  int64
	Path   string
	Locked bool
	HasErr bool
	Exists bool
}

// ReadCurrentSlot returns the state of the slot numbered "current" for
// queue. It never blocks.
func (s *Store) ReadCurrentSlot(queue string) (SlotInfo, error) {
	cur, err := s.Current(queue)
	if err != nil {
		return SlotInfo{}, err
	}
	path := s.SlotDir(queue, cur)
	info := SlotInfo{Index: cur, Path: path}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return info, nil
		}
		return SlotInfo{}, fmt.Errorf("spool: %w", err)
	}
	info.Exists = true

	if _, err := os.Stat(filepath.Join(path, lockMarker)); err == nil {
		info.Locked = true
	}
	if _, err := os.Stat(filepath.Join(path, errMarker)); err == nil {
		info.HasErr = true
	}
	return info, nil
}

// AdvanceCurrent atomically increments "current". If purge is true, the
// slot that was just passed (current-1, i.e. the slot just completed) is
// removed from disk.
func (s *Store) AdvanceCurrent(queue string, purge bool) error {
	dir, err := s.QueueDir(queue)
	if err != nil {
		return err
	}
	lockPath := filepath.Join(dir, currentFile+".lck")
	var prev int64
	err = withFileLock(lockPath, func(*os.File) error {
		n, err := readCounter(filepath.Join(dir, currentFile))
		if err != nil {
			return err
		}
		prev = n
		return writeCounter(filepath.Join(dir, currentFile), n+1)
	})
	if err != nil {
		return err
	}
	if purge {
		_ = os.RemoveAll(s.SlotDir(queue, prev))
	}
	return nil
}

// Flush sets current := next, discarding any unprocessed backlog.
func (s *Store) Flush(queue string) error {
	dir, err := s.QueueDir(queue)
	if err != nil {
		return err
	}
	lockPath := filepath.Join(dir, currentFile+".lck")
	return withFileLock(lockPath, func(*os.File) error {
		n, err := readCounter(filepath.Join(dir, nextFile))
		if err != nil {
			return err
		}
		return writeCounter(filepath.Join(dir, currentFile), n)
	})
}

// Poke advances current by one without processing the discarded slot.
func (s *Store) Poke(queue string) error {
	return s.AdvanceCurrent(queue, false)
}

// MarkErr creates an ERR marker in the slot, meaning "do not forward, log
// and skip".
func (s *Store) MarkErr(queue string, k int64) error {
	return touch(filepath.Join(s.SlotDir(queue, k), errMarker))
}

// Recover scans a queue's slot directories and reconciles next to
// max(next, maxSlot+1). It returns the slot numbers found to still carry a
// _lock marker at or above current ("in recovery"); these are left on
// disk for the manager to observe.
func (s *Store) Recover(queue string) ([]int64, error) {
	dir, err := s.QueueDir(queue)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("spool: %w", err)
	}

	var slots []int64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil {
			continue
		}
		slots = append(slots, n)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })

	next, err := s.Next(queue)
	if err != nil {
		return nil, err
	}
	if len(slots) > 0 {
		maxSlot := slots[len(slots)-1]
		if maxSlot+1 > next {
			if err := writeCounter(filepath.Join(dir, nextFile), maxSlot+1); err != nil {
				return nil, err
			}
		}
	}

	cur, err := s.Current(queue)
	if err != nil {
		return nil, err
	}

	var inRecovery []int64
	for _, k := range slots {
		if k < cur {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.SlotDir(queue, k), lockMarker)); err == nil {
			inRecovery = append(inRecovery, k)
		}
	}
	return inRecovery, nil
}

// PurgeBelow removes every slot directory with index < current, for queues
// with auto-purge that missed a cleanup (e.g. after a crash).
func (s *Store) PurgeBelow(queue string, current int64) error {
	dir, err := s.QueueDir(queue)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("spool: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil {
			continue
		}
		if n < current {
			_ = os.RemoveAll(filepath.Join(dir, e.Name()))
		}
	}
	return nil
}

// AppendLog appends one line to the queue's log.in or log.out file, the
// per-queue append-only hop history.
func (s *Store) AppendLog(queue string, incoming bool, status string, bytes int64) error {
	dir, err := s.QueueDir(queue)
	if err != nil {
		return err
	}
	name := logOutFile
	if incoming {
		name = logInFile
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("spool: %w", err)
	}
	defer f.Close()
	line := fmt.Sprintf("%d %s %s %d\n", time.Now().Unix(), queue, status, bytes)
	_, err = io.WriteString(f, line)
	return err
}

// Stats is the periodic aggregate snapshot written to the queue's stats
// file.
type Stats struct {
	NFiles int64
	Rate   float64
	Time   float64
	Size   int64
	Xfer   int64
	Tput   float64
}

// WriteStats overwrites the queue's stats file with a single summary line:
// "nfiles rate time size xfer tput".
func (s *Store) WriteStats(queue string, st Stats) error {
	dir, err := s.QueueDir(queue)
	if err != nil {
		return err
	}
	line := fmt.Sprintf("%d %.3f %.3f %d %d %.3f\n",
		st.NFiles, st.Rate, st.Time, st.Size, st.Xfer, st.Tput)
	return os.WriteFile(filepath.Join(dir, statsFile), []byte(line), 0o644)
}

func checkFreeSpace(dir string, declaredSize int64) error {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		log.WithComponent("spool").Warn().Err(err).Str("dir", dir).Msg("statfs failed, skipping free-space check")
		return nil
	}
	free := int64(stat.Bavail) * int64(stat.Bsize)
	if declaredSize > 0 && free < declaredSize {
		return fmt.Errorf("%w: need %d bytes, %d available in %s", dtserr.ErrDiskFull, declaredSize, free, dir)
	}
	return nil
}
