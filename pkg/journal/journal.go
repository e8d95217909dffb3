package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// Entry is one completed hop's record, keyed by the bucket's next sequence
// number within a queue's bucket.
type Entry struct {
	XferID  string `json:"xferId"`
	TimeSec int64  `json:"tsec"`
	TimeUs  int64  `json:"tusec"`
	Status  string `json:"status"`
	Bytes   int64  `json:"bytes"`
}

// Journal is a best-effort, write-mostly sink for completed-hop records.
// It is never consulted by the data plane; a Journal that fails to open
// or write degrades to a no-op rather than blocking a hop.
type Journal struct {
	db *bolt.DB
}

// Open creates or opens a bbolt file under dir, one bucket per queue
// created lazily on first write.
func Open(dir string) (*Journal, error) {
	db, err := bolt.Open(filepath.Join(dir, "journal.db"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record appends one completed-hop entry to queue's bucket. A nil
// Journal is valid and Record becomes a no-op, so callers can leave
// journaling disabled without a conditional at every call site.
func (j *Journal) Record(queue string, e Entry) error {
	if j == nil {
		return nil
	}
	if e.XferID == "" {
		e.XferID = uuid.NewString()
	}

	return j.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(queue))
		if err != nil {
			return fmt.Errorf("journal: bucket %s: %w", queue, err)
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		return b.Put(seqKey(seq), data)
	})
}

// Entries returns every recorded entry for queue, oldest first.
func (j *Journal) Entries(queue string) ([]Entry, error) {
	if j == nil {
		return nil, nil
	}

	var out []Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(queue))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("journal: %w", err)
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
