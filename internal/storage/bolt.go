// Package storage — bolt.go
//
// BoltDB-backed persistent storage for finelame: a model cache keyed by
// instrumentation target, and a run ledger recording one entry per
// finelame invocation. Neither is on the detection hot path — the data
// plane maps are the source of truth while a run is live (spec §3
// "Ownership and lifecycle"); this store only remembers things across
// process restarts.
//
// Schema (BoltDB bucket layout):
//
//	/models
//	    key:   sha256(ebpf_prog path + "|" + run_label)  [hex]
//	    value: JSON-encoded ModelRecord
//
//	/runs
//	    key:   UTC timestamp, fixed-width nanoseconds + "_" + run_label  [sortable]
//	    value: JSON-encoded RunEntry
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultDBPath is the default BoltDB file location.
	DefaultDBPath = "/var/lib/finelame/finelame.db"

	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	// DefaultRetentionDays is the default run-ledger retention period.
	DefaultRetentionDays = 30

	bucketModels = "models"
	bucketRuns   = "runs"
	bucketMeta   = "meta"
)

// ModelRecord is the persisted form of a fitted detector model, stored and
// read with PutModel/GetModel. The controller neither writes nor reads this
// cache: every run trains its own model.
type ModelRecord struct {
	RunLabel string `json:"run_label"`
	EBPFProg string `json:"ebpf_prog"`

	Features []string  `json:"features"`
	Mean     []float64 `json:"mean"`
	Std      []float64 `json:"std"`

	Centroids  [][]float64 `json:"centroids"`
	Thresholds []float64   `json:"thresholds"`

	ScaleMethod string `json:"scale_method"`
	MScale      int    `json:"m_scale"`
	SScale      int    `json:"s_scale"`

	TrainingRows int       `json:"training_rows"`
	FittedAt     time.Time `json:"fitted_at"`
}

// RunEntry is a single run-ledger record: one per finelame invocation.
type RunEntry struct {
	RunLabel     string    `json:"run_label"`
	StartedAt    time.Time `json:"started_at"`
	StoppedAt    time.Time `json:"stopped_at"`
	FinalMode    string    `json:"final_mode"`
	TrainingRows int       `json:"training_rows"`
	TestRows     int       `json:"test_rows"`
	Outliers     int       `json:"outliers"`
}

// DB wraps a BoltDB instance with typed accessors for finelame data.
type DB struct {
	db            *bolt.DB
	retentionDays int
}

// Open opens (or creates) the BoltDB database at the given path,
// initializing all required buckets and verifying the schema version.
func Open(path string, retentionDays int) (*DB, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	d := &DB{db: bdb, retentionDays: retentionDays}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketModels, bucketRuns, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("database initialisation failed: %w", err)
	}

	if err := d.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return d, nil
}

func (d *DB) checkSchemaVersion() error {
	return d.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf("schema version mismatch: database has %q, finelame requires %q", string(v), SchemaVersion)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (d *DB) Close() error {
	return d.db.Close()
}

// ─── Model cache ──────────────────────────────────────────────────────────

func modelKey(ebpfProg, runLabel string) []byte {
	h := sha256.Sum256([]byte(ebpfProg + "|" + runLabel))
	key := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(key, h[:])
	return key
}

// PutModel writes or updates a model record, keyed by (ebpf_prog, run_label).
func (d *DB) PutModel(rec ModelRecord) error {
	rec.FittedAt = time.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("PutModel marshal: %w", err)
	}
	key := modelKey(rec.EBPFProg, rec.RunLabel)
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketModels)).Put(key, data)
	})
}

// GetModel retrieves the cached model for (ebpfProg, runLabel). Returns
// (nil, nil) if none exists.
func (d *DB) GetModel(ebpfProg, runLabel string) (*ModelRecord, error) {
	key := modelKey(ebpfProg, runLabel)
	var rec ModelRecord
	found := false
	err := d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketModels)).Get(key)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("GetModel(%q,%q): %w", ebpfProg, runLabel, err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

// ─── Run ledger ───────────────────────────────────────────────────────────

func runKey(t time.Time, runLabel string) []byte {
	// Fixed-width nanoseconds: RFC3339Nano drops trailing zeros, which
	// would break lexical ordering between sub-second timestamps.
	return []byte(fmt.Sprintf("%s_%s", t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"), runLabel))
}

// AppendRun writes a new run-ledger entry.
func (d *DB) AppendRun(entry RunEntry) error {
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("AppendRun marshal: %w", err)
	}
	key := runKey(entry.StartedAt, entry.RunLabel)
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketRuns)).Put(key, data)
	})
}

// PruneOldRuns deletes run-ledger entries older than retentionDays,
// returning the number deleted.
func (d *DB) PruneOldRuns() (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -d.retentionDays)
	cutoffKey := runKey(cutoff, "")

	var deleted int
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketRuns))
		c := b.Cursor()

		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if string(k) >= string(cutoffKey) {
				break
			}
			keyCopy := make([]byte, len(k))
			copy(keyCopy, k)
			toDelete = append(toDelete, keyCopy)
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("PruneOldRuns delete: %w", err)
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// ReadRuns returns all run-ledger entries in chronological order.
func (d *DB) ReadRuns() ([]RunEntry, error) {
	var entries []RunEntry
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketRuns))
		return b.ForEach(func(_, v []byte) error {
			var entry RunEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	return entries, err
}
