package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"
	"github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/hotpatch/logging"
)

const indexFileName = "patches.json"

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		"record": {
			Name: "record",
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:   "id",
					Unique: true,
					Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
						&memdb.StringFieldIndex{Field: "SourcePath"},
						&memdb.StringFieldIndex{Field: "AssemblyName"},
					}},
				},
				"runtime_module_uuid": {
					Name:    "runtime_module_uuid",
					Unique:  false,
					Indexer: &memdb.StringFieldIndex{Field: "RuntimeModuleUUID"},
				},
			},
		},
	},
}

// Store is the on-disk patch history store: a directory
// holding patches.json (the JSON array of records) and one <patch_id>.img
// per record, with an in-memory go-memdb secondary index rebuilt from
// patches.json by New and kept in sync on every write/delete.
type Store struct {
	dir    string
	logger logging.Logger

	mu  sync.Mutex
	db  *memdb.MemDB

	sweepSched *cron.Cron
	sweepID    cron.EntryID
	sweeping   bool
}

// New creates a Store rooted at dir, creating it if necessary, and loads
// any existing patches.json into the secondary index.
func New(dir string, logger logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("history: creating store dir: %w", err)
	}
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("history: building index: %w", err)
	}
	s := &Store{
		dir:        dir,
		logger:     logging.WithCategory(logger, logging.CategoryHistory),
		db:         db,
		sweepSched: cron.New(),
	}
	records, err := s.readIndexFile()
	if err != nil {
		return nil, err
	}
	if err := s.rebuildIndex(records); err != nil {
		return nil, err
	}
	return s, nil
}

// NewPatchID generates a fresh patch_id, a google/uuid v4 string.
func NewPatchID() string { return uuid.NewString() }

func (s *Store) indexPath() string { return filepath.Join(s.dir, indexFileName) }

func (s *Store) imagePath(patchID string) string {
	return filepath.Join(s.dir, patchID+".img")
}

func (s *Store) readIndexFile() ([]Record, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("history: reading %s: %w", indexFileName, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("history: parsing %s: %w", indexFileName, err)
	}
	return records, nil
}

func (s *Store) rebuildIndex(records []Record) error {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return fmt.Errorf("history: rebuilding index: %w", err)
	}
	txn := db.Txn(true)
	for i := range records {
		r := records[i]
		if err := txn.Insert("record", &r); err != nil {
			txn.Abort()
			return fmt.Errorf("history: indexing record %s: %w", r.PatchID, err)
		}
	}
	txn.Commit()
	s.db = db
	return nil
}

// allRecords snapshots every record currently in the index, sorted by
// timestamp ascending "reloads each valid record ordered
// by timestamp".
func (s *Store) allRecords() []*Record {
	txn := s.db.Txn(false)
	it, err := txn.Get("record", "id")
	if err != nil {
		return nil
	}
	var out []*Record
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj.(*Record))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UTCTimestamp.Before(out[j].UTCTimestamp) })
	return out
}

// flush serializes the current index contents to patches.json.
func (s *Store) flush() error {
	records := s.allRecords()
	flat := make([]Record, len(records))
	for i, r := range records {
		flat[i] = *r
	}
	data, err := json.MarshalIndent(flat, "", "  ")
	if err != nil {
		return fmt.Errorf("history: marshaling index: %w", err)
	}
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("history: writing index: %w", err)
	}
	return os.Rename(tmp, s.indexPath())
}

// deleteRecordLocked removes rec from the index and deletes its image
// file. Caller holds s.mu.
func (s *Store) deleteRecordLocked(rec *Record) error {
	txn := s.db.Txn(true)
	if err := txn.Delete("record", rec); err != nil {
		txn.Abort()
		return fmt.Errorf("history: deleting record %s: %w", rec.PatchID, err)
	}
	txn.Commit()
	if err := os.Remove(s.imagePath(rec.PatchID)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove patch image", "patch_id", rec.PatchID, "error", err)
	}
	return nil
}

// Write persists rec and imageBytes, first removing any prior record for
// the same (source_path, assembly) pair
func (s *Store) Write(rec Record, imageBytes []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := s.db.Txn(false)
	raw, err := txn.First("record", "id", rec.SourcePath, rec.AssemblyName)
	txn.Abort()
	if err != nil {
		return fmt.Errorf("history: looking up prior record: %w", err)
	}
	if raw != nil {
		if err := s.deleteRecordLocked(raw.(*Record)); err != nil {
			return err
		}
	}

	if err := os.WriteFile(s.imagePath(rec.PatchID), imageBytes, 0o644); err != nil {
		return fmt.Errorf("history: writing patch image: %w", err)
	}
	rec.PatchImagePath = s.imagePath(rec.PatchID)

	wtxn := s.db.Txn(true)
	recCopy := rec
	if err := wtxn.Insert("record", &recCopy); err != nil {
		wtxn.Abort()
		return fmt.Errorf("history: indexing new record: %w", err)
	}
	wtxn.Commit()

	return s.flush()
}

// RecordsForAssembly returns every record for the named assembly, sorted
// by timestamp ascending, used by the admin HTTP surface's /history
// endpoint.
func (s *Store) RecordsForAssembly(assembly string) []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Record
	for _, rec := range s.allRecords() {
		if rec.AssemblyName == assembly {
			out = append(out, rec)
		}
	}
	return out
}

// RecordsByRuntimeModuleUUID returns every record whose runtime_module_uuid
// matches uuid, used to decide token-pair vs key-based replay resolution
// per method.
func (s *Store) RecordsByRuntimeModuleUUID(uuid string) []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn := s.db.Txn(false)
	it, err := txn.Get("record", "runtime_module_uuid", uuid)
	if err != nil {
		return nil
	}
	var out []*Record
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj.(*Record))
	}
	return out
}

// ValidRecordsOrdered returns every record whose source file still exists
// and whose current content hash matches the record's source_hash,
// ordered by timestamp ascending; stale records (and their images) are
// deleted as a side effect replay-time staleness check.
func (s *Store) ValidRecordsOrdered() ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var valid []*Record
	for _, rec := range s.allRecords() {
		data, err := os.ReadFile(rec.SourcePath)
		if err != nil {
			s.logger.Info("discarding stale history record: source missing", "path", rec.SourcePath)
			_ = s.deleteRecordLocked(rec)
			continue
		}
		if HashSource(string(data)) != rec.SourceHash {
			s.logger.Info("discarding stale history record: hash mismatch", "path", rec.SourcePath)
			_ = s.deleteRecordLocked(rec)
			continue
		}
		valid = append(valid, rec)
	}
	if err := s.flush(); err != nil {
		return nil, err
	}
	return valid, nil
}

// ReadImage returns the persisted patch image bytes for rec.
func (s *Store) ReadImage(rec *Record) ([]byte, error) {
	data, err := os.ReadFile(s.imagePath(rec.PatchID))
	if err != nil {
		return nil, fmt.Errorf("history: reading patch image %s: %w", rec.PatchID, err)
	}
	return data, nil
}

// StartSweep runs ValidRecordsOrdered (for its stale-discarding side
// effect) on schedule, a belated-cleanup safety net independent of the
// on-replay check
func (s *Store) StartSweep(schedule string) error {
	s.mu.Lock()
	if s.sweeping {
		s.mu.Unlock()
		return ErrSweepAlreadyRunning
	}
	id, err := s.sweepSched.AddFunc(schedule, func() {
		if _, err := s.ValidRecordsOrdered(); err != nil {
			s.logger.Warn("stale-record sweep failed", "error", err)
		}
	})
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("history: scheduling sweep: %w", err)
	}
	s.sweepID = id
	s.sweepSched.Start()
	s.sweeping = true
	s.mu.Unlock()
	return nil
}

// StopSweep halts the stale-record sweep.
func (s *Store) StopSweep() {
	s.mu.Lock()
	if !s.sweeping {
		s.mu.Unlock()
		return
	}
	s.sweepSched.Remove(s.sweepID)
	sched := s.sweepSched
	s.sweeping = false
	s.mu.Unlock()
	ctx := sched.Stop()
	<-ctx.Done()
}
