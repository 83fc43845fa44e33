package durablestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bridgify-labs/tclcore/core/domain"
	"github.com/bridgify-labs/tclcore/pkg/apperr"
	"github.com/bridgify-labs/tclcore/pkg/logger"
	"github.com/bridgify-labs/tclcore/pkg/snowflake"
)

// CurrentSchemaVersion is this binary's code version; Store refuses to
// start against a stored version greater than this.
const CurrentSchemaVersion = 1

// batchSuffixDigits zero-pads the monotonic batch filename suffix so
// lexicographic and numeric ordering agree, per the spec's note on
// timestamp encoding.
const batchSuffixDigits = 20

// Config configures the durable store.
type Config struct {
	Root             string
	EnableAutoSave   bool
	MaxBatchSize     int
	WorkerID         int64
}

// Store implements core/port/out.DurableStore: an in-memory working set
// mirrored to append-only batch files on disk. It owns on-disk state with
// crash-safe semantics; L1/L2 never read it directly, only the
// coordinator on an L1+L2 miss.
type Store struct {
	mu             sync.Mutex
	cfg            Config
	log            *logger.Logger
	ids            *snowflake.Generator
	entries        map[string]*domain.Entry
	pendingChanges int
	metrics        domain.Metrics
}

// Open loads the most recent batch (if any), runs schema migration if
// needed, and returns a ready Store. Root is created if it does not exist.
func Open(cfg Config, log *logger.Logger) (*Store, error) {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1000
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, apperr.StorageError("create storage root", err)
	}

	ids, err := snowflake.NewGenerator(cfg.WorkerID)
	if err != nil {
		return nil, apperr.StorageError("create batch id generator", err)
	}

	meta, err := readMetadata(cfg.Root)
	if err != nil {
		return nil, err
	}

	if err := CheckSchema(meta.SchemaVersion, CurrentSchemaVersion); err != nil {
		return nil, err
	}
	if meta.SchemaVersion < CurrentSchemaVersion {
		if err := Migrate(cfg.Root, meta.SchemaVersion, CurrentSchemaVersion); err != nil {
			return nil, err
		}
		meta.SchemaVersion = CurrentSchemaVersion
		if err := writeMetadata(cfg.Root, meta); err != nil {
			return nil, err
		}
	}

	s := &Store{
		cfg:     cfg,
		log:     log,
		ids:     ids,
		entries: make(map[string]*domain.Entry),
	}

	entries, err := loadLatestBatch(cfg.Root, log)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		s.entries[e.Key] = e
	}

	return s, nil
}

func (s *Store) Get(ctx context.Context, key string) (*domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		s.metrics.RecordMiss(0)
		return nil, apperr.NotFound("entry")
	}
	s.metrics.RecordHit(0)
	return e.Clone(), nil
}

func (s *Store) Set(ctx context.Context, key string, e *domain.Entry) error {
	s.mu.Lock()
	s.entries[key] = e.Clone()
	s.pendingChanges++
	s.metrics.SetSize(int64(len(s.entries)))
	shouldSave := s.cfg.EnableAutoSave && s.pendingChanges >= s.cfg.MaxBatchSize
	s.mu.Unlock()

	if shouldSave {
		return s.Flush(ctx)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.pendingChanges++
	s.metrics.SetSize(int64(len(s.entries)))
	s.mu.Unlock()
	return nil
}

// Metrics reports this tier's hit/miss counters, tracked the same way L1
// does — latency recorded as zero, since this store never measures its own
// in-memory lookup time.
func (s *Store) Metrics() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics.Snapshot()
}

// Flush writes a new batch file containing the full current working set
// and advances metadata. It is idempotent: flushing with nothing pending
// still produces a consistent (if redundant) snapshot.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	snapshot := make([]*domain.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		snapshot = append(snapshot, e)
	}
	s.mu.Unlock()

	id, err := s.ids.Generate()
	if err != nil {
		return apperr.StorageError("generate batch id", err)
	}
	suffix := fmt.Sprintf("%0*d", batchSuffixDigits, id)
	finalPath := filepath.Join(s.cfg.Root, fmt.Sprintf("batch_%s.bin", suffix))
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return apperr.StorageError("create batch tmp file", err)
	}
	if err := writeBatch(f, CurrentSchemaVersion, snapshot); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return apperr.StorageError("write batch", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return apperr.StorageError("sync batch tmp file", err)
	}
	if err := f.Close(); err != nil {
		return apperr.StorageError("close batch tmp file", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return apperr.StorageError("rename batch tmp file", err)
	}

	meta, err := readMetadata(s.cfg.Root)
	if err != nil {
		return err
	}
	meta.SchemaVersion = CurrentSchemaVersion
	meta.TotalEntries = uint64(len(snapshot))
	meta.LastSaveMS = uint64(snapshotTimeMS())
	if err := writeMetadata(s.cfg.Root, meta); err != nil {
		return err
	}

	s.mu.Lock()
	s.pendingChanges = 0
	s.mu.Unlock()
	return nil
}

// LoadAll returns every entry currently held, used by the HTTP cache
// handler to gather the candidates it feeds to warm_cache.
func (s *Store) LoadAll(ctx context.Context) ([]*domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Clone())
	}
	return out, nil
}

// Close flushes pending changes, if any, matching deinit's "flush if
// pending_changes > 0" contract.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	pending := s.pendingChanges
	s.mu.Unlock()
	if pending > 0 {
		return s.Flush(ctx)
	}
	return nil
}

// Backup copies metadata.bin and every batch_*.bin file into targetDir
// atomically (via temp-then-rename per file). The caller is responsible
// for quiescing the coordinator first, per §4.7.
func (s *Store) Backup(targetDir string) error {
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return apperr.StorageError("create backup dir", err)
	}

	files, err := storeFiles(s.cfg.Root)
	if err != nil {
		return err
	}

	for _, name := range files {
		src := filepath.Join(s.cfg.Root, name)
		data, err := os.ReadFile(src)
		if err != nil {
			return apperr.StorageError("read file for backup: "+name, err)
		}
		dstTmp := filepath.Join(targetDir, name+".tmp")
		if err := os.WriteFile(dstTmp, data, 0o644); err != nil {
			return apperr.StorageError("write backup tmp file: "+name, err)
		}
		if err := os.Rename(dstTmp, filepath.Join(targetDir, name)); err != nil {
			return apperr.StorageError("rename backup file: "+name, err)
		}
	}
	return nil
}

func storeFiles(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, apperr.StorageError("list storage root", err)
	}
	var files []string
	for _, de := range entries {
		name := de.Name()
		if name == "metadata.bin" || (strings.HasPrefix(name, "batch_") && strings.HasSuffix(name, ".bin")) {
			files = append(files, name)
		}
	}
	return files, nil
}

// loadLatestBatch finds the most recent batch_*.bin file by its monotonic
// suffix and parses it, skipping (and logging) any file with a corrupted
// header rather than crashing.
func loadLatestBatch(root string, log *logger.Logger) ([]*domain.Entry, error) {
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		return nil, apperr.StorageError("list storage root", err)
	}

	var candidates []string
	for _, de := range dirEntries {
		name := de.Name()
		if strings.HasPrefix(name, "batch_") && strings.HasSuffix(name, ".bin") && !strings.HasSuffix(name, ".tmp") {
			candidates = append(candidates, name)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(candidates)))

	for _, name := range candidates {
		path := filepath.Join(root, name)
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		entries, rerr := readBatch(f)
		f.Close()
		if rerr != nil {
			if log != nil {
				log.WithField("file", name).WithError(rerr).Warn("durablestore: skipping corrupted batch file")
			}
			continue
		}
		return entries, nil
	}
	return nil, nil
}

// snapshotTimeMS is the store's notion of "now" for metadata's
// last_save field; kept as a seam so tests can stub it if needed.
var snapshotTimeMS = func() int64 {
	return time.Now().UnixMilli()
}
