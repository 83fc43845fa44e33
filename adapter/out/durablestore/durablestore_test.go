package durablestore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bridgify-labs/tclcore/core/domain"
	"github.com/bridgify-labs/tclcore/pkg/apperr"
	"github.com/bridgify-labs/tclcore/pkg/logger"
)

func newTestEntry(key string) *domain.Entry {
	return &domain.Entry{
		Key:         key,
		SourceText:  "hello",
		SourceLang:  "eng",
		TargetLang:  "fra",
		Translation: "bonjour",
		Confidence:  0.9,
		Timestamp:   1_700_000_000_000,
		TTL:         60_000,
		Metadata: domain.Metadata{
			UsageCount: 2,
			LastUsed:   1_700_000_001_000,
			Context:    "chat",
			Origin:     "device-1",
			Domain:     "travel",
		},
	}
}

func TestWriteReadBatch_RoundTrip(t *testing.T) {
	entries := []*domain.Entry{newTestEntry("a:b:1"), newTestEntry("a:b:2")}

	var buf bytes.Buffer
	if err := writeBatch(&buf, 1, entries); err != nil {
		t.Fatalf("writeBatch: %v", err)
	}

	got, err := readBatch(&buf)
	if err != nil {
		t.Fatalf("readBatch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	for i, e := range got {
		if !e.EqualObservable(entries[i]) {
			t.Fatalf("entry %d mismatch: got %+v want %+v", i, e, entries[i])
		}
		if e.Metadata.Context != "chat" {
			t.Fatalf("metadata not preserved: %+v", e.Metadata)
		}
	}
}

func TestReadBatch_RejectsBadMagic(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0})
	_, err := readBatch(buf)
	if err == nil {
		t.Fatal("expected error for bad magic")
	}
	if apperr.AsAppError(err).Code != apperr.CodeInvalidFormat {
		t.Fatalf("expected InvalidFormat, got %v", err)
	}
}

func TestReadBatch_PartialReadStopsAtLastIntactEntry(t *testing.T) {
	entries := []*domain.Entry{newTestEntry("a:b:1"), newTestEntry("a:b:2"), newTestEntry("a:b:3")}

	var buf bytes.Buffer
	if err := writeBatch(&buf, 1, entries); err != nil {
		t.Fatalf("writeBatch: %v", err)
	}

	full := buf.Bytes()
	truncated := full[:len(full)-10] // chop off inside the last entry

	got, err := readBatch(bytes.NewReader(truncated))
	if err != nil {
		t.Fatalf("expected no error on truncation, got %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 intact entries recovered, got %d", len(got))
	}
}

func TestMetadata_WriteReadRoundTrip(t *testing.T) {
	root := t.TempDir()
	m := Metadata{SchemaVersion: 1, TotalEntries: 42, LastSaveMS: 1_700_000_000_000}

	if err := writeMetadata(root, m); err != nil {
		t.Fatalf("writeMetadata: %v", err)
	}
	got, err := readMetadata(root)
	if err != nil {
		t.Fatalf("readMetadata: %v", err)
	}
	if got != m {
		t.Fatalf("metadata mismatch: got %+v want %+v", got, m)
	}
}

func TestMetadata_MissingFileReturnsZeroValue(t *testing.T) {
	root := t.TempDir()
	got, err := readMetadata(root)
	if err != nil {
		t.Fatalf("unexpected error for missing metadata: %v", err)
	}
	if got.SchemaVersion != 0 || got.TotalEntries != 0 {
		t.Fatalf("expected zero-value metadata, got %+v", got)
	}
}

func TestMetadata_CorruptedMagicIsInvalidFormat(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(metadataPath(root), []byte{1, 2, 3, 4}, 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	_, err := readMetadata(root)
	if err == nil || apperr.AsAppError(err).Code != apperr.CodeInvalidFormat {
		t.Fatalf("expected InvalidFormat, got %v", err)
	}
}

func TestCheckSchema_TooNew(t *testing.T) {
	err := CheckSchema(5, 1)
	if err == nil || apperr.AsAppError(err).Code != apperr.CodeSchemaTooNew {
		t.Fatalf("expected SchemaTooNew, got %v", err)
	}
}

func TestMigrate_NoRegisteredMigrationsIsNoop(t *testing.T) {
	root := t.TempDir()
	if err := Migrate(root, 0, 1); err != nil {
		t.Fatalf("expected migrate with no registered steps to succeed, got %v", err)
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	log := logger.New(logger.Config{})
	s, err := Open(Config{Root: root, EnableAutoSave: false, MaxBatchSize: 100, WorkerID: 1}, log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestStore_SetGetDeleteRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := newTestEntry("eng:fra:1")

	if err := s.Set(ctx, e.Key, e); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, e.Key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.EqualObservable(e) {
		t.Fatalf("round-trip mismatch: %+v vs %+v", got, e)
	}

	if err := s.Delete(ctx, e.Key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, e.Key); err == nil {
		t.Fatal("expected NotFound after delete")
	}

	// Idempotent delete.
	if err := s.Delete(ctx, e.Key); err != nil {
		t.Fatalf("expected idempotent delete, got %v", err)
	}
}

func TestStore_FlushPersistsAcrossReopen(t *testing.T) {
	root := t.TempDir()
	log := logger.New(logger.Config{})
	ctx := context.Background()

	s, err := Open(Config{Root: root, MaxBatchSize: 100, WorkerID: 1}, log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	e := newTestEntry("eng:fra:1")
	if err := s.Set(ctx, e.Key, e); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reopened, err := Open(Config{Root: root, MaxBatchSize: 100, WorkerID: 1}, log)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Get(ctx, e.Key)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if !got.EqualObservable(e) {
		t.Fatalf("durable survival mismatch: %+v vs %+v", got, e)
	}
}

func TestStore_AutoSaveTriggersOnBatchThreshold(t *testing.T) {
	root := t.TempDir()
	log := logger.New(logger.Config{})
	ctx := context.Background()

	s, err := Open(Config{Root: root, EnableAutoSave: true, MaxBatchSize: 2, WorkerID: 1}, log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for i := 0; i < 2; i++ {
		e := newTestEntry("eng:fra:auto")
		if err := s.Set(ctx, e.Key, e); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	matches, _ := filepath.Glob(filepath.Join(root, "batch_*.bin"))
	if len(matches) == 0 {
		t.Fatal("expected auto-save to have written a batch file")
	}
}

func TestStore_CloseFlushesPendingChanges(t *testing.T) {
	root := t.TempDir()
	log := logger.New(logger.Config{})
	ctx := context.Background()

	s, err := Open(Config{Root: root, MaxBatchSize: 100, WorkerID: 1}, log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	e := newTestEntry("eng:fra:1")
	if err := s.Set(ctx, e.Key, e); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	matches, _ := filepath.Glob(filepath.Join(root, "batch_*.bin"))
	if len(matches) == 0 {
		t.Fatal("expected Close to flush pending changes to a batch file")
	}
}

func TestLoadLatestBatch_SkipsCorruptedFileAndUsesPreviousIntact(t *testing.T) {
	root := t.TempDir()
	log := logger.New(logger.Config{})

	older := filepath.Join(root, "batch_00000000000000000001.bin")
	newer := filepath.Join(root, "batch_00000000000000000002.bin")

	var goodBuf bytes.Buffer
	if err := writeBatch(&goodBuf, 1, []*domain.Entry{newTestEntry("eng:fra:1")}); err != nil {
		t.Fatalf("writeBatch: %v", err)
	}
	if err := os.WriteFile(older, goodBuf.Bytes(), 0o644); err != nil {
		t.Fatalf("setup older: %v", err)
	}
	if err := os.WriteFile(newer, []byte{0xFF, 0xFF, 0xFF, 0xFF}, 0o644); err != nil {
		t.Fatalf("setup newer: %v", err)
	}

	entries, err := loadLatestBatch(root, log)
	if err != nil {
		t.Fatalf("loadLatestBatch: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected fallback to the older intact batch, got %d entries", len(entries))
	}
}

func TestStore_BackupCopiesStoreFiles(t *testing.T) {
	root := t.TempDir()
	backupDir := t.TempDir()
	log := logger.New(logger.Config{})
	ctx := context.Background()

	s, err := Open(Config{Root: root, MaxBatchSize: 100, WorkerID: 1}, log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	e := newTestEntry("eng:fra:1")
	if err := s.Set(ctx, e.Key, e); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if err := s.Backup(backupDir); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	if _, err := os.Stat(filepath.Join(backupDir, "metadata.bin")); err != nil {
		t.Fatalf("expected metadata.bin in backup: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(backupDir, "batch_*.bin"))
	if len(matches) == 0 {
		t.Fatal("expected at least one batch file in backup")
	}
}
