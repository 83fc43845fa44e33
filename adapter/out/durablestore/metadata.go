package durablestore

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/bridgify-labs/tclcore/pkg/apperr"
)

// metadataMagic distinguishes metadata.bin from a batch file sharing the
// same directory.
const metadataMagic uint32 = 0x544D4554 // "TMET"

// Metadata is the small header file tracking schema version and
// cumulative totals, per §4.6.
type Metadata struct {
	SchemaVersion uint32
	TotalEntries  uint64
	LastSaveMS    uint64
}

func metadataPath(root string) string {
	return filepath.Join(root, "metadata.bin")
}

func writeMetadata(root string, m Metadata) error {
	path := metadataPath(root)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return apperr.StorageError("create metadata tmp file", err)
	}

	if err := binary.Write(f, binary.LittleEndian, metadataMagic); err != nil {
		f.Close()
		return apperr.StorageError("write metadata magic", err)
	}
	if err := binary.Write(f, binary.LittleEndian, m.SchemaVersion); err != nil {
		f.Close()
		return apperr.StorageError("write schema version", err)
	}
	if err := binary.Write(f, binary.LittleEndian, m.TotalEntries); err != nil {
		f.Close()
		return apperr.StorageError("write total entries", err)
	}
	if err := binary.Write(f, binary.LittleEndian, m.LastSaveMS); err != nil {
		f.Close()
		return apperr.StorageError("write last save time", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return apperr.StorageError("sync metadata tmp file", err)
	}
	if err := f.Close(); err != nil {
		return apperr.StorageError("close metadata tmp file", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return apperr.StorageError("rename metadata tmp file", err)
	}
	return nil
}

// readMetadata reads metadata.bin, or returns a zero-version Metadata if
// the file doesn't exist yet (first run).
func readMetadata(root string) (Metadata, error) {
	path := metadataPath(root)

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Metadata{}, nil
	}
	if err != nil {
		return Metadata{}, apperr.StorageError("open metadata file", err)
	}
	defer f.Close()

	var magic uint32
	if err := binary.Read(f, binary.LittleEndian, &magic); err != nil {
		if err == io.EOF {
			return Metadata{}, nil
		}
		return Metadata{}, apperr.InvalidFormat("truncated metadata magic")
	}
	if magic != metadataMagic {
		return Metadata{}, apperr.InvalidFormat("bad metadata magic")
	}

	var m Metadata
	if err := binary.Read(f, binary.LittleEndian, &m.SchemaVersion); err != nil {
		return Metadata{}, apperr.InvalidFormat("truncated schema version")
	}
	if err := binary.Read(f, binary.LittleEndian, &m.TotalEntries); err != nil {
		return Metadata{}, apperr.InvalidFormat("truncated total entries")
	}
	if err := binary.Read(f, binary.LittleEndian, &m.LastSaveMS); err != nil {
		return Metadata{}, apperr.InvalidFormat("truncated last save time")
	}
	return m, nil
}
