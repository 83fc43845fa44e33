// Package durablestore implements the L3 tier: crash-safe batch snapshots
// of entries on disk, per §4.6/§4.7. Writes land in a .tmp file first and
// are made visible only by an atomic rename; the loader always picks the
// most recent batch by its monotonic, zero-padded suffix and tolerates a
// truncated or corrupted file left behind by a crash mid-write.
package durablestore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bridgify-labs/tclcore/core/domain"
	"github.com/bridgify-labs/tclcore/pkg/apperr"
)

// Magic identifies a batch file: ASCII "TCLB".
const Magic uint32 = 0x54434C42

// batchRecord is one entry as laid out in a batch file.
type batchRecord struct {
	Key         string
	Value       string // the entry's remaining fields, packed by encodeValue below
	Timestamp   uint64
	TTL         uint32
	Flags       uint32
}

// writeBatch writes count entries to w in the §4.6 little-endian layout:
// magic, version, count, then each entry's key_len/value_len/key/value/
// timestamp/ttl/flags in order.
func writeBatch(w io.Writer, version uint32, entries []*domain.Entry) error {
	bw := bufio.NewWriter(w)

	if err := binary.Write(bw, binary.LittleEndian, Magic); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, version); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(entries))); err != nil {
		return err
	}

	for _, e := range entries {
		value := encodeValue(e)
		keyBytes := []byte(e.Key)
		valueBytes := []byte(value)

		if err := binary.Write(bw, binary.LittleEndian, uint32(len(keyBytes))); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(valueBytes))); err != nil {
			return err
		}
		if _, err := bw.Write(keyBytes); err != nil {
			return err
		}
		if _, err := bw.Write(valueBytes); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint64(e.Timestamp)); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(e.TTL)); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(e.Flags)); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// readBatch parses a batch file. On a corrupted header it returns
// InvalidFormat so the caller can skip the file and log. On a truncated
// read mid-entry it returns the entries read so far (no error) so the
// loader stops at the last intact entry rather than losing the whole file.
func readBatch(r io.Reader) ([]*domain.Entry, error) {
	br := bufio.NewReader(r)

	var magic, version, count uint32
	if err := binary.Read(br, binary.LittleEndian, &magic); err != nil {
		return nil, apperr.InvalidFormat("truncated or missing magic")
	}
	if magic != Magic {
		return nil, apperr.InvalidFormat(fmt.Sprintf("bad magic 0x%08x", magic))
	}
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return nil, apperr.InvalidFormat("truncated version field")
	}
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, apperr.InvalidFormat("truncated count field")
	}

	entries := make([]*domain.Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		entry, ok := readEntry(br)
		if !ok {
			// Partial read mid-entry: stop at the last intact entry.
			return entries, nil
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func readEntry(br *bufio.Reader) (*domain.Entry, bool) {
	var keyLen, valueLen uint32
	if err := binary.Read(br, binary.LittleEndian, &keyLen); err != nil {
		return nil, false
	}
	if err := binary.Read(br, binary.LittleEndian, &valueLen); err != nil {
		return nil, false
	}

	keyBytes := make([]byte, keyLen)
	if _, err := io.ReadFull(br, keyBytes); err != nil {
		return nil, false
	}
	valueBytes := make([]byte, valueLen)
	if _, err := io.ReadFull(br, valueBytes); err != nil {
		return nil, false
	}

	var timestamp uint64
	var ttl, flags uint32
	if err := binary.Read(br, binary.LittleEndian, &timestamp); err != nil {
		return nil, false
	}
	if err := binary.Read(br, binary.LittleEndian, &ttl); err != nil {
		return nil, false
	}
	if err := binary.Read(br, binary.LittleEndian, &flags); err != nil {
		return nil, false
	}

	entry := decodeValue(string(keyBytes), string(valueBytes))
	entry.Timestamp = int64(timestamp)
	entry.TTL = int64(ttl)
	entry.Flags = domain.Flag(flags)
	return entry, true
}

// encodeValue/decodeValue pack the entry fields the batch layout doesn't
// break out explicitly (source text, languages, translation, confidence,
// metadata) into the opaque "value" blob. It uses the same separator (0x1f)
// and escape (0x1e) bytes as the L2 wire format, but here the escape byte
// is written in front of the byte it protects rather than replacing it
// with a two-byte code.
func encodeValue(e *domain.Entry) string {
	return fmt.Sprintf("%s\x1f%s\x1f%s\x1f%s\x1f%d\x1f%d\x1f%s\x1f%s\x1f%s",
		escapeValue(e.SourceText), escapeValue(e.SourceLang), escapeValue(e.TargetLang), escapeValue(e.Translation),
		int64(e.Confidence*1e6), e.Metadata.UsageCount,
		escapeValue(e.Metadata.Context), escapeValue(e.Metadata.Origin), escapeValue(e.Metadata.Domain))
}

func decodeValue(key, value string) *domain.Entry {
	parts := splitValue(value)
	e := &domain.Entry{Key: key}
	if len(parts) > 0 {
		e.SourceText = unescapeValue(parts[0])
	}
	if len(parts) > 1 {
		e.SourceLang = unescapeValue(parts[1])
	}
	if len(parts) > 2 {
		e.TargetLang = unescapeValue(parts[2])
	}
	if len(parts) > 3 {
		e.Translation = unescapeValue(parts[3])
	}
	if len(parts) > 4 {
		var scaled int64
		fmt.Sscanf(parts[4], "%d", &scaled)
		e.Confidence = float64(scaled) / 1e6
	}
	if len(parts) > 5 {
		fmt.Sscanf(parts[5], "%d", &e.Metadata.UsageCount)
	}
	if len(parts) > 6 {
		e.Metadata.Context = unescapeValue(parts[6])
	}
	if len(parts) > 7 {
		e.Metadata.Origin = unescapeValue(parts[7])
	}
	if len(parts) > 8 {
		e.Metadata.Domain = unescapeValue(parts[8])
	}
	return e
}

func splitValue(value string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(value); i++ {
		if value[i] == '\x1e' && i+1 < len(value) {
			i++ // escaped byte: part of the field, not a boundary
			continue
		}
		if value[i] == '\x1f' {
			parts = append(parts, value[start:i])
			start = i + 1
		}
	}
	parts = append(parts, value[start:])
	return parts
}

func escapeValue(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\x1f' || s[i] == '\x1e' {
			out = append(out, '\x1e')
		}
		out = append(out, s[i])
	}
	return string(out)
}

func unescapeValue(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\x1e' && i+1 < len(s) {
			i++
		}
		out = append(out, s[i])
	}
	return string(out)
}
