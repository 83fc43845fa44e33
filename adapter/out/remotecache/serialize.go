// Package remotecache implements the L2 tier: a Redis-backed adapter that
// treats Redis as an opaque key/value store with native TTL, per §4.5.
package remotecache

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bridgify-labs/tclcore/core/domain"
	"github.com/bridgify-labs/tclcore/pkg/apperr"
)

// SchemaVersion is the current wire schema for the serialized entry
// format. Parsing rejects any version other than this one — the spec
// requires unknown/future versions to be refused, not silently truncated.
const SchemaVersion = 1

const fieldSep = "\x1f" // unit separator, unlikely to collide with content
const escEscaped = "\x1e"

// serialize renders an entry as a self-describing, versioned text record:
// version, then fields in a fixed order, each escaped so an embedded
// separator byte cannot be mistaken for a field boundary.
func serialize(e *domain.Entry) string {
	fields := []string{
		strconv.Itoa(SchemaVersion),
		escape(e.Key),
		escape(e.SourceText),
		escape(e.SourceLang),
		escape(e.TargetLang),
		escape(e.Translation),
		strconv.FormatFloat(e.Confidence, 'f', -1, 64),
		strconv.FormatInt(e.Timestamp, 10),
		strconv.FormatInt(e.TTL, 10),
		strconv.FormatUint(uint64(e.Flags), 10),
		strconv.FormatInt(e.Metadata.UsageCount, 10),
		strconv.FormatInt(e.Metadata.LastUsed, 10),
		escape(e.Metadata.Context),
		escape(e.Metadata.Origin),
		escape(e.Metadata.Domain),
	}
	return strings.Join(fields, fieldSep)
}

// deserialize parses a record produced by serialize. Any version other
// than SchemaVersion, or a field count mismatch, is InvalidFormat rather
// than a best-effort partial parse.
func deserialize(raw string) (*domain.Entry, error) {
	fields := strings.Split(raw, fieldSep)
	if len(fields) != 15 {
		return nil, apperr.InvalidFormat(fmt.Sprintf("expected 15 fields, got %d", len(fields)))
	}

	version, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, apperr.InvalidFormat("version field is not an integer")
	}
	if version != SchemaVersion {
		return nil, apperr.InvalidFormat(fmt.Sprintf("unsupported wire schema version %d", version))
	}

	confidence, err := strconv.ParseFloat(fields[6], 64)
	if err != nil {
		return nil, apperr.InvalidFormat("confidence field is not a float")
	}
	timestamp, err := strconv.ParseInt(fields[7], 10, 64)
	if err != nil {
		return nil, apperr.InvalidFormat("timestamp field is not an integer")
	}
	ttl, err := strconv.ParseInt(fields[8], 10, 64)
	if err != nil {
		return nil, apperr.InvalidFormat("ttl field is not an integer")
	}
	flags, err := strconv.ParseUint(fields[9], 10, 32)
	if err != nil {
		return nil, apperr.InvalidFormat("flags field is not an integer")
	}
	usageCount, err := strconv.ParseInt(fields[10], 10, 64)
	if err != nil {
		return nil, apperr.InvalidFormat("usage_count field is not an integer")
	}
	lastUsed, err := strconv.ParseInt(fields[11], 10, 64)
	if err != nil {
		return nil, apperr.InvalidFormat("last_used field is not an integer")
	}

	return &domain.Entry{
		Key:         unescape(fields[1]),
		SourceText:  unescape(fields[2]),
		SourceLang:  unescape(fields[3]),
		TargetLang:  unescape(fields[4]),
		Translation: unescape(fields[5]),
		Confidence:  confidence,
		Timestamp:   timestamp,
		TTL:         ttl,
		Flags:       domain.Flag(flags),
		Metadata: domain.Metadata{
			UsageCount: usageCount,
			LastUsed:   lastUsed,
			Context:    unescape(fields[12]),
			Origin:     unescape(fields[13]),
			Domain:     unescape(fields[14]),
		},
	}, nil
}

func escape(s string) string {
	s = strings.ReplaceAll(s, escEscaped, escEscaped+"0")
	s = strings.ReplaceAll(s, fieldSep, escEscaped+"1")
	return s
}

func unescape(s string) string {
	s = strings.ReplaceAll(s, escEscaped+"1", fieldSep)
	s = strings.ReplaceAll(s, escEscaped+"0", escEscaped)
	return s
}
