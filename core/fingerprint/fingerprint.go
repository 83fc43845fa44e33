// Package fingerprint derives the stable cache key for a translation
// request: normalize the source text, hash it, and format it alongside the
// language pair into the wire key the rest of the tree stores entries under.
package fingerprint

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"unicode"

	"github.com/bridgify-labs/tclcore/pkg/apperr"
)

// MaxKeyLength is the hard bound on a fingerprint key's encoded length, per
// the data model's key size invariant.
const MaxKeyLength = 512

var langCodePattern = regexp.MustCompile(`^[a-z]{2,3}(-[A-Z][a-z]{3})?(-[A-Z]{2})?$`)

// Options configures key derivation. A Config (see the config package's fingerprint knobs)
// supplies these at call sites; the package itself carries no state.
type Options struct {
	NormalizeText bool
	UseStrongHash bool
	MaxKeyLength  int
}

// ValidateLangCode reports whether code matches the IETF-ish subset the
// spec requires: a 2-3 letter primary subtag, optional 4-letter script
// subtag, optional 2-letter region subtag.
func ValidateLangCode(code string) error {
	if !langCodePattern.MatchString(code) {
		return apperr.InvalidInput("lang_code", fmt.Sprintf("%q does not match ^[a-z]{2,3}(-[A-Z][a-z]{3})?(-[A-Z]{2})?$", code))
	}
	return nil
}

// Normalize strips leading/trailing whitespace, collapses internal runs of
// whitespace to a single space, and lower-cases under Unicode's simple
// lowercase mapping. It is a pure text transform with no hashing step, so
// the LDE's preprocess option can reuse it without pulling in this package's
// hashing machinery.
func Normalize(text string) string {
	fields := strings.Fields(text)
	for i, f := range fields {
		fields[i] = strings.Map(unicode.ToLower, f)
	}
	return strings.Join(fields, " ")
}

// hash32 computes the 32-bit FNV-1a digest of body.
func hash32(body string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(body))
	return h.Sum32()
}

// hash128 runs two independent 64-bit FNV-1a passes over disjoint seeds and
// concatenates them for extra collision resistance, without introducing a
// cryptographic hashing dependency this package has no other use for.
func hash128(body string) string {
	h1 := fnv.New64a()
	_, _ = h1.Write([]byte("tcl-seed-a:"))
	_, _ = h1.Write([]byte(body))

	h2 := fnv.New64a()
	_, _ = h2.Write([]byte("tcl-seed-b:"))
	_, _ = h2.Write([]byte(body))

	return fmt.Sprintf("%016x%016x", h1.Sum64(), h2.Sum64())
}

// Derive computes the fingerprint key for a translation request. timestampMS
// is only appended when includeTimestamp is set (cache-bypass use cases).
func Derive(opts Options, sourceText, sourceLang, targetLang string, includeTimestamp bool, timestampMS int64) (string, error) {
	if err := ValidateLangCode(sourceLang); err != nil {
		return "", err
	}
	if err := ValidateLangCode(targetLang); err != nil {
		return "", err
	}

	body := sourceText
	if opts.NormalizeText {
		body = Normalize(body)
	}

	var digest string
	if opts.UseStrongHash {
		digest = hash128(body)
	} else {
		digest = fmt.Sprintf("%08x", hash32(body))
	}

	key := fmt.Sprintf("%s:%s:%s", sourceLang, targetLang, digest)
	if includeTimestamp {
		key = fmt.Sprintf("%s:%d", key, timestampMS)
	}

	limit := opts.MaxKeyLength
	if limit <= 0 {
		limit = MaxKeyLength
	}
	if len(key) > limit {
		return "", apperr.InvalidInput("key", fmt.Sprintf("derived key exceeds %d bytes", limit))
	}

	return key, nil
}
