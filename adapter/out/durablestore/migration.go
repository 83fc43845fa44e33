package durablestore

import "github.com/bridgify-labs/tclcore/pkg/apperr"

// Migration upgrades on-disk state from one schema version to the next.
// Migrations run in order and must be idempotent: running one twice
// (e.g. after a crash between migration and metadata update) must not
// corrupt state.
type Migration func(root string) error

// migrations is indexed by target version: migrations[v] upgrades from
// v-1 to v. There are no migrations registered yet (schema version 1 is
// the initial layout); this is where a v2 migration would be added.
var migrations = map[uint32]Migration{}

// Migrate runs every migration from storedVersion+1 up to codeVersion, in
// order. storedVersion > codeVersion is refused by the caller before this
// is reached (SchemaTooNew); this function only ever moves forward.
func Migrate(root string, storedVersion, codeVersion uint32) error {
	for v := storedVersion + 1; v <= codeVersion; v++ {
		migration, ok := migrations[v]
		if !ok {
			continue
		}
		if err := migration(root); err != nil {
			return apperr.StorageError("run schema migration", err)
		}
	}
	return nil
}

// CheckSchema compares the stored schema version against the code's
// current version and returns SchemaTooNew if the stored version is from
// the future relative to this binary.
func CheckSchema(storedVersion, codeVersion uint32) error {
	if storedVersion > codeVersion {
		return apperr.SchemaTooNew(int(storedVersion), int(codeVersion))
	}
	return nil
}
