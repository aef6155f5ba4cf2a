// Package state provides the session, event and artifact stores. Sessions
// can live on the filesystem, in SQLite or in Redis; events and artifacts
// are always kept on the filesystem next to the session directories.
package state

import (
	"errors"
	"fmt"
	"os"

	"github.com/user/bankdesk/internal/types"
)

// Compile-time interface compliance checks.
var _ types.SessionStore = (*SessionStore)(nil)
var _ types.SessionStore = (*SQLiteStore)(nil)
var _ types.SessionStore = (*RedisStore)(nil)
var _ types.EventStore = (*EventStore)(nil)
var _ types.ArtifactStore = (*ArtifactStore)(nil)

// ErrKeyInUse is returned by Create when another session already owns the key.
var ErrKeyInUse = errors.New("session key already in use")

// writeFileAtomic writes data to a temp file next to path and renames it
// into place.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
