// Package cursor persists the per-mailbox history progress marker.
package cursor

import (
	"encoding/json"
	"fmt"

	"github.com/relaykit/gmailhook/internal/storage"
)

// Cursor marks the point up to which a mailbox's change history has been
// consumed. The history id is opaque: it is never parsed or compared
// numerically by this system.
type Cursor struct {
	HistoryID string `json:"historyId"`
}

// Store reads and writes one cursor per mailbox folder. The cursor is created
// on the first notification for a mailbox, overwritten on every subsequent
// invocation, and never deleted.
type Store struct {
	Blobs  storage.Store
	Layout storage.Layout
}

// Load returns the mailbox's cursor. A missing cursor is not an error; it
// reports ok=false and means the mailbox has never been synced.
func (s *Store) Load(folder string) (Cursor, bool, error) {
	path := s.Layout.History(folder)
	ok, err := s.Blobs.Exists(path)
	if err != nil {
		return Cursor{}, false, fmt.Errorf("check cursor %s: %w", path, err)
	}
	if !ok {
		return Cursor{}, false, nil
	}
	data, err := s.Blobs.Read(path)
	if err != nil {
		return Cursor{}, false, fmt.Errorf("read cursor %s: %w", path, err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, false, fmt.Errorf("decode cursor %s: %w", path, err)
	}
	return c, true, nil
}

// Save overwrites the mailbox's cursor.
func (s *Store) Save(folder string, c Cursor) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}
	path := s.Layout.History(folder)
	if err := s.Blobs.Write(path, data); err != nil {
		return fmt.Errorf("write cursor %s: %w", path, err)
	}
	return nil
}
