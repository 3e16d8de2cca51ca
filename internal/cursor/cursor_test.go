package cursor

import (
	"testing"

	"github.com/relaykit/gmailhook/internal/storage"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &Store{Blobs: fs, Layout: storage.Layout{Root: "mailboxes"}}
}

func TestLoadMissing(t *testing.T) {
	s := newStore(t)

	c, ok, err := s.Load("ops")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("cursor should be absent, got %+v", c)
	}
}

func TestSaveLoad(t *testing.T) {
	s := newStore(t)

	if err := s.Save("ops", Cursor{HistoryID: "100"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	c, ok, err := s.Load("ops")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok || c.HistoryID != "100" {
		t.Fatalf("got %+v ok=%v", c, ok)
	}

	// Cursors for different mailboxes are independent.
	if _, ok, _ := s.Load("sales"); ok {
		t.Fatalf("sales cursor should be absent")
	}

	// Overwrite advances the cursor.
	if err := s.Save("ops", Cursor{HistoryID: "250"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	c, _, err = s.Load("ops")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.HistoryID != "250" {
		t.Fatalf("cursor not overwritten: %+v", c)
	}
}
