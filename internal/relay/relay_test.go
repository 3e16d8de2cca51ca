package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/relaykit/gmailhook/internal/cursor"
	"github.com/relaykit/gmailhook/internal/gmailapi"
	"github.com/relaykit/gmailhook/internal/mailbox"
	"github.com/relaykit/gmailhook/internal/storage"
)

type fakeDelta struct {
	candidates []Candidate
	raw        []byte
	err        error
	calls      int
	lastPrev   string
}

func (f *fakeDelta) FetchDelta(ctx context.Context, mb mailbox.Mailbox, previousHistoryID string) ([]Candidate, []byte, error) {
	f.calls++
	f.lastPrev = previousHistoryID
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.candidates, f.raw, nil
}

type fakeMessages struct {
	records map[string]*EmailRecord
	errOn   string
	fetched []string
}

func (f *fakeMessages) FetchAndNormalize(ctx context.Context, mb mailbox.Mailbox, cand Candidate) (*EmailRecord, error) {
	f.fetched = append(f.fetched, cand.ID)
	if cand.ID == f.errOn {
		return nil, errors.New("fetch failed")
	}
	return f.records[cand.ID], nil
}

type fakeNotifier struct {
	texts []string
	errOn int // fail the nth call (1-based); 0 never fails
}

func (f *fakeNotifier) Notify(ctx context.Context, mb mailbox.Mailbox, text string) error {
	if f.errOn > 0 && len(f.texts)+1 == f.errOn {
		return &DispatchError{URL: "hook", Err: errors.New("down")}
	}
	f.texts = append(f.texts, text)
	return nil
}

func newOrchestrator(t *testing.T, delta *fakeDelta, msgs *fakeMessages, notifier *fakeNotifier) (*Orchestrator, *cursor.Store, storage.Store) {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	layout := storage.Layout{Root: "mailboxes"}
	cursors := &cursor.Store{Blobs: fs, Layout: layout}
	return &Orchestrator{
		Cursors:  cursors,
		History:  delta,
		Messages: msgs,
		Notifier: notifier,
		Blobs:    fs,
		Layout:   layout,
		Log:      discardLog(),
	}, cursors, fs
}

func testMailbox() mailbox.Mailbox {
	return mailbox.Mailbox{ID: "ops", Email: "ops@example.com", Folder: "ops"}
}

func TestSyncSeedsCursorOnFirstRun(t *testing.T) {
	delta := &fakeDelta{}
	o, cursors, _ := newOrchestrator(t, delta, &fakeMessages{}, &fakeNotifier{})

	if err := o.Sync(context.Background(), testMailbox(), "100"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delta.calls != 0 {
		t.Fatalf("history fetched %d times on first run, want 0", delta.calls)
	}
	c, ok, err := cursors.Load("ops")
	if err != nil {
		t.Fatalf("load cursor: %v", err)
	}
	if !ok || c.HistoryID != "100" {
		t.Fatalf("cursor %+v ok=%v, want historyId 100", c, ok)
	}
}

func TestSyncAdvancesCursorBeforeFetching(t *testing.T) {
	delta := &fakeDelta{err: &HistoryFetchError{MailboxID: "ops", Err: errors.New("api down")}}
	o, cursors, _ := newOrchestrator(t, delta, &fakeMessages{}, &fakeNotifier{})
	mb := testMailbox()

	if err := cursors.Save("ops", cursor.Cursor{HistoryID: "50"}); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}

	err := o.Sync(context.Background(), mb, "200")
	var hfe *HistoryFetchError
	if !errors.As(err, &hfe) {
		t.Fatalf("want HistoryFetchError, got %v", err)
	}
	if delta.lastPrev != "50" {
		t.Fatalf("fetched from %q, want previous cursor 50", delta.lastPrev)
	}
	// The trade-off under test: the cursor moved even though the fetch failed.
	c, _, err := cursors.Load("ops")
	if err != nil {
		t.Fatalf("load cursor: %v", err)
	}
	if c.HistoryID != "200" {
		t.Fatalf("cursor %q, want 200 persisted before the fetch", c.HistoryID)
	}
}

func TestSyncDispatchesInOrder(t *testing.T) {
	delta := &fakeDelta{
		candidates: []Candidate{{ID: "m1", ThreadID: "t1"}, {ID: "m2", ThreadID: "t2"}},
		raw:        []byte(`{"history":[]}`),
	}
	msgs := &fakeMessages{records: map[string]*EmailRecord{
		"m1": {ID: "m1", From: "Jane <j@example.com>", Subject: "one", Snippet: "s1"},
		"m2": {ID: "m2", From: "Bob <b@example.com>", Subject: "two", Snippet: "s2"},
	}}
	notifier := &fakeNotifier{}
	o, cursors, fs := newOrchestrator(t, delta, msgs, notifier)

	if err := cursors.Save("ops", cursor.Cursor{HistoryID: "50"}); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}
	if err := o.Sync(context.Background(), testMailbox(), "200"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"Jane: one\n\ns1", "Bob: two\n\ns2"}
	if len(notifier.texts) != len(want) {
		t.Fatalf("notified %v want %v", notifier.texts, want)
	}
	for i := range want {
		if notifier.texts[i] != want[i] {
			t.Fatalf("notified %v want %v", notifier.texts, want)
		}
	}

	if ok, _ := fs.Exists(o.Layout.Debug("ops", "history_200")); !ok {
		t.Fatalf("history debug snapshot missing")
	}
}

func TestSyncSkipsMissingMessages(t *testing.T) {
	delta := &fakeDelta{candidates: []Candidate{
		{ID: "m1", ThreadID: "t1"},
		{ID: "gone", ThreadID: "t2"},
		{ID: "m3", ThreadID: "t3"},
	}}
	msgs := &fakeMessages{records: map[string]*EmailRecord{
		"m1": {ID: "m1", From: "a@example.com", Subject: "one"},
		"m3": {ID: "m3", From: "c@example.com", Subject: "three"},
	}}
	notifier := &fakeNotifier{}
	o, cursors, _ := newOrchestrator(t, delta, msgs, notifier)

	if err := cursors.Save("ops", cursor.Cursor{HistoryID: "50"}); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}
	if err := o.Sync(context.Background(), testMailbox(), "200"); err != nil {
		t.Fatalf("a skipped candidate must not fail the batch: %v", err)
	}
	if len(msgs.fetched) != 3 {
		t.Fatalf("fetched %v, remaining candidates must still be processed", msgs.fetched)
	}
	if len(notifier.texts) != 2 {
		t.Fatalf("notified %d times, want 2", len(notifier.texts))
	}
}

func TestSyncAbortsOnCandidateFailure(t *testing.T) {
	delta := &fakeDelta{candidates: []Candidate{
		{ID: "m1", ThreadID: "t1"},
		{ID: "bad", ThreadID: "t2"},
		{ID: "m3", ThreadID: "t3"},
	}}
	msgs := &fakeMessages{
		records: map[string]*EmailRecord{"m1": {ID: "m1", From: "a@example.com"}},
		errOn:   "bad",
	}
	notifier := &fakeNotifier{}
	o, cursors, _ := newOrchestrator(t, delta, msgs, notifier)

	if err := cursors.Save("ops", cursor.Cursor{HistoryID: "50"}); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}
	if err := o.Sync(context.Background(), testMailbox(), "200"); err == nil {
		t.Fatalf("expected error")
	}
	if len(msgs.fetched) != 2 {
		t.Fatalf("fetched %v, the failure must abort the batch", msgs.fetched)
	}
	if len(notifier.texts) != 1 {
		t.Fatalf("notified %d times before the failure, want 1", len(notifier.texts))
	}
}

func TestSyncAbortsOnDispatchFailure(t *testing.T) {
	delta := &fakeDelta{candidates: []Candidate{
		{ID: "m1", ThreadID: "t1"},
		{ID: "m2", ThreadID: "t2"},
	}}
	msgs := &fakeMessages{records: map[string]*EmailRecord{
		"m1": {ID: "m1", From: "a@example.com"},
		"m2": {ID: "m2", From: "b@example.com"},
	}}
	notifier := &fakeNotifier{errOn: 1}
	o, cursors, _ := newOrchestrator(t, delta, msgs, notifier)

	if err := cursors.Save("ops", cursor.Cursor{HistoryID: "50"}); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}
	err := o.Sync(context.Background(), testMailbox(), "200")
	var de *DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("want DispatchError, got %v", err)
	}
	if len(msgs.fetched) != 1 {
		t.Fatalf("fetched %v, dispatch failure must abort the batch", msgs.fetched)
	}
}

// End-to-end through the real reducer: a messagesAdded and a labelsAdded event
// for the same message produce exactly one notification.
func TestSyncSingleNotificationForDuplicateEvents(t *testing.T) {
	client := &fakeClient{
		delta: &gmailapi.HistoryDelta{
			Records: []gmailapi.HistoryRecord{{
				MessagesAdded: []gmailapi.MessageRef{{ID: "m1", ThreadID: "t1"}},
				LabelsAdded: []gmailapi.LabelsAdded{{
					Message:  gmailapi.MessageRef{ID: "m1", ThreadID: "t1"},
					LabelIDs: []string{"INBOX"},
				}},
			}},
			Raw: []byte(`{"history":[{}]}`),
		},
		messages: map[string]*gmailapi.Message{
			"m1": {
				ID:       "m1",
				Snippet:  "snippet",
				MimeType: "text/plain",
				Body:     "body",
				Headers: []gmailapi.Header{
					{Name: "From", Value: "Jane <jane@example.com>"},
					{Name: "Subject", Value: "hello"},
				},
			},
		},
	}
	sessions := &fakeSessions{client: client}

	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	layout := storage.Layout{Root: "mailboxes"}
	cursors := &cursor.Store{Blobs: fs, Layout: layout}
	notifier := &fakeNotifier{}
	o := &Orchestrator{
		Cursors:  cursors,
		History:  &History{Sessions: sessions, Log: discardLog()},
		Messages: &Messages{Sessions: sessions, Blobs: fs, Layout: layout, Log: discardLog()},
		Notifier: notifier,
		Blobs:    fs,
		Layout:   layout,
		Log:      discardLog(),
	}

	mb := mailbox.Mailbox{
		ID:       "ops",
		Email:    "ops@example.com",
		LabelIDs: []string{"INBOX"},
		Folder:   "ops",
	}
	if err := cursors.Save("ops", cursor.Cursor{HistoryID: "50"}); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}
	if err := o.Sync(context.Background(), mb, "100"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(notifier.texts) != 1 {
		t.Fatalf("notified %d times, want exactly 1", len(notifier.texts))
	}
	if want := "Jane: hello\n\nsnippet"; notifier.texts[0] != want {
		t.Fatalf("text %q want %q", notifier.texts[0], want)
	}
	c, _, err := cursors.Load("ops")
	if err != nil {
		t.Fatalf("load cursor: %v", err)
	}
	if c.HistoryID != "100" {
		t.Fatalf("cursor %q want 100", c.HistoryID)
	}
}
