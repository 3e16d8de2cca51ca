package relay

import (
	"context"
	"log/slog"

	"github.com/relaykit/gmailhook/internal/gmailapi"
	"github.com/relaykit/gmailhook/internal/mailbox"
)

// Candidate is a message a history diff flagged for notification, before
// dedup survivors are fetched. Candidates are never persisted.
type Candidate struct {
	ID       string
	ThreadID string
}

// Sessions yields an authenticated client per mailbox.
type Sessions interface {
	For(ctx context.Context, mb mailbox.Mailbox) (gmailapi.Client, error)
}

// History reduces raw history diffs into an ordered, deduplicated candidate
// list.
type History struct {
	Sessions Sessions
	Log      *slog.Logger
}

// FetchDelta diffs the mailbox's change history since previousHistoryID. The
// returned raw bytes are the upstream response, kept for the debug snapshot.
//
// Only the first configured label is passed to the diff API even when several
// are configured; the upstream watch has the same restriction.
func (f *History) FetchDelta(ctx context.Context, mb mailbox.Mailbox, previousHistoryID string) ([]Candidate, []byte, error) {
	client, err := f.Sessions.For(ctx, mb)
	if err != nil {
		return nil, nil, &HistoryFetchError{MailboxID: mb.ID, Err: err}
	}

	opts := gmailapi.HistoryOptions{StartHistoryID: previousHistoryID}
	if len(mb.LabelIDs) > 0 {
		opts.LabelID = mb.LabelIDs[0]
	}

	delta, err := client.HistoryList(ctx, opts)
	if err != nil {
		return nil, nil, &HistoryFetchError{MailboxID: mb.ID, Err: err}
	}

	candidates := reduce(mb, delta)
	f.Log.Debug("reduced history delta",
		"mailbox", mb.ID,
		"records", len(delta.Records),
		"candidates", len(candidates))
	return candidates, delta.Raw, nil
}

// reduce walks the history records in order and applies the inclusion rules:
// labelsAdded entries pass only when label filtering is off or the added
// labels intersect the configured set; messagesAdded entries always pass.
// A candidate is dropped when an earlier one already used its id or thread.
func reduce(mb mailbox.Mailbox, delta *gmailapi.HistoryDelta) []Candidate {
	var out []Candidate
	seenID := make(map[string]bool)
	seenThread := make(map[string]bool)

	add := func(ref gmailapi.MessageRef) {
		if seenID[ref.ID] {
			return
		}
		if ref.ThreadID != "" && seenThread[ref.ThreadID] {
			return
		}
		seenID[ref.ID] = true
		if ref.ThreadID != "" {
			seenThread[ref.ThreadID] = true
		}
		out = append(out, Candidate{ID: ref.ID, ThreadID: ref.ThreadID})
	}

	for _, rec := range delta.Records {
		for _, la := range rec.LabelsAdded {
			if len(mb.LabelIDs) == 0 || intersects(la.LabelIDs, mb.LabelIDs) {
				add(la.Message)
			}
		}
		for _, ref := range rec.MessagesAdded {
			add(ref)
		}
	}
	return out
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
