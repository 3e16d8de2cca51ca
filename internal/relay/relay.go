// Package relay implements the incremental history synchronization and
// notification dispatch engine.
package relay

import (
	"context"
	"log/slog"

	"github.com/relaykit/gmailhook/internal/cursor"
	"github.com/relaykit/gmailhook/internal/mailbox"
	"github.com/relaykit/gmailhook/internal/storage"
)

// DeltaFetcher turns a cursor gap into an ordered candidate list.
type DeltaFetcher interface {
	FetchDelta(ctx context.Context, mb mailbox.Mailbox, previousHistoryID string) ([]Candidate, []byte, error)
}

// MessageFetcher fetches and normalizes one candidate; (nil, nil) means skip.
type MessageFetcher interface {
	FetchAndNormalize(ctx context.Context, mb mailbox.Mailbox, cand Candidate) (*EmailRecord, error)
}

// Notifier delivers one notification text for a mailbox.
type Notifier interface {
	Notify(ctx context.Context, mb mailbox.Mailbox, text string) error
}

// EventSink records successfully relayed emails in a secondary sink.
type EventSink interface {
	Record(ctx context.Context, mb mailbox.Mailbox, rec *EmailRecord) error
}

// Orchestrator runs one sync per inbound push notification.
type Orchestrator struct {
	Cursors  *cursor.Store
	History  DeltaFetcher
	Messages MessageFetcher
	Notifier Notifier
	Blobs    storage.Store // debug snapshots; may be nil
	Layout   storage.Layout
	Mirror   EventSink // optional; may be nil
	Log      *slog.Logger
}

// Sync processes one push notification for a mailbox.
//
// On the first notification ever seen for a mailbox there is nothing to diff
// against: the cursor is seeded with the incoming history id and the
// invocation ends. Otherwise the cursor is advanced to the incoming id
// *before* history is fetched: losing a cursor update causes unbounded
// reprocessing on the next redelivery, while losing one notification is a
// single missed event. Candidates are then fetched and dispatched strictly in
// delta order; the first failing candidate aborts the invocation and leaves
// retry to the upstream redelivery, which may re-notify candidates already
// handled in this batch.
//
// Concurrent invocations for the same mailbox are not coordinated. Two
// overlapping deliveries can both read the old cursor and notify the same
// message twice; that is the accepted at-least-once behavior.
func (o *Orchestrator) Sync(ctx context.Context, mb mailbox.Mailbox, incomingHistoryID string) error {
	cur, ok, err := o.Cursors.Load(mb.Folder)
	if err != nil {
		return err
	}
	if !ok {
		if err := o.Cursors.Save(mb.Folder, cursor.Cursor{HistoryID: incomingHistoryID}); err != nil {
			return err
		}
		o.Log.Info("seeded history cursor", "mailbox", mb.ID, "historyId", incomingHistoryID)
		return nil
	}

	previous := cur.HistoryID
	if err := o.Cursors.Save(mb.Folder, cursor.Cursor{HistoryID: incomingHistoryID}); err != nil {
		return err
	}

	candidates, rawDiff, err := o.History.FetchDelta(ctx, mb, previous)
	if err != nil {
		return err
	}

	if o.Blobs != nil && len(rawDiff) > 0 {
		path := o.Layout.Debug(mb.Folder, "history_"+incomingHistoryID)
		if err := o.Blobs.Write(path, rawDiff); err != nil {
			o.Log.Warn("persist history snapshot failed", "mailbox", mb.ID, "error", err)
		}
	}

	for _, cand := range candidates {
		rec, err := o.Messages.FetchAndNormalize(ctx, mb, cand)
		if err != nil {
			return err
		}
		if rec == nil {
			continue
		}
		if err := o.Notifier.Notify(ctx, mb, NotificationText(rec)); err != nil {
			return err
		}
		if o.Mirror != nil {
			if err := o.Mirror.Record(ctx, mb, rec); err != nil {
				o.Log.Warn("event mirror record failed", "mailbox", mb.ID, "message", rec.ID, "error", err)
			}
		}
	}

	o.Log.Info("sync complete",
		"mailbox", mb.ID,
		"previousHistoryId", previous,
		"historyId", incomingHistoryID,
		"candidates", len(candidates))
	return nil
}
