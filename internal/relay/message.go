package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/relaykit/gmailhook/internal/gmailapi"
	"github.com/relaykit/gmailhook/internal/mailbox"
	"github.com/relaykit/gmailhook/internal/storage"
)

// EmailRecord is the normalized form of a fetched message.
type EmailRecord struct {
	ID       string `json:"id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Snippet  string `json:"snippet"`
	BodyText string `json:"bodyText"`
	BodyHTML string `json:"bodyHtml"`
}

// Messages fetches candidates in full and normalizes them.
type Messages struct {
	Sessions Sessions
	Blobs    storage.Store
	Layout   storage.Layout
	Log      *slog.Logger
}

// FetchAndNormalize retrieves the candidate's message and extracts an
// EmailRecord. A missing message or one without headers is not an error: it
// returns (nil, nil) and the batch continues. The raw message and the
// normalized record are persisted as audit artifacts, best-effort.
func (m *Messages) FetchAndNormalize(ctx context.Context, mb mailbox.Mailbox, cand Candidate) (*EmailRecord, error) {
	client, err := m.Sessions.For(ctx, mb)
	if err != nil {
		return nil, fmt.Errorf("mailbox %s: %w", mb.ID, err)
	}

	msg, err := client.GetMessage(ctx, cand.ID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		m.Log.Info("message no longer available, skipping", "mailbox", mb.ID, "message", cand.ID)
		return nil, nil
	}
	if len(msg.Headers) == 0 {
		m.Log.Debug("message has no headers, skipping", "mailbox", mb.ID, "message", cand.ID)
		return nil, nil
	}

	rec := normalize(msg)

	if m.Blobs != nil {
		if len(msg.Raw) > 0 {
			if err := m.Blobs.Write(m.Layout.Debug(mb.Folder, msg.ID), msg.Raw); err != nil {
				m.Log.Warn("persist raw message failed", "mailbox", mb.ID, "message", msg.ID, "error", err)
			}
		}
		if data, err := json.Marshal(rec); err == nil {
			if err := m.Blobs.Write(m.Layout.Email(mb.Folder, msg.ID), data); err != nil {
				m.Log.Warn("persist email record failed", "mailbox", mb.ID, "message", msg.ID, "error", err)
			}
		}
	}

	return rec, nil
}

// normalize extracts headers and bodies. Headers are scanned once with the
// last occurrence of To/From/Subject winning; the same last-wins rule applies
// to text/plain and text/html parts.
func normalize(msg *gmailapi.Message) *EmailRecord {
	rec := &EmailRecord{ID: msg.ID, Snippet: msg.Snippet}

	for _, h := range msg.Headers {
		switch h.Name {
		case "To":
			rec.To = h.Value
		case "From":
			rec.From = h.Value
		case "Subject":
			rec.Subject = h.Value
		}
	}

	switch {
	case strings.HasPrefix(msg.MimeType, "text/plain"):
		rec.BodyText = msg.Body
	case len(msg.Parts) > 0:
		for _, p := range msg.Parts {
			switch {
			case strings.HasPrefix(p.MimeType, "text/plain"):
				rec.BodyText = p.Body
			case strings.HasPrefix(p.MimeType, "text/html"):
				rec.BodyHTML = p.Body
			}
		}
	default:
		// Not plain text and no parts: take the top-level body anyway.
		rec.BodyText = msg.Body
	}

	return rec
}

// NotificationText reduces a record to the single display string sent to the
// webhook.
func NotificationText(rec *EmailRecord) string {
	return fmt.Sprintf("%s: %s\n\n%s", senderDisplayName(rec.From), rec.Subject, rec.Snippet)
}

// senderDisplayName takes the From header up to the first '<', so that
// `"Jane Doe <jane@example.com>"` becomes `Jane Doe`. Without a '<' the whole
// value is used.
func senderDisplayName(from string) string {
	if i := strings.Index(from, "<"); i >= 0 {
		from = from[:i]
	}
	return strings.TrimSpace(from)
}
