package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relaykit/gmailhook/internal/mailbox"
	"github.com/relaykit/gmailhook/internal/relay"
)

// publishInterface narrows Publisher for tests.
type publishInterface interface {
	Publish(subject string, payload []byte, msgID string) error
}

// Mirror records every dispatched notification in the outbox and drains it to
// JetStream in the background.
type Mirror struct {
	store *Store
	pub   publishInterface
	log   *slog.Logger
}

// relayedEvent is the payload published per mirrored email.
type relayedEvent struct {
	EventID   string `json:"event_id"`
	TS        int64  `json:"ts"`
	MailboxID string `json:"mailbox_id"`
	Email     string `json:"email"`
	MessageID string `json:"message_id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Snippet   string `json:"snippet"`
}

// NewMirror creates a mirror over the given store and publisher.
func NewMirror(store *Store, pub *Publisher, log *slog.Logger) *Mirror {
	return &Mirror{store: store, pub: pub, log: log}
}

// Record appends one relayed email to the outbox. Redelivered messages are
// absorbed by the store's uniqueness constraint.
func (m *Mirror) Record(ctx context.Context, mb mailbox.Mailbox, rec *relay.EmailRecord) error {
	eventID := uuid.NewString()
	ts := time.Now().Unix()

	payload, err := json.Marshal(relayedEvent{
		EventID:   eventID,
		TS:        ts,
		MailboxID: mb.ID,
		Email:     mb.Email,
		MessageID: rec.ID,
		Sender:    rec.From,
		Recipient: rec.To,
		Subject:   rec.Subject,
		Snippet:   rec.Snippet,
	})
	if err != nil {
		return fmt.Errorf("encode relayed event: %w", err)
	}

	subject := fmt.Sprintf("mail.%s.relayed", mb.ID)
	msgID := fmt.Sprintf("email.relayed|%s|%s", mb.ID, rec.ID)
	return m.store.Append(ctx, eventID, ts,
		mb.ID, rec.ID, rec.From, rec.To, rec.Subject, rec.Snippet,
		subject, "email.relayed", payload, msgID)
}

// Run drains the outbox until the context is cancelled. Intended to run as a
// background goroutine for the process lifetime.
func (m *Mirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := m.store.DequeueOutbox(ctx, 100)
		if err != nil {
			m.log.Warn("dequeue outbox failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if len(messages) == 0 {
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, msg := range messages {
			if err := m.pub.Publish(msg.Subject, msg.Payload, msg.MsgID); err != nil {
				m.log.Warn("publish event failed", "outbox_id", msg.ID, "error", err)
				_ = m.store.MarkRetry(ctx, msg.ID, 10*time.Second)
				continue
			}
			if err := m.store.MarkPublished(ctx, msg.ID); err != nil {
				m.log.Warn("mark published failed", "outbox_id", msg.ID, "error", err)
			}
		}
	}
}
