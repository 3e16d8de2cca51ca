// Package trigger decodes inbound Pub/Sub push requests into notification
// fields the relay understands.
package trigger

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// PushEnvelope is the wrapper Pub/Sub wraps around a pushed message.
type PushEnvelope struct {
	Message      PushMessage `json:"message"`
	Subscription string      `json:"subscription"`
}

// PushMessage carries the base64-encoded notification payload.
type PushMessage struct {
	Data        string `json:"data"`
	MessageID   string `json:"messageId"`
	PublishTime string `json:"publishTime"`
}

// Notification is the decoded Gmail push payload. HistoryID stays an opaque
// string regardless of whether the wire carried a JSON number or string.
type Notification struct {
	EmailAddress string
	MailboxID    string
	HistoryID    string
}

// DecodePush unwraps a push request body into a Notification.
func DecodePush(body []byte) (Notification, error) {
	var env PushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Notification{}, fmt.Errorf("decode push envelope: %w", err)
	}
	if env.Message.Data == "" {
		return Notification{}, fmt.Errorf("push envelope has no message data")
	}

	data, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		return Notification{}, fmt.Errorf("decode message data: %w", err)
	}

	var payload struct {
		EmailAddress string          `json:"emailAddress"`
		Email        string          `json:"email"`
		MailboxID    string          `json:"mailboxId"`
		HistoryID    json.RawMessage `json:"historyId"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return Notification{}, fmt.Errorf("decode notification payload: %w", err)
	}

	n := Notification{
		EmailAddress: payload.EmailAddress,
		MailboxID:    payload.MailboxID,
		HistoryID:    rawToString(payload.HistoryID),
	}
	if n.EmailAddress == "" {
		n.EmailAddress = payload.Email
	}
	if n.HistoryID == "" {
		return Notification{}, fmt.Errorf("notification payload has no historyId")
	}
	return n, nil
}

// rawToString keeps a JSON number or string as its literal text.
func rawToString(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	return strings.Trim(s, `"`)
}
