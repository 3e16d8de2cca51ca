package relay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/relaykit/gmailhook/internal/mailbox"
)

// Dispatcher posts signed notification payloads to the mailbox's webhook.
type Dispatcher struct {
	HTTP          *http.Client
	WebhookURL    string // global fallback
	WebhookSecret string // global fallback
	Log           *slog.Logger
}

type notificationPayload struct {
	Text string `json:"text"`
}

// Notify sends one notification. Per-mailbox webhook URL and secret override
// the globals. A missing URL is a configuration gap, not an error: the sync
// must keep advancing the cursor even when delivery is unconfigured. A missing
// secret just means the request goes out unsigned.
func (d *Dispatcher) Notify(ctx context.Context, mb mailbox.Mailbox, text string) error {
	url := mb.WebhookURL
	if url == "" {
		url = d.WebhookURL
	}
	if url == "" {
		d.Log.Warn("webhook url not configured, skipping notification", "mailbox", mb.ID)
		return nil
	}
	secret := mb.WebhookSecret
	if secret == "" {
		secret = d.WebhookSecret
	}

	body, err := json.Marshal(notificationPayload{Text: text})
	if err != nil {
		return &DispatchError{URL: url, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &DispatchError{URL: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		// The signature covers the exact bytes on the wire.
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		req.Header.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	client := d.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return &DispatchError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DispatchError{URL: url, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 a receiver can use to verify a payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
