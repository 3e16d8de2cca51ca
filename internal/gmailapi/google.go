package gmailapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

// googleClient adapts *gmail.Service to the Client interface.
type googleClient struct {
	svc *gmail.Service
}

// NewGoogleClient wraps an authenticated Gmail service.
func NewGoogleClient(svc *gmail.Service) Client {
	return &googleClient{svc: svc}
}

// HistoryList fetches the change history since the given cursor, restricted to
// messageAdded and labelAdded events. The cursor is opaque everywhere else;
// the Gmail wire format wants it numeric, so the conversion happens here and
// nowhere above this adapter.
func (g *googleClient) HistoryList(ctx context.Context, opts HistoryOptions) (*HistoryDelta, error) {
	start, err := strconv.ParseUint(opts.StartHistoryID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("start cursor %q is not a Gmail history id: %w", opts.StartHistoryID, err)
	}

	call := g.svc.Users.History.List("me").
		StartHistoryId(start).
		HistoryTypes("messageAdded", "labelAdded")
	if opts.LabelID != "" {
		call = call.LabelId(opts.LabelID)
	}

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("history list: %w", err)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode history response: %w", err)
	}

	delta := &HistoryDelta{Raw: raw}
	for _, h := range resp.History {
		var rec HistoryRecord
		for _, la := range h.LabelsAdded {
			if la.Message == nil {
				continue
			}
			rec.LabelsAdded = append(rec.LabelsAdded, LabelsAdded{
				Message:  MessageRef{ID: la.Message.Id, ThreadID: la.Message.ThreadId},
				LabelIDs: la.LabelIds,
			})
		}
		for _, ma := range h.MessagesAdded {
			if ma.Message == nil {
				continue
			}
			rec.MessagesAdded = append(rec.MessagesAdded, MessageRef{
				ID:       ma.Message.Id,
				ThreadID: ma.Message.ThreadId,
			})
		}
		delta.Records = append(delta.Records, rec)
	}
	return delta, nil
}

// GetMessage fetches one message in full. A 404 maps to (nil, nil): Gmail
// sometimes reports history for messages it will no longer return.
func (g *googleClient) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	msg, err := g.svc.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
	if err != nil {
		if apiErr, ok := err.(*googleapi.Error); ok && apiErr.Code == 404 {
			return nil, nil
		}
		return nil, fmt.Errorf("get message %s: %w", messageID, err)
	}
	if msg == nil {
		return nil, nil
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message %s: %w", messageID, err)
	}

	out := &Message{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Raw:      raw,
	}
	if msg.Payload != nil {
		out.MimeType = msg.Payload.MimeType
		for _, h := range msg.Payload.Headers {
			out.Headers = append(out.Headers, Header{Name: h.Name, Value: h.Value})
		}
		if msg.Payload.Body != nil {
			out.Body = decodeBody(msg.Payload.Body.Data)
		}
		for _, p := range msg.Payload.Parts {
			part := Part{MimeType: p.MimeType}
			if p.Body != nil {
				part.Body = decodeBody(p.Body.Data)
			}
			out.Parts = append(out.Parts, part)
		}
	}
	return out, nil
}

// Watch registers push notifications for the mailbox on a Pub/Sub topic.
func (g *googleClient) Watch(ctx context.Context, topicName string, labelIDs []string, filterAction string) (*WatchInfo, error) {
	req := &gmail.WatchRequest{
		TopicName:         topicName,
		LabelIds:          labelIDs,
		LabelFilterAction: filterAction,
	}
	resp, err := g.svc.Users.Watch("me", req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("start watch: %w", err)
	}
	info := &WatchInfo{HistoryID: strconv.FormatUint(resp.HistoryId, 10)}
	if resp.Expiration > 0 {
		info.Expiration = time.UnixMilli(resp.Expiration)
	}
	return info, nil
}

// StopWatch stops push notifications for the mailbox.
func (g *googleClient) StopWatch(ctx context.Context) error {
	if err := g.svc.Users.Stop("me").Context(ctx).Do(); err != nil {
		return fmt.Errorf("stop watch: %w", err)
	}
	return nil
}

// decodeBody decodes the base64url body data Gmail returns, tolerating both
// padded and unpadded encodings.
func decodeBody(data string) string {
	if data == "" {
		return ""
	}
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	return ""
}
