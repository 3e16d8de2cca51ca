// Package gmailapi defines the narrow Gmail surface the relay needs and the
// google-backed implementation of it.
package gmailapi

import "time"

// MessageRef identifies a message inside a history record.
type MessageRef struct {
	ID       string
	ThreadID string
}

// LabelsAdded is a history event attaching labels to an existing message.
type LabelsAdded struct {
	Message  MessageRef
	LabelIDs []string
}

// HistoryRecord is one change-history entry between two cursors.
type HistoryRecord struct {
	MessagesAdded []MessageRef
	LabelsAdded   []LabelsAdded
}

// HistoryDelta is the reduced history.list response. Raw carries the JSON of
// the upstream response for debug snapshots.
type HistoryDelta struct {
	Records []HistoryRecord
	Raw     []byte
}

// Header is a single RFC 822 header as Gmail reports it.
type Header struct {
	Name  string
	Value string
}

// Part is one MIME part of a message payload, body already decoded.
type Part struct {
	MimeType string
	Body     string
}

// Message is a fetched message with its payload flattened to what the
// normalizer consumes. Raw carries the upstream JSON for audit artifacts.
type Message struct {
	ID       string
	ThreadID string
	Snippet  string
	MimeType string
	Headers  []Header
	Body     string
	Parts    []Part
	Raw      []byte
}

// HistoryOptions scope a history diff request.
type HistoryOptions struct {
	StartHistoryID string
	LabelID        string // optional: restrict the diff to one label
}

// WatchInfo is the result of registering a push watch.
type WatchInfo struct {
	HistoryID  string
	Expiration time.Time
}
