package gmailapi

import "context"

// Client is an authenticated session against one mailbox. GetMessage returns
// (nil, nil) for a message Gmail no longer reports; callers treat that as a
// transient inconsistency, not an error.
type Client interface {
	HistoryList(ctx context.Context, opts HistoryOptions) (*HistoryDelta, error)
	GetMessage(ctx context.Context, messageID string) (*Message, error)
	Watch(ctx context.Context, topicName string, labelIDs []string, filterAction string) (*WatchInfo, error)
	StopWatch(ctx context.Context) error
}
