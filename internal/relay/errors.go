package relay

import "fmt"

// HistoryFetchError wraps a transport failure against the history API. It is
// fatal for the invocation; upstream redelivery is the retry.
type HistoryFetchError struct {
	MailboxID string
	Err       error
}

func (e *HistoryFetchError) Error() string {
	return fmt.Sprintf("fetch history for mailbox %s: %v", e.MailboxID, e.Err)
}

func (e *HistoryFetchError) Unwrap() error { return e.Err }

// DispatchError wraps a webhook delivery failure. No retry is attempted here.
type DispatchError struct {
	URL string
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch webhook %s: %v", e.URL, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
