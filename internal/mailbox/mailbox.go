// Package mailbox holds the configured mailbox set and notification routing.
package mailbox

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnresolved is returned when a notification cannot be matched to any
// configured mailbox.
var ErrUnresolved = errors.New("mailbox not configured")

// Mailbox is an immutable mailbox record built once at startup.
type Mailbox struct {
	ID            string
	Email         string
	LabelIDs      []string
	FilterAction  string
	WebhookURL    string
	WebhookSecret string
	Folder        string
}

// Raw is a mailbox entry as it appears in configuration, before defaulting.
type Raw struct {
	ID            string
	Email         string
	Subject       string
	LabelIDs      []string
	FilterAction  string
	WebhookURL    string
	WebhookSecret string
	Folder        string
}

// Defaults are the global fallbacks applied during normalization.
type Defaults struct {
	LabelIDs     []string
	FilterAction string
}

// Normalize builds an immutable Mailbox from a raw config entry. A mailbox
// without an email (or subject fallback) is a configuration error and fails
// here, at load time, rather than per request.
func Normalize(raw Raw, index int, defs Defaults) (Mailbox, error) {
	email := raw.Email
	if email == "" {
		email = raw.Subject
	}
	if email == "" {
		return Mailbox{}, fmt.Errorf("mailbox at index %d is missing an email/subject", index)
	}

	id := raw.ID
	if id == "" {
		id = Slug(email)
	}

	labels := raw.LabelIDs
	if labels == nil {
		labels = defs.LabelIDs
	}
	action := raw.FilterAction
	if action == "" {
		action = defs.FilterAction
	}
	folder := raw.Folder
	if folder == "" {
		folder = id
	}

	return Mailbox{
		ID:            id,
		Email:         email,
		LabelIDs:      labels,
		FilterAction:  action,
		WebhookURL:    raw.WebhookURL,
		WebhookSecret: raw.WebhookSecret,
		Folder:        folder,
	}, nil
}

// Slug derives a stable mailbox id from an email address: lowercased, with
// every non-alphanumeric rune collapsed to an underscore.
func Slug(email string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, email)
}

// Registry is the process-lifetime mailbox set. Lookups are pure functions of
// the configured set; the registry is never mutated after construction.
type Registry struct {
	boxes   []Mailbox
	byID    map[string]Mailbox
	byEmail map[string]Mailbox
}

// NewRegistry indexes the configured mailboxes. Duplicate ids or emails are
// configuration errors.
func NewRegistry(boxes []Mailbox) (*Registry, error) {
	r := &Registry{
		boxes:   boxes,
		byID:    make(map[string]Mailbox, len(boxes)),
		byEmail: make(map[string]Mailbox, len(boxes)),
	}
	for _, mb := range boxes {
		if mb.ID == "" || mb.Email == "" {
			return nil, fmt.Errorf("mailbox %q has an empty id or email", mb.ID+mb.Email)
		}
		if _, dup := r.byID[mb.ID]; dup {
			return nil, fmt.Errorf("duplicate mailbox id %q", mb.ID)
		}
		key := strings.ToLower(mb.Email)
		if _, dup := r.byEmail[key]; dup {
			return nil, fmt.Errorf("duplicate mailbox email %q", mb.Email)
		}
		r.byID[mb.ID] = mb
		r.byEmail[key] = mb
	}
	return r, nil
}

// List returns the configured mailboxes in configuration order.
func (r *Registry) List() []Mailbox {
	out := make([]Mailbox, len(r.boxes))
	copy(out, r.boxes)
	return out
}

// ByID looks a mailbox up by its id.
func (r *Registry) ByID(id string) (Mailbox, bool) {
	mb, ok := r.byID[id]
	return mb, ok
}

// ByEmail looks a mailbox up by address, case-insensitively.
func (r *Registry) ByEmail(email string) (Mailbox, bool) {
	if email == "" {
		return Mailbox{}, false
	}
	mb, ok := r.byEmail[strings.ToLower(email)]
	return mb, ok
}

// Default returns the sole configured mailbox, defined only when exactly one
// mailbox is configured.
func (r *Registry) Default() (Mailbox, bool) {
	if len(r.boxes) == 1 {
		return r.boxes[0], true
	}
	return Mailbox{}, false
}

// Resolve matches an inbound notification to a mailbox. First match wins:
// the payload's email address, then its mailbox id, then the registry's sole
// default. No match is fatal for the invocation.
func (r *Registry) Resolve(email, id string) (Mailbox, error) {
	if mb, ok := r.ByEmail(email); ok {
		return mb, nil
	}
	if id != "" {
		if mb, ok := r.ByID(id); ok {
			return mb, nil
		}
	}
	if mb, ok := r.Default(); ok {
		return mb, nil
	}
	ident := email
	if ident == "" {
		ident = id
	}
	if ident == "" {
		ident = "unknown"
	}
	return Mailbox{}, fmt.Errorf("%w for identifier %q", ErrUnresolved, ident)
}
