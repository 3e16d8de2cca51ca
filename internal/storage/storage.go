// Package storage provides the blob backend used for cursors and audit
// artifacts. Paths are opaque slash-separated strings owned by Layout.
package storage

import "errors"

// ErrNotFound is returned by Read for a path that was never written.
var ErrNotFound = errors.New("blob not found")

// Store is the narrow blob surface the relay needs.
type Store interface {
	Exists(path string) (bool, error)
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
}
