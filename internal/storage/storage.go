// Package storage persists media bytes as immutable chunked objects addressed by name.
// Two backends exist: SQLBlobStore keeps chunks in the application database,
// S3BlobStore maps chunks onto S3 multipart upload parts.
package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"
)

// Same bound bufio uses before giving up on a reader that returns (0, nil).
const maxEmptyReads = 100

var (
	// ErrNotFound is returned when no complete object exists under a name.
	ErrNotFound = errors.New("blob not found")
	// ErrNameTaken is returned by Write when the name is already in use.
	ErrNameTaken = errors.New("blob name already in use")
)

// Object describes a fully written blob.
type Object struct {
	Ref       string // Backend reference, passed to Delete
	Name      string
	Size      int64
	SHA256    string // Hex digest, empty when the backend does not compute one
	CreatedAt time.Time
}

// BlobStore is the chunked byte-storage engine used by the media pipelines.
type BlobStore interface {
	// Write drains r into a new object called name. The object only becomes
	// visible once r returns io.EOF and every chunk is flushed; on any error
	// (including r's own error or ctx cancellation) partial chunks are removed.
	Write(ctx context.Context, name string, r io.Reader) (Object, error)

	// Open returns a lazy forward-only reader over the object's chunks.
	// Closing it early releases held resources without affecting the object.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Stat returns the object stored under name, or ErrNotFound.
	Stat(ctx context.Context, name string) (Object, error)

	// Delete removes every chunk of ref. Missing refs are not an error.
	Delete(ctx context.Context, ref string) error

	// Walk calls fn for every complete object. Returning an error from fn stops the walk.
	Walk(ctx context.Context, fn func(Object) error) error

	// PurgeIncomplete removes writes abandoned before the given time and reports how many.
	PurgeIncomplete(ctx context.Context, before time.Time) (int, error)
}

// NewName returns a random storage name: 32 hex characters from crypto/rand plus ext.
// Names never contain client input, so they are safe as keys and URL segments.
func NewName(ext string) (string, error) {
	b := make([]byte, 16)
	_, err := rand.Read(b)
	if err != nil {
		return "", fmt.Errorf("generate storage name: %w", err)
	}
	return hex.EncodeToString(b) + ext, nil
}

// ValidName reports whether s could have been produced by NewName.
// Handlers use it to reject path segments before touching storage.
func ValidName(s string) bool {
	if len(s) < 32 || len(s) > 48 {
		return false
	}
	for i, c := range s {
		switch {
		case i < 32 && (c >= '0' && c <= '9' || c >= 'a' && c <= 'f'):
		case i == 32 && c == '.':
		case i > 32 && (c >= 'a' && c <= 'z' || c >= '0' && c <= '9'):
		default:
			return false
		}
	}
	return len(s) == 32 || len(s) > 33
}

// readChunk fills buf from r. It returns io.EOF only when r itself reported a
// clean end of stream; any other error from r, io.ErrUnexpectedEOF included,
// is passed through so a truncated source is never committed as complete.
func readChunk(r io.Reader, buf []byte) (int, error) {
	n, empty := 0, 0
	for n < len(buf) {
		k, err := r.Read(buf[n:])
		n += k
		if err != nil {
			return n, err
		}
		if k > 0 {
			empty = 0
			continue
		}
		empty++
		if empty >= maxEmptyReads {
			return n, io.ErrNoProgress
		}
	}
	return n, nil
}
