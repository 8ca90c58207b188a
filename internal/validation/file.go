package validation

import (
	"fmt"
	"io"
	"mime"
	"strings"
)

// Reason is the machine-readable code reported to clients for a rejected upload.
type Reason string

const (
	ReasonMissingField        Reason = "missing_field"
	ReasonUnsupportedMimeType Reason = "unsupported_mime_type"
	ReasonSizeExceeded        Reason = "size_exceeded"
	ReasonMultipleFiles       Reason = "multiple_files_not_allowed"
)

// Error is a client-caused upload rejection.
type Error struct {
	Reason  Reason
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Reason)
	}
	return e.Message
}

// Is matches any *Error with the same reason when target carries no message,
// so errors.Is(err, ErrSizeExceeded) works for every size rejection.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Reason == e.Reason && (t.Message == "" || t.Message == e.Message)
}

var (
	ErrMissingField        = &Error{Reason: ReasonMissingField}
	ErrUnsupportedMimeType = &Error{Reason: ReasonUnsupportedMimeType}
	ErrSizeExceeded        = &Error{Reason: ReasonSizeExceeded}
	ErrMultipleFiles       = &Error{Reason: ReasonMultipleFiles}
)

func MissingField(field string) error {
	return &Error{Reason: ReasonMissingField, Message: fmt.Sprintf("%s is required", field)}
}

func MultipleFiles() error {
	return &Error{Reason: ReasonMultipleFiles, Message: "only one file per upload is allowed"}
}

// SizeExceeded reports a body over limit bytes.
func SizeExceeded(limit int64) error {
	if limit >= 1<<20 && limit%(1<<20) == 0 {
		return &Error{Reason: ReasonSizeExceeded, Message: fmt.Sprintf("file too large: maximum size is %d MB", limit>>20)}
	}
	return &Error{Reason: ReasonSizeExceeded, Message: fmt.Sprintf("file too large: maximum size is %d bytes", limit)}
}

// mediaExtensions maps every known media type to the extension used in storage names.
var mediaExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
	"video/x-msvideo": ".avi",
	"audio/mpeg":      ".mp3",
	"audio/wav":       ".wav",
	"audio/x-wav":     ".wav",
	"audio/ogg":       ".ogg",
	"video/webm":      ".webm",
}

// DefaultMediaTypes is the allow-list for post attachments.
var DefaultMediaTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"video/mp4",
	"video/quicktime",
	"video/x-msvideo",
	"audio/mpeg",
	"audio/wav",
}

// FileConstraints defines validation rules for media uploads
type FileConstraints struct {
	AllowedMimeTypes map[string]bool
	MaxSize          int64 // <= 0 disables the ceiling
}

// MediaConstraints is the default policy: the media allow-list and a 50 MiB ceiling.
var MediaConstraints = NewConstraints(DefaultMediaTypes, 50<<20)

// NewConstraints builds constraints from a list of media types. Parameters and case are ignored.
func NewConstraints(mimeTypes []string, maxSize int64) FileConstraints {
	allowed := make(map[string]bool, len(mimeTypes))
	for _, raw := range mimeTypes {
		mt, ok := normalizeMimeType(raw)
		if ok {
			allowed[mt] = true
		}
	}
	return FileConstraints{AllowedMimeTypes: allowed, MaxSize: maxSize}
}

// ValidateMimeType checks a declared type against the allow-list and returns
// its normalized form ("IMAGE/PNG; charset=x" -> "image/png").
func (c FileConstraints) ValidateMimeType(declared string) (string, error) {
	mt, ok := normalizeMimeType(declared)
	if !ok || !c.AllowedMimeTypes[mt] {
		shown := strings.TrimSpace(declared)
		if shown == "" {
			shown = "none"
		}
		return "", &Error{Reason: ReasonUnsupportedMimeType, Message: fmt.Sprintf("unsupported file type: %s", shown)}
	}
	return mt, nil
}

// ValidateSize rejects byte counts above the ceiling.
func (c FileConstraints) ValidateSize(n int64) error {
	if c.MaxSize > 0 && n > c.MaxSize {
		return SizeExceeded(c.MaxSize)
	}
	return nil
}

// Validate runs both checks. n is either the bytes seen so far or a declared total.
func (c FileConstraints) Validate(declared string, n int64) error {
	_, err := c.ValidateMimeType(declared)
	if err != nil {
		return err
	}
	return c.ValidateSize(n)
}

// Extension returns the storage-name extension for a normalized media type, or "".
func (c FileConstraints) Extension(mimeType string) string {
	return mediaExtensions[mimeType]
}

// LimitReader enforces the ceiling while streaming: once more than MaxSize bytes
// have been read it fails with a size_exceeded *Error, so the consumer abandons
// the upload without ever buffering the rest.
func (c FileConstraints) LimitReader(r io.Reader) io.Reader {
	if c.MaxSize <= 0 {
		return r
	}
	return &limitedReader{r: r, max: c.MaxSize}
}

type limitedReader struct {
	r    io.Reader
	max  int64
	read int64
	err  error
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.err != nil {
		return 0, l.err
	}

	// Never ask for more than one byte past the ceiling
	if room := l.max - l.read + 1; int64(len(p)) > room {
		p = p[:room]
	}

	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.read > l.max {
		l.err = SizeExceeded(l.max)
		return n - int(l.read-l.max), l.err
	}
	return n, err
}

func normalizeMimeType(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	mt, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return "", false
	}
	return strings.ToLower(mt), true
}
