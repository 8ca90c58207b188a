package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/puppals/mediastore/internal/ctxkeys"
	"github.com/puppals/mediastore/internal/model"
	"github.com/puppals/mediastore/internal/service"
	"github.com/puppals/mediastore/internal/validation"
)

const (
	// Room for multipart boundaries and small form fields on top of the file ceiling
	multipartOverhead = 1 << 20
	maxFieldBytes     = 1 << 10
)

type FileHandler struct {
	fileService *service.FileService
	maxFileSize int64
}

func NewFileHandler(fileService *service.FileService, maxFileSize int64) *FileHandler {
	return &FileHandler{
		fileService: fileService,
		maxFileSize: maxFileSize,
	}
}

type fileResponse struct {
	ID           string `json:"id"`
	Filename     string `json:"filename"`
	URL          string `json:"url"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
}

// Upload handles POST /upload. The multipart body is streamed straight into
// the blob store, so postId has to arrive before the file part (or in the query).
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ownerID := ctxkeys.OwnerID(r.Context())

	if h.maxFileSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "expected a multipart/form-data body")
		return
	}

	postID := r.URL.Query().Get("postId")
	part, err := nextFilePart(mr, &postID)
	if err != nil {
		writeUploadError(w, r, h.maxFileSize, err)
		return
	}
	defer part.Close()

	if postID == "" {
		writeServiceError(w, r, validation.MissingField("postId"))
		return
	}

	var declared int64
	if v := part.Header.Get("Content-Length"); v != "" {
		declared, _ = strconv.ParseInt(v, 10, 64)
	}

	file, err := h.fileService.Upload(r.Context(), service.UploadInput{
		OwnerID: ownerID,
		PostID:  postID,
		File: &service.FilePart{
			OriginalName: part.FileName(),
			MimeType:     part.Header.Get("Content-Type"),
			Body:         &singleFileReader{part: part, mr: mr},
			DeclaredSize: declared,
		},
	})
	if err != nil {
		writeUploadError(w, r, h.maxFileSize, err)
		return
	}

	writeJSON(w, http.StatusCreated, h.response(file))
}

func (h *FileHandler) response(f *model.File) fileResponse {
	return fileResponse{
		ID:           f.ID,
		Filename:     f.StorageName,
		URL:          h.fileService.URL(f.StorageName),
		OriginalName: f.OriginalName,
		MimeType:     f.MimeType,
		Size:         f.Size,
	}
}

// writeUploadError reports an oversized request body as size_exceeded rather than a transport fault.
func writeUploadError(w http.ResponseWriter, r *http.Request, limit int64, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		err = validation.SizeExceeded(limit)
	}
	writeServiceError(w, r, err)
}

// nextFilePart reads form fields up to the first file part, picking up postId on the way.
func nextFilePart(mr *multipart.Reader, postID *string) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, validation.MissingField("file")
		}
		if err != nil {
			return nil, malformed(err)
		}

		if part.FileName() != "" {
			return part, nil
		}

		if part.FormName() == "postId" {
			value, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			if err != nil {
				return nil, malformed(err)
			}
			*postID = strings.TrimSpace(string(value))
		}
		_ = part.Close()
	}
}

// malformed tags a body read failure as a client fault while keeping the
// cause matchable, so *http.MaxBytesError still maps to size_exceeded.
func malformed(err error) error {
	return fmt.Errorf("%w: %w", service.ErrMalformedBody, err)
}

// singleFileReader streams one file part. When the part ends it scans the rest
// of the body, so a second file fails the read before the upload is committed.
type singleFileReader struct {
	part *multipart.Part
	mr   *multipart.Reader
	done bool
}

func (s *singleFileReader) Read(p []byte) (int, error) {
	if s.done {
		return 0, io.EOF
	}

	n, err := s.part.Read(p)
	if err == nil {
		return n, nil
	}
	if err != io.EOF {
		// A part without its closing boundary reports io.ErrUnexpectedEOF
		return n, malformed(err)
	}

	for {
		next, nextErr := s.mr.NextPart()
		if nextErr == io.EOF {
			s.done = true
			return n, io.EOF
		}
		if nextErr != nil {
			return n, malformed(nextErr)
		}
		isFile := next.FileName() != ""
		_ = next.Close()
		if isFile {
			return n, validation.MultipleFiles()
		}
	}
}

// Stream handles GET /files/{name}.
func (h *FileHandler) Stream(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	file, rc, err := h.fileService.Open(r.Context(), name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer rc.Close()

	header := w.Header()
	header.Set("Content-Type", file.MimeType)
	header.Set("Content-Length", strconv.FormatInt(file.Size, 10))
	header.Set("X-Content-Type-Options", "nosniff")
	header.Set("Cache-Control", "public, max-age=31536000, immutable")
	header.Set("ETag", `"`+file.StorageName+`"`)
	if file.OriginalName != "" {
		header.Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": file.OriginalName}))
	}

	if match := r.Header.Get("If-None-Match"); match == `"`+file.StorageName+`"` {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if r.Method == http.MethodHead {
		return
	}

	src := &readErrReader{r: rc}
	_, err = io.Copy(w, src)
	if src.err != nil && r.Context().Err() == nil {
		// Headers are gone already, abort the connection instead of sending a short body
		slog.Error("stream failed mid-transfer", "error", src.err, "name", name)
		panic(http.ErrAbortHandler)
	}
	if err != nil {
		slog.Debug("client stopped reading", "error", err, "name", name)
	}
}

// readErrReader remembers read-side failures so they can be told apart from write-side ones.
type readErrReader struct {
	r   io.Reader
	err error
}

func (e *readErrReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err != nil && err != io.EOF {
		e.err = err
	}
	return n, err
}

// ByPost handles GET /files/post/{postId}.
func (h *FileHandler) ByPost(w http.ResponseWriter, r *http.Request) {
	files, err := h.fileService.ByPost(r.Context(), r.PathValue("postId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

// ByOwner handles GET /files/owner/{ownerId}.
func (h *FileHandler) ByOwner(w http.ResponseWriter, r *http.Request) {
	files, err := h.fileService.ByOwner(r.Context(), r.PathValue("ownerId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

// Delete handles DELETE /files/{name}.
func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	err := h.fileService.Delete(r.Context(), ctxkeys.OwnerID(r.Context()), name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "file deleted", "filename": name})
}
