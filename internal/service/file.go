package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/puppals/mediastore/internal/metrics"
	"github.com/puppals/mediastore/internal/model"
	"github.com/puppals/mediastore/internal/repository"
	"github.com/puppals/mediastore/internal/storage"
	"github.com/puppals/mediastore/internal/validation"
)

const (
	maxLinkAttempts     = 5
	compensationTimeout = 30 * time.Second
	maxOriginalName     = 255
)

// FilePart is one uploaded file as received at the transport boundary.
// OriginalName and MimeType are client supplied and untrusted.
type FilePart struct {
	OriginalName string
	MimeType     string
	Body         io.Reader
	DeclaredSize int64 // 0 when unknown
}

type UploadInput struct {
	OwnerID string
	PostID  string
	File    *FilePart
}

type FileService struct {
	files   repository.FileRepository
	posts   repository.PostRepository
	blobs   storage.BlobStore
	limits  validation.FileConstraints
	metrics *metrics.Metrics
	baseURL string
}

func NewFileService(
	files repository.FileRepository,
	posts repository.PostRepository,
	blobs storage.BlobStore,
	limits validation.FileConstraints,
	m *metrics.Metrics,
	baseURL string,
) *FileService {
	if m == nil {
		m = metrics.New(nil)
	}
	return &FileService{
		files:   files,
		posts:   posts,
		blobs:   blobs,
		limits:  limits,
		metrics: m,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// Upload validates the part, streams it into the blob store under a fresh
// random name, records it and links it to the target post. Any failure after
// the blob write undoes the earlier steps before returning.
func (s *FileService) Upload(ctx context.Context, in UploadInput) (*model.File, error) {
	start := time.Now()
	s.metrics.UploadsActive.Inc()
	defer s.metrics.UploadsActive.Dec()

	// Received: nothing has been read from the body yet
	if in.OwnerID == "" {
		return nil, s.reject(StageReceived, validation.MissingField("ownerId"))
	}
	if in.PostID == "" {
		return nil, s.reject(StageReceived, validation.MissingField("postId"))
	}
	if in.File == nil || in.File.Body == nil {
		return nil, s.reject(StageReceived, validation.MissingField("file"))
	}

	mimeType, err := s.limits.ValidateMimeType(in.File.MimeType)
	if err != nil {
		return nil, s.reject(StageReceived, err)
	}
	if in.File.DeclaredSize > 0 {
		err = s.limits.ValidateSize(in.File.DeclaredSize)
		if err != nil {
			return nil, s.reject(StageReceived, err)
		}
	}

	post, err := s.posts.ByID(ctx, in.PostID)
	if err != nil {
		if errors.Is(err, ErrPostNotFound) {
			return nil, s.reject(StageValidated, ErrPostNotFound)
		}
		return nil, s.fail(StageValidated, "", err)
	}
	if post.AuthorID != in.OwnerID {
		return nil, s.reject(StageValidated, ErrForbidden)
	}

	// Validated: stream to the blob store, the size ceiling is enforced as bytes arrive
	name, err := storage.NewName(s.limits.Extension(mimeType))
	if err != nil {
		return nil, s.fail(StageBlobWritten, "", err)
	}

	obj, err := s.blobs.Write(ctx, name, s.limits.LimitReader(in.File.Body))
	if err != nil {
		var vErr *validation.Error
		switch {
		case errors.As(err, &vErr):
			return nil, s.reject(StageBlobWritten, vErr)
		case ctx.Err() != nil:
			s.metrics.Uploads.WithLabelValues(metrics.OutcomeCanceled, string(StageBlobWritten)).Inc()
			return nil, ctx.Err()
		case errors.Is(err, ErrMalformedBody):
			slog.Info("upload body broken mid-stream", "name", name, "error", err)
			return nil, s.reject(StageBlobWritten, err)
		default:
			return nil, s.fail(StageBlobWritten, name, err)
		}
	}

	// BlobWritten: record the metadata
	file := &model.File{
		ID:           uuid.New().String(),
		StorageName:  name,
		ObjectRef:    obj.Ref,
		OriginalName: cleanOriginalName(in.File.OriginalName),
		MimeType:     mimeType,
		Size:         obj.Size,
		OwnerID:      in.OwnerID,
		PostID:       &in.PostID,
		UploadedAt:   time.Now().UTC(),
	}

	err = s.files.Create(ctx, file)
	if err != nil {
		s.compensate(ctx, StageMetadataWritten, name, s.deleteBlobStep(obj.Ref))
		return nil, s.fail(StageMetadataWritten, name, err)
	}

	// MetadataWritten: append to the post
	err = s.updatePostFiles(ctx, in.PostID, func(ids model.FileIDs) model.FileIDs {
		return ids.With(file.ID)
	})
	if err != nil {
		s.compensate(ctx, StageLinked, name, s.deleteRecordStep(file.ID), s.deleteBlobStep(obj.Ref))
		return nil, s.fail(StageLinked, name, err)
	}

	s.metrics.Uploads.WithLabelValues(metrics.OutcomeStored, string(StageLinked)).Inc()
	s.metrics.UploadBytes.Add(float64(file.Size))
	s.metrics.UploadDuration.Observe(time.Since(start).Seconds())

	slog.Info("file uploaded",
		"file_id", file.ID,
		"name", name,
		"post_id", in.PostID,
		"owner_id", in.OwnerID,
		"mime_type", mimeType,
		"size", file.Size,
	)

	return file, nil
}

// reject counts a client-caused failure and returns err unchanged.
func (s *FileService) reject(stage Stage, err error) error {
	s.metrics.Uploads.WithLabelValues(metrics.OutcomeRejected, string(stage)).Inc()
	return err
}

func (s *FileService) fail(stage Stage, name string, err error) error {
	s.metrics.Uploads.WithLabelValues(metrics.OutcomeFailed, string(stage)).Inc()
	stageErr := &StageError{Stage: stage, Name: name, Err: err}
	slog.Error("upload failed", "stage", stage, "name", name, "error", err)
	return stageErr
}

type compensationStep func(ctx context.Context) error

func (s *FileService) deleteBlobStep(ref string) compensationStep {
	return func(ctx context.Context) error {
		return s.blobs.Delete(ctx, ref)
	}
}

func (s *FileService) deleteRecordStep(id string) compensationStep {
	return func(ctx context.Context) error {
		err := s.files.Delete(ctx, id)
		if errors.Is(err, ErrFileNotFound) {
			return nil
		}
		return err
	}
}

// compensate runs every step even if the request was cancelled. Failures are
// logged as consistency faults and never replace the error being reported.
func (s *FileService) compensate(ctx context.Context, stage Stage, name string, steps ...compensationStep) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	for _, step := range steps {
		err := step(ctx)
		if err != nil {
			s.consistencyFault(&ConsistencyError{Stage: stage, Name: name, Err: err})
		}
	}
}

func (s *FileService) consistencyFault(err *ConsistencyError) {
	s.metrics.ConsistencyFaults.WithLabelValues(string(err.Stage)).Inc()
	slog.Error("consistency fault, run garbage collection",
		"fault", "consistency",
		"stage", err.Stage,
		"name", err.Name,
		"error", err.Err,
	)
}

// updatePostFiles applies mutate to the post's current file list and saves it
// with a version check, re-reading the post when another writer got there first.
func (s *FileService) updatePostFiles(ctx context.Context, postID string, mutate func(model.FileIDs) model.FileIDs) error {
	for attempt := 1; attempt <= maxLinkAttempts; attempt++ {
		post, err := s.posts.ByID(ctx, postID)
		if err != nil {
			return err
		}

		next := mutate(post.Files)
		if slices.Equal(next, post.Files) {
			return nil
		}
		post.Files = next

		err = s.posts.Save(ctx, post)
		if !errors.Is(err, repository.ErrPostConflict) {
			return err
		}
		slog.Debug("post files changed concurrently, retrying", "post_id", postID, "attempt", attempt)
	}
	return fmt.Errorf("%w: gave up after %d attempts", repository.ErrPostConflict, maxLinkAttempts)
}

// Open looks up a file by storage name and returns a reader over its bytes.
// The caller must close the reader.
func (s *FileService) Open(ctx context.Context, name string) (*model.File, io.ReadCloser, error) {
	if !storage.ValidName(name) {
		return nil, nil, ErrFileNotFound
	}

	file, err := s.files.ByName(ctx, name)
	if err != nil {
		return nil, nil, err
	}

	rc, err := s.blobs.Open(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			slog.Warn("file record without blob", "file_id", file.ID, "name", name)
			return nil, nil, ErrFileNotFound
		}
		return nil, nil, &StageError{Stage: StageBlobWritten, Name: name, Err: err}
	}

	s.metrics.Downloads.Inc()
	return file, &countingReadCloser{ReadCloser: rc, count: s.metrics.DownloadBytes.Add}, nil
}

type countingReadCloser struct {
	io.ReadCloser
	count func(float64)
}

func (c *countingReadCloser) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	if n > 0 {
		c.count(float64(n))
	}
	return n, err
}

// ByPost lists the files linked to postID, oldest first.
func (s *FileService) ByPost(ctx context.Context, postID string) ([]*model.File, error) {
	return s.files.ByPost(ctx, postID)
}

// ByOwner lists the files uploaded by ownerID, oldest first.
func (s *FileService) ByOwner(ctx context.Context, ownerID string) ([]*model.File, error) {
	return s.files.ByOwner(ctx, ownerID)
}

// Delete removes the blob, then the record, then the post's reference to it.
// Once the blob is gone the remaining steps run to completion even if the
// caller disconnects.
func (s *FileService) Delete(ctx context.Context, ownerID, name string) error {
	if !storage.ValidName(name) {
		s.metrics.Deletes.WithLabelValues("not_found").Inc()
		return ErrFileNotFound
	}

	file, err := s.files.ByName(ctx, name)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			s.metrics.Deletes.WithLabelValues("not_found").Inc()
		}
		return err
	}
	if file.OwnerID != ownerID {
		s.metrics.Deletes.WithLabelValues("forbidden").Inc()
		return ErrForbidden
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	err = s.blobs.Delete(ctx, file.ObjectRef)
	if err != nil {
		s.metrics.Deletes.WithLabelValues("failed").Inc()
		slog.Error("delete failed", "stage", StageBlobDeleted, "name", name, "error", err)
		return &StageError{Stage: StageBlobDeleted, Name: name, Err: err}
	}

	err = s.files.Delete(ctx, file.ID)
	if errors.Is(err, ErrFileNotFound) {
		// A concurrent delete won the race and owns the unlink
		s.metrics.Deletes.WithLabelValues("not_found").Inc()
		return ErrFileNotFound
	}
	if err != nil {
		// Blob is gone, the record now dangles until re-deleted or collected
		s.metrics.Deletes.WithLabelValues("failed").Inc()
		s.consistencyFault(&ConsistencyError{Stage: StageMetadataDeleted, Name: name, Err: err})
		return &StageError{Stage: StageMetadataDeleted, Name: name, Err: err}
	}

	if file.PostID != nil {
		err = s.updatePostFiles(ctx, *file.PostID, func(ids model.FileIDs) model.FileIDs {
			return ids.Without(file.ID)
		})
		if errors.Is(err, ErrPostNotFound) {
			slog.Warn("post already gone while unlinking file", "post_id", *file.PostID, "file_id", file.ID)
			err = nil
		}
		if err != nil {
			s.metrics.Deletes.WithLabelValues("failed").Inc()
			s.consistencyFault(&ConsistencyError{Stage: StageUnlinked, Name: name, Err: err})
			return &StageError{Stage: StageUnlinked, Name: name, Err: err}
		}
	}

	s.metrics.Deletes.WithLabelValues("deleted").Inc()
	slog.Info("file deleted", "file_id", file.ID, "name", name, "owner_id", ownerID)
	return nil
}

// URL returns the retrieval URL for a storage name.
func (s *FileService) URL(name string) string {
	return s.baseURL + "/files/" + name
}

// cleanOriginalName keeps the last path element of a client file name, capped
// at maxOriginalName bytes on a rune boundary.
func cleanOriginalName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	if len(name) <= maxOriginalName {
		return name
	}
	cut := maxOriginalName
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}
