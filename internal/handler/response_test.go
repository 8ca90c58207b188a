package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/puppals/mediastore/internal/service"
	"github.com/puppals/mediastore/internal/validation"
	"github.com/stretchr/testify/assert"
)

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", validation.MultipleFiles(), http.StatusBadRequest, "multiple_files_not_allowed"},
		{"wrapped validation", fmt.Errorf("read upload stream: %w", validation.SizeExceeded(1024)), http.StatusBadRequest, "size_exceeded"},
		{"file not found", service.ErrFileNotFound, http.StatusNotFound, "not_found"},
		{"post not found", service.ErrPostNotFound, http.StatusNotFound, "post_not_found"},
		{"forbidden", service.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"stage fault", &service.StageError{Stage: service.StageBlobWritten, Err: errors.New("disk full")}, http.StatusInternalServerError, "storage_fault"},
		{"broken body", fmt.Errorf("%w: %w", service.ErrMalformedBody, io.ErrUnexpectedEOF), http.StatusBadRequest, "invalid_request"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
		{"oversized body", &http.MaxBytesError{Limit: 10}, http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeServiceError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), `"code":"`+tt.code+`"`)
		})
	}
}

func TestWriteUploadErrorMapsBodyLimit(t *testing.T) {
	w := httptest.NewRecorder()
	err := &service.StageError{Stage: service.StageBlobWritten, Err: fmt.Errorf("read upload stream: %w", &http.MaxBytesError{Limit: 2 << 20})}
	writeUploadError(w, httptest.NewRequest(http.MethodPost, "/upload", nil), 1<<20, err)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "maximum size is 1 MB")
}

func TestCanceledRequestWritesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/upload", nil).WithContext(ctx)
	writeServiceError(w, req, context.Canceled)
	assert.Empty(t, w.Body.String())
}
