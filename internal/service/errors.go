package service

import (
	"errors"
	"fmt"

	"github.com/puppals/mediastore/internal/repository"
)

var (
	ErrFileNotFound = repository.ErrFileNotFound
	ErrPostNotFound = repository.ErrPostNotFound
	ErrForbidden    = errors.New("forbidden")

	// ErrMalformedBody marks a transport body that ended or broke mid-read, a client fault.
	ErrMalformedBody = errors.New("malformed request body")
)

// Stage names a step of the upload or delete pipeline. A failure is reported
// with the stage that could not be reached.
type Stage string

const (
	StageReceived        Stage = "received"
	StageValidated       Stage = "validated"
	StageBlobWritten     Stage = "blob_written"
	StageMetadataWritten Stage = "metadata_written"
	StageLinked          Stage = "linked"

	StageBlobDeleted     Stage = "blob_deleted"
	StageMetadataDeleted Stage = "metadata_deleted"
	StageUnlinked        Stage = "unlinked"
)

// StageError is an infrastructure failure inside a pipeline.
type StageError struct {
	Stage Stage
	Name  string // storage name, empty before one is generated
	Err   error
}

func (e *StageError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Name, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ConsistencyError is a compensation step that failed, leaving blob store,
// metadata and posts out of step until garbage collection runs.
type ConsistencyError struct {
	Stage Stage
	Name  string
	Err   error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency fault after %s for %s: %v", e.Stage, e.Name, e.Err)
}

func (e *ConsistencyError) Unwrap() error { return e.Err }
