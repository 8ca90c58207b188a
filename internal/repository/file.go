package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/puppals/mediastore/internal/db"
	"github.com/puppals/mediastore/internal/model"
)

var (
	ErrFileNotFound = errors.New("file not found")
	ErrFileExists   = errors.New("file storage name already exists")
)

type FileRepository interface {
	Create(ctx context.Context, file *model.File) error
	ByID(ctx context.Context, id string) (*model.File, error)
	ByName(ctx context.Context, storageName string) (*model.File, error)
	ByPost(ctx context.Context, postID string) ([]*model.File, error)
	ByOwner(ctx context.Context, ownerID string) ([]*model.File, error)
	All(ctx context.Context) ([]*model.File, error)
	Delete(ctx context.Context, id string) error
}

type fileRepository struct {
	db *sqlx.DB
}

func NewFileRepository(db *sqlx.DB) FileRepository {
	return &fileRepository{db: db}
}

func (r *fileRepository) Create(ctx context.Context, file *model.File) error {
	query := `INSERT INTO files (id, storage_name, object_ref, original_name, mime_type, size, owner_id, post_id, uploaded_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		file.ID,
		file.StorageName,
		file.ObjectRef,
		file.OriginalName,
		file.MimeType,
		file.Size,
		file.OwnerID,
		file.PostID,
		file.UploadedAt,
	)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrFileExists, file.StorageName)
	}

	return err
}

func (r *fileRepository) ByID(ctx context.Context, id string) (*model.File, error) {
	file := &model.File{}
	query := `SELECT * FROM files WHERE id = $1`

	err := r.db.GetContext(ctx, file, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}

	return file, nil
}

func (r *fileRepository) ByName(ctx context.Context, storageName string) (*model.File, error) {
	file := &model.File{}
	query := `SELECT * FROM files WHERE storage_name = $1`

	err := r.db.GetContext(ctx, file, query, storageName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}

	return file, nil
}

// ByPost returns the post's files oldest first.
func (r *fileRepository) ByPost(ctx context.Context, postID string) ([]*model.File, error) {
	files := []*model.File{}
	query := `SELECT * FROM files WHERE post_id = $1 ORDER BY uploaded_at ASC, id ASC`

	err := r.db.SelectContext(ctx, &files, query, postID)
	if err != nil {
		return nil, err
	}

	return files, nil
}

// ByOwner returns everything ownerID uploaded, oldest first.
func (r *fileRepository) ByOwner(ctx context.Context, ownerID string) ([]*model.File, error) {
	files := []*model.File{}
	query := `SELECT * FROM files WHERE owner_id = $1 ORDER BY uploaded_at ASC, id ASC`

	err := r.db.SelectContext(ctx, &files, query, ownerID)
	if err != nil {
		return nil, err
	}

	return files, nil
}

func (r *fileRepository) All(ctx context.Context) ([]*model.File, error) {
	files := []*model.File{}
	query := `SELECT * FROM files ORDER BY uploaded_at ASC, id ASC`

	err := r.db.SelectContext(ctx, &files, query)
	if err != nil {
		return nil, err
	}

	return files, nil
}

func (r *fileRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM files WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrFileNotFound
	}

	return nil
}
