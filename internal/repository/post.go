package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/puppals/mediastore/internal/model"
)

var (
	ErrPostNotFound = errors.New("post not found")
	// ErrPostConflict means the post changed since it was read. Re-fetch and retry.
	ErrPostConflict = errors.New("post was modified concurrently")
)

type PostRepository interface {
	Create(ctx context.Context, post *model.Post) error
	ByID(ctx context.Context, id string) (*model.Post, error)
	All(ctx context.Context) ([]*model.Post, error)
	Save(ctx context.Context, post *model.Post) error
}

type postRepository struct {
	db *sqlx.DB
}

func NewPostRepository(db *sqlx.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(ctx context.Context, post *model.Post) error {
	if post.Version == 0 {
		post.Version = 1
	}
	if post.Files == nil {
		post.Files = model.FileIDs{}
	}

	query := `INSERT INTO posts (id, author_id, content, files, version, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		post.ID,
		post.AuthorID,
		post.Content,
		post.Files,
		post.Version,
		post.CreatedAt,
		post.UpdatedAt,
	)

	return err
}

func (r *postRepository) ByID(ctx context.Context, id string) (*model.Post, error) {
	post := &model.Post{}
	query := `SELECT * FROM posts WHERE id = $1`

	err := r.db.GetContext(ctx, post, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, err
	}

	return post, nil
}

// All returns every post, newest first.
func (r *postRepository) All(ctx context.Context) ([]*model.Post, error) {
	posts := []*model.Post{}
	query := `SELECT * FROM posts ORDER BY created_at DESC, id DESC`

	err := r.db.SelectContext(ctx, &posts, query)
	if err != nil {
		return nil, err
	}

	return posts, nil
}

// Save persists content and files if the stored version still matches post.Version,
// then advances post.Version. A mismatch returns ErrPostConflict and writes nothing.
func (r *postRepository) Save(ctx context.Context, post *model.Post) error {
	now := time.Now().UTC()
	query := `UPDATE posts SET content = $1, files = $2, version = version + 1, updated_at = $3
	          WHERE id = $4 AND version = $5`

	result, err := r.db.ExecContext(ctx, query,
		post.Content,
		post.Files,
		now,
		post.ID,
		post.Version,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var exists bool
		err = r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM posts WHERE id = $1)`, post.ID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrPostNotFound
		}
		return ErrPostConflict
	}

	post.Version++
	post.UpdatedAt = now
	return nil
}
