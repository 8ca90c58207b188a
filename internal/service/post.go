package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/puppals/mediastore/internal/model"
	"github.com/puppals/mediastore/internal/repository"
	"github.com/puppals/mediastore/internal/validation"
)

const maxPostContent = 10_000

type PostService struct {
	posts repository.PostRepository
	files repository.FileRepository
}

func NewPostService(posts repository.PostRepository, files repository.FileRepository) *PostService {
	return &PostService{
		posts: posts,
		files: files,
	}
}

// PostDetail is a post with its file ids resolved to records.
type PostDetail struct {
	ID        string        `json:"id"`
	AuthorID  string        `json:"authorId"`
	Content   string        `json:"content"`
	Files     []*model.File `json:"files"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

func (s *PostService) Create(ctx context.Context, authorID, content string) (*model.Post, error) {
	if authorID == "" {
		return nil, validation.MissingField("authorId")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, validation.MissingField("content")
	}
	if len(content) > maxPostContent {
		return nil, &validation.Error{
			Reason:  validation.ReasonSizeExceeded,
			Message: fmt.Sprintf("content too long: maximum is %d bytes", maxPostContent),
		}
	}

	now := time.Now().UTC()
	post := &model.Post{
		ID:        uuid.New().String(),
		AuthorID:  authorID,
		Content:   content,
		Files:     model.FileIDs{},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.posts.Create(ctx, post)
	if err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}

	slog.Info("post created", "post_id", post.ID, "author_id", authorID)
	return post, nil
}

// ByID returns the post with its files in list order.
func (s *PostService) ByID(ctx context.Context, id string) (*PostDetail, error) {
	post, err := s.posts.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, post)
}

// All returns every post newest first, files resolved.
func (s *PostService) All(ctx context.Context) ([]*PostDetail, error) {
	posts, err := s.posts.All(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*PostDetail, 0, len(posts))
	for _, p := range posts {
		d, err := s.detail(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *PostService) detail(ctx context.Context, post *model.Post) (*PostDetail, error) {
	linked, err := s.files.ByPost(ctx, post.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load post files: %w", err)
	}

	byID := make(map[string]*model.File, len(linked))
	for _, f := range linked {
		byID[f.ID] = f
	}

	// Entries whose record is gone are skipped, garbage collection prunes them
	files := make([]*model.File, 0, len(post.Files))
	for _, id := range post.Files {
		if f, ok := byID[id]; ok {
			files = append(files, f)
		}
	}

	return &PostDetail{
		ID:        post.ID,
		AuthorID:  post.AuthorID,
		Content:   post.Content,
		Files:     files,
		CreatedAt: post.CreatedAt,
		UpdatedAt: post.UpdatedAt,
	}, nil
}
