package repository

import (
	"context"
	"errors"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puppals/mediastore/internal/model"
)

// cachedFileRepository serves ByName from an LRU. Records never change after
// creation, so the only invalidation needed is on delete. deletes counts
// started deletes; a miss that raced one is returned but not cached.
type cachedFileRepository struct {
	FileRepository
	byName  *lru.Cache[string, *model.File]
	deletes atomic.Uint64
}

// NewCachedFileRepository wraps next with a ByName cache of size entries.
// A size <= 0 returns next unchanged.
func NewCachedFileRepository(next FileRepository, size int) (FileRepository, error) {
	if size <= 0 {
		return next, nil
	}
	cache, err := lru.New[string, *model.File](size)
	if err != nil {
		return nil, err
	}
	return &cachedFileRepository{FileRepository: next, byName: cache}, nil
}

func (r *cachedFileRepository) Create(ctx context.Context, file *model.File) error {
	err := r.FileRepository.Create(ctx, file)
	if err != nil {
		return err
	}
	r.byName.Add(file.StorageName, clone(file))
	return nil
}

func (r *cachedFileRepository) ByName(ctx context.Context, storageName string) (*model.File, error) {
	if f, ok := r.byName.Get(storageName); ok {
		return clone(f), nil
	}

	gen := r.deletes.Load()
	f, err := r.FileRepository.ByName(ctx, storageName)
	if err != nil {
		return nil, err
	}
	if r.deletes.Load() == gen {
		r.byName.Add(storageName, clone(f))
	}
	return f, nil
}

func (r *cachedFileRepository) Delete(ctx context.Context, id string) error {
	r.deletes.Add(1)
	err := r.FileRepository.Delete(ctx, id)

	// Evict even on ErrFileNotFound, the row may have been removed elsewhere
	if err == nil || errors.Is(err, ErrFileNotFound) {
		for _, name := range r.byName.Keys() {
			if f, ok := r.byName.Peek(name); ok && f.ID == id {
				r.byName.Remove(name)
			}
		}
	}
	return err
}

func clone(f *model.File) *model.File {
	c := *f
	if f.PostID != nil {
		postID := *f.PostID
		c.PostID = &postID
	}
	return &c
}
