package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/puppals/mediastore/internal/model"
	"github.com/puppals/mediastore/internal/storage"
)

type GCOptions struct {
	DryRun bool
	// GracePeriod protects blobs and pending writes younger than this, so
	// uploads still between blob write and record creation are left alone.
	GracePeriod time.Duration
}

// GCResult counts what was found, and removed unless DryRun was set.
type GCResult struct {
	DanglingRecords  int `json:"danglingRecords"`
	OrphanBlobs      int `json:"orphanBlobs"`
	IncompleteWrites int `json:"incompleteWrites"`
	StaleLinks       int `json:"staleLinks"`
}

// CollectGarbage repairs what interrupted pipelines and failed compensations
// leave behind: records whose blob is missing, blobs without a record, abandoned
// chunked writes and post entries pointing at deleted records.
func (s *FileService) CollectGarbage(ctx context.Context, opts GCOptions) (GCResult, error) {
	var res GCResult
	cutoff := time.Now().Add(-opts.GracePeriod)
	log := slog.With("dry_run", opts.DryRun)

	records, err := s.files.All(ctx)
	if err != nil {
		return res, fmt.Errorf("list records: %w", err)
	}

	known := make(map[string]bool, len(records))
	for _, f := range records {
		_, err = s.blobs.Stat(ctx, f.StorageName)
		if err == nil {
			known[f.StorageName] = true
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return res, fmt.Errorf("stat %s: %w", f.StorageName, err)
		}

		res.DanglingRecords++
		log.Info("dangling record", "file_id", f.ID, "name", f.StorageName)
		if opts.DryRun {
			continue
		}
		err = s.removeDangling(ctx, f)
		if err != nil {
			return res, err
		}
		s.metrics.GCRemoved.WithLabelValues("dangling_record").Inc()
	}

	var orphans []storage.Object
	err = s.blobs.Walk(ctx, func(obj storage.Object) error {
		// Only names this service generates are candidates
		if !storage.ValidName(obj.Name) {
			return nil
		}
		if !known[obj.Name] && obj.CreatedAt.Before(cutoff) {
			orphans = append(orphans, obj)
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("walk blobs: %w", err)
	}

	for _, obj := range orphans {
		// Recheck, the record may have been created after the listing
		_, err = s.files.ByName(ctx, obj.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrFileNotFound) {
			return res, err
		}

		res.OrphanBlobs++
		log.Info("orphan blob", "name", obj.Name, "size", obj.Size, "created_at", obj.CreatedAt)
		if opts.DryRun {
			continue
		}
		err = s.blobs.Delete(ctx, obj.Ref)
		if err != nil {
			return res, fmt.Errorf("delete orphan %s: %w", obj.Name, err)
		}
		s.metrics.GCRemoved.WithLabelValues("orphan_blob").Inc()
	}

	if !opts.DryRun {
		res.IncompleteWrites, err = s.blobs.PurgeIncomplete(ctx, cutoff)
		if err != nil {
			return res, fmt.Errorf("purge incomplete writes: %w", err)
		}
		s.metrics.GCRemoved.WithLabelValues("incomplete_write").Add(float64(res.IncompleteWrites))
	}

	res.StaleLinks, err = s.pruneStaleLinks(ctx, opts.DryRun)
	if err != nil {
		return res, err
	}

	log.Info("garbage collection finished",
		"dangling_records", res.DanglingRecords,
		"orphan_blobs", res.OrphanBlobs,
		"incomplete_writes", res.IncompleteWrites,
		"stale_links", res.StaleLinks,
	)
	return res, nil
}

func (s *FileService) removeDangling(ctx context.Context, f *model.File) error {
	err := s.files.Delete(ctx, f.ID)
	if err != nil && !errors.Is(err, ErrFileNotFound) {
		return fmt.Errorf("delete dangling record %s: %w", f.ID, err)
	}
	if f.PostID == nil {
		return nil
	}

	err = s.updatePostFiles(ctx, *f.PostID, func(ids model.FileIDs) model.FileIDs {
		return ids.Without(f.ID)
	})
	if err != nil && !errors.Is(err, ErrPostNotFound) {
		return fmt.Errorf("unlink dangling record %s: %w", f.ID, err)
	}
	return nil
}

// pruneStaleLinks drops post entries whose record no longer exists.
func (s *FileService) pruneStaleLinks(ctx context.Context, dryRun bool) (int, error) {
	posts, err := s.posts.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("list posts: %w", err)
	}

	stale := 0
	for _, post := range posts {
		var missing []string
		for _, id := range post.Files {
			_, err = s.files.ByID(ctx, id)
			if errors.Is(err, ErrFileNotFound) {
				missing = append(missing, id)
				continue
			}
			if err != nil {
				return stale, err
			}
		}
		if len(missing) == 0 {
			continue
		}

		stale += len(missing)
		slog.Info("stale post links", "post_id", post.ID, "file_ids", missing, "dry_run", dryRun)
		if dryRun {
			continue
		}

		err = s.updatePostFiles(ctx, post.ID, func(ids model.FileIDs) model.FileIDs {
			for _, id := range missing {
				ids = ids.Without(id)
			}
			return ids
		})
		if err != nil && !errors.Is(err, ErrPostNotFound) {
			return stale, fmt.Errorf("prune post %s: %w", post.ID, err)
		}
		s.metrics.GCRemoved.WithLabelValues("stale_link").Add(float64(len(missing)))
	}
	return stale, nil
}
