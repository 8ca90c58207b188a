package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/puppals/mediastore/internal/db"
)

const (
	DefaultChunkSize = 255 << 10 // 255 KiB
	walkBatchSize    = 500
	cleanupTimeout   = 30 * time.Second
)

var (
	// ErrCorrupt is returned mid-stream when stored chunks do not add up to the object length.
	ErrCorrupt = errors.New("blob chunks inconsistent with object length")

	errReaderClosed = errors.New("read from closed blob reader")
)

// SQLBlobStore stores objects as numbered fixed-size chunks in the blob_chunks
// table, with one blob_objects row per object. The row is flagged complete only
// after the last chunk is written, which is what makes it visible to readers.
type SQLBlobStore struct {
	db        *sqlx.DB
	chunkSize int
}

type objectRow struct {
	ID          string     `db:"id"`
	Name        string     `db:"name"`
	Length      int64      `db:"length"`
	ChunkSize   int        `db:"chunk_size"`
	SHA256      string     `db:"sha256"`
	Complete    bool       `db:"complete"`
	CreatedAt   time.Time  `db:"created_at"`
	CompletedAt *time.Time `db:"completed_at"`
}

func (o objectRow) object() Object {
	return Object{Ref: o.ID, Name: o.Name, Size: o.Length, SHA256: o.SHA256, CreatedAt: o.CreatedAt}
}

func NewSQLBlobStore(db *sqlx.DB, chunkSize int) *SQLBlobStore {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &SQLBlobStore{db: db, chunkSize: chunkSize}
}

func (s *SQLBlobStore) Write(ctx context.Context, name string, r io.Reader) (Object, error) {
	row := objectRow{
		ID:        uuid.New().String(),
		Name:      name,
		ChunkSize: s.chunkSize,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blob_objects (id, name, chunk_size, complete, created_at) VALUES ($1, $2, $3, $4, $5)`,
		row.ID, row.Name, row.ChunkSize, false, row.CreatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Object{}, fmt.Errorf("%w: %s", ErrNameTaken, name)
		}
		return Object{}, fmt.Errorf("create blob object: %w", err)
	}

	length, digest, err := s.writeChunks(ctx, row.ID, r)
	if err == nil {
		now := time.Now().UTC()
		_, err = s.db.ExecContext(ctx,
			`UPDATE blob_objects SET length = $1, sha256 = $2, complete = $3, completed_at = $4 WHERE id = $5`,
			length, digest, true, now, row.ID,
		)
		if err != nil {
			err = fmt.Errorf("finalize blob object: %w", err)
		}
	}
	if err != nil {
		// The caller may have gone away, cleanup must still run
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		delErr := s.Delete(cleanupCtx, row.ID)
		if delErr != nil {
			slog.Error("failed to discard partial blob", "error", delErr, "name", name, "ref", row.ID)
		}
		return Object{}, err
	}

	row.Length = length
	row.SHA256 = digest
	return row.object(), nil
}

// writeChunks drains r in chunkSize pieces. Errors from r are returned wrapped
// so callers can still match validation failures with errors.As.
func (s *SQLBlobStore) writeChunks(ctx context.Context, id string, r io.Reader) (int64, string, error) {
	buf := make([]byte, s.chunkSize)
	hash := sha256.New()
	var total int64

	for n := 0; ; n++ {
		err := ctx.Err()
		if err != nil {
			return 0, "", err
		}

		k, readErr := readChunk(r, buf)
		if k > 0 {
			hash.Write(buf[:k])
			_, err = s.db.ExecContext(ctx,
				`INSERT INTO blob_chunks (object_id, n, data) VALUES ($1, $2, $3)`,
				id, n, buf[:k],
			)
			if err != nil {
				return 0, "", fmt.Errorf("write chunk %d: %w", n, err)
			}
			total += int64(k)
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return 0, "", fmt.Errorf("read upload stream: %w", readErr)
		}
	}

	return total, hex.EncodeToString(hash.Sum(nil)), nil
}

func (s *SQLBlobStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	row, err := s.completeByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return &chunkReader{ctx: ctx, db: s.db, obj: row}, nil
}

func (s *SQLBlobStore) Stat(ctx context.Context, name string) (Object, error) {
	row, err := s.completeByName(ctx, name)
	if err != nil {
		return Object{}, err
	}
	return row.object(), nil
}

func (s *SQLBlobStore) completeByName(ctx context.Context, name string) (objectRow, error) {
	var row objectRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM blob_objects WHERE name = $1 AND complete = $2`, name, true)
	if errors.Is(err, sql.ErrNoRows) {
		return objectRow{}, ErrNotFound
	}
	if err != nil {
		return objectRow{}, fmt.Errorf("get blob object %s: %w", name, err)
	}
	return row, nil
}

func (s *SQLBlobStore) Delete(ctx context.Context, ref string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin blob delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `DELETE FROM blob_chunks WHERE object_id = $1`, ref)
	if err != nil {
		return fmt.Errorf("delete blob chunks: %w", err)
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM blob_objects WHERE id = $1`, ref)
	if err != nil {
		return fmt.Errorf("delete blob object: %w", err)
	}

	return tx.Commit()
}

// Walk pages through complete objects by id, so fn may use the database freely.
func (s *SQLBlobStore) Walk(ctx context.Context, fn func(Object) error) error {
	after := ""
	for {
		var rows []objectRow
		err := s.db.SelectContext(ctx, &rows,
			`SELECT * FROM blob_objects WHERE complete = $1 AND id > $2 ORDER BY id LIMIT $3`,
			true, after, walkBatchSize,
		)
		if err != nil {
			return fmt.Errorf("list blob objects: %w", err)
		}

		for _, row := range rows {
			err = fn(row.object())
			if err != nil {
				return err
			}
		}

		if len(rows) < walkBatchSize {
			return nil
		}
		after = rows[len(rows)-1].ID
	}
}

func (s *SQLBlobStore) PurgeIncomplete(ctx context.Context, before time.Time) (int, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT id FROM blob_objects WHERE complete = $1 AND created_at < $2`,
		false, before.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("list incomplete blobs: %w", err)
	}

	purged := 0
	for _, id := range ids {
		err = s.Delete(ctx, id)
		if err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

// chunkReader fetches one chunk per query, so no cursor or connection is held
// between Read calls and an abandoned reader leaks nothing.
type chunkReader struct {
	ctx    context.Context
	db     *sqlx.DB
	obj    objectRow
	next   int    // next chunk number to fetch
	read   int64  // bytes fetched so far
	buf    []byte // unread part of the current chunk
	closed bool
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if c.closed {
		return 0, errReaderClosed
	}

	if len(c.buf) == 0 {
		if c.read >= c.obj.Length {
			return 0, io.EOF
		}
		err := c.fetch()
		if err != nil {
			return 0, err
		}
	}

	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

func (c *chunkReader) fetch() error {
	var data []byte
	err := c.db.GetContext(c.ctx, &data,
		`SELECT data FROM blob_chunks WHERE object_id = $1 AND n = $2`, c.obj.ID, c.next)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s missing chunk %d", ErrCorrupt, c.obj.Name, c.next)
	}
	if err != nil {
		return fmt.Errorf("read chunk %d of %s: %w", c.next, c.obj.Name, err)
	}

	remaining := c.obj.Length - c.read
	want := int64(c.obj.ChunkSize)
	if remaining < want {
		want = remaining
	}
	if int64(len(data)) != want {
		return fmt.Errorf("%w: %s chunk %d has %d bytes, want %d", ErrCorrupt, c.obj.Name, c.next, len(data), want)
	}

	c.buf = data
	c.read += int64(len(data))
	c.next++
	return nil
}

func (c *chunkReader) Close() error {
	c.closed = true
	c.buf = nil
	return nil
}
