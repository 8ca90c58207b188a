package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Post is the social-feed entry media gets attached to. Files holds the ids of
// the File records linked to it, in upload order.
type Post struct {
	ID        string    `db:"id" json:"id"`
	AuthorID  string    `db:"author_id" json:"authorId"`
	Content   string    `db:"content" json:"content"`
	Files     FileIDs   `db:"files" json:"files"`
	Version   int64     `db:"version" json:"-"` // Optimistic concurrency token for Files updates
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// FileIDs is stored as a JSON array in a text column.
type FileIDs []string

func (ids FileIDs) Value() (driver.Value, error) {
	if ids == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(ids))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (ids *FileIDs) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*ids = FileIDs{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported files column type %T", src)
	}

	var out []string
	err := json.Unmarshal(raw, &out)
	if err != nil {
		return fmt.Errorf("decode files column: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	*ids = out
	return nil
}

// Contains reports whether id is linked.
func (ids FileIDs) Contains(id string) bool {
	return slices.Contains(ids, id)
}

// With returns a copy with id appended, unless it is already present.
func (ids FileIDs) With(id string) FileIDs {
	if ids.Contains(id) {
		return slices.Clone(ids)
	}
	out := make(FileIDs, 0, len(ids)+1)
	out = append(out, ids...)
	return append(out, id)
}

// Without returns a copy with every occurrence of id removed.
func (ids FileIDs) Without(id string) FileIDs {
	out := make(FileIDs, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
