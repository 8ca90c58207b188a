package model

import (
	"time"
)

// File is the metadata record for one stored media object. Provenance fields
// (OriginalName, MimeType) come from the client and are kept for display only.
type File struct {
	ID           string    `db:"id" json:"id"`
	StorageName  string    `db:"storage_name" json:"filename"` // Random name addressing the blob
	ObjectRef    string    `db:"object_ref" json:"-"`          // Backend reference passed to BlobStore.Delete
	OriginalName string    `db:"original_name" json:"originalName"`
	MimeType     string    `db:"mime_type" json:"mimeType"`
	Size         int64     `db:"size" json:"size"`
	OwnerID      string    `db:"owner_id" json:"ownerId"`
	PostID       *string   `db:"post_id" json:"postId"` // Nil until linked to a post
	UploadedAt   time.Time `db:"uploaded_at" json:"uploadedAt"`
}

// LinkedTo reports whether the record belongs to postID.
func (f *File) LinkedTo(postID string) bool {
	return f.PostID != nil && *f.PostID == postID
}
