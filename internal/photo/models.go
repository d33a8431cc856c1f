// Package photo keeps the record of every uploaded photo: where it is stored, its caption
// and its moderation status.
package photo

import (
	"errors"
	"time"

	"github.com/evermore/evermore/internal/storage"
)

// Repository errors.
var (
	ErrPhotoNotFound = errors.New("photo not found")
)

// MaxCaptionLength is the longest caption accepted, in characters.
const MaxCaptionLength = 500

// Status is the moderation status of a photo.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

// Photo is a stored photo and its metadata.
type Photo struct {
	ID          string
	Key         string
	URL         string
	StorageType storage.Type
	ContentType string
	Size        int64
	Caption     *string
	Status      Status
	UploadedBy  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ListOptions contains options for listing photos.
type ListOptions struct {
	// Status filters by moderation status. Empty means any.
	Status Status
	Limit  int
	// Cursor is the ID of the last photo of the previous page.
	Cursor string
}

// ListResult contains the result of listing photos.
type ListResult struct {
	Items      []*Photo
	NextCursor string
}

// UploadInput is a photo to store and record.
type UploadInput struct {
	Body        []byte
	FileName    string
	ContentType string
	Caption     string
	UploadedBy  string
}
