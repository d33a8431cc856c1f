package photo

import (
	"context"
	"time"
)

// Repository defines the interface for photo persistence.
type Repository interface {
	// Create stores a new photo record.
	Create(ctx context.Context, photo *Photo) error

	// Get retrieves a photo by ID.
	Get(ctx context.Context, id string) (*Photo, error)

	// List returns photos newest first.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// UpdateStatus sets the moderation status of a photo.
	UpdateStatus(ctx context.Context, id string, status Status, updatedAt time.Time) error
}
