package photo

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryRepository is an in-memory implementation of Repository.
// Used in tests and when no database is configured.
type InMemoryRepository struct {
	mu     sync.RWMutex
	photos map[string]*Photo
}

// NewInMemoryRepository creates a new in-memory photo repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		photos: make(map[string]*Photo),
	}
}

// Create stores a new photo record.
func (r *InMemoryRepository) Create(_ context.Context, photo *Photo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.photos[photo.ID] = copyPhoto(photo)
	return nil
}

// Get retrieves a photo by ID.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*Photo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	photo, ok := r.photos[id]
	if !ok {
		return nil, ErrPhotoNotFound
	}
	return copyPhoto(photo), nil
}

// List returns photos newest first, continuing after opts.Cursor.
func (r *InMemoryRepository) List(_ context.Context, opts ListOptions) (*ListResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]*Photo, 0, len(r.photos))
	for _, photo := range r.photos {
		if opts.Status != "" && photo.Status != opts.Status {
			continue
		}
		items = append(items, photo)
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})

	if opts.Cursor != "" {
		for i, photo := range items {
			if photo.ID == opts.Cursor {
				items = items[i+1:]
				break
			}
		}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	result := &ListResult{}
	if len(items) > limit {
		items = items[:limit]
		result.NextCursor = items[limit-1].ID
	}

	result.Items = make([]*Photo, len(items))
	for i, photo := range items {
		result.Items[i] = copyPhoto(photo)
	}
	return result, nil
}

// UpdateStatus sets the moderation status of a photo.
func (r *InMemoryRepository) UpdateStatus(_ context.Context, id string, status Status, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	photo, ok := r.photos[id]
	if !ok {
		return ErrPhotoNotFound
	}
	photo.Status = status
	photo.UpdatedAt = updatedAt
	return nil
}

func copyPhoto(p *Photo) *Photo {
	c := *p
	if p.Caption != nil {
		caption := *p.Caption
		c.Caption = &caption
	}
	return &c
}
