package photo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const photoColumns = `id, storage_key, url, storage_type, content_type, size_bytes, caption, status, uploaded_by, created_at, updated_at`

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL photo repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Create stores a new photo record.
func (r *PostgresRepository) Create(ctx context.Context, photo *Photo) error {
	query := `
		INSERT INTO photos (` + photoColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.pool.Exec(ctx, query,
		photo.ID,
		photo.Key,
		photo.URL,
		photo.StorageType,
		photo.ContentType,
		photo.Size,
		photo.Caption,
		photo.Status,
		photo.UploadedBy,
		photo.CreatedAt,
		photo.UpdatedAt,
	)
	return err
}

// Get retrieves a photo by ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Photo, error) {
	query := `SELECT ` + photoColumns + ` FROM photos WHERE id = $1`

	photo, err := scanPhoto(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPhotoNotFound
		}
		return nil, err
	}
	return photo, nil
}

// List returns photos newest first, continuing after opts.Cursor.
func (r *PostgresRepository) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	fetchLimit := limit + 1

	query := `
		SELECT ` + photoColumns + `
		FROM photos
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR (created_at, id) < (SELECT created_at, id FROM photos WHERE id = $2))
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, string(opts.Status), opts.Cursor, fetchLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var photos []*Photo
	for rows.Next() {
		photo, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		photos = append(photos, photo)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := &ListResult{
		Items: photos,
	}

	if len(photos) > limit {
		result.Items = photos[:limit]
		result.NextCursor = photos[limit-1].ID
	}

	return result, nil
}

// UpdateStatus sets the moderation status of a photo.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status Status, updatedAt time.Time) error {
	query := `UPDATE photos SET status = $2, updated_at = $3 WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id, status, updatedAt)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrPhotoNotFound
	}

	return nil
}

// scanPhoto scans a single photo from a row.
func scanPhoto(row pgx.Row) (*Photo, error) {
	var photo Photo

	err := row.Scan(
		&photo.ID,
		&photo.Key,
		&photo.URL,
		&photo.StorageType,
		&photo.ContentType,
		&photo.Size,
		&photo.Caption,
		&photo.Status,
		&photo.UploadedBy,
		&photo.CreatedAt,
		&photo.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &photo, nil
}
