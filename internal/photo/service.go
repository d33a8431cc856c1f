package photo

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/evermore/evermore/internal/resilience"
	"github.com/evermore/evermore/internal/storage"
)

// Uploader stores photo bytes and reports where they landed.
type Uploader interface {
	Upload(ctx context.Context, body []byte, fileName, contentType string) (*storage.UploadResult, error)
}

// ServiceConfig holds configuration for the photo service.
type ServiceConfig struct {
	Repository Repository
	Uploader   Uploader
	Clock      resilience.Clock
	Logger     zerolog.Logger

	// NewID generates photo IDs. Default: uuid.NewString
	NewID func() string
}

// Service uploads photos and manages their records.
type Service struct {
	repo     Repository
	uploader Uploader
	clock    resilience.Clock
	logger   zerolog.Logger
	newID    func() string
}

// NewService creates a new photo service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Clock == nil {
		cfg.Clock = resilience.SystemClock
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	return &Service{
		repo:     cfg.Repository,
		uploader: cfg.Uploader,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		newID:    cfg.NewID,
	}
}

// Upload stores the photo and records it as pending. If the record cannot be saved the
// object is already stored, so the DATABASE_ERROR carries its key and URL.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*Photo, error) {
	caption, err := normalizeCaption(in.Caption)
	if err != nil {
		return nil, err
	}

	result, err := s.uploader.Upload(ctx, in.Body, in.FileName, in.ContentType)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	photo := &Photo{
		ID:          s.newID(),
		Key:         result.Key,
		URL:         result.URL,
		StorageType: result.StorageType,
		ContentType: in.ContentType,
		Size:        int64(len(in.Body)),
		Caption:     caption,
		Status:      StatusPending,
		UploadedBy:  in.UploadedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Create(ctx, photo); err != nil {
		s.logger.Error().
			Err(err).
			Str("key", result.Key).
			Str("url", result.URL).
			Str("storage_type", result.StorageType.String()).
			Msg("photo stored but record not saved")

		return nil, resilience.WrapError(resilience.CodeDatabase, "failed to save photo record", err).
			WithDetail("key", result.Key).
			WithDetail("url", result.URL).
			WithDetail("storageType", result.StorageType.String())
	}

	return photo, nil
}

// Get retrieves a photo by ID.
func (s *Service) Get(ctx context.Context, id string) (*Photo, error) {
	photo, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, repoError(err, "failed to get photo")
	}
	return photo, nil
}

// List returns photos newest first.
func (s *Service) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, resilience.NewError(resilience.CodeValidation, "unknown status: "+string(opts.Status))
	}
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 50
	}

	result, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, repoError(err, "failed to list photos")
	}
	return result, nil
}

// SetStatus changes the moderation status of a photo and returns the updated record.
func (s *Service) SetStatus(ctx context.Context, id string, status Status) (*Photo, error) {
	if !status.Valid() {
		return nil, resilience.NewError(resilience.CodeValidation, "unknown status: "+string(status))
	}

	if err := s.repo.UpdateStatus(ctx, id, status, s.clock.Now().UTC()); err != nil {
		return nil, repoError(err, "failed to update photo status")
	}

	s.logger.Info().Str("photo_id", id).Str("status", string(status)).Msg("photo status updated")
	return s.Get(ctx, id)
}

func normalizeCaption(raw string) (*string, error) {
	caption := strings.TrimSpace(raw)
	if caption == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(caption) > MaxCaptionLength {
		return nil, resilience.NewError(resilience.CodeValidation, "caption is too long").
			WithDetail("maxLength", MaxCaptionLength)
	}
	return &caption, nil
}

func repoError(err error, msg string) error {
	if errors.Is(err, ErrPhotoNotFound) {
		return err
	}
	return resilience.WrapError(resilience.CodeDatabase, msg, err)
}
