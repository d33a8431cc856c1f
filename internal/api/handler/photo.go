package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/evermore/evermore/internal/api/middleware"
	"github.com/evermore/evermore/internal/api/models"
	"github.com/evermore/evermore/internal/api/response"
	"github.com/evermore/evermore/internal/photo"
)

// DefaultMaxUploadBytes bounds a single photo when no limit is configured.
const DefaultMaxUploadBytes = 10 << 20

// multipartOverhead is allowed on top of the file limit for boundaries and the caption.
const multipartOverhead = 64 << 10

// PhotoService is the photo operations the handler needs.
type PhotoService interface {
	Upload(ctx context.Context, in photo.UploadInput) (*photo.Photo, error)
	Get(ctx context.Context, id string) (*photo.Photo, error)
	List(ctx context.Context, opts photo.ListOptions) (*photo.ListResult, error)
	SetStatus(ctx context.Context, id string, status photo.Status) (*photo.Photo, error)
}

// PhotoHandler handles photo endpoints.
type PhotoHandler struct {
	photos   PhotoService
	maxBytes int64
	logger   zerolog.Logger
}

// NewPhotoHandler creates a new PhotoHandler. maxBytes <= 0 selects DefaultMaxUploadBytes.
func NewPhotoHandler(photos PhotoService, maxBytes int64, logger zerolog.Logger) *PhotoHandler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &PhotoHandler{photos: photos, maxBytes: maxBytes, logger: logger}
}

// UploadPhoto handles POST /v1/photos (multipart: file, caption).
func (h *PhotoHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)

	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.PayloadTooLarge(w, r, "photo exceeds the upload limit")
			return
		}
		response.BadRequest(w, r, "request must be multipart/form-data", nil)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, r, "file is required", []models.FieldError{
			{Field: "file", Message: "required", Code: "REQUIRED"},
		})
		return
	}
	defer file.Close()

	if header.Size > h.maxBytes {
		response.PayloadTooLarge(w, r, "photo exceeds the upload limit")
		return
	}

	body, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	if err != nil {
		response.BadRequest(w, r, "could not read file", nil)
		return
	}
	if int64(len(body)) > h.maxBytes {
		response.PayloadTooLarge(w, r, "photo exceeds the upload limit")
		return
	}

	p, err := h.photos.Upload(r.Context(), photo.UploadInput{
		Body:        body,
		FileName:    header.Filename,
		ContentType: partContentType(header.Header.Get("Content-Type"), body),
		Caption:     r.FormValue("caption"),
		UploadedBy:  middleware.GetUserID(r.Context()),
	})
	if err != nil {
		response.FromError(w, r, h.logger, err)
		return
	}

	w.Header().Set("X-Storage-Type", p.StorageType.String())
	response.Created(w, r, "/v1/photos/"+p.ID, models.PhotoFromDomain(p))
}

// ListPhotos handles GET /v1/photos. Anonymous callers only see approved photos.
func (h *PhotoHandler) ListPhotos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			response.BadRequest(w, r, "limit must be between 1 and 100", []models.FieldError{
				{Field: "limit", Message: "must be between 1 and 100", Code: "OUT_OF_RANGE"},
			})
			return
		}
		limit = n
	}

	status := photo.Status(q.Get("status"))
	if middleware.GetUserID(r.Context()) == "" {
		if status != "" && status != photo.StatusApproved {
			response.Unauthorized(w, r, "authentication required to list unmoderated photos")
			return
		}
		status = photo.StatusApproved
	}

	result, err := h.photos.List(r.Context(), photo.ListOptions{
		Status: status,
		Limit:  limit,
		Cursor: q.Get("cursor"),
	})
	if err != nil {
		response.FromError(w, r, h.logger, err)
		return
	}

	if limit == 0 {
		limit = 50
	}
	response.JSON(w, r, http.StatusOK, models.PhotoListFromDomain(result, limit))
}

// GetPhoto handles GET /v1/photos/{photoId}.
func (h *PhotoHandler) GetPhoto(w http.ResponseWriter, r *http.Request) {
	p, err := h.photos.Get(r.Context(), chi.URLParam(r, "photoId"))
	if err != nil {
		response.FromError(w, r, h.logger, err)
		return
	}

	// Unmoderated photos are invisible to anonymous callers.
	if p.Status != photo.StatusApproved && middleware.GetUserID(r.Context()) == "" {
		response.NotFound(w, r, "photo not found")
		return
	}

	response.JSON(w, r, http.StatusOK, models.PhotoFromDomain(p))
}

// UpdatePhotoStatus handles PUT /v1/photos/{photoId}/status.
func (h *PhotoHandler) UpdatePhotoStatus(w http.ResponseWriter, r *http.Request) {
	var req models.UpdatePhotoStatusRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 4<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	p, err := h.photos.SetStatus(r.Context(), chi.URLParam(r, "photoId"), photo.Status(req.Status))
	if err != nil {
		response.FromError(w, r, h.logger, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.PhotoFromDomain(p))
}

// partContentType prefers the declared part type and sniffs when it is missing or generic.
func partContentType(declared string, body []byte) string {
	if mediaType, _, err := mime.ParseMediaType(declared); err == nil && mediaType != "application/octet-stream" {
		return declared
	}
	return http.DetectContentType(body)
}

func requestID(r *http.Request) string {
	return middleware.GetRequestID(r.Context())
}

func userID(r *http.Request) string {
	return middleware.GetUserID(r.Context())
}
