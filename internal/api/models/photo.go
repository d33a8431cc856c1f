package models

import (
	"github.com/evermore/evermore/internal/photo"
)

// Photo is the API representation of a stored photo.
type Photo struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Key         string    `json:"key"`
	StorageType string    `json:"storageType"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	Caption     *string   `json:"caption,omitempty"`
	Status      string    `json:"status"`
	UploadedBy  string    `json:"uploadedBy,omitempty"`
	CreatedAt   Timestamp `json:"createdAt"`
	UpdatedAt   Timestamp `json:"updatedAt"`
}

// PhotoList is a page of photos.
type PhotoList struct {
	Items []Photo           `json:"items"`
	Meta  PagedResponseMeta `json:"meta"`
}

// UpdatePhotoStatusRequest changes the moderation status of a photo.
type UpdatePhotoStatusRequest struct {
	Status string `json:"status"`
}

// PhotoFromDomain converts a domain photo.
func PhotoFromDomain(p *photo.Photo) Photo {
	return Photo{
		ID:          p.ID,
		URL:         p.URL,
		Key:         p.Key,
		StorageType: p.StorageType.String(),
		ContentType: p.ContentType,
		Size:        p.Size,
		Caption:     p.Caption,
		Status:      string(p.Status),
		UploadedBy:  p.UploadedBy,
		CreatedAt:   Timestamp(p.CreatedAt),
		UpdatedAt:   Timestamp(p.UpdatedAt),
	}
}

// PhotoListFromDomain converts a page of domain photos.
func PhotoListFromDomain(result *photo.ListResult, limit int) PhotoList {
	list := PhotoList{
		Items: make([]Photo, 0, len(result.Items)),
		Meta:  PagedResponseMeta{Limit: limit},
	}
	for _, p := range result.Items {
		list.Items = append(list.Items, PhotoFromDomain(p))
	}
	if result.NextCursor != "" {
		cursor := result.NextCursor
		list.Meta.NextCursor = &cursor
	}
	return list
}
