package storage_test

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/evermore/evermore/internal/storage"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "IMG_0042.jpg", "IMG_0042.jpg"},
		{"path traversal", "../../../evil.jpg", ".._.._.._evil.jpg"},
		{"spaces", "first dance.png", "first_dance.png"},
		{"backslashes", `C:\photos\cake.webp`, "C__photos_cake.webp"},
		{"unicode", "bröllop.jpg", "br_llop.jpg"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, storage.SanitizeFileName(tt.raw))
		})
	}
}

func TestSanitizeFileName_Truncates(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	assert.Len(t, storage.SanitizeFileName(string(long)), 200)
}

func TestPhotoKey(t *testing.T) {
	at := time.UnixMilli(1718000000123)

	key := storage.PhotoKey(at, "../../../evil.jpg")

	assert.Equal(t, "photos/1718000000123-.._.._.._evil.jpg", key)
	assert.Regexp(t, regexp.MustCompile(`^photos/\d+-\.\._\.\._\.\._evil\.jpg$`), key)
}

func TestCDNURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/photos/1-a.jpg", storage.CDNURL("cdn.example.com", "photos/1-a.jpg"))
	assert.Equal(t, "https://cdn.example.com/photos/1-a.jpg", storage.CDNURL("cdn.example.com/", "/photos/1-a.jpg"))
	assert.Equal(t, "https://cdn.example.com/photos/a%20b.jpg", storage.CDNURL("cdn.example.com", "photos/a%20b.jpg"),
		"already-encoded keys are not encoded again")
}
