package storage

import (
	"strconv"
	"strings"
	"time"
)

// maxFileNameLength bounds the sanitized name so keys stay well under store limits.
const maxFileNameLength = 200

// SanitizeFileName maps raw to a storage-safe name. Letters, digits, '.', '_' and '-'
// are kept; every other character, path separators included, becomes '_'.
func SanitizeFileName(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	n := 0
	for _, r := range raw {
		if n == maxFileNameLength {
			break
		}
		if isSafe(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
		n++
	}
	return b.String()
}

func isSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '_', r == '-':
		return true
	default:
		return false
	}
}

// PhotoKey returns the object key for a photo uploaded at t.
func PhotoKey(t time.Time, fileName string) string {
	return "photos/" + strconv.FormatInt(t.UnixMilli(), 10) + "-" + SanitizeFileName(fileName)
}
