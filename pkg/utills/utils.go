package utils

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"math"
	"math/big"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var ErrEmptyPayload = errors.New("empty payload")

// DecodeBase64Payload accepts raw base64 or a data URL
// ("data:audio/webm;base64,...") and returns the bytes plus the mime type
// declared in the data URL, if any.
func DecodeBase64Payload(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, "", ErrEmptyPayload
	}
	var mimeType string
	if strings.HasPrefix(s, "data:") {
		header, data, ok := strings.Cut(s, ",")
		if !ok {
			return nil, "", errors.New("malformed data url")
		}
		mimeType = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		s = data
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// some clients strip padding
		b, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return nil, "", err
		}
	}
	if len(b) == 0 {
		return nil, "", ErrEmptyPayload
	}
	return b, mimeType, nil
}

// EstimateTokens is the 4-chars-per-token rule of thumb, rounded up.
func EstimateTokens(s string) int {
	return int(math.Ceil(float64(len(s)) / 4))
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// RandomSuffix returns n random lowercase alphanumerics.
func RandomSuffix(n int) string {
	var b strings.Builder
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < n; i++ {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			b.WriteByte(alphabet[i%len(alphabet)])
			continue
		}
		b.WriteByte(alphabet[v.Int64()])
	}
	return b.String()
}

var extByMime = map[string]string{
	"image/jpeg":      "jpg",
	"image/png":       "png",
	"image/gif":       "gif",
	"image/webp":      "webp",
	"audio/mpeg":      "mp3",
	"audio/wav":       "wav",
	"audio/webm":      "webm",
	"audio/mp4":       "m4a",
	"application/pdf": "pdf",
	"text/plain":      "txt",
	"text/markdown":   "md",
	"text/html":       "html",
}

// FileExtension prefers the extension in name and falls back to the mime type.
func FileExtension(name, mimeType string) string {
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), "."); ext != "" {
		return ext
	}
	if ext, ok := extByMime[mimeType]; ok {
		return ext
	}
	return "bin"
}
