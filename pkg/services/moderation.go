package services

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"ChatBridge/pkg/apierr"
)

const maxContentLength = 10000

var (
	prohibitedWords   = []string{"spam", "malware", "phishing", "hack", "virus"}
	suspiciousDomains = []string{"bit.ly", "tinyurl.com", "goo.gl"}

	allowedUploadTypes = []string{
		"image/jpeg", "image/png", "image/gif", "image/webp",
		"audio/mpeg", "audio/wav", "audio/webm", "audio/mp4",
		"application/pdf", "text/plain", "text/markdown",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	}
	suspiciousExtensions = []string{".exe", ".bat", ".cmd", ".scr", ".vbs", ".js"}
)

type ModerationResult struct {
	Allowed bool
	Reason  string
}

// ModerateContent applies the keyword, domain, length and repetition rules.
func ModerateContent(content string) ModerationResult {
	lower := strings.ToLower(content)
	for _, w := range prohibitedWords {
		if strings.Contains(lower, w) {
			return ModerationResult{Reason: fmt.Sprintf("Contenido bloqueado: contiene término prohibido %q", w)}
		}
	}
	for _, d := range suspiciousDomains {
		if strings.Contains(lower, d) {
			return ModerationResult{Reason: fmt.Sprintf("Contenido bloqueado: contiene dominio sospechoso %q", d)}
		}
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return ModerationResult{Reason: "Contenido bloqueado: longitud excesiva"}
	}
	if hasRepeatedPair(content, 11) {
		return ModerationResult{Reason: "Contenido bloqueado: patrón repetitivo detectado"}
	}
	return ModerationResult{Allowed: true}
}

// hasRepeatedPair reports whether some two-rune sequence occurs at least
// times times back to back ("abababab...").
func hasRepeatedPair(s string, times int) bool {
	r := []rune(s)
	need := 2 * times
	for start := 0; start+need <= len(r); start++ {
		run := 2
		for run < need && r[start+run] == r[start+run%2] {
			run++
		}
		if run >= need {
			return true
		}
	}
	return false
}

// ValidateFileUpload checks size, mime type and file extension.
func ValidateFileUpload(fileName, mimeType string, sizeBytes int64, maxSizeMB int) error {
	if maxSizeMB <= 0 {
		maxSizeMB = 15
	}
	maxBytes := int64(maxSizeMB) * 1024 * 1024
	if sizeBytes > maxBytes {
		return apierr.TooLarge(fmt.Sprintf("Archivo demasiado grande: %.1fMB, máximo %dMB", float64(sizeBytes)/1024/1024, maxSizeMB))
	}
	if !slices.Contains(allowedUploadTypes, mimeType) {
		return apierr.Unsupported(fmt.Sprintf("Tipo de archivo no permitido: %s", mimeType))
	}
	lower := strings.ToLower(fileName)
	for _, ext := range suspiciousExtensions {
		if strings.HasSuffix(lower, ext) {
			return apierr.Unsupported(fmt.Sprintf("Extensión de archivo no permitida: %s", ext))
		}
	}
	return nil
}
