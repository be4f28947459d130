package services

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"ChatBridge/pkg/apierr"

	"github.com/PuerkitoBio/goquery"
)

var documentTypes = map[string]bool{
	"text/plain":      true,
	"text/markdown":   true,
	"text/html":       true,
	"application/pdf": true,
}

func IsDocumentType(mimeType string) bool { return documentTypes[mimeType] }

// ExtractText turns an uploaded document into plain text. PDFs are not
// parsed; they get a placeholder naming the file.
func ExtractText(data []byte, mimeType, fileName string) (string, error) {
	switch mimeType {
	case "text/plain", "text/markdown":
		if !utf8.Valid(data) {
			return "", apierr.BadRequest("el archivo no es texto UTF-8 válido")
		}
		return strings.TrimSpace(string(data)), nil
	case "text/html":
		return extractHTML(data)
	case "application/pdf":
		return fmt.Sprintf("Documento PDF: %s. Contenido pendiente de extracción.", fileName), nil
	default:
		return "", apierr.Unsupported(fmt.Sprintf("Tipo de documento no soportado: %s", mimeType))
	}
}

func extractHTML(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var blocks []string
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		blocks = append(blocks, title)
	}
	doc.Find("script, style, noscript, head").Remove()

	doc.Find("h1, h2, h3, h4, h5, h6, p, li, td, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		// nested blocks are picked up by their own selector
		if s.Find("p, li, td, pre, blockquote").Length() > 0 {
			return
		}
		if txt := strings.Join(strings.Fields(s.Text()), " "); txt != "" {
			blocks = append(blocks, txt)
		}
	})
	if len(blocks) == 0 {
		blocks = append(blocks, strings.Join(strings.Fields(doc.Text()), " "))
	}
	return strings.TrimSpace(strings.Join(blocks, "\n\n")), nil
}
