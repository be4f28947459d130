package services

import (
	"errors"
	"net/http"
	"testing"

	"ChatBridge/pkg/apierr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTextPlain(t *testing.T) {
	out, err := ExtractText([]byte("  hola\nmundo  "), "text/markdown", "a.md")
	require.NoError(t, err)
	assert.Equal(t, "hola\nmundo", out)

	_, err = ExtractText([]byte{0xff, 0xfe, 0x00}, "text/plain", "a.txt")
	require.Error(t, err)
}

func TestExtractTextHTML(t *testing.T) {
	page := `<html><head><title>Guía</title><style>p{color:red}</style></head>
<body><script>alert(1)</script>
<h1>Horario</h1>
<div><p>Abrimos a   las 9.</p><ul><li>Lunes</li><li>Martes</li></ul></div>
</body></html>`
	out, err := ExtractText([]byte(page), "text/html", "a.html")
	require.NoError(t, err)
	assert.Equal(t, "Guía\n\nHorario\n\nAbrimos a las 9.\n\nLunes\n\nMartes", out)
	assert.NotContains(t, out, "alert")
	assert.NotContains(t, out, "color")
}

func TestExtractTextPDFPlaceholderAndUnsupported(t *testing.T) {
	out, err := ExtractText([]byte("%PDF-1.4"), "application/pdf", "manual.pdf")
	require.NoError(t, err)
	assert.Contains(t, out, "manual.pdf")

	_, err = ExtractText([]byte("x"), "application/zip", "a.zip")
	var e *apierr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, http.StatusUnsupportedMediaType, e.Status)
	assert.False(t, IsDocumentType("application/zip"))
	assert.True(t, IsDocumentType("text/html"))
}
