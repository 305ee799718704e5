package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractHTML(t *testing.T) {
	doc := `<html><head><title>Cells</title><style>p { color: red }</style>
<script>var x = "hidden";</script></head>
<body><h1>Organelles</h1><p>The nucleus holds DNA.</p><p>Ribosomes &amp; proteins.</p></body></html>`

	text, err := extractHTML(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Contains(t, text, "Organelles")
	assert.Contains(t, text, "The nucleus holds DNA.")
	assert.Contains(t, text, "Ribosomes & proteins.")
	assert.NotContains(t, text, "hidden")
	assert.NotContains(t, text, "color")
}

func TestExtractText_ByExtension(t *testing.T) {
	dir := t.TempDir()
	htmlPath := filepath.Join(dir, "page.HTM")
	require.NoError(t, os.WriteFile(htmlPath, []byte("<p>Hello <b>world</b></p>"), 0o644))
	txtPath := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(txtPath, []byte("# Heading\nbody"), 0o644))

	pages, err := ExtractText(htmlPath)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "Hello world", strings.TrimSpace(pages[0].Text))

	pages, err = ExtractText(txtPath)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, "# Heading\nbody", pages[0].Text)
}

func TestExtractText_Unsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.png")
	require.NoError(t, os.WriteFile(path, []byte{0x89, 'P', 'N', 'G', 0x00}, 0o644))

	_, err := ExtractText(path)
	assert.ErrorIs(t, err, ErrUnsupported)
}
