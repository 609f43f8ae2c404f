package parser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-qa/internal/config"
	"document-qa/internal/models"
	"document-qa/internal/parser/parsertest"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParse_UnsupportedExtension(t *testing.T) {
	p := NewParser(nil)
	path := writeFile(t, "notes.txt", "plain text is not allowed by default")

	_, err := p.Parse(path, "notes.txt", 1)
	assert.ErrorIs(t, err, models.ErrUnsupportedFormat)
	assert.False(t, p.Supported("notes.txt"))
	assert.True(t, p.Supported("Report.PDF"))
	assert.Equal(t, []string{".docx", ".html", ".pdf"}, p.Extensions())
}

func TestParse_DOCX(t *testing.T) {
	cfg := config.Default()
	cfg.RAG.ChunkSize = 200
	cfg.RAG.ChunkOverlap = 40
	p := NewParser(cfg)

	path := filepath.Join(t.TempDir(), "42-report.docx")
	paragraphs := parsertest.Paragraphs(6, 150)
	parsertest.WriteDocx(t, path, paragraphs...)

	chunks, err := p.Parse(path, "report.docx", 42)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	txt, err := p.ExtractText(path, "report.docx")
	require.NoError(t, err)
	assert.Equal(t, strings.Join(paragraphs, "\n")+"\n", txt)

	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, len(chunks), c.ChunkCount)
		assert.Equal(t, int64(42), c.DocumentID)
		assert.Equal(t, "report.docx", c.Filename)
		assert.Equal(t, path, c.SourcePath)
		assert.Equal(t, txt[c.StartOffset:c.StartOffset+len(c.Text)], c.Text)
		assert.LessOrEqual(t, len(c.Text), 200)
	}
	last := chunks[len(chunks)-1]
	assert.Equal(t, len(txt), last.StartOffset+len(last.Text))
}

func TestParse_HTML(t *testing.T) {
	page := `<!DOCTYPE html>
<html><head><title>Llama facts</title><script>var tracker = "nope";</script></head>
<body>
<nav><a href="/">Home</a></nav>
<article>
<h1>Llama facts</h1>
<p>Llamas are social animals and live with others as a herd. Their wool is soft and contains only a small amount of lanolin.</p>
<p>Llamas can learn simple tasks after a few repetitions. When using a pack, they can carry about 25 to 30 percent of their body weight.</p>
</article>
</body></html>`
	path := writeFile(t, "llamas.html", page)

	chunks, err := NewParser(nil).Parse(path, "llamas.html", 7)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	var all strings.Builder
	for _, c := range chunks {
		all.WriteString(c.Text)
	}
	assert.Contains(t, all.String(), "Llamas are social animals")
	assert.NotContains(t, all.String(), "tracker")
}

func TestParse_NoContent(t *testing.T) {
	path := writeFile(t, "empty.html", "<html><body>   \n  </body></html>")

	_, err := NewParser(nil).Parse(path, "empty.html", 3)
	assert.ErrorIs(t, err, models.ErrNoContent)
}

func TestParse_MarkdownWhenAllowed(t *testing.T) {
	cfg := config.Default()
	cfg.Upload.AllowedExtensions = []string{".md", ".exe"}
	p := NewParser(cfg)
	assert.Equal(t, []string{".md"}, p.Extensions())

	path := writeFile(t, "guide.md", "# Setup guide\n\nInstall the *agent* first.\n\n```\nmake install\n```\n")
	txt, err := p.ExtractText(path, "guide.md")
	require.NoError(t, err)

	assert.Contains(t, txt, "Setup guide")
	assert.Contains(t, txt, "Install the agent first.")
	assert.Contains(t, txt, "make install")
	assert.NotContains(t, txt, "#")
	assert.NotContains(t, txt, "*")
}

func TestDocxText(t *testing.T) {
	xml := `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		`<w:p><w:r><w:t>Name</w:t><w:tab/><w:t>Value</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>line one</w:t><w:br/><w:t>line two</w:t></w:r></w:p>` +
		`<w:p><w:r><w:instrText>IGNORED</w:instrText></w:r></w:p>` +
		`</w:body></w:document>`

	txt, err := docxText(xml)
	require.NoError(t, err)
	assert.Equal(t, "Name\tValue\nline one\nline two\n\n", txt)
}
