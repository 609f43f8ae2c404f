// Package parsertest builds document fixtures for tests.
package parsertest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"os"
	"strings"
	"testing"
)

const documentHeader = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`

const documentFooter = `</w:body></w:document>`

const relationships = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`

const contentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="xml" ContentType="application/xml"/><Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/></Types>`

// DocxBytes returns a minimal .docx archive with one paragraph per entry.
// Entries are stored uncompressed so the archive size tracks the text size.
func DocxBytes(tb testing.TB, paragraphs ...string) []byte {
	tb.Helper()

	var doc strings.Builder
	doc.WriteString(documentHeader)
	for _, p := range paragraphs {
		doc.WriteString("<w:p><w:r><w:t xml:space=\"preserve\">")
		if err := xml.EscapeText(&doc, []byte(p)); err != nil {
			tb.Fatalf("escape paragraph: %v", err)
		}
		doc.WriteString("</w:t></w:r></w:p>")
	}
	doc.WriteString(documentFooter)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := []struct{ name, body string }{
		{"[Content_Types].xml", contentTypes},
		{"word/document.xml", doc.String()},
		{"word/_rels/document.xml.rels", relationships},
	}
	for _, f := range files {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: f.name, Method: zip.Store})
		if err != nil {
			tb.Fatalf("create %s: %v", f.name, err)
		}
		if _, err := w.Write([]byte(f.body)); err != nil {
			tb.Fatalf("write %s: %v", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		tb.Fatalf("close docx: %v", err)
	}
	return buf.Bytes()
}

// WriteDocx writes a .docx fixture to path
func WriteDocx(tb testing.TB, path string, paragraphs ...string) {
	tb.Helper()
	if err := os.WriteFile(path, DocxBytes(tb, paragraphs...), 0o644); err != nil {
		tb.Fatalf("write docx: %v", err)
	}
}

// Paragraphs returns n filler paragraphs of at least size bytes each
func Paragraphs(n, size int) []string {
	const filler = "The quarterly report covers revenue, staffing and the migration plan. "
	out := make([]string, n)
	for i := range out {
		var b strings.Builder
		for b.Len() < size {
			b.WriteString(filler)
		}
		out[i] = b.String()
	}
	return out
}
