package app

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeDocx(t *testing.T, dir string, paragraphs []string) string {
	t.Helper()
	var xmlBody strings.Builder
	xmlBody.WriteString(`<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		xmlBody.WriteString(`<w:p><w:r><w:t>`)
		xmlBody.WriteString(p)
		xmlBody.WriteString(`</w:t></w:r></w:p>`)
	}
	xmlBody.WriteString(`</w:body></w:document>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	if _, err := f.Write([]byte(xmlBody.String())); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}

	path := filepath.Join(dir, "note.docx")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write docx: %v", err)
	}
	return path
}

func TestProcessTextFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(path, []byte("普通文本内容"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := LocalFileProcessor{}.ProcessFileContent(context.Background(), path)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if got != "普通文本内容" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestProcessImageBecomesDataURI(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pic.png")
	if err := os.WriteFile(path, []byte{0x89, 0x50, 0x4e, 0x47}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := LocalFileProcessor{}.ProcessFileContent(context.Background(), path)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.HasPrefix(got, "data:image/png;base64,") {
		t.Fatalf("expected png data uri, got %q", got[:min(len(got), 40)])
	}
}

func TestProcessDocxCollectsText(t *testing.T) {
	dir := t.TempDir()
	path := writeDocx(t, dir, []string{"第一段", "第二段"})
	got, err := LocalFileProcessor{}.ProcessFileContent(context.Background(), path)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.Contains(got, "第一段") || !strings.Contains(got, "第二段") {
		t.Fatalf("docx text missing: %q", got)
	}
}

func TestProcessPDFRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := (LocalFileProcessor{}).ProcessFileContent(context.Background(), path); err == nil {
		t.Fatalf("pdf must be rejected")
	}
}

func TestProcessBinaryRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.bin")
	if err := os.WriteFile(path, []byte{0xff, 0xfe, 0x00, 0x80}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := (LocalFileProcessor{}).ProcessFileContent(context.Background(), path); err == nil {
		t.Fatalf("non-utf8 file must be rejected")
	}
}

func TestProcessMissingFile(t *testing.T) {
	if _, err := (LocalFileProcessor{}).ProcessFileContent(context.Background(), filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Fatalf("missing file must error")
	}
}
