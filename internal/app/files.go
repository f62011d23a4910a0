package app

import (
	"archive/zip"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// maxAttachmentBytes caps how much of a dropped file is read.
const maxAttachmentBytes = 20 << 20

var imageMIMEs = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
}

// LocalFileProcessor turns dropped files into message content. Images become
// base64 data URIs, Office documents are unzipped and their text elements
// collected, anything else is treated as UTF-8 text.
type LocalFileProcessor struct{}

func (LocalFileProcessor) ProcessFileContent(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() > maxAttachmentBytes {
		return "", fmt.Errorf("file too large: %d bytes", info.Size())
	}

	ext := strings.ToLower(filepath.Ext(path))
	if mime, ok := imageMIMEs[ext]; ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(b), nil
	}

	switch ext {
	case ".docx":
		return extractOfficeText(path, func(name string) bool {
			return name == "word/document.xml"
		})
	case ".pptx":
		return extractOfficeText(path, func(name string) bool {
			return strings.HasPrefix(name, "ppt/slides/slide") && strings.HasSuffix(name, ".xml")
		})
	case ".pdf":
		return "", fmt.Errorf("unsupported file type: %s", ext)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("file is not valid utf-8 text: %s", filepath.Base(path))
	}
	return string(b), nil
}

// extractOfficeText opens an OOXML container and concatenates the text of
// every <t> element in the selected entries. Slide entries are visited in
// name order so pptx text reads top to bottom.
func extractOfficeText(path string, selectEntry func(name string) bool) (string, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	names := make([]string, 0, 4)
	files := make(map[string]*zip.File)
	for _, f := range reader.File {
		if selectEntry(f.Name) {
			names = append(names, f.Name)
			files[f.Name] = f
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "", fmt.Errorf("no text entries in %s", filepath.Base(path))
	}

	var b strings.Builder
	for _, name := range names {
		rc, err := files[name].Open()
		if err != nil {
			return "", err
		}
		text, err := collectTextElements(rc)
		rc.Close()
		if err != nil {
			return "", err
		}
		if text != "" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(text)
		}
	}
	return b.String(), nil
}

// collectTextElements walks one XML document and gathers the character data
// of elements locally named "t", which is where both Word runs and
// PowerPoint shapes keep their text.
func collectTextElements(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				depth++
			}
		case xml.EndElement:
			if t.Name.Local == "t" && depth > 0 {
				depth--
			}
		case xml.CharData:
			if depth > 0 {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
