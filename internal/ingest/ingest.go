package ingest

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/winzerprince/oc-tutor/internal/apperr"
)

var ErrUnsupported = errors.New("unsupported file type")

// SourceName is the conventional file name of a course document.
const SourceName = "source.pdf"

// Document is the extracted, not yet cleaned, text of a source file.
type Document struct {
	Path   string `json:"path"`
	Kind   string `json:"kind"` // pdf | text
	SHA256 string `json:"sha256"`
	// Segments are pages for PDFs and blank-line separated paragraphs for text files.
	Segments []string `json:"-"`
}

// Text joins the segments the way the extractor emitted them.
func (d *Document) Text() string {
	return strings.Join(d.Segments, "\n")
}

// FindSource returns the course document inside dir: source.pdf when present,
// otherwise the first *.pdf by name, otherwise a plain text source.txt or source.md.
func FindSource(dir string) (string, error) {
	p := filepath.Join(dir, SourceName)
	if _, err := os.Stat(p); err == nil {
		return p, nil
	}

	ents, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", dir, apperr.ErrMissingInput)
	}
	var pdfs []string
	for _, e := range ents {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		pdfs = append(pdfs, e.Name())
	}
	if len(pdfs) > 0 {
		sort.Strings(pdfs)
		return filepath.Join(dir, pdfs[0]), nil
	}
	for _, name := range []string{"source.txt", "source.md"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no pdf in %s: %w", dir, apperr.ErrMissingInput)
}

func NormalizeText(s string) string {
	// minimal normalization: strip NULs and normalize newlines
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

// Extract reads path and returns its raw text segments.
func Extract(path string) (*Document, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, apperr.ErrMissingInput)
		}
		return nil, err
	}

	doc := &Document{Path: path}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt", ".md":
		doc.Kind = "text"
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		doc.Segments = splitParagraphs(NormalizeText(string(b)))
	case ".pdf":
		doc.Kind = "pdf"
		pages, err := extractPDFPages(path)
		if err != nil {
			return nil, err
		}
		for i := range pages {
			pages[i] = NormalizeText(pages[i])
		}
		doc.Segments = pages
	default:
		return nil, ErrUnsupported
	}

	h := sha256.Sum256([]byte(doc.Text()))
	doc.SHA256 = hex.EncodeToString(h[:])
	return doc, nil
}

func splitParagraphs(s string) []string {
	parts := strings.Split(s, "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func extractPDFPages(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	r, err := pdf.NewReader(f, info.Size())
	if err != nil {
		// Check if it's an encrypted PDF
		if strings.Contains(err.Error(), "encrypted") || strings.Contains(err.Error(), "password") {
			return nil, errors.New("encrypted PDF not supported")
		}
		return nil, err
	}

	numPages := r.NumPage()
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			// Skip pages with errors and continue
			continue
		}
		pages = append(pages, text)
	}

	return pages, nil
}

func CopyTo(dest string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if _, err := io.Copy(w, r); err != nil {
		return err
	}
	return w.Flush()
}
