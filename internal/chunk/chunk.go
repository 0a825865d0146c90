package chunk

import (
	"fmt"
	"strings"

	"github.com/winzerprince/oc-tutor/internal/apperr"
)

const (
	MetaSource    = "source"
	MetaPriority  = "priority"
	SourceSummary = "summary"
	PriorityHigh  = "high"
)

// Chunk is one retrievable slice of a document. ID is its position in the
// chunk store and in the vector index.
type Chunk struct {
	ID    int    `json:"id"`
	Text  string `json:"text"`
	Start int    `json:"start"` // rune offset
	End   int    `json:"end"`   // rune offset
	// Page is the 1-based segment the offsets refer to; 0 for window chunks,
	// whose offsets refer to the whole cleaned text.
	Page     int               `json:"page,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IsSummary reports whether c is the synthesized summary chunk.
func (c Chunk) IsSummary() bool {
	return c.Metadata[MetaSource] == SourceSummary
}

// Chunker splits cleaned document segments into chunks.
type Chunker interface {
	Split(segments []string) ([]Chunk, error)
}

type Options struct {
	Size    int
	Overlap int
	// Summary chunk settings, structural chunker only.
	SummaryMinRunes int
	SummarySegments int
	SummaryBudget   int
}

func DefaultOptions() Options {
	return Options{Size: 500, Overlap: 100, SummaryMinRunes: 300, SummarySegments: 2, SummaryBudget: 1000}
}

func (o Options) validate() error {
	if o.Size <= 0 || o.Overlap < 0 || o.Overlap >= o.Size {
		return fmt.Errorf("chunk size %d with overlap %d: overlap must be in [0, size): %w", o.Size, o.Overlap, apperr.ErrInvalidArguments)
	}
	return nil
}

// New returns the structural chunker when structural is set, the window chunker otherwise.
func New(opt Options, structural bool) (Chunker, error) {
	if err := opt.validate(); err != nil {
		return nil, err
	}
	if structural {
		return &StructuralChunker{opt: opt}, nil
	}
	return &WindowChunker{opt: opt}, nil
}

// Window splits text into chunks of size runes where chunk n starts at
// n*(size-overlap). Only the trailing chunks can be shorter than size.
// Boundaries ignore words and sentences.
func Window(text string, size, overlap int) ([]Chunk, error) {
	if err := (Options{Size: size, Overlap: overlap}).validate(); err != nil {
		return nil, err
	}
	r := []rune(text)
	step := size - overlap

	out := make([]Chunk, 0, len(r)/step+1)
	for start := 0; start < len(r); start += step {
		end := start + size
		if end > len(r) {
			end = len(r)
		}
		out = append(out, Chunk{ID: len(out), Text: string(r[start:end]), Start: start, End: end})
	}
	return out, nil
}

// Reconstruct rebuilds the text covered by chunks produced by Window.
func Reconstruct(chunks []Chunk) string {
	var b strings.Builder
	covered := 0
	for _, c := range chunks {
		if c.End <= covered {
			continue
		}
		r := []rune(c.Text)
		from := covered - c.Start
		if from < 0 {
			from = 0
		}
		b.WriteString(string(r[from:]))
		covered = c.End
	}
	return b.String()
}

type WindowChunker struct {
	opt Options
}

func (w *WindowChunker) Split(segments []string) ([]Chunk, error) {
	return Window(strings.Join(segments, " "), w.opt.Size, w.opt.Overlap)
}
