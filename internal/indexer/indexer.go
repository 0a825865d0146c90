// Package indexer turns a course document into a persisted index pair.
package indexer

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/winzerprince/oc-tutor/internal/apperr"
	"github.com/winzerprince/oc-tutor/internal/chunk"
	"github.com/winzerprince/oc-tutor/internal/embeddings"
	"github.com/winzerprince/oc-tutor/internal/ingest"
	"github.com/winzerprince/oc-tutor/internal/vector"
)

type Request struct {
	DocumentPath string
	IndexPath    string
	StorePath    string
	// Structural selects the page-aware chunker with the appended summary chunk.
	Structural bool
}

// Builder runs extract, clean, chunk, embed and write for one document.
type Builder struct {
	Embedder embeddings.Embedder
	Chunk    chunk.Options
	Metric   vector.Metric
}

func New(emb embeddings.Embedder, opt chunk.Options, metric vector.Metric) *Builder {
	if metric == "" {
		metric = vector.L2
	}
	return &Builder{Embedder: emb, Chunk: opt, Metric: metric}
}

// Build indexes req.DocumentPath and returns the number of chunks written.
// Nothing is replaced on disk unless every step succeeds.
func (b *Builder) Build(ctx context.Context, req Request) (int, error) {
	if req.DocumentPath == "" || req.IndexPath == "" || req.StorePath == "" {
		return 0, fmt.Errorf("document, index and store paths are required: %w", apperr.ErrInvalidArguments)
	}
	start := time.Now()
	logger := log.WithField("document", req.DocumentPath)

	doc, err := ingest.Extract(req.DocumentPath)
	if err != nil {
		return 0, fmt.Errorf("extract %s: %w", req.DocumentPath, err)
	}
	segments := ingest.CleanAll(doc.Segments)
	logger.WithField("segments", len(segments)).Debug("extracted")

	chunker, err := chunk.New(b.Chunk, req.Structural)
	if err != nil {
		return 0, err
	}
	chunks, err := chunker.Split(segments)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("no text extracted from %s: %w", req.DocumentPath, apperr.ErrMissingInput)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := b.Embedder.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vecs) != len(chunks) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d chunks: %w", len(vecs), len(chunks), apperr.ErrCollaboratorUnavailable)
	}

	pair := vector.NewPair(b.Metric, b.Embedder.Model(), req.DocumentPath, doc.SHA256)
	for i, c := range chunks {
		if err := pair.Add(c, vecs[i]); err != nil {
			return 0, fmt.Errorf("%v: %w", err, apperr.ErrCollaboratorUnavailable)
		}
	}

	if err := vector.WritePair(req.IndexPath, req.StorePath, pair); err != nil {
		return 0, err
	}

	logger.WithFields(log.Fields{
		"chunks":   pair.Count(),
		"model":    pair.Index.Model,
		"build_id": pair.Index.BuildID,
		"took":     time.Since(start).Round(time.Millisecond),
	}).Info("index built")
	return pair.Count(), nil
}
