// Package chat retrieves course context for a question and asks the language
// model, falling back to a plain model when the primary path is unavailable.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"github.com/winzerprince/oc-tutor/internal/apperr"
	"github.com/winzerprince/oc-tutor/internal/embeddings"
	"github.com/winzerprince/oc-tutor/internal/llm"
	"github.com/winzerprince/oc-tutor/internal/session"
	"github.com/winzerprince/oc-tutor/internal/vector"
)

// Apology is shown to the user when neither model could answer.
const Apology = "Unable to respond at the moment."

type Retrieved struct {
	ID       int               `json:"id"`
	Text     string            `json:"text"`
	Distance float64           `json:"distance"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type Result struct {
	Answer          string
	Retrieved       []Retrieved
	AssembledPrompt string
	Mode            Mode
	// Fallback is set when the answer came from the plain model without context.
	Fallback bool
}

// Searcher is a k-NN lookup over a course index.
type Searcher interface {
	Search(ctx context.Context, query []float32, k int) ([]vector.Result, error)
}

// PairSearcher searches a loaded index pair in memory.
type PairSearcher struct {
	Pair *vector.Pair
}

func (p PairSearcher) Search(ctx context.Context, query []float32, k int) ([]vector.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.Pair.Search(query, k)
}

type Retriever struct {
	Embedder embeddings.Embedder
	Searcher Searcher
	// IndexModel is the embedding model the index was built with.
	IndexModel string
}

// NewRetriever serves retrieval from an in-memory pair.
func NewRetriever(emb embeddings.Embedder, p *vector.Pair) *Retriever {
	return &Retriever{Embedder: emb, Searcher: PairSearcher{Pair: p}, IndexModel: p.Index.Model}
}

func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]Retrieved, error) {
	if r.IndexModel != "" && r.IndexModel != r.Embedder.Model() {
		log.WithFields(log.Fields{"index_model": r.IndexModel, "query_model": r.Embedder.Model()}).
			Warn("query embedder differs from the model the index was built with")
	}
	q, err := r.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	results, err := r.Searcher.Search(ctx, q, k)
	if err != nil {
		return nil, err
	}
	out := make([]Retrieved, 0, len(results))
	for _, res := range results {
		out = append(out, Retrieved{ID: res.Chunk.ID, Text: res.Chunk.Text, Distance: res.Distance, Metadata: res.Chunk.Metadata})
	}
	return out, nil
}

type Answerer struct {
	Primary  llm.Generator
	Fallback llm.Generator
	// MaxContextRunes bounds the retrieved context; 0 means unbounded.
	MaxContextRunes int
	// HistoryTurns limits the turns quoted in the prompt; 0 quotes all of them.
	HistoryTurns int
}

// Context joins the chunk texts with blank lines, cut to maxRunes when positive.
func Context(retrieved []Retrieved, maxRunes int) string {
	parts := make([]string, 0, len(retrieved))
	for _, r := range retrieved {
		parts = append(parts, r.Text)
	}
	s := strings.Join(parts, "\n\n")
	if maxRunes > 0 && utf8.RuneCountInString(s) > maxRunes {
		s = string([]rune(s)[:maxRunes])
	}
	return s
}

// Ask retrieves context for query and answers it. A retrieval failure caused
// by an unavailable collaborator goes straight to the fallback model; a
// corrupt or missing store is returned as is.
func (a *Answerer) Ask(ctx context.Context, r *Retriever, sess *session.Session, query string, k int, mode Mode) (*Result, error) {
	retrieved, err := r.Retrieve(ctx, query, k)
	if err != nil {
		if !errors.Is(err, apperr.ErrCollaboratorUnavailable) {
			return nil, err
		}
		log.WithError(err).Warn("retrieval unavailable, falling back to the plain model")
		return a.Plain(ctx, sess, query, mode, err)
	}
	return a.Answer(ctx, sess, query, retrieved, mode)
}

// Answer assembles the prompt for mode and asks the primary model. Any
// primary failure other than cancellation falls back to the plain model
// with the bare query. On success the exchange is appended to sess.
func (a *Answerer) Answer(ctx context.Context, sess *session.Session, query string, retrieved []Retrieved, mode Mode) (*Result, error) {
	history := ""
	if sess != nil {
		history = sess.Transcript(a.HistoryTurns)
	}
	prompt := mode.Prompt(history, Context(retrieved, a.MaxContextRunes), query)

	log.WithFields(log.Fields{"k": len(retrieved), "mode": mode, "prompt_runes": utf8.RuneCountInString(prompt)}).Debug("asking primary model")
	ans, err := a.Primary.Generate(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		log.WithError(err).Warn("primary model failed, falling back to the plain model")
		res, ferr := a.Plain(ctx, sess, query, mode, err)
		if res != nil {
			res.Retrieved = retrieved
		}
		return res, ferr
	}

	res := &Result{Answer: strings.TrimSpace(ans), Retrieved: retrieved, AssembledPrompt: prompt, Mode: mode}
	if err := record(sess, query, res.Answer); err != nil {
		return nil, err
	}
	return res, nil
}

// Plain answers query with the fallback model alone, without course context.
// cause is the failure that made the primary path unusable.
func (a *Answerer) Plain(ctx context.Context, sess *session.Session, query string, mode Mode, cause error) (*Result, error) {
	if a.Fallback == nil {
		if cause == nil {
			cause = fmt.Errorf("no fallback model configured: %w", apperr.ErrCollaboratorUnavailable)
		}
		return nil, cause
	}
	ans, err := a.Fallback.Generate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("fallback model %s: %w", a.Fallback.Model(), errors.Join(apperr.ErrCollaboratorUnavailable, cause, err))
	}
	res := &Result{Answer: strings.TrimSpace(ans), AssembledPrompt: query, Mode: mode, Fallback: true}
	if err := record(sess, query, res.Answer); err != nil {
		return nil, err
	}
	return res, nil
}

func record(sess *session.Session, query, answer string) error {
	if sess == nil {
		return nil
	}
	sess.Exchange(query, answer)
	if err := sess.Save(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
