package vector

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/winzerprince/oc-tutor/internal/apperr"
	"github.com/winzerprince/oc-tutor/internal/chunk"
)

const formatVersion = 1

// Store is the chunk store that travels with an Index. Chunk i belongs to vector i.
type Store struct {
	Version      int           `json:"version"`
	BuildID      string        `json:"build_id"`
	Source       string        `json:"source"`
	SourceSHA256 string        `json:"source_sha256"`
	Chunks       []chunk.Chunk `json:"chunks"`
}

// Pair is an index and its chunk store. Both carry the same build id.
type Pair struct {
	Index *Index
	Store *Store
}

// Result is a retrieved chunk with its distance to the query.
type Result struct {
	Chunk    chunk.Chunk
	Distance float64
}

// NewPair starts an empty pair with a fresh build id.
func NewPair(metric Metric, model, source, sourceSHA string) *Pair {
	id := uuid.NewString()
	idx := NewIndex(metric, model)
	idx.BuildID = id
	return &Pair{
		Index: idx,
		Store: &Store{Version: formatVersion, BuildID: id, Source: source, SourceSHA256: sourceSHA, Chunks: make([]chunk.Chunk, 0)},
	}
}

// Add stores c and vec under the next id.
func (p *Pair) Add(c chunk.Chunk, vec []float32) error {
	id, err := p.Index.Add(vec)
	if err != nil {
		return fmt.Errorf("chunk %d: %w", len(p.Store.Chunks), err)
	}
	c.ID = id
	p.Store.Chunks = append(p.Store.Chunks, c)
	return nil
}

func (p *Pair) Count() int { return p.Index.Count() }

// Validate checks that index and store still describe the same build.
func (p *Pair) Validate() error {
	if p.Index == nil || p.Store == nil {
		return fmt.Errorf("incomplete pair: %w", apperr.ErrCorruptStore)
	}
	if n, m := len(p.Index.Vectors), len(p.Store.Chunks); n != m {
		return fmt.Errorf("index has %d entries, chunk store has %d: %w", n, m, apperr.ErrCorruptStore)
	}
	if p.Index.BuildID != p.Store.BuildID {
		return fmt.Errorf("index build %s does not match chunk store build %s: %w", p.Index.BuildID, p.Store.BuildID, apperr.ErrCorruptStore)
	}
	if _, err := ParseMetric(string(p.Index.Metric)); err != nil {
		return fmt.Errorf("index metric %q: %w", p.Index.Metric, apperr.ErrCorruptStore)
	}
	for i, v := range p.Index.Vectors {
		if len(v) != p.Index.Dimension {
			return fmt.Errorf("vector %d has dimension %d, index declares %d: %w", i, len(v), p.Index.Dimension, apperr.ErrCorruptStore)
		}
	}
	for i, c := range p.Store.Chunks {
		if c.ID != i {
			return fmt.Errorf("chunk at position %d has id %d: %w", i, c.ID, apperr.ErrCorruptStore)
		}
	}
	return nil
}

// Search returns the chunks of the k nearest vectors.
func (p *Pair) Search(query []float32, k int) ([]Result, error) {
	hits, err := p.Index.Search(query, k)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		if h.ID >= len(p.Store.Chunks) {
			return nil, fmt.Errorf("hit %d outside chunk store of %d: %w", h.ID, len(p.Store.Chunks), apperr.ErrCorruptStore)
		}
		out = append(out, Result{Chunk: p.Store.Chunks[h.ID], Distance: h.Distance})
	}
	return out, nil
}

// WritePair persists p to indexPath and storePath. Both files are fully
// written to temporary siblings before either target is replaced, so a
// failure leaves the previous pair untouched.
func WritePair(indexPath, storePath string, p *Pair) error {
	if err := p.Validate(); err != nil {
		return err
	}

	storeTmp, err := writeTemp(storePath, p.Store, true)
	if err != nil {
		return fmt.Errorf("write chunk store: %w", err)
	}
	indexTmp, err := writeTemp(indexPath, p.Index, false)
	if err != nil {
		_ = os.Remove(storeTmp)
		return fmt.Errorf("write index: %w", err)
	}

	if err := os.Rename(storeTmp, storePath); err != nil {
		_ = os.Remove(storeTmp)
		_ = os.Remove(indexTmp)
		return fmt.Errorf("replace chunk store: %w", err)
	}
	if err := os.Rename(indexTmp, indexPath); err != nil {
		_ = os.Remove(indexTmp)
		// the new store no longer matches the old index; LoadPair reports the build id mismatch
		return fmt.Errorf("replace index: %w", err)
	}
	return nil
}

func writeTemp(path string, v any, indent bool) (string, error) {
	var data []byte
	var err error
	if indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

// LoadPair reads and validates a pair. Both files missing is ErrMissingInput;
// any other inconsistency is ErrCorruptStore.
func LoadPair(indexPath, storePath string) (*Pair, error) {
	hasIndex, hasStore, err := Exists(indexPath, storePath)
	if err != nil {
		return nil, err
	}
	switch {
	case !hasIndex && !hasStore:
		return nil, fmt.Errorf("no index at %s: %w", indexPath, apperr.ErrMissingInput)
	case !hasIndex:
		return nil, fmt.Errorf("chunk store %s exists but index %s is missing: %w", storePath, indexPath, apperr.ErrCorruptStore)
	case !hasStore:
		return nil, fmt.Errorf("index %s exists but chunk store %s is missing: %w", indexPath, storePath, apperr.ErrCorruptStore)
	}

	var idx Index
	if err := readJSON(indexPath, &idx); err != nil {
		return nil, err
	}
	var store Store
	if err := readJSON(storePath, &store); err != nil {
		return nil, err
	}

	p := &Pair{Index: &idx, Store: &store}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %v: %w", path, err, apperr.ErrCorruptStore)
	}
	return nil
}

// Exists reports which of the two pair files are present.
func Exists(indexPath, storePath string) (hasIndex, hasStore bool, err error) {
	hasIndex, err = exists(indexPath)
	if err != nil {
		return false, false, err
	}
	hasStore, err = exists(storePath)
	if err != nil {
		return false, false, err
	}
	return hasIndex, hasStore, nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
