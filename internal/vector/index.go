package vector

import (
	"fmt"
	"math"
	"sort"

	"github.com/winzerprince/oc-tutor/internal/apperr"
)

// Metric is the distance function an index is built for. It is fixed per index.
type Metric string

const (
	L2     Metric = "l2"
	Cosine Metric = "cosine"
)

func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case L2, Cosine:
		return Metric(s), nil
	default:
		return "", fmt.Errorf("unknown metric %q: %w", s, apperr.ErrInvalidArguments)
	}
}

// Index is an exact in-memory vector index. The id of a vector is its position.
type Index struct {
	Version   int         `json:"version"`
	BuildID   string      `json:"build_id"`
	Metric    Metric      `json:"metric"`
	Model     string      `json:"model"`
	Dimension int         `json:"dimension"`
	Vectors   [][]float32 `json:"vectors"`
}

// Hit is one search result. Lower distance means more similar.
type Hit struct {
	ID       int     `json:"id"`
	Distance float64 `json:"distance"`
}

// NewIndex creates a new empty vector index
func NewIndex(metric Metric, model string) *Index {
	return &Index{
		Version: formatVersion,
		Metric:  metric,
		Model:   model,
		Vectors: make([][]float32, 0),
	}
}

// Add appends vec and returns its id. The first vector fixes the dimension.
func (idx *Index) Add(vec []float32) (int, error) {
	if len(vec) == 0 {
		return 0, fmt.Errorf("empty vector")
	}
	if idx.Dimension == 0 {
		idx.Dimension = len(vec)
	}
	if len(vec) != idx.Dimension {
		return 0, fmt.Errorf("vector dimension %d does not match index dimension %d", len(vec), idx.Dimension)
	}
	idx.Vectors = append(idx.Vectors, vec)
	return len(idx.Vectors) - 1, nil
}

// Count returns the number of vectors in the index
func (idx *Index) Count() int {
	return len(idx.Vectors)
}

// CosineSimilarity calculates the cosine similarity between two vectors
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimensions don't match: %d vs %d", len(a), len(b))
	}

	var dotProduct, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dotProduct += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 {
		return 0, fmt.Errorf("cannot compute similarity: first vector is zero")
	}
	if normB == 0 {
		return 0, fmt.Errorf("cannot compute similarity: second vector is zero")
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// L2Distance is the euclidean distance between a and b.
func L2Distance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimensions don't match: %d vs %d", len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

func (idx *Index) distance(q, v []float32) (float64, error) {
	if idx.Metric == Cosine {
		sim, err := CosineSimilarity(q, v)
		if err != nil {
			if len(q) != len(v) {
				return 0, err
			}
			// a zero vector is orthogonal to everything
			sim = 0
		}
		return 1 - sim, nil
	}
	return L2Distance(q, v)
}

// Search returns the k nearest vectors to query ordered by ascending
// distance, ties broken by ascending id. k larger than the index returns
// every vector.
func (idx *Index) Search(query []float32, k int) ([]Hit, error) {
	if k <= 0 || len(idx.Vectors) == 0 {
		return []Hit{}, nil
	}
	if len(query) != idx.Dimension {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d (model %q): %w",
			len(query), idx.Dimension, idx.Model, apperr.ErrCorruptStore)
	}

	hits := make([]Hit, 0, len(idx.Vectors))
	for id, v := range idx.Vectors {
		d, err := idx.distance(query, v)
		if err != nil {
			return nil, fmt.Errorf("vector %d: %v: %w", id, err, apperr.ErrCorruptStore)
		}
		hits = append(hits, Hit{ID: id, Distance: d})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}
