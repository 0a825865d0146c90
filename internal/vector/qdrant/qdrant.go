// Package qdrant mirrors a built index pair into a Qdrant collection and
// serves retrieval from it.
package qdrant

import (
	"context"
	"fmt"
	"sort"

	qdrantclient "github.com/qdrant/go-client/qdrant"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/winzerprince/oc-tutor/internal/apperr"
	"github.com/winzerprince/oc-tutor/internal/chunk"
	"github.com/winzerprince/oc-tutor/internal/vector"
)

const batchSize = 100

// Client holds the gRPC service clients of one Qdrant connection.
type Client struct {
	Collections qdrantclient.CollectionsClient
	Points      qdrantclient.PointsClient
	conn        *grpc.ClientConn
}

// Dial connects to the Qdrant gRPC port.
func Dial(host string, port int) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant at %s: %w: %w", addr, apperr.ErrCollaboratorUnavailable, err)
	}
	return &Client{
		Collections: qdrantclient.NewCollectionsClient(conn),
		Points:      qdrantclient.NewPointsClient(conn),
		conn:        conn,
	}, nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func distance(m vector.Metric) qdrantclient.Distance {
	if m == vector.Cosine {
		return qdrantclient.Distance_Cosine
	}
	return qdrantclient.Distance_Euclid
}

func unavailable(what string, err error) error {
	return fmt.Errorf("qdrant %s: %w: %w", what, apperr.ErrCollaboratorUnavailable, err)
}

// setupCollection creates the collection, deleting an existing one first when
// recreate is set or when it holds more points than idx. Point ids are chunk
// ids, so points beyond a smaller rebuild would never be overwritten.
func (c *Client) setupCollection(ctx context.Context, name string, idx *vector.Index, recreate bool) error {
	collections, err := c.Collections.List(ctx, &qdrantclient.ListCollectionsRequest{})
	if err != nil {
		return unavailable("list collections", err)
	}

	exists := false
	for _, col := range collections.GetCollections() {
		if col.GetName() == name {
			exists = true
			break
		}
	}

	if exists && !recreate {
		exact := true
		resp, err := c.Points.Count(ctx, &qdrantclient.CountPoints{CollectionName: name, Exact: &exact})
		if err != nil {
			return unavailable("count points", err)
		}
		if n := resp.GetResult().GetCount(); n > uint64(idx.Count()) {
			log.WithFields(log.Fields{"collection": name, "points": n, "chunks": idx.Count()}).Warn("collection holds stale points, recreating")
			recreate = true
		}
	}
	if exists && recreate {
		log.WithField("collection", name).Info("deleting existing collection")
		if _, err := c.Collections.Delete(ctx, &qdrantclient.DeleteCollection{CollectionName: name}); err != nil {
			return unavailable("delete collection", err)
		}
		exists = false
	}
	if exists {
		return nil
	}

	log.WithFields(log.Fields{"collection": name, "dimension": idx.Dimension, "metric": idx.Metric}).Info("creating collection")
	_, err = c.Collections.Create(ctx, &qdrantclient.CreateCollection{
		CollectionName: name,
		VectorsConfig: &qdrantclient.VectorsConfig{
			Config: &qdrantclient.VectorsConfig_Params{
				Params: &qdrantclient.VectorParams{
					Size:     uint64(idx.Dimension),
					Distance: distance(idx.Metric),
				},
			},
		},
	})
	if err != nil {
		return unavailable("create collection", err)
	}
	return nil
}

func stringValue(s string) *qdrantclient.Value {
	return &qdrantclient.Value{Kind: &qdrantclient.Value_StringValue{StringValue: s}}
}

func point(c chunk.Chunk, vec []float32, source string) *qdrantclient.PointStruct {
	payload := map[string]*qdrantclient.Value{
		"text":   stringValue(c.Text),
		"source": stringValue(source),
	}
	if p := c.Metadata[chunk.MetaPriority]; p != "" {
		payload["priority"] = stringValue(p)
	}
	if c.IsSummary() {
		payload["source"] = stringValue(chunk.SourceSummary)
	}
	return &qdrantclient.PointStruct{
		Id: &qdrantclient.PointId{
			PointIdOptions: &qdrantclient.PointId_Num{Num: uint64(c.ID)},
		},
		Vectors: &qdrantclient.Vectors{
			VectorsOptions: &qdrantclient.Vectors_Vector{
				Vector: &qdrantclient.Vector{Data: vec},
			},
		},
		Payload: payload,
	}
}

// Publish mirrors p into collection. Point ids equal chunk ids. Returns the
// number of points written.
func (c *Client) Publish(ctx context.Context, collection string, p *vector.Pair, recreate bool) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if p.Count() == 0 {
		return 0, fmt.Errorf("empty index: %w", apperr.ErrMissingInput)
	}
	if err := c.setupCollection(ctx, collection, p.Index, recreate); err != nil {
		return 0, err
	}

	wait := true
	batch := make([]*qdrantclient.PointStruct, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		log.WithFields(log.Fields{"collection": collection, "points": len(batch)}).Debug("upserting batch")
		_, err := c.Points.Upsert(ctx, &qdrantclient.UpsertPoints{
			CollectionName: collection,
			Wait:           &wait,
			Points:         batch,
		})
		if err != nil {
			return unavailable("upsert points", err)
		}
		batch = batch[:0]
		return nil
	}

	for i, ch := range p.Store.Chunks {
		batch = append(batch, point(ch, p.Index.Vectors[i], p.Store.Source))
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	if err := flush(); err != nil {
		return 0, err
	}
	return p.Count(), nil
}

// Searcher retrieves chunks from a mirrored collection. Chunk bodies come
// from the local store; the collection must hold exactly one point per chunk.
type Searcher struct {
	Client     *Client
	Collection string
	Metric     vector.Metric
	Store      *vector.Store

	checked bool
}

func (s *Searcher) checkCount(ctx context.Context) error {
	if s.checked {
		return nil
	}
	exact := true
	resp, err := s.Client.Points.Count(ctx, &qdrantclient.CountPoints{CollectionName: s.Collection, Exact: &exact})
	if err != nil {
		return unavailable("count points", err)
	}
	n := resp.GetResult().GetCount()
	if int(n) != len(s.Store.Chunks) {
		return fmt.Errorf("collection %s has %d points, chunk store has %d: %w", s.Collection, n, len(s.Store.Chunks), apperr.ErrCorruptStore)
	}
	s.checked = true
	return nil
}

// Search returns the k nearest chunks ordered by ascending distance, ties by id.
func (s *Searcher) Search(ctx context.Context, query []float32, k int) ([]vector.Result, error) {
	if k <= 0 {
		return []vector.Result{}, nil
	}
	if err := s.checkCount(ctx); err != nil {
		return nil, err
	}

	resp, err := s.Client.Points.Search(ctx, &qdrantclient.SearchPoints{
		CollectionName: s.Collection,
		Vector:         query,
		Limit:          uint64(k),
		WithPayload: &qdrantclient.WithPayloadSelector{
			SelectorOptions: &qdrantclient.WithPayloadSelector_Include{
				Include: &qdrantclient.PayloadIncludeSelector{Fields: []string{"text"}},
			},
		},
	})
	if err != nil {
		return nil, unavailable("search", err)
	}

	out := make([]vector.Result, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		id := int(pt.GetId().GetNum())
		if id < 0 || id >= len(s.Store.Chunks) {
			return nil, fmt.Errorf("point %d outside chunk store of %d: %w", id, len(s.Store.Chunks), apperr.ErrCorruptStore)
		}
		c := s.Store.Chunks[id]
		if txt := pt.GetPayload()["text"].GetStringValue(); txt != "" && txt != c.Text {
			return nil, fmt.Errorf("point %d text differs from chunk store: %w", id, apperr.ErrCorruptStore)
		}
		// cosine scores are similarities, euclid scores are distances
		d := float64(pt.GetScore())
		if s.Metric == vector.Cosine {
			d = 1 - d
		}
		out = append(out, vector.Result{Chunk: c, Distance: d})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})
	return out, nil
}
