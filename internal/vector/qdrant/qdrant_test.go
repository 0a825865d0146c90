package qdrant

import (
	"context"
	"errors"
	"testing"

	qdrantclient "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/winzerprince/oc-tutor/internal/apperr"
	"github.com/winzerprince/oc-tutor/internal/chunk"
	"github.com/winzerprince/oc-tutor/internal/vector"
)

type fakeCollections struct {
	qdrantclient.CollectionsClient
	names   []string
	deleted []string
	created []*qdrantclient.CreateCollection
}

func (f *fakeCollections) List(ctx context.Context, in *qdrantclient.ListCollectionsRequest, opts ...grpc.CallOption) (*qdrantclient.ListCollectionsResponse, error) {
	resp := &qdrantclient.ListCollectionsResponse{}
	for _, n := range f.names {
		resp.Collections = append(resp.Collections, &qdrantclient.CollectionDescription{Name: n})
	}
	return resp, nil
}

func (f *fakeCollections) Delete(ctx context.Context, in *qdrantclient.DeleteCollection, opts ...grpc.CallOption) (*qdrantclient.CollectionOperationResponse, error) {
	f.deleted = append(f.deleted, in.CollectionName)
	return &qdrantclient.CollectionOperationResponse{Result: true}, nil
}

func (f *fakeCollections) Create(ctx context.Context, in *qdrantclient.CreateCollection, opts ...grpc.CallOption) (*qdrantclient.CollectionOperationResponse, error) {
	f.created = append(f.created, in)
	return &qdrantclient.CollectionOperationResponse{Result: true}, nil
}

type fakePoints struct {
	qdrantclient.PointsClient
	batches [][]*qdrantclient.PointStruct
	count   uint64
	results []*qdrantclient.ScoredPoint
	err     error
}

func (f *fakePoints) Upsert(ctx context.Context, in *qdrantclient.UpsertPoints, opts ...grpc.CallOption) (*qdrantclient.PointsOperationResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.batches = append(f.batches, append([]*qdrantclient.PointStruct(nil), in.Points...))
	return &qdrantclient.PointsOperationResponse{}, nil
}

func (f *fakePoints) Count(ctx context.Context, in *qdrantclient.CountPoints, opts ...grpc.CallOption) (*qdrantclient.CountResponse, error) {
	return &qdrantclient.CountResponse{Result: &qdrantclient.CountResult{Count: f.count}}, nil
}

func (f *fakePoints) Search(ctx context.Context, in *qdrantclient.SearchPoints, opts ...grpc.CallOption) (*qdrantclient.SearchResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &qdrantclient.SearchResponse{Result: f.results}, nil
}

func testPair(t *testing.T, n int) *vector.Pair {
	t.Helper()
	p := vector.NewPair(vector.Cosine, "hash-2", "course.pdf", "")
	for i := 0; i < n; i++ {
		require.NoError(t, p.Add(chunk.Chunk{Text: "chunk"}, []float32{float32(i + 1), 1}))
	}
	return p
}

func scored(id uint64, score float32, text string) *qdrantclient.ScoredPoint {
	return &qdrantclient.ScoredPoint{
		Id:      &qdrantclient.PointId{PointIdOptions: &qdrantclient.PointId_Num{Num: id}},
		Score:   score,
		Payload: map[string]*qdrantclient.Value{"text": stringValue(text)},
	}
}

func TestPublishBatches(t *testing.T) {
	cols := &fakeCollections{}
	pts := &fakePoints{}
	c := &Client{Collections: cols, Points: pts}

	n, err := c.Publish(context.Background(), "course_a", testPair(t, 250), false)
	require.NoError(t, err)
	assert.Equal(t, 250, n)

	require.Len(t, cols.created, 1)
	params := cols.created[0].GetVectorsConfig().GetParams()
	assert.EqualValues(t, 2, params.GetSize())
	assert.Equal(t, qdrantclient.Distance_Cosine, params.GetDistance())

	require.Len(t, pts.batches, 3)
	assert.Len(t, pts.batches[0], 100)
	assert.Len(t, pts.batches[2], 50)
	last := pts.batches[2][49]
	assert.EqualValues(t, 249, last.GetId().GetNum())
	assert.Equal(t, "course.pdf", last.GetPayload()["source"].GetStringValue())
}

func TestPublishRecreate(t *testing.T) {
	cols := &fakeCollections{names: []string{"course_a"}}
	c := &Client{Collections: cols, Points: &fakePoints{}}

	_, err := c.Publish(context.Background(), "course_a", testPair(t, 1), false)
	require.NoError(t, err)
	assert.Empty(t, cols.deleted)
	assert.Empty(t, cols.created)

	_, err = c.Publish(context.Background(), "course_a", testPair(t, 1), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"course_a"}, cols.deleted)
	assert.Len(t, cols.created, 1)
}

func TestPublishSmallerPairRecreatesCollection(t *testing.T) {
	cols := &fakeCollections{names: []string{"course_a"}}
	pts := &fakePoints{count: 5}
	c := &Client{Collections: cols, Points: pts}

	n, err := c.Publish(context.Background(), "course_a", testPair(t, 3), false)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"course_a"}, cols.deleted)
	assert.Len(t, cols.created, 1)

	t.Run("larger pair keeps collection", func(t *testing.T) {
		cols := &fakeCollections{names: []string{"course_a"}}
		c := &Client{Collections: cols, Points: &fakePoints{count: 2}}
		_, err := c.Publish(context.Background(), "course_a", testPair(t, 3), false)
		require.NoError(t, err)
		assert.Empty(t, cols.deleted)
		assert.Empty(t, cols.created)
	})
}

func TestPublishSummaryPayload(t *testing.T) {
	pts := &fakePoints{}
	c := &Client{Collections: &fakeCollections{}, Points: pts}
	p := vector.NewPair(vector.L2, "m", "course.pdf", "")
	require.NoError(t, p.Add(chunk.Chunk{Text: "body"}, []float32{1, 0}))
	require.NoError(t, p.Add(chunk.Chunk{Text: "sum", Metadata: map[string]string{
		chunk.MetaSource: chunk.SourceSummary, chunk.MetaPriority: chunk.PriorityHigh,
	}}, []float32{0, 1}))

	_, err := c.Publish(context.Background(), "x", p, false)
	require.NoError(t, err)
	summary := pts.batches[0][1].GetPayload()
	assert.Equal(t, chunk.SourceSummary, summary["source"].GetStringValue())
	assert.Equal(t, chunk.PriorityHigh, summary["priority"].GetStringValue())
}

func TestPublishUnavailable(t *testing.T) {
	c := &Client{Collections: &fakeCollections{}, Points: &fakePoints{err: errors.New("connection refused")}}
	_, err := c.Publish(context.Background(), "x", testPair(t, 2), false)
	require.ErrorIs(t, err, apperr.ErrCollaboratorUnavailable)
}

func TestSearcher(t *testing.T) {
	p := testPair(t, 3)
	p.Store.Chunks[1].Text = "one"
	p.Store.Chunks[2].Text = "two"

	pts := &fakePoints{
		count: 3,
		results: []*qdrantclient.ScoredPoint{
			scored(2, 0.5, "two"),
			scored(1, 0.9, "one"),
		},
	}
	s := &Searcher{Client: &Client{Points: pts}, Collection: "x", Metric: vector.Cosine, Store: p.Store}

	res, err := s.Search(context.Background(), []float32{1, 1}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "one", res[0].Chunk.Text)
	assert.InDelta(t, 0.1, res[0].Distance, 1e-6)
	assert.Equal(t, 2, res[1].Chunk.ID)
}

func TestSearcherCountMismatch(t *testing.T) {
	p := testPair(t, 3)
	s := &Searcher{Client: &Client{Points: &fakePoints{count: 2}}, Collection: "x", Store: p.Store}

	_, err := s.Search(context.Background(), []float32{1, 1}, 1)
	require.ErrorIs(t, err, apperr.ErrCorruptStore)
}

func TestSearcherUnknownPoint(t *testing.T) {
	p := testPair(t, 1)
	pts := &fakePoints{count: 1, results: []*qdrantclient.ScoredPoint{scored(7, 1, "")}}
	s := &Searcher{Client: &Client{Points: pts}, Collection: "x", Metric: vector.L2, Store: p.Store}

	_, err := s.Search(context.Background(), []float32{1, 1}, 1)
	require.ErrorIs(t, err, apperr.ErrCorruptStore)
}
