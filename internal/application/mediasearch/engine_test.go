package mediasearch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-search-api/internal/domain/entity"
)

func ingestImages(t *testing.T, f *indexerFixture, vectors map[string][]float32, order ...string) {
	t.Helper()
	for _, id := range order {
		f.image(id, id, vectors[id]...)
		out, err := f.indexer.Ingest(context.Background(), IngestInput{ID: id, Kind: entity.MediaKindImage, Source: id})
		require.NoError(t, err)
		require.True(t, out.Embedded(), "%s: %v", id, out.Reason)
	}
}

func TestEngine_SearchReturnsOnlyRelevant(t *testing.T) {
	f := newIndexerFixture()
	ingestImages(t, f, map[string][]float32{
		"A": {1, 0},
		"B": {0, 1},
	}, "A", "B")
	f.embedder.texts["a cat"] = []float32{1, 0}

	engine := NewEngine(f.embedder, f.index, DefaultSearchOptions())
	out, err := engine.Search(context.Background(), SearchInput{Query: "a cat"})
	require.NoError(t, err)
	assert.Empty(t, out.DisabledReason)
	assert.Equal(t, 2, out.Candidates)
	require.Len(t, out.Matches, 1)
	assert.Equal(t, "A", out.Matches[0].ID)
	assert.InDelta(t, 1.0, out.Matches[0].Score, 1e-9)
	assert.Equal(t, entity.MediaKindImage, out.Matches[0].Kind)
}

func TestEngine_SearchTopK(t *testing.T) {
	f := newIndexerFixture()
	vectors := map[string][]float32{}
	ids := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("m%02d", i)
		vectors[id] = []float32{float32(20 - i), float32(i)}
		ids = append(ids, id)
	}
	ingestImages(t, f, vectors, ids...)
	f.embedder.texts["q"] = []float32{1, 0}

	engine := NewEngine(f.embedder, f.index, DefaultSearchOptions())
	out, err := engine.Search(context.Background(), SearchInput{Query: "q", TopK: 5})
	require.NoError(t, err)
	require.Len(t, out.Matches, 5)
	for i := 1; i < len(out.Matches); i++ {
		assert.GreaterOrEqual(t, out.Matches[i-1].Score, out.Matches[i].Score)
	}
	assert.Equal(t, "m00", out.Matches[0].ID)

	t.Run("top_k above max is clamped", func(t *testing.T) {
		e := NewEngine(f.embedder, f.index, SearchOptions{TopK: 2, MaxTopK: 3, MinScore: 0.1})
		out, err := e.Search(context.Background(), SearchInput{Query: "q", TopK: 100})
		require.NoError(t, err)
		assert.Len(t, out.Matches, 3)
	})

	t.Run("min_score override", func(t *testing.T) {
		floor := 0.99
		out, err := engine.Search(context.Background(), SearchInput{Query: "q", TopK: 10, MinScore: &floor})
		require.NoError(t, err)
		for _, m := range out.Matches {
			assert.Greater(t, m.Score, floor)
		}
		assert.Less(t, len(out.Matches), 10)
	})
}

func TestEngine_SearchDisabled(t *testing.T) {
	f := newIndexerFixture()
	engine := NewEngine(f.embedder, f.index, DefaultSearchOptions())

	out, err := engine.Search(context.Background(), SearchInput{Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, out.Matches)
	assert.Equal(t, "index is empty", out.DisabledReason)

	ingestImages(t, f, map[string][]float32{"A": {1, 0}}, "A")

	out, err = engine.Search(context.Background(), SearchInput{Query: "   "})
	require.NoError(t, err)
	assert.Empty(t, out.Matches)
	assert.Equal(t, "query is empty", out.DisabledReason)

	f.embedder.textErr = errors.New("sidecar unavailable")
	out, err = engine.Search(context.Background(), SearchInput{Query: "cat"})
	require.NoError(t, err)
	assert.NotNil(t, out.Matches)
	assert.Empty(t, out.Matches)
	assert.Contains(t, out.DisabledReason, "sidecar unavailable")

	f.embedder.textErr = nil
	f.embedder.texts["zero"] = []float32{0, 0}
	out, err = engine.Search(context.Background(), SearchInput{Query: "zero"})
	require.NoError(t, err)
	assert.Empty(t, out.Matches)
	assert.Contains(t, out.DisabledReason, "degenerate")

	f.embedder.texts["wide"] = []float32{1, 0, 0}
	out, err = engine.Search(context.Background(), SearchInput{Query: "wide"})
	require.NoError(t, err)
	assert.Empty(t, out.Matches)
	assert.Contains(t, out.DisabledReason, "dimension mismatch")
}

func TestEngine_OverwriteVisibleInSnapshot(t *testing.T) {
	f := newIndexerFixture()
	ingestImages(t, f, map[string][]float32{"A": {1, 0}}, "A")
	f.embedder.images["A-v2"] = []float32{0, 1}
	f.loader.images["A"] = "A-v2"

	out, err := f.indexer.Ingest(context.Background(), IngestInput{ID: "A", Kind: entity.MediaKindImage, Source: "A"})
	require.NoError(t, err)
	require.True(t, out.Embedded())

	snap := NewEngine(f.embedder, f.index, DefaultSearchOptions()).Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, []float32{0, 1}, snap["A"])

	// 快照是副本
	snap["A"][0] = 9
	rec, _ := f.index.Get("A")
	assert.Equal(t, []float32{0, 1}, rec.Embedding)
}

func TestEngine_GetAndDelete(t *testing.T) {
	f := newIndexerFixture()
	ingestImages(t, f, map[string][]float32{"A": {1, 0}, "B": {0, 1}}, "A", "B")
	engine := NewEngine(f.embedder, f.index, DefaultSearchOptions())

	got, err := engine.Get("A")
	require.NoError(t, err)
	assert.Equal(t, "A", got.ID)

	require.NoError(t, engine.Delete(context.Background(), "A"))
	_, err = engine.Get("A")
	assert.ErrorIs(t, err, ErrMediaNotFound)
	assert.ErrorIs(t, engine.Delete(context.Background(), "A"), ErrMediaNotFound)

	n, dim := engine.Stats()
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, dim)
}

func TestEngine_ConcurrentIngestAndSearch(t *testing.T) {
	f := newIndexerFixture()
	f.embedder.texts["q"] = []float32{1, 0}
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("m%d", i)
		f.loader.images[id] = id
		f.embedder.images[id] = []float32{float32(i + 1), 1}
	}
	engine := NewEngine(f.embedder, f.index, SearchOptions{TopK: 20, MaxTopK: 20, MinScore: -1})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for round := 0; round < 10; round++ {
			for i := 0; i < 20; i++ {
				id := fmt.Sprintf("m%d", i)
				_, _ = f.indexer.Ingest(context.Background(), IngestInput{ID: id, Kind: entity.MediaKindImage, Source: id})
			}
		}
	}()
	go func() {
		defer wg.Done()
		for n := 0; n < 100; n++ {
			out, err := engine.Search(context.Background(), SearchInput{Query: "q"})
			if !assert.NoError(t, err) {
				return
			}
			seen := map[string]bool{}
			for _, m := range out.Matches {
				assert.False(t, seen[m.ID], "duplicate id %s", m.ID)
				seen[m.ID] = true
			}
		}
	}()
	wg.Wait()

	assert.Equal(t, 20, f.index.Len())
}
