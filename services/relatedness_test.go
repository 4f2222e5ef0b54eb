package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"author-merge/config"
	"author-merge/fixtures"
	"author-merge/models"
	"author-merge/storage"
	"author-merge/storage/storagetest"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]*RelatednessResult
	sets    int
}

func (c *memoryCache) Get(_ context.Context, a, b uint) (*RelatednessResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[fmt.Sprintf("%d:%d", a, b)]
	return r, ok
}

func (c *memoryCache) Set(_ context.Context, a, b uint, r *RelatednessResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[string]*RelatednessResult{}
	}
	c.entries[fmt.Sprintf("%d:%d", a, b)] = r
	c.sets++
}

func testConfig() *config.Config {
	return &config.Config{PathMaxDepth: 6, PathMaxResults: 5, PathMaxFrontier: 50000, SharedCoauthorLimit: 10}
}

func newDemoExplorer(t *testing.T, cache RelatednessCache) *RelatednessService {
	t.Helper()
	db := storagetest.Open(t)
	ds, err := fixtures.Demo()
	require.NoError(t, err)
	require.NoError(t, fixtures.Seed(context.Background(), db, ds))
	return NewRelatednessService(testConfig(), storage.NewRecordStore(db), zap.NewNop(), cache)
}

func TestExplainDemoPair(t *testing.T) {
	svc := newDemoExplorer(t, nil)

	res, err := svc.Explain(context.Background(), 1, 2)
	require.NoError(t, err)

	require.Len(t, res.SharedCoauthors, 1)
	assert.Equal(t, SharedCoauthor{AuthorID: 5, Name: "Carl Common", CountA: 1, CountB: 1, TotalOverlap: 2}, res.SharedCoauthors[0])

	assert.Equal(t, [][]uint{{1, 5, 2}, {1, 3, 4, 2}}, res.Paths)

	assert.Equal(t, []GraphNode{
		{ID: "A", RealID: 1, Name: "Jane Public", Group: GroupMain},
		{ID: "B", RealID: 2, Name: "J. Public", Group: GroupMain},
		{ID: "5", RealID: 5, Name: "Carl Common", Group: GroupIntermediate},
		{ID: "3", RealID: 3, Name: "Alan Bridge", Group: GroupIntermediate},
		{ID: "4", RealID: 4, Name: "Beth Link", Group: GroupIntermediate},
	}, res.PathsGraph.Nodes)
	assert.Equal(t, []GraphLink{
		{Source: "A", Target: "5"},
		{Source: "5", Target: "B"},
		{Source: "A", Target: "3"},
		{Source: "3", Target: "4"},
		{Source: "4", Target: "B"},
	}, res.PathsGraph.Links)
}

func TestExplainArgumentOrderDefinesAnchors(t *testing.T) {
	svc := newDemoExplorer(t, nil)

	res, err := svc.Explain(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.Equal(t, uint(2), res.PathsGraph.Nodes[0].RealID)
	assert.Equal(t, "A", res.PathsGraph.Nodes[0].ID)
	assert.Equal(t, [][]uint{{2, 5, 1}, {2, 4, 3, 1}}, res.Paths)
}

func TestExplainUnrelatedAuthors(t *testing.T) {
	svc := newDemoExplorer(t, nil)

	res, err := svc.Explain(context.Background(), 1, 6)
	require.NoError(t, err)
	assert.Empty(t, res.SharedCoauthors)
	assert.Empty(t, res.Paths)
	assert.Len(t, res.PathsGraph.Nodes, 2)
	assert.NotNil(t, res.PathsGraph.Links)
	assert.Empty(t, res.PathsGraph.Links)
}

func TestExplainErrors(t *testing.T) {
	svc := newDemoExplorer(t, nil)

	_, err := svc.Explain(context.Background(), 1, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Explain(context.Background(), 999, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Explain(context.Background(), 1, 1)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestExplainUsesCache(t *testing.T) {
	cache := &memoryCache{}
	svc := newDemoExplorer(t, cache)

	first, err := svc.Explain(context.Background(), 1, 2)
	require.NoError(t, err)
	second, err := svc.Explain(context.Background(), 1, 2)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, cache.sets)
}

func TestExplainPathSearchFailureYieldsNoPaths(t *testing.T) {
	cache := &memoryCache{}
	svc := newDemoExplorer(t, cache)
	svc.Adjacency = &graphAdjacency{err: errors.New("neighbours unavailable")}

	res, err := svc.Explain(context.Background(), 1, 2)
	require.NoError(t, err)

	require.NotNil(t, res.Paths)
	assert.Empty(t, res.Paths)
	assert.Len(t, res.SharedCoauthors, 1)
	assert.Equal(t, []GraphNode{
		{ID: "A", RealID: 1, Name: "Jane Public", Group: GroupMain},
		{ID: "B", RealID: 2, Name: "J. Public", Group: GroupMain},
	}, res.PathsGraph.Nodes)
	assert.Empty(t, res.PathsGraph.Links)
	// unvollständige Ergebnisse werden nicht gecacht
	assert.Equal(t, 0, cache.sets)
}

func TestExplainSharedLookupFailureYieldsNoCoauthors(t *testing.T) {
	cache := &memoryCache{}
	svc := newDemoExplorer(t, cache)
	svc.Adjacency = newGraph([2]uint{1, 5}, [2]uint{5, 2})
	require.NoError(t, svc.Store.DB.Migrator().DropTable(&models.Authorship{}))

	res, err := svc.Explain(context.Background(), 1, 2)
	require.NoError(t, err)

	require.NotNil(t, res.SharedCoauthors)
	assert.Empty(t, res.SharedCoauthors)
	assert.Equal(t, [][]uint{{1, 5, 2}}, res.Paths)
	require.Len(t, res.PathsGraph.Nodes, 3)
	assert.Equal(t, "Carl Common", res.PathsGraph.Nodes[2].Name)
	assert.Equal(t, 0, cache.sets)
}

func TestNewRelatednessServiceUsesAuthorships(t *testing.T) {
	svc := newDemoExplorer(t, nil)
	require.NotNil(t, svc.Adjacency)

	got, err := svc.Adjacency.Neighbors(context.Background(), []uint{5})
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2}, got[5])
}

func TestBuildPathsGraphDeduplicatesLinks(t *testing.T) {
	names := map[uint]models.AuthorRecord{
		1: {ID: 1, GivenName: "Ann", FamilyName: "A"},
		2: {ID: 2, GivenName: "Bob", FamilyName: "B"},
		3: {ID: 3, GivenName: "Cid", FamilyName: "C"},
	}
	paths := [][]uint{{1, 3, 2}, {1, 3, 4, 2}, {1, 4, 3, 2}}

	g := BuildPathsGraph(1, 2, paths, names)

	assert.Len(t, g.Nodes, 4)
	assert.Equal(t, "4", g.Nodes[3].ID)
	// unbekannter Autor: ID als Name
	assert.Equal(t, "4", g.Nodes[3].Name)
	assert.Equal(t, []GraphLink{
		{Source: "A", Target: "3"},
		{Source: "3", Target: "B"},
		{Source: "3", Target: "4"},
		{Source: "4", Target: "B"},
		{Source: "A", Target: "4"},
	}, g.Links)
}
