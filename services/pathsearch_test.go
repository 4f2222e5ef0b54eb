package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// graphAdjacency ist ein ungerichteter In-Memory-Graph für Tests.
type graphAdjacency struct {
	edges map[uint][]uint
	calls [][]uint
	err   error
}

func newGraph(pairs ...[2]uint) *graphAdjacency {
	g := &graphAdjacency{edges: make(map[uint][]uint)}
	for _, p := range pairs {
		g.edges[p[0]] = append(g.edges[p[0]], p[1])
		g.edges[p[1]] = append(g.edges[p[1]], p[0])
	}
	return g
}

func completeGraph(n uint) *graphAdjacency {
	var pairs [][2]uint
	for i := uint(1); i <= n; i++ {
		for j := i + 1; j <= n; j++ {
			pairs = append(pairs, [2]uint{i, j})
		}
	}
	return newGraph(pairs...)
}

func (g *graphAdjacency) Neighbors(_ context.Context, ids []uint) (map[uint][]uint, error) {
	g.calls = append(g.calls, ids)
	if g.err != nil {
		return nil, g.err
	}
	out := make(map[uint][]uint, len(ids))
	for _, id := range ids {
		out[id] = g.edges[id]
	}
	return out, nil
}

func assertSimple(t *testing.T, paths [][]uint, from, to uint, maxDepth int) {
	t.Helper()
	for _, p := range paths {
		require.GreaterOrEqual(t, len(p), 2)
		assert.Equal(t, from, p[0])
		assert.Equal(t, to, p[len(p)-1])
		assert.LessOrEqual(t, len(p)-1, maxDepth)
		seen := map[uint]bool{}
		for _, id := range p {
			assert.False(t, seen[id], "node %d repeated in %v", id, p)
			seen[id] = true
		}
	}
}

func TestFindConnectingPathsChain(t *testing.T) {
	g := newGraph([2]uint{1, 3}, [2]uint{3, 4}, [2]uint{4, 2}, [2]uint{1, 5}, [2]uint{5, 2})

	res, err := FindConnectingPaths(context.Background(), g, 1, 2, DefaultPathSearchLimits)
	require.NoError(t, err)

	assert.Equal(t, [][]uint{{1, 5, 2}, {1, 3, 4, 2}}, res.Paths)
	assert.False(t, res.Truncated)
}

func TestFindConnectingPathsDepthBound(t *testing.T) {
	// 1-3-4-5-6-7-8-2: sieben Kanten
	g := newGraph([2]uint{1, 3}, [2]uint{3, 4}, [2]uint{4, 5}, [2]uint{5, 6}, [2]uint{6, 7}, [2]uint{7, 8}, [2]uint{8, 2})

	res, err := FindConnectingPaths(context.Background(), g, 1, 2, DefaultPathSearchLimits)
	require.NoError(t, err)
	assert.Empty(t, res.Paths)
	assert.NotNil(t, res.Paths)
	assert.LessOrEqual(t, res.Levels, 6)

	// mit einer Kante weniger liegt der Pfad genau auf der Grenze
	g = newGraph([2]uint{1, 3}, [2]uint{3, 4}, [2]uint{4, 5}, [2]uint{5, 6}, [2]uint{6, 7}, [2]uint{7, 2})
	res, err = FindConnectingPaths(context.Background(), g, 1, 2, DefaultPathSearchLimits)
	require.NoError(t, err)
	assert.Equal(t, [][]uint{{1, 3, 4, 5, 6, 7, 2}}, res.Paths)
}

func TestFindConnectingPathsDenseGraph(t *testing.T) {
	g := completeGraph(40)

	res, err := FindConnectingPaths(context.Background(), g, 1, 2, DefaultPathSearchLimits)
	require.NoError(t, err)

	require.Len(t, res.Paths, 5)
	assert.Equal(t, [][]uint{{1, 2}, {1, 3, 2}, {1, 4, 2}, {1, 5, 2}, {1, 6, 2}}, res.Paths)
	assertSimple(t, res.Paths, 1, 2, 6)
	// nach Ebene 2 sind genug Pfade gefunden
	assert.Equal(t, 2, res.Levels)
}

func TestFindConnectingPathsFrontierCap(t *testing.T) {
	// dichter Graph ohne Verbindung zu 2
	g := completeGraph(30)
	delete(g.edges, 2)
	for id, ns := range g.edges {
		filtered := ns[:0]
		for _, n := range ns {
			if n != 2 {
				filtered = append(filtered, n)
			}
		}
		g.edges[id] = filtered
	}

	limits := PathSearchLimits{MaxDepth: 6, MaxPaths: 5, MaxFrontier: 100}
	res, err := FindConnectingPaths(context.Background(), g, 1, 2, limits)
	require.NoError(t, err)
	assert.Empty(t, res.Paths)
	assert.True(t, res.Truncated)
	for _, call := range g.calls {
		assert.LessOrEqual(t, len(call), 100)
	}
}

func TestFindConnectingPathsBatchesNeighbourLookups(t *testing.T) {
	g := newGraph([2]uint{1, 3}, [2]uint{1, 4}, [2]uint{3, 5}, [2]uint{4, 5}, [2]uint{5, 2})

	res, err := FindConnectingPaths(context.Background(), g, 1, 2, DefaultPathSearchLimits)
	require.NoError(t, err)
	assert.Equal(t, [][]uint{{1, 3, 5, 2}, {1, 4, 5, 2}}, res.Paths)

	// eine Abfrage pro Ebene, jede ID nur einmal
	require.Len(t, g.calls, 3)
	assert.Equal(t, []uint{1}, g.calls[0])
	assert.Equal(t, []uint{3, 4}, g.calls[1])
	assert.Equal(t, []uint{5}, g.calls[2])
}

func TestFindConnectingPathsSameNode(t *testing.T) {
	g := newGraph([2]uint{1, 2})
	res, err := FindConnectingPaths(context.Background(), g, 1, 1, DefaultPathSearchLimits)
	require.NoError(t, err)
	assert.Empty(t, res.Paths)
	assert.Empty(t, g.calls)
}

func TestFindConnectingPathsErrors(t *testing.T) {
	g := newGraph([2]uint{1, 2})
	g.err = errors.New("boom")
	_, err := FindConnectingPaths(context.Background(), g, 1, 2, DefaultPathSearchLimits)
	require.Error(t, err)

	_, err = FindConnectingPaths(context.Background(), newGraph(), 1, 2, PathSearchLimits{})
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = FindConnectingPaths(ctx, newGraph([2]uint{1, 2}), 1, 2, DefaultPathSearchLimits)
	assert.ErrorIs(t, err, context.Canceled)
}
