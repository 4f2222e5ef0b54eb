package services

import (
	"context"
	"fmt"
	"slices"
)

// Adjacency liefert Co-Autoren-Nachbarn für mehrere Autoren auf einmal.
// Die Nachbarlisten müssen aufsteigend sortiert sein; fehlende IDs haben keine Nachbarn.
type Adjacency interface {
	Neighbors(ctx context.Context, ids []uint) (map[uint][]uint, error)
}

// PathSearchLimits sind die harten Grenzen der Pfadsuche.
type PathSearchLimits struct {
	MaxDepth    int // maximale Anzahl Kanten pro Pfad
	MaxPaths    int
	MaxFrontier int // 0 = unbegrenzt
}

// DefaultPathSearchLimits entspricht der Standardkonfiguration.
var DefaultPathSearchLimits = PathSearchLimits{MaxDepth: 6, MaxPaths: 5, MaxFrontier: 50000}

// PathSearchResult enthält die gefundenen Pfade, kürzeste zuerst.
type PathSearchResult struct {
	Paths     [][]uint
	Levels    int  // durchsuchte Tiefe
	Truncated bool // Frontier wurde an MaxFrontier abgeschnitten
}

// FindConnectingPaths sucht per Breitensuche einfache Pfade von from nach to.
// Jeder Frontier-Eintrag trägt seinen vollständigen Pfad; kein Knoten wiederholt sich
// innerhalb eines Pfades. Die Suche endet nach der Ebene, auf der MaxPaths erreicht sind.
func FindConnectingPaths(ctx context.Context, adj Adjacency, from, to uint, limits PathSearchLimits) (*PathSearchResult, error) {
	if limits.MaxDepth <= 0 || limits.MaxPaths <= 0 {
		return nil, fmt.Errorf("path search limits must be positive: %+v", limits)
	}
	result := &PathSearchResult{Paths: [][]uint{}}
	if from == to {
		return result, nil
	}

	memo := make(map[uint][]uint)
	frontier := [][]uint{{from}}
	var found [][]uint

	for depth := 1; depth <= limits.MaxDepth && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := fillNeighbors(ctx, adj, memo, frontier); err != nil {
			return nil, err
		}
		result.Levels = depth

		var next [][]uint
		for _, path := range frontier {
			tail := path[len(path)-1]
			for _, n := range memo[tail] {
				if slices.Contains(path, n) {
					continue
				}
				extended := make([]uint, len(path)+1)
				copy(extended, path)
				extended[len(path)] = n

				if n == to {
					found = append(found, extended)
					continue
				}
				if depth == limits.MaxDepth {
					continue
				}
				if limits.MaxFrontier > 0 && len(next) >= limits.MaxFrontier {
					result.Truncated = true
					continue
				}
				next = append(next, extended)
			}
		}
		if len(found) >= limits.MaxPaths {
			break
		}
		frontier = next
	}

	result.Paths = shortestUnique(found, limits.MaxPaths)
	return result, nil
}

// fillNeighbors lädt die Nachbarn aller noch unbekannten Pfadenden in einem Aufruf.
func fillNeighbors(ctx context.Context, adj Adjacency, memo map[uint][]uint, frontier [][]uint) error {
	seen := make(map[uint]struct{})
	var missing []uint
	for _, path := range frontier {
		tail := path[len(path)-1]
		if _, ok := memo[tail]; ok {
			continue
		}
		if _, ok := seen[tail]; ok {
			continue
		}
		seen[tail] = struct{}{}
		missing = append(missing, tail)
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)

	fetched, err := adj.Neighbors(ctx, missing)
	if err != nil {
		return fmt.Errorf("load neighbours: %w", err)
	}
	for _, id := range missing {
		ns := slices.Clone(fetched[id])
		slices.Sort(ns)
		memo[id] = slices.Compact(ns)
	}
	return nil
}

// shortestUnique sortiert nach Länge, dann lexikographisch, entfernt Duplikate und kürzt auf limit.
func shortestUnique(paths [][]uint, limit int) [][]uint {
	slices.SortStableFunc(paths, func(a, b []uint) int {
		if len(a) != len(b) {
			return len(a) - len(b)
		}
		return slices.Compare(a, b)
	})
	paths = slices.CompactFunc(paths, slices.Equal[[]uint])
	if len(paths) > limit {
		paths = paths[:limit]
	}
	if paths == nil {
		return [][]uint{}
	}
	return paths
}
