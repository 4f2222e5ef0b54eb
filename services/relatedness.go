package services

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"author-merge/config"
	"author-merge/models"
	"author-merge/storage"
	"author-merge/storage/dbctx"
)

var tracer = otel.Tracer("author-merge/services")

// Knotengruppen im Pfad-Graphen.
const (
	GroupMain         = "main"
	GroupIntermediate = "intermediate"
)

// SharedCoauthor ist ein Dritter, der mit beiden Autoren publiziert hat.
type SharedCoauthor struct {
	AuthorID     uint   `json:"author_id"`
	Name         string `json:"name"`
	CountA       int64  `json:"count_a"`
	CountB       int64  `json:"count_b"`
	TotalOverlap int64  `json:"total_overlap"`
}

// GraphNode ist ein Knoten im Pfad-Graphen. A und B tragen die festen IDs "A" und "B".
type GraphNode struct {
	ID     string `json:"id"`
	RealID uint   `json:"real_id"`
	Name   string `json:"name"`
	Group  string `json:"group"`
}

// GraphLink ist eine ungerichtete Kante zwischen zwei GraphNode-IDs.
type GraphLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// PathsGraph fasst alle gefundenen Pfade zu einem kleinen Graphen zusammen.
type PathsGraph struct {
	Nodes []GraphNode `json:"nodes"`
	Links []GraphLink `json:"links"`
}

// RelatednessResult ist die Antwort des Explorers für ein Autorenpaar.
type RelatednessResult struct {
	AuthorIDA       uint             `json:"author_id_a"`
	AuthorIDB       uint             `json:"author_id_b"`
	SharedCoauthors []SharedCoauthor `json:"shared_coauthors"`
	Paths           [][]uint         `json:"paths"`
	PathsGraph      PathsGraph       `json:"paths_graph"`
	Truncated       bool             `json:"truncated,omitempty"`
}

// RelatednessService erklärt, wie zwei Autoren im Co-Autoren-Graphen zusammenhängen.
// Nur lesend.
type RelatednessService struct {
	Store       *storage.RecordStore
	Logger      *zap.Logger
	Limits      PathSearchLimits
	SharedLimit int
	Cache       RelatednessCache
	// Adjacency liefert die Nachbarn für die Pfadsuche, standardmäßig die Authorship-Tabelle.
	Adjacency Adjacency
}

// NewRelatednessService erstellt den Explorer mit den Grenzen aus cfg. cache darf nil sein.
func NewRelatednessService(cfg *config.Config, store *storage.RecordStore, logger *zap.Logger, cache RelatednessCache) *RelatednessService {
	return &RelatednessService{
		Store:  store,
		Logger: logger,
		Limits: PathSearchLimits{
			MaxDepth:    cfg.PathMaxDepth,
			MaxPaths:    cfg.PathMaxResults,
			MaxFrontier: cfg.PathMaxFrontier,
		},
		SharedLimit: cfg.SharedCoauthorLimit,
		Cache:       cache,
		Adjacency:   storeAdjacency{store: store},
	}
}

// storeAdjacency bindet die Pfadsuche an die Authorship-Tabelle.
type storeAdjacency struct {
	store *storage.RecordStore
}

func (a storeAdjacency) Neighbors(ctx context.Context, ids []uint) (map[uint][]uint, error) {
	return a.store.Neighbors(dbctx.New(ctx), ids)
}

// Explain liefert gemeinsame Co-Autoren und verbindende Pfade von a nach b.
// Fehlt einer der Autoren, ist das ErrNotFound. Scheitert eine der beiden Suchen,
// bleibt ihr Teil des Ergebnisses leer.
func (s *RelatednessService) Explain(ctx context.Context, a, b uint) (*RelatednessResult, error) {
	if a == b {
		return nil, invalid("cannot explain author %d against itself", a)
	}
	ctx, span := tracer.Start(ctx, "relatedness.explain", trace.WithAttributes(
		attribute.Int64("author_a", int64(a)),
		attribute.Int64("author_b", int64(b)),
	))
	defer span.End()

	if s.Cache != nil {
		if cached, ok := s.Cache.Get(ctx, a, b); ok {
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return cached, nil
		}
	}

	start := time.Now()
	log := s.Logger.With(zap.Uint("author_a", a), zap.Uint("author_b", b))

	anchors, err := s.Store.GetAuthors(dbctx.New(ctx), []uint{a, b})
	if err != nil {
		return nil, storageErr(err)
	}
	byID := indexAuthors(anchors)
	for _, id := range []uint{a, b} {
		if _, ok := byID[id]; !ok {
			return nil, notFound("author %d", id)
		}
	}

	var (
		shared       []storage.SharedCoauthorRow
		search       *PathSearchResult
		sharedFailed bool
		searchFailed bool
	)
	var g errgroup.Group
	g.Go(func() error {
		rows, err := s.Store.SharedCoauthors(dbctx.New(ctx), a, b, s.SharedLimit)
		if err != nil {
			log.Warn("Shared co-author lookup failed, returning empty list", zap.Error(err))
			sharedFailed = true
			return nil
		}
		shared = rows
		return nil
	})
	g.Go(func() error {
		res, err := FindConnectingPaths(ctx, s.adjacency(), a, b, s.Limits)
		if err != nil {
			log.Warn("Path search failed, returning no paths", zap.Error(err))
			searchFailed = true
			return nil
		}
		search = res
		return nil
	})
	_ = g.Wait()
	degraded := sharedFailed || searchFailed

	if search == nil {
		search = &PathSearchResult{Paths: [][]uint{}}
	}
	if search.Truncated {
		log.Info("Path search frontier truncated", zap.Int("max_frontier", s.Limits.MaxFrontier))
	}

	if err := s.resolveNames(ctx, byID, shared, search.Paths); err != nil {
		log.Warn("Name lookup failed, using ids as names", zap.Error(err))
		degraded = true
	}

	result := &RelatednessResult{
		AuthorIDA:       a,
		AuthorIDB:       b,
		SharedCoauthors: buildSharedCoauthors(shared, byID),
		Paths:           search.Paths,
		PathsGraph:      BuildPathsGraph(a, b, search.Paths, byID),
		Truncated:       search.Truncated,
	}

	explainDuration.Observe(time.Since(start).Seconds())
	pathsFound.Observe(float64(len(result.Paths)))
	span.SetAttributes(
		attribute.Int("shared_coauthors", len(result.SharedCoauthors)),
		attribute.Int("paths", len(result.Paths)),
	)
	log.Debug("Relatedness explained",
		zap.Int("shared_coauthors", len(result.SharedCoauthors)),
		zap.Int("paths", len(result.Paths)),
		zap.Duration("duration", time.Since(start)))

	if s.Cache != nil && !degraded {
		s.Cache.Set(ctx, a, b, result)
	}
	return result, nil
}

func (s *RelatednessService) adjacency() Adjacency {
	if s.Adjacency != nil {
		return s.Adjacency
	}
	return storeAdjacency{store: s.Store}
}

// resolveNames lädt alle noch unbekannten Autoren aus Co-Autoren und Pfaden in byID nach.
func (s *RelatednessService) resolveNames(ctx context.Context, byID map[uint]models.AuthorRecord, shared []storage.SharedCoauthorRow, paths [][]uint) error {
	var missing []uint
	seen := make(map[uint]struct{})
	add := func(id uint) {
		if _, ok := byID[id]; ok {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		missing = append(missing, id)
	}
	for _, row := range shared {
		add(row.AuthorID)
	}
	for _, p := range paths {
		for _, id := range p {
			add(id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	authors, err := s.Store.GetAuthors(dbctx.New(ctx), missing)
	if err != nil {
		return err
	}
	for _, au := range authors {
		byID[au.ID] = au
	}
	return nil
}

func indexAuthors(authors []models.AuthorRecord) map[uint]models.AuthorRecord {
	out := make(map[uint]models.AuthorRecord, len(authors))
	for _, au := range authors {
		out[au.ID] = au
	}
	return out
}

func displayName(byID map[uint]models.AuthorRecord, id uint) string {
	if au, ok := byID[id]; ok {
		return au.FullName()
	}
	return strconv.FormatUint(uint64(id), 10)
}

func buildSharedCoauthors(rows []storage.SharedCoauthorRow, byID map[uint]models.AuthorRecord) []SharedCoauthor {
	out := make([]SharedCoauthor, 0, len(rows))
	for _, row := range rows {
		out = append(out, SharedCoauthor{
			AuthorID:     row.AuthorID,
			Name:         displayName(byID, row.AuthorID),
			CountA:       row.CountA,
			CountB:       row.CountB,
			TotalOverlap: row.TotalOverlap,
		})
	}
	return out
}

// BuildPathsGraph rendert Pfade als Knoten und Kanten. A und B sind immer enthalten,
// Zwischenknoten erscheinen in der Reihenfolge ihres ersten Auftretens, jede
// ungerichtete Kante nur einmal.
func BuildPathsGraph(a, b uint, paths [][]uint, byID map[uint]models.AuthorRecord) PathsGraph {
	nodeID := func(id uint) string {
		switch id {
		case a:
			return "A"
		case b:
			return "B"
		default:
			return strconv.FormatUint(uint64(id), 10)
		}
	}

	graph := PathsGraph{
		Nodes: []GraphNode{
			{ID: "A", RealID: a, Name: displayName(byID, a), Group: GroupMain},
			{ID: "B", RealID: b, Name: displayName(byID, b), Group: GroupMain},
		},
		Links: []GraphLink{},
	}
	nodes := map[uint]bool{a: true, b: true}
	links := make(map[[2]string]bool)

	for _, p := range paths {
		for i, id := range p {
			if !nodes[id] {
				nodes[id] = true
				graph.Nodes = append(graph.Nodes, GraphNode{
					ID:     nodeID(id),
					RealID: id,
					Name:   displayName(byID, id),
					Group:  GroupIntermediate,
				})
			}
			if i == 0 {
				continue
			}
			src, tgt := nodeID(p[i-1]), nodeID(id)
			key := [2]string{src, tgt}
			if tgt < src {
				key = [2]string{tgt, src}
			}
			if links[key] {
				continue
			}
			links[key] = true
			graph.Links = append(graph.Links, GraphLink{Source: src, Target: tgt})
		}
	}
	return graph
}
