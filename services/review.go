package services

import (
	"context"

	"go.uber.org/zap"

	"author-merge/models"
	"author-merge/storage"
	"author-merge/storage/dbctx"
)

const (
	DefaultPendingLimit = 50
	MaxPendingLimit     = 200
	recentPublications  = 5
)

// PendingMatch ist eine Zeile der Review-Queue.
type PendingMatch struct {
	AuthorIDA           uint    `json:"author_id_a"`
	AuthorIDB           uint    `json:"author_id_b"`
	NameA               string  `json:"name_a"`
	NameB               string  `json:"name_b"`
	Score               float64 `json:"score"`
	CoauthorScore       float64 `json:"coauthor_score"`
	SharedCoauthorCount int64   `json:"shared_coauthor_count"`
}

// MatchScores sind die vom Upstream-Scorer berechneten Werte.
type MatchScores struct {
	Total    float64 `json:"total"`
	NameSim  float64 `json:"name_sim"`
	Coauthor float64 `json:"coauthor"`
}

// PublicationSummary ist die Kurzform einer Publikation.
type PublicationSummary struct {
	ID    uint    `json:"id"`
	DOI   *string `json:"doi,omitempty"`
	Title string  `json:"title"`
	Year  int16   `json:"year"`
	Venue string  `json:"venue"`
}

// AuthorSummary fasst einen AuthorRecord für die Review-Ansicht zusammen.
type AuthorSummary struct {
	ID               uint                 `json:"id"`
	ORCID            *string              `json:"orcid,omitempty"`
	Name             string               `json:"name"`
	GivenName        string               `json:"given_name"`
	FamilyName       string               `json:"family_name"`
	Affiliation      string               `json:"affiliation"`
	MasterAuthorID   *uint                `json:"master_author_id,omitempty"`
	ProcessingStatus string               `json:"processing_status"`
	Aliases          []string             `json:"aliases"`
	Publications     []PublicationSummary `json:"publications"`
}

// MatchDetails ist die Detailansicht eines Kandidaten inklusive Relatedness.
type MatchDetails struct {
	Scores      MatchScores        `json:"scores"`
	Status      string             `json:"status"`
	AuthorA     AuthorSummary      `json:"author_a"`
	AuthorB     AuthorSummary      `json:"author_b"`
	Relatedness *RelatednessResult `json:"relatedness"`
}

// MasterAuthorView zeigt eine MasterIdentity mit Mitgliedern und Ledger. Ein Ledger-Eintrag
// trägt weiter die MasterAuthorID, unter der er geschrieben wurde.
type MasterAuthorView struct {
	Master  models.MasterAuthor        `json:"master"`
	Members []models.AuthorRecord      `json:"members"`
	Ledger  []models.MasterAuthorEntry `json:"ledger"`
}

// ReviewService liefert die Lesesicht für Reviewer.
type ReviewService struct {
	Store    *storage.RecordStore
	Explorer *RelatednessService
	Logger   *zap.Logger
}

// NewReviewService erstellt eine neue Instanz des ReviewService.
func NewReviewService(store *storage.RecordStore, explorer *RelatednessService, logger *zap.Logger) *ReviewService {
	return &ReviewService{Store: store, Explorer: explorer, Logger: logger}
}

// ListPending liefert offene Kandidaten, beste zuerst. limit <= 0 ergibt den Standardwert,
// Werte über MaxPendingLimit werden gekappt.
func (s *ReviewService) ListPending(ctx context.Context, limit, offset int) ([]PendingMatch, error) {
	if limit <= 0 {
		limit = DefaultPendingLimit
	}
	if limit > MaxPendingLimit {
		limit = MaxPendingLimit
	}
	if offset < 0 {
		return nil, invalid("offset must not be negative")
	}
	dbc := dbctx.New(ctx)

	candidates, err := s.Store.ListPendingCandidates(dbc, limit, offset)
	if err != nil {
		return nil, storageErr(err)
	}
	ids := make([]uint, 0, 2*len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.AuthorIDA, c.AuthorIDB)
	}
	authors, err := s.Store.GetAuthors(dbc, ids)
	if err != nil {
		return nil, storageErr(err)
	}
	byID := indexAuthors(authors)

	pairs := make([][2]uint, len(candidates))
	for i, c := range candidates {
		pairs[i] = [2]uint{c.AuthorIDA, c.AuthorIDB}
	}
	shared, err := s.Store.SharedCoauthorCounts(dbc, pairs)
	if err != nil {
		return nil, storageErr(err)
	}

	out := make([]PendingMatch, 0, len(candidates))
	for i, c := range candidates {
		out = append(out, PendingMatch{
			AuthorIDA:           c.AuthorIDA,
			AuthorIDB:           c.AuthorIDB,
			NameA:               displayName(byID, c.AuthorIDA),
			NameB:               displayName(byID, c.AuthorIDB),
			Score:               c.TotalScore,
			CoauthorScore:       c.CoauthorBoost,
			SharedCoauthorCount: shared[pairs[i]],
		})
	}
	return out, nil
}

// MatchDetails lädt einen Kandidaten mit Autorenzusammenfassungen und Explain-Ergebnis.
func (s *ReviewService) MatchDetails(ctx context.Context, a, b uint) (*MatchDetails, error) {
	dbc := dbctx.New(ctx)
	cand, err := s.Store.GetCandidate(dbc, a, b)
	if err != nil {
		return nil, storageErr(err)
	}

	summaryA, err := s.authorSummary(dbc, cand.AuthorIDA)
	if err != nil {
		return nil, err
	}
	summaryB, err := s.authorSummary(dbc, cand.AuthorIDB)
	if err != nil {
		return nil, err
	}

	related, err := s.Explorer.Explain(ctx, cand.AuthorIDA, cand.AuthorIDB)
	if err != nil {
		return nil, err
	}

	return &MatchDetails{
		Scores: MatchScores{
			Total:    cand.TotalScore,
			NameSim:  cand.NameScore,
			Coauthor: cand.CoauthorBoost,
		},
		Status:      cand.Status,
		AuthorA:     *summaryA,
		AuthorB:     *summaryB,
		Relatedness: related,
	}, nil
}

func (s *ReviewService) authorSummary(dbc dbctx.Context, id uint) (*AuthorSummary, error) {
	authors, err := s.Store.GetAuthors(dbc, []uint{id})
	if err != nil {
		return nil, storageErr(err)
	}
	if len(authors) == 0 {
		return nil, notFound("author %d", id)
	}
	au := authors[0]

	aliases, err := s.Store.Aliases(dbc, []uint{id})
	if err != nil {
		return nil, storageErr(err)
	}
	pubs, err := s.Store.RecentPublications(dbc, id, recentPublications)
	if err != nil {
		return nil, storageErr(err)
	}

	summary := &AuthorSummary{
		ID:               au.ID,
		ORCID:            au.ORCID,
		Name:             au.FullName(),
		GivenName:        au.GivenName,
		FamilyName:       au.FamilyName,
		Affiliation:      au.RawAffiliationString,
		MasterAuthorID:   au.MasterAuthorID,
		ProcessingStatus: au.ProcessingStatus,
		Aliases:          make([]string, 0, len(aliases)),
		Publications:     make([]PublicationSummary, 0, len(pubs)),
	}
	for _, al := range aliases {
		summary.Aliases = append(summary.Aliases, al.AliasName)
	}
	for _, p := range pubs {
		summary.Publications = append(summary.Publications, PublicationSummary{
			ID: p.ID, DOI: p.DOI, Title: p.Title, Year: p.PublicationYear, Venue: p.VenueName,
		})
	}
	return summary, nil
}

// MasterAuthor lädt eine MasterIdentity mit ihren Mitgliedern und Ledger-Einträgen.
// Nach einem Cluster-Merge enthält der Ledger auch die Einträge, die noch unter der
// absorbierten MasterIdentity stehen.
func (s *ReviewService) MasterAuthor(ctx context.Context, id uint) (*MasterAuthorView, error) {
	dbc := dbctx.New(ctx)
	master, err := s.Store.GetMaster(dbc, id)
	if err != nil {
		return nil, storageErr(err)
	}
	members, err := s.Store.AuthorsByMaster(dbc, id)
	if err != nil {
		return nil, storageErr(err)
	}
	memberIDs := make([]uint, len(members))
	for i, m := range members {
		memberIDs[i] = m.ID
	}
	ledger, err := s.Store.EntriesForMaster(dbc, id, memberIDs)
	if err != nil {
		return nil, storageErr(err)
	}
	return &MasterAuthorView{Master: *master, Members: members, Ledger: ledger}, nil
}
