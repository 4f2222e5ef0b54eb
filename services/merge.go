package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"author-merge/models"
	"author-merge/storage"
	"author-merge/storage/dbctx"
)

// Decision ist die Entscheidung eines Reviewers über einen MatchCandidate.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// maxCanonicalNameLength entspricht der Spaltenbreite von master_authors.canonical_name.
const maxCanonicalNameLength = 255

// ParseDecision akzeptiert nur "approve" und "reject".
func ParseDecision(raw string) (Decision, error) {
	switch Decision(raw) {
	case DecisionApprove, DecisionReject:
		return Decision(raw), nil
	default:
		return "", invalid("unknown decision %q", raw)
	}
}

func (d Decision) status() string {
	if d == DecisionApprove {
		return models.CandidateApproved
	}
	return models.CandidateRejected
}

// DecideOutcome beschreibt das Ergebnis einer Entscheidung.
type DecideOutcome struct {
	AuthorIDA       uint   `json:"author_id_a"`
	AuthorIDB       uint   `json:"author_id_b"`
	Status          string `json:"status"`
	Unchanged       bool   `json:"unchanged,omitempty"`
	MasterAuthorID  *uint  `json:"master_author_id,omitempty"`
	MasterCreated   bool   `json:"master_created,omitempty"`
	MergeEventID    string `json:"merge_event_id,omitempty"`
	EntriesAppended int    `json:"entries_appended"`
	// Bei Cross-Cluster-Merges: die aufgelöste MasterIdentity von B
	AbsorbedMasterID *uint `json:"absorbed_master_id,omitempty"`
	RepointedRecords int64 `json:"repointed_records,omitempty"`
}

// MergeService führt Reviewer-Entscheidungen transaktional aus.
type MergeService struct {
	DB     *gorm.DB
	Store  *storage.RecordStore
	Logger *zap.Logger
	now    func() time.Time
}

// NewMergeService erstellt eine neue Instanz des MergeService.
func NewMergeService(db *gorm.DB, store *storage.RecordStore, logger *zap.Logger) *MergeService {
	return &MergeService{DB: db, Store: store, Logger: logger, now: time.Now}
}

// Decide wendet decision auf den Kandidaten (idA, idB) an. Das Paar wird kanonisch
// aufgelöst, A ist immer der gespeicherte author_id_a. approve läuft vollständig in
// einer Transaktion mit Zeilensperren auf Kandidat, Autoren und Master-Identitäten.
func (s *MergeService) Decide(ctx context.Context, idA, idB uint, decision string, customName *string) (*DecideOutcome, error) {
	d, err := ParseDecision(decision)
	if err != nil {
		decisionsCounter.WithLabelValues("invalid", "invalid_request").Inc()
		return nil, err
	}
	if idA == idB {
		decisionsCounter.WithLabelValues(string(d), "invalid_request").Inc()
		return nil, invalid("author %d cannot be matched with itself", idA)
	}
	name := ""
	if customName != nil {
		name = strings.TrimSpace(*customName)
		if utf8.RuneCountInString(name) > maxCanonicalNameLength {
			decisionsCounter.WithLabelValues(string(d), "invalid_request").Inc()
			return nil, invalid("custom_name exceeds %d characters", maxCanonicalNameLength)
		}
	}

	a, b := models.CanonicalPair(idA, idB)
	ctx, span := tracer.Start(ctx, "merge.decide", trace.WithAttributes(
		attribute.Int64("author_a", int64(a)),
		attribute.Int64("author_b", int64(b)),
		attribute.String("decision", string(d)),
	))
	defer span.End()
	log := s.Logger.With(zap.Uint("author_a", a), zap.Uint("author_b", b), zap.String("decision", string(d)))

	var outcome *DecideOutcome
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.WithTx(ctx, tx)

		cand, err := s.Store.LockCandidate(dbc, a, b)
		if err != nil {
			return storageErr(err)
		}
		outcome = &DecideOutcome{AuthorIDA: cand.AuthorIDA, AuthorIDB: cand.AuthorIDB}

		switch cand.Status {
		case models.CandidatePending:
		case d.status():
			outcome.Status = cand.Status
			outcome.Unchanged = true
			return s.describeExisting(dbc, outcome)
		default:
			return conflict("candidate (%d,%d) is already %s", cand.AuthorIDA, cand.AuthorIDB, cand.Status)
		}

		if d == DecisionApprove {
			if err := s.approve(dbc, cand, name, outcome); err != nil {
				return err
			}
		}
		if err := s.Store.SetCandidateStatus(dbc, cand.AuthorIDA, cand.AuthorIDB, d.status(), s.now()); err != nil {
			return storageErr(err)
		}
		outcome.Status = d.status()
		return nil
	})
	if err != nil {
		err = storageErr(err)
		decisionsCounter.WithLabelValues(string(d), outcomeLabel(err)).Inc()
		span.RecordError(err)
		if errors.Is(err, ErrStorage) {
			log.Error("Decision rolled back", zap.Error(err))
		} else {
			log.Info("Decision refused", zap.Error(err))
		}
		return nil, err
	}

	switch {
	case outcome.Unchanged:
		decisionsCounter.WithLabelValues(string(d), "unchanged").Inc()
	default:
		decisionsCounter.WithLabelValues(string(d), "applied").Inc()
		entriesAppended.Add(float64(outcome.EntriesAppended))
		if outcome.MasterCreated {
			mastersCreated.Inc()
		}
		if outcome.AbsorbedMasterID != nil {
			clustersAbsorbed.Inc()
		}
	}

	fields := []zap.Field{zap.String("status", outcome.Status), zap.Bool("unchanged", outcome.Unchanged)}
	if outcome.MasterAuthorID != nil {
		fields = append(fields, zap.Uint("master_author_id", *outcome.MasterAuthorID), zap.Bool("master_created", outcome.MasterCreated))
	}
	if outcome.AbsorbedMasterID != nil {
		fields = append(fields, zap.Uint("absorbed_master_id", *outcome.AbsorbedMasterID), zap.Int64("repointed_records", outcome.RepointedRecords))
	}
	log.Info("Decision applied", fields...)
	return outcome, nil
}

// approve verknüpft A und B mit einer MasterIdentity und schreibt die Ledger-Einträge.
func (s *MergeService) approve(dbc dbctx.Context, cand *models.MatchCandidate, customName string, outcome *DecideOutcome) error {
	authors, err := s.Store.LockAuthors(dbc, []uint{cand.AuthorIDA, cand.AuthorIDB})
	if err != nil {
		return storageErr(err)
	}
	byID := indexAuthors(authors)
	recA, okA := byID[cand.AuthorIDA]
	recB, okB := byID[cand.AuthorIDB]
	if !okA {
		return notFound("author %d", cand.AuthorIDA)
	}
	if !okB {
		return notFound("author %d", cand.AuthorIDB)
	}

	masterID, err := s.resolveMaster(dbc, recA, recB, customName, outcome)
	if err != nil {
		return err
	}

	if err := s.Store.LinkAuthors(dbc, []uint{recA.ID, recB.ID}, masterID); err != nil {
		return storageErr(err)
	}

	eventID := uuid.NewString()
	entries := []*models.MasterAuthorEntry{snapshot(recA, masterID, eventID), snapshot(recB, masterID, eventID)}
	if err := s.Store.AppendEntries(dbc, entries); err != nil {
		return storageErr(err)
	}

	outcome.MasterAuthorID = &masterID
	outcome.MergeEventID = eventID
	outcome.EntriesAppended = len(entries)
	return nil
}

// resolveMaster wählt oder erzeugt die MasterIdentity für A und B.
//   - keiner verknüpft: neue MasterIdentity
//   - genau einer oder beide mit derselben: wiederverwenden
//   - verschiedene: A bleibt, alle Mitglieder von Bs Master wandern zu A
func (s *MergeService) resolveMaster(dbc dbctx.Context, recA, recB models.AuthorRecord, customName string, outcome *DecideOutcome) (uint, error) {
	if recA.MasterAuthorID == nil && recB.MasterAuthorID == nil {
		return s.createMaster(dbc, recA, recB, customName, outcome)
	}

	var ids []uint
	if recA.MasterAuthorID != nil {
		ids = append(ids, *recA.MasterAuthorID)
	}
	if recB.MasterAuthorID != nil && (recA.MasterAuthorID == nil || *recB.MasterAuthorID != *recA.MasterAuthorID) {
		ids = append(ids, *recB.MasterAuthorID)
	}
	masters, err := s.Store.LockMasters(dbc, ids)
	if err != nil {
		return 0, storageErr(err)
	}
	if len(masters) != len(ids) {
		return 0, danglingMaster(ids, masters)
	}

	if len(ids) == 1 {
		return ids[0], nil
	}

	keep, absorb := *recA.MasterAuthorID, *recB.MasterAuthorID
	if _, err := s.Store.LockMembers(dbc, absorb); err != nil {
		return 0, storageErr(err)
	}
	moved, err := s.Store.RepointMembers(dbc, absorb, keep)
	if err != nil {
		return 0, storageErr(err)
	}
	outcome.AbsorbedMasterID = &absorb
	outcome.RepointedRecords = moved
	return keep, nil
}

func (s *MergeService) createMaster(dbc dbctx.Context, recA, recB models.AuthorRecord, customName string, outcome *DecideOutcome) (uint, error) {
	name := customName
	if name == "" {
		name = recA.FullName()
	}
	master := &models.MasterAuthor{CanonicalName: name}
	orcid := recA.ORCIDValue()
	if orcid == "" {
		orcid = recB.ORCIDValue()
	}
	if orcid != "" {
		existing, err := s.Store.FindMasterByORCID(dbc, orcid)
		if err != nil {
			return 0, storageErr(err)
		}
		if existing != nil {
			return 0, conflict("orcid %s already belongs to master author %d", orcid, existing.ID)
		}
		master.PrimaryORCID = &orcid
	}
	if err := s.Store.CreateMaster(dbc, master); err != nil {
		return 0, storageErr(err)
	}
	outcome.MasterCreated = true
	return master.ID, nil
}

// describeExisting füllt bei einer wiederholten Entscheidung die aktuelle MasterIdentity.
func (s *MergeService) describeExisting(dbc dbctx.Context, outcome *DecideOutcome) error {
	if outcome.Status != models.CandidateApproved {
		return nil
	}
	authors, err := s.Store.GetAuthors(dbc, []uint{outcome.AuthorIDA})
	if err != nil {
		return storageErr(err)
	}
	if len(authors) == 1 {
		outcome.MasterAuthorID = authors[0].MasterAuthorID
	}
	return nil
}

func snapshot(rec models.AuthorRecord, masterID uint, eventID string) *models.MasterAuthorEntry {
	var orcid *string
	if rec.ORCID != nil {
		v := *rec.ORCID
		orcid = &v
	}
	return &models.MasterAuthorEntry{
		MasterAuthorID:   masterID,
		OriginalAuthorID: rec.ID,
		MergeEventID:     eventID,
		RawORCID:         orcid,
		RawName:          rec.FullName(),
		RawAffiliation:   rec.RawAffiliationString,
	}
}

func danglingMaster(ids []uint, found []models.MasterAuthor) error {
	present := make(map[uint]bool, len(found))
	for _, m := range found {
		present[m.ID] = true
	}
	for _, id := range ids {
		if !present[id] {
			return fmt.Errorf("%w: author references missing master author %d", ErrStorage, id)
		}
	}
	return fmt.Errorf("%w: master author lookup incomplete", ErrStorage)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "storage_failure"
	}
}
