package storage

import (
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"author-merge/models"
	"author-merge/storage/dbctx"
)

// Placeholder "?" funktioniert für beide Dialekte, gorm übersetzt ihn für Postgres.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// neighborBatchSize begrenzt die Anzahl gebundener Parameter pro IN-Liste.
const neighborBatchSize = 500

// exportMarkBatchSize ist die Zeilenzahl pro INSERT der Export-Markierungen.
const exportMarkBatchSize = 1000

// RecordStore kapselt alle Lese- und Schreibzugriffe auf den Identitätsgraphen.
type RecordStore struct {
	DB *gorm.DB
}

// NewRecordStore erstellt einen RecordStore auf der gegebenen Verbindung.
func NewRecordStore(db *gorm.DB) *RecordStore {
	return &RecordStore{DB: db}
}

// SharedCoauthorRow ist eine Zeile der Co-Autoren-Überlappung zweier Autoren.
type SharedCoauthorRow struct {
	AuthorID     uint  `gorm:"column:author_id"`
	CountA       int64 `gorm:"column:count_a"`
	CountB       int64 `gorm:"column:count_b"`
	TotalOverlap int64 `gorm:"column:total_overlap"`
}

func (r *RecordStore) conn(dbc dbctx.Context) *gorm.DB {
	txx := dbc.Tx
	if txx == nil {
		txx = r.DB
	}
	if dbc.Ctx != nil {
		txx = txx.WithContext(dbc.Ctx)
	}
	return txx
}

func requireTx(dbc dbctx.Context, op string) error {
	if dbc.Tx == nil {
		return fmt.Errorf("%s requires a transaction", op)
	}
	return nil
}

// --- Authors ---

// GetAuthors lädt AuthorRecords nach ID, aufsteigend sortiert. Fehlende IDs fehlen im Ergebnis.
func (r *RecordStore) GetAuthors(dbc dbctx.Context, ids []uint) ([]models.AuthorRecord, error) {
	if len(ids) == 0 {
		return []models.AuthorRecord{}, nil
	}
	var out []models.AuthorRecord
	if err := r.conn(dbc).Where("id IN ?", ids).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load authors: %w", err)
	}
	return out, nil
}

// LockAuthors lädt AuthorRecords mit SELECT ... FOR UPDATE. Die Sortierung nach ID
// sorgt für eine feste Lock-Reihenfolge zwischen konkurrierenden Merges.
func (r *RecordStore) LockAuthors(dbc dbctx.Context, ids []uint) ([]models.AuthorRecord, error) {
	if err := requireTx(dbc, "LockAuthors"); err != nil {
		return nil, err
	}
	var out []models.AuthorRecord
	if err := r.conn(dbc).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to lock authors: %w", err)
	}
	return out, nil
}

// LockMembers sperrt alle AuthorRecords, die auf masterID zeigen.
func (r *RecordStore) LockMembers(dbc dbctx.Context, masterID uint) ([]models.AuthorRecord, error) {
	if err := requireTx(dbc, "LockMembers"); err != nil {
		return nil, err
	}
	var out []models.AuthorRecord
	if err := r.conn(dbc).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("master_author_id = ?", masterID).
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to lock members of master %d: %w", masterID, err)
	}
	return out, nil
}

// AuthorsByMaster listet alle AuthorRecords einer MasterIdentity.
func (r *RecordStore) AuthorsByMaster(dbc dbctx.Context, masterID uint) ([]models.AuthorRecord, error) {
	var out []models.AuthorRecord
	if err := r.conn(dbc).Where("master_author_id = ?", masterID).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list members of master %d: %w", masterID, err)
	}
	return out, nil
}

// LinkAuthors verknüpft die Records mit masterID und markiert sie als verarbeitet.
func (r *RecordStore) LinkAuthors(dbc dbctx.Context, ids []uint, masterID uint) error {
	res := r.conn(dbc).
		Model(&models.AuthorRecord{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"master_author_id":  masterID,
			"processing_status": models.ProcessingProcessed,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to link authors to master %d: %w", masterID, res.Error)
	}
	if res.RowsAffected != int64(len(ids)) {
		return fmt.Errorf("linked %d of %d authors to master %d", res.RowsAffected, len(ids), masterID)
	}
	return nil
}

// RepointMembers hängt alle Records von fromMaster an toMaster um.
func (r *RecordStore) RepointMembers(dbc dbctx.Context, fromMaster, toMaster uint) (int64, error) {
	res := r.conn(dbc).
		Model(&models.AuthorRecord{}).
		Where("master_author_id = ?", fromMaster).
		Update("master_author_id", toMaster)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to repoint members of master %d: %w", fromMaster, res.Error)
	}
	return res.RowsAffected, nil
}

// Aliases lädt alle Alias-Schreibweisen der gegebenen Autoren.
func (r *RecordStore) Aliases(dbc dbctx.Context, authorIDs []uint) ([]models.AuthorAlias, error) {
	if len(authorIDs) == 0 {
		return []models.AuthorAlias{}, nil
	}
	var out []models.AuthorAlias
	if err := r.conn(dbc).Where("author_id IN ?", authorIDs).Order("author_id ASC, id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load aliases: %w", err)
	}
	return out, nil
}

// --- Publications / authorship graph ---

// RecentPublications liefert bis zu limit Publikationen eines Autors, neueste zuerst.
func (r *RecordStore) RecentPublications(dbc dbctx.Context, authorID uint, limit int) ([]models.Publication, error) {
	var out []models.Publication
	if err := r.conn(dbc).
		Model(&models.Publication{}).
		Joins("JOIN authorships ON authorships.publication_id = publications.id").
		Where("authorships.author_id = ?", authorID).
		Order("publications.publication_year DESC, publications.id ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load publications of author %d: %w", authorID, err)
	}
	return out, nil
}

// PublicationIDs liefert alle Publikations-IDs eines Autors.
func (r *RecordStore) PublicationIDs(dbc dbctx.Context, authorID uint) ([]uint, error) {
	var out []uint
	if err := r.conn(dbc).
		Model(&models.Authorship{}).
		Where("author_id = ?", authorID).
		Order("publication_id ASC").
		Pluck("publication_id", &out).Error; err != nil {
		return nil, fmt.Errorf("failed to load publication ids of author %d: %w", authorID, err)
	}
	return out, nil
}

// Neighbors liefert für jede ID die aufsteigend sortierten Co-Autoren, also alle
// Autoren, die mindestens eine Publikation mit ihr teilen.
func (r *RecordStore) Neighbors(dbc dbctx.Context, ids []uint) (map[uint][]uint, error) {
	type edge struct {
		SourceID   uint
		NeighborID uint
	}
	out := make(map[uint][]uint, len(ids))
	for start := 0; start < len(ids); start += neighborBatchSize {
		batch := ids[start:min(start+neighborBatchSize, len(ids))]
		var rows []edge
		if err := r.conn(dbc).
			Table("authorships AS s").
			Select("DISTINCT s.author_id AS source_id, o.author_id AS neighbor_id").
			Joins("JOIN authorships AS o ON o.publication_id = s.publication_id").
			Where("s.author_id IN ? AND o.author_id <> s.author_id", batch).
			Order("source_id ASC, neighbor_id ASC").
			Scan(&rows).Error; err != nil {
			return nil, fmt.Errorf("failed to load co-author neighbours: %w", err)
		}
		for _, e := range rows {
			out[e.SourceID] = append(out[e.SourceID], e.NeighborID)
		}
	}
	return out, nil
}

// overlapQuery zählt pro Co-Autor die mit authorID geteilten Publikationen.
func overlapQuery(authorID uint, exclude []uint) sq.SelectBuilder {
	return sq.Select("o.author_id", "COUNT(DISTINCT o.publication_id) AS cnt").
		From("authorships s").
		Join("authorships o ON o.publication_id = s.publication_id").
		Where(sq.Eq{"s.author_id": authorID}).
		Where(sq.NotEq{"o.author_id": exclude}).
		GroupBy("o.author_id")
}

func sharedJoin(a, b uint) sq.SelectBuilder {
	exclude := []uint{a, b}
	return psql.Select().
		FromSelect(overlapQuery(a, exclude), "ca").
		JoinClause(overlapQuery(b, exclude).Prefix("JOIN (").Suffix(") cb ON cb.author_id = ca.author_id"))
}

// SharedCoauthors liefert Dritte, die sowohl mit a als auch mit b publiziert haben,
// sortiert nach Gesamtüberlappung absteigend und Autor-ID aufsteigend.
func (r *RecordStore) SharedCoauthors(dbc dbctx.Context, a, b uint, limit int) ([]SharedCoauthorRow, error) {
	q := sharedJoin(a, b).
		Columns("ca.author_id AS author_id", "ca.cnt AS count_a", "cb.cnt AS count_b", "ca.cnt + cb.cnt AS total_overlap").
		OrderBy("total_overlap DESC", "author_id ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL for SharedCoauthors: %w", err)
	}
	var out []SharedCoauthorRow
	if err := r.conn(dbc).Raw(sqlStr, args...).Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to query shared co-authors of %d and %d: %w", a, b, err)
	}
	return out, nil
}

// pairValues rendert Autorenpaare als Tabelle (pair_a, pair_b) für Joins.
func pairValues(pairs [][2]uint) (string, []any) {
	parts := make([]string, len(pairs))
	args := make([]any, 0, 2*len(pairs))
	for i, p := range pairs {
		parts[i] = "SELECT CAST(? AS BIGINT) AS pair_a, CAST(? AS BIGINT) AS pair_b"
		args = append(args, p[0], p[1])
	}
	return strings.Join(parts, " UNION ALL "), args
}

// pairOverlapQuery listet je Paar die Co-Autoren der Seite col, ohne die beiden Paar-Autoren.
func pairOverlapQuery(pairsSQL string, pairArgs []any, col string) sq.SelectBuilder {
	return sq.Select("p.pair_a", "p.pair_b", "o.author_id").
		From("authorships s").
		JoinClause("JOIN ("+pairsSQL+") p ON s.author_id = p."+col, pairArgs...).
		Join("authorships o ON o.publication_id = s.publication_id").
		Where("o.author_id <> p.pair_a AND o.author_id <> p.pair_b").
		GroupBy("p.pair_a", "p.pair_b", "o.author_id")
}

// SharedCoauthorCounts zählt die gemeinsamen Co-Autoren mehrerer Paare in einer Abfrage.
// Paare ohne gemeinsame Co-Autoren fehlen in der Map.
func (r *RecordStore) SharedCoauthorCounts(dbc dbctx.Context, pairs [][2]uint) (map[[2]uint]int64, error) {
	out := make(map[[2]uint]int64, len(pairs))
	if len(pairs) == 0 {
		return out, nil
	}
	pairsSQL, pairArgs := pairValues(pairs)
	q := psql.Select("ca.pair_a AS author_id_a", "ca.pair_b AS author_id_b", "COUNT(*) AS shared").
		FromSelect(pairOverlapQuery(pairsSQL, pairArgs, "pair_a"), "ca").
		JoinClause(pairOverlapQuery(pairsSQL, pairArgs, "pair_b").
			Prefix("JOIN (").
			Suffix(") cb ON cb.pair_a = ca.pair_a AND cb.pair_b = ca.pair_b AND cb.author_id = ca.author_id")).
		GroupBy("ca.pair_a", "ca.pair_b")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL for SharedCoauthorCounts: %w", err)
	}
	var rows []struct {
		AuthorIDA uint  `gorm:"column:author_id_a"`
		AuthorIDB uint  `gorm:"column:author_id_b"`
		Shared    int64 `gorm:"column:shared"`
	}
	if err := r.conn(dbc).Raw(sqlStr, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count shared co-authors of %d pairs: %w", len(pairs), err)
	}
	for _, row := range rows {
		out[[2]uint{row.AuthorIDA, row.AuthorIDB}] = row.Shared
	}
	return out, nil
}

// --- Match candidates ---

// GetCandidate lädt einen MatchCandidate über das kanonische Paar.
func (r *RecordStore) GetCandidate(dbc dbctx.Context, a, b uint) (*models.MatchCandidate, error) {
	a, b = models.CanonicalPair(a, b)
	var out models.MatchCandidate
	if err := r.conn(dbc).Where("author_id_a = ? AND author_id_b = ?", a, b).Take(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load candidate (%d,%d): %w", a, b, err)
	}
	return &out, nil
}

// LockCandidate lädt einen MatchCandidate mit SELECT ... FOR UPDATE.
func (r *RecordStore) LockCandidate(dbc dbctx.Context, a, b uint) (*models.MatchCandidate, error) {
	if err := requireTx(dbc, "LockCandidate"); err != nil {
		return nil, err
	}
	a, b = models.CanonicalPair(a, b)
	var out models.MatchCandidate
	if err := r.conn(dbc).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("author_id_a = ? AND author_id_b = ?", a, b).
		Take(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to lock candidate (%d,%d): %w", a, b, err)
	}
	return &out, nil
}

// ListPendingCandidates liefert offene Kandidaten, beste Scores zuerst.
func (r *RecordStore) ListPendingCandidates(dbc dbctx.Context, limit, offset int) ([]models.MatchCandidate, error) {
	var out []models.MatchCandidate
	if err := r.conn(dbc).
		Where("status = ?", models.CandidatePending).
		Order("total_score DESC, author_id_a ASC, author_id_b ASC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending candidates: %w", err)
	}
	return out, nil
}

// SetCandidateStatus setzt den Status eines Kandidaten und den Entscheidungszeitpunkt.
func (r *RecordStore) SetCandidateStatus(dbc dbctx.Context, a, b uint, status string, decidedAt time.Time) error {
	res := r.conn(dbc).
		Model(&models.MatchCandidate{}).
		Where("author_id_a = ? AND author_id_b = ?", a, b).
		Updates(map[string]any{"status": status, "decided_at": decidedAt})
	if res.Error != nil {
		return fmt.Errorf("failed to update candidate (%d,%d): %w", a, b, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("candidate (%d,%d): %w", a, b, gorm.ErrRecordNotFound)
	}
	return nil
}

// --- Master identities and ledger ---

// CreateMaster legt eine neue MasterIdentity an.
func (r *RecordStore) CreateMaster(dbc dbctx.Context, m *models.MasterAuthor) error {
	if err := r.conn(dbc).Create(m).Error; err != nil {
		return fmt.Errorf("failed to create master author %q: %w", m.CanonicalName, err)
	}
	return nil
}

// GetMaster lädt eine MasterIdentity.
func (r *RecordStore) GetMaster(dbc dbctx.Context, id uint) (*models.MasterAuthor, error) {
	var out models.MasterAuthor
	if err := r.conn(dbc).Where("id = ?", id).Take(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load master author %d: %w", id, err)
	}
	return &out, nil
}

// LockMasters sperrt die gegebenen MasterIdentities in ID-Reihenfolge.
func (r *RecordStore) LockMasters(dbc dbctx.Context, ids []uint) ([]models.MasterAuthor, error) {
	if err := requireTx(dbc, "LockMasters"); err != nil {
		return nil, err
	}
	var out []models.MasterAuthor
	if err := r.conn(dbc).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to lock master authors: %w", err)
	}
	return out, nil
}

// AppendEntries schreibt Ledger-Einträge. Es gibt bewusst kein Update/Delete.
func (r *RecordStore) AppendEntries(dbc dbctx.Context, entries []*models.MasterAuthorEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := r.conn(dbc).Create(&entries).Error; err != nil {
		return fmt.Errorf("failed to append ledger entries: %w", err)
	}
	return nil
}

// EntriesForMaster liefert den Ledger einer MasterIdentity in Einfügereihenfolge:
// alle Einträge unter masterID sowie alle Einträge der aktuellen Mitglieder, auch
// wenn sie noch unter einer absorbierten MasterIdentity stehen.
func (r *RecordStore) EntriesForMaster(dbc dbctx.Context, masterID uint, memberIDs []uint) ([]models.MasterAuthorEntry, error) {
	q := r.conn(dbc).Where("master_author_id = ?", masterID)
	if len(memberIDs) > 0 {
		q = q.Or("original_author_id IN ?", memberIDs)
	}
	var out []models.MasterAuthorEntry
	if err := q.Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load ledger of master %d: %w", masterID, err)
	}
	return out, nil
}

// ListEntriesAfter liefert bis zu limit Ledger-Einträge mit ID > afterID. Nur für
// Snapshots, die den gesamten sichtbaren Ledger seitenweise lesen.
func (r *RecordStore) ListEntriesAfter(dbc dbctx.Context, afterID uint, limit int) ([]models.MasterAuthorEntry, error) {
	var out []models.MasterAuthorEntry
	if err := r.conn(dbc).Where("id > ?", afterID).Order("id ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list ledger entries after %d: %w", afterID, err)
	}
	return out, nil
}

// ListUnexportedEntries liefert bis zu limit Ledger-Einträge ohne Export-Markierung,
// aufsteigend nach ID. Einträge, deren Transaktion erst nach einem Export mit höheren
// IDs committet, bleiben so offen.
func (r *RecordStore) ListUnexportedEntries(dbc dbctx.Context, limit int) ([]models.MasterAuthorEntry, error) {
	q := psql.Select("e.*").
		From("master_author_entries e").
		Where("NOT EXISTS (SELECT 1 FROM ledger_exported_entries x WHERE x.entry_id = e.id)").
		OrderBy("e.id ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL for ListUnexportedEntries: %w", err)
	}
	var out []models.MasterAuthorEntry
	if err := r.conn(dbc).Raw(sqlStr, args...).Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list unexported ledger entries: %w", err)
	}
	return out, nil
}

// RecordLedgerExport protokolliert einen geschriebenen Ledger-Batch und markiert
// dessen Einträge in derselben Transaktion als exportiert.
func (r *RecordStore) RecordLedgerExport(dbc dbctx.Context, row *models.LedgerExport, entryIDs []uint) error {
	err := r.conn(dbc).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		if len(entryIDs) == 0 {
			return nil
		}
		marks := make([]models.LedgerExportedEntry, 0, len(entryIDs))
		for _, id := range entryIDs {
			marks = append(marks, models.LedgerExportedEntry{EntryID: id, ExportID: row.ID})
		}
		return tx.CreateInBatches(&marks, exportMarkBatchSize).Error
	})
	if err != nil {
		return fmt.Errorf("failed to record ledger export %s: %w", row.ObjectKey, err)
	}
	return nil
}

// LedgerExports listet alle protokollierten Exporte in Schreibreihenfolge.
func (r *RecordStore) LedgerExports(dbc dbctx.Context) ([]models.LedgerExport, error) {
	var out []models.LedgerExport
	if err := r.conn(dbc).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list ledger exports: %w", err)
	}
	return out, nil
}

// FindMasterByORCID liefert die MasterIdentity mit dieser primären ORCID oder nil.
func (r *RecordStore) FindMasterByORCID(dbc dbctx.Context, orcid string) (*models.MasterAuthor, error) {
	var out []models.MasterAuthor
	if err := r.conn(dbc).Where("primary_orcid = ?", orcid).Limit(1).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to look up master by orcid %s: %w", orcid, err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}
