package services

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"author-merge/config"
	"author-merge/models"
	"author-merge/storage"
	"author-merge/storage/dbctx"
)

const ledgerContentType = "application/gzip"

// ObjectStore ist das Ziel des Ledger-Archivs, in Produktion ein S3-Bucket.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) (string, error)
	ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	DeleteObject(ctx context.Context, key string) error
}

// ExportReport fasst einen Exportlauf zusammen. LastEntryID ist die höchste in
// diesem Lauf exportierte Eintrags-ID.
type ExportReport struct {
	Batches     int      `json:"batches"`
	Entries     int      `json:"entries"`
	LastEntryID uint     `json:"last_entry_id"`
	Keys        []string `json:"keys"`
}

// LedgerArchiver schreibt den append-only Ledger als gzip-komprimiertes JSONL in den Object Store.
type LedgerArchiver struct {
	Store     *storage.RecordStore
	Objects   ObjectStore
	Logger    *zap.Logger
	Prefix    string
	BatchSize int
	now       func() time.Time
}

// NewLedgerArchiver erstellt einen Archiver mit Präfix und Batchgröße aus cfg.
func NewLedgerArchiver(cfg *config.Config, store *storage.RecordStore, objects ObjectStore, logger *zap.Logger) *LedgerArchiver {
	batch := cfg.LedgerExportBatch
	if batch <= 0 {
		batch = 5000
	}
	return &LedgerArchiver{
		Store:     store,
		Objects:   objects,
		Logger:    logger,
		Prefix:    strings.Trim(cfg.LedgerS3Prefix, "/"),
		BatchSize: batch,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (a *LedgerArchiver) key(kind, name string) string {
	if a.Prefix == "" {
		return kind + "/" + name
	}
	return a.Prefix + "/" + kind + "/" + name
}

// ExportPending exportiert alle noch nicht markierten Ledger-Einträge in Batches.
// Jeder hochgeladene Batch wird in ledger_exports protokolliert und seine Einträge
// markiert, bevor der nächste beginnt. Scheitert das Protokollieren nach dem Upload,
// landen die Einträge beim nächsten Lauf erneut im Archiv.
func (a *LedgerArchiver) ExportPending(ctx context.Context) (*ExportReport, error) {
	ctx, span := tracer.Start(ctx, "ledger.export_pending")
	defer span.End()
	dbc := dbctx.New(ctx)
	report := &ExportReport{Keys: []string{}}

	for {
		entries, err := a.Store.ListUnexportedEntries(dbc, a.BatchSize)
		if err != nil {
			return report, err
		}
		if len(entries) == 0 {
			break
		}
		ids := make([]uint, len(entries))
		for i := range entries {
			ids[i] = entries[i].ID
		}
		first, lastID := ids[0], ids[len(ids)-1]

		data, err := encodeEntries(entries)
		if err != nil {
			return report, err
		}
		name := fmt.Sprintf("ledger-%s-%010d-%010d.jsonl.gz", a.now().Format("2006-01-02T15-04-05Z"), first, lastID)
		key := a.key("incremental", name)
		if _, err := a.Objects.PutObject(ctx, key, data, ledgerContentType); err != nil {
			return report, fmt.Errorf("upload %s: %w", key, err)
		}
		if err := a.Store.RecordLedgerExport(dbc, &models.LedgerExport{
			FromEntryID: first,
			ToEntryID:   lastID,
			EntryCount:  len(entries),
			ObjectKey:   key,
		}, ids); err != nil {
			return report, err
		}

		entriesExported.Add(float64(len(entries)))
		report.Batches++
		report.Entries += len(entries)
		report.LastEntryID = max(report.LastEntryID, lastID)
		report.Keys = append(report.Keys, key)
		a.Logger.Info("Ledger batch exported",
			zap.String("key", key), zap.Uint("from_entry_id", first), zap.Uint("to_entry_id", lastID), zap.Int("count", len(entries)))

		if len(entries) < a.BatchSize {
			break
		}
	}

	if report.Batches == 0 {
		a.Logger.Info("No new ledger entries to export")
	}
	return report, nil
}

// ExportSnapshot schreibt den kompletten Ledger in ein einzelnes Snapshot-Objekt.
func (a *LedgerArchiver) ExportSnapshot(ctx context.Context) (string, int, error) {
	ctx, span := tracer.Start(ctx, "ledger.export_snapshot")
	defer span.End()
	dbc := dbctx.New(ctx)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	total := 0
	var after uint
	for {
		entries, err := a.Store.ListEntriesAfter(dbc, after, a.BatchSize)
		if err != nil {
			return "", 0, err
		}
		for i := range entries {
			if err := enc.Encode(&entries[i]); err != nil {
				return "", 0, fmt.Errorf("encode ledger entry %d: %w", entries[i].ID, err)
			}
		}
		total += len(entries)
		if len(entries) < a.BatchSize {
			break
		}
		after = entries[len(entries)-1].ID
	}
	if err := gz.Close(); err != nil {
		return "", 0, err
	}

	key := a.key("snapshots", fmt.Sprintf("ledger-%s.jsonl.gz", a.now().Format("2006-01-02T15-04-05Z")))
	if _, err := a.Objects.PutObject(ctx, key, buf.Bytes(), ledgerContentType); err != nil {
		return "", 0, fmt.Errorf("upload %s: %w", key, err)
	}
	a.Logger.Info("Ledger snapshot exported", zap.String("key", key), zap.Int("entries", total))
	return key, total, nil
}

// RotateSnapshots löscht alle Snapshots außer den keep neuesten. Inkrementelle Exporte
// werden nie rotiert. Gibt die Anzahl gelöschter Objekte zurück.
func (a *LedgerArchiver) RotateSnapshots(ctx context.Context, keep int) (int, error) {
	if keep < 1 {
		return 0, fmt.Errorf("keep must be at least 1, got %d", keep)
	}
	objects, err := a.Objects.ListObjects(ctx, a.key("snapshots", ""))
	if err != nil {
		return 0, err
	}
	if len(objects) <= keep {
		a.Logger.Info("No snapshot rotation needed", zap.Int("snapshots", len(objects)), zap.Int("keep", keep))
		return 0, nil
	}

	deleted := 0
	for _, obj := range objects[keep:] {
		a.Logger.Info("Deleting old ledger snapshot", zap.String("key", obj.Key))
		if err := a.Objects.DeleteObject(ctx, obj.Key); err != nil {
			a.Logger.Error("Failed to delete ledger snapshot", zap.String("key", obj.Key), zap.Error(err))
			continue
		}
		deleted++
	}
	return deleted, nil
}

func encodeEntries(entries []models.MasterAuthorEntry) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return nil, fmt.Errorf("encode ledger entry %d: %w", entries[i].ID, err)
		}
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
