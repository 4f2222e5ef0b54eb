package main

import (
	"context"
	"flag"
	"log"

	"go.uber.org/zap"

	"author-merge/config"
	"author-merge/services"
	"author-merge/storage"
)

func main() {
	snapshot := flag.Bool("snapshot", false, "zusätzlich einen vollständigen Snapshot schreiben und alte Snapshots rotieren")
	flag.Parse()

	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()
	logging.Info("Starte Ledger-Export...")

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Fehler beim Laden der Konfiguration", zap.Error(err))
	}
	if !cfg.LedgerArchiveEnabled() {
		logging.Fatal("LEDGER_S3_BUCKET ist nicht gesetzt")
	}
	ctx := context.Background()

	// 1. Datenbank und S3-Client
	db, err := storage.Open(cfg, logging)
	if err != nil {
		logging.Fatal("Fehler beim Verbinden zur Datenbank", zap.Error(err))
	}
	objects, err := storage.NewS3ObjectStore(ctx, cfg)
	if err != nil {
		logging.Fatal("Fehler beim Erstellen des S3-Clients", zap.Error(err))
	}
	archiver := services.NewLedgerArchiver(cfg, storage.NewRecordStore(db), objects, logging)

	// 2. Alle noch nicht archivierten Ledger-Einträge exportieren
	report, err := archiver.ExportPending(ctx)
	if err != nil {
		logging.Fatal("Fehler beim inkrementellen Export", zap.Error(err))
	}
	logging.Info("Inkrementeller Export abgeschlossen",
		zap.Int("batches", report.Batches), zap.Int("entries", report.Entries), zap.Uint("last_entry_id", report.LastEntryID))

	if !*snapshot {
		return
	}

	// 3. Snapshot schreiben
	key, n, err := archiver.ExportSnapshot(ctx)
	if err != nil {
		logging.Fatal("Fehler beim Snapshot-Export", zap.Error(err))
	}
	logging.Info("Snapshot erfolgreich hochgeladen", zap.String("key", key), zap.Int("entries", n))

	// 4. Alte Snapshots rotieren
	deleted, err := archiver.RotateSnapshots(ctx, cfg.LedgerSnapshotKeep)
	if err != nil {
		logging.Fatal("Fehler bei der Rotation alter Snapshots", zap.Error(err))
	}
	logging.Info("Ledger-Export erfolgreich abgeschlossen", zap.Int("rotated", deleted))
}
