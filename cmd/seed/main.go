package main

import (
	"context"
	"flag"
	"log"

	"go.uber.org/zap"

	"author-merge/config"
	"author-merge/fixtures"
	"author-merge/storage"
)

func main() {
	file := flag.String("file", "", "YAML-Datensatz (leer = eingebetteter Demo-Datensatz)")
	flag.Parse()

	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	var ds *fixtures.Dataset
	if *file == "" {
		ds, err = fixtures.Demo()
	} else {
		ds, err = fixtures.LoadFile(*file)
	}
	if err != nil {
		logging.Fatal("Fixture konnte nicht geladen werden", zap.String("file", *file), zap.Error(err))
	}

	db, err := storage.Open(cfg, logging)
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := storage.AutoMigrate(db); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	if err := fixtures.Seed(context.Background(), db, ds); err != nil {
		logging.Fatal("Seeding fehlgeschlagen", zap.Error(err))
	}
	logging.Info("Seeding abgeschlossen",
		zap.Int("authors", len(ds.Authors)),
		zap.Int("publications", len(ds.Publications)),
		zap.Int("candidates", len(ds.Candidates)),
		zap.Int("masters", len(ds.Masters)))
}
