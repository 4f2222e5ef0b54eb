package models

import "time"

// LedgerExport protokolliert einen in den Object Store geschriebenen Ledger-Batch.
// FromEntryID und ToEntryID sind kleinste und größte ID des Batches, der Batch muss
// dazwischen nicht lückenlos sein.
type LedgerExport struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	CreatedAt   time.Time `json:"created_at"`
	FromEntryID uint      `json:"from_entry_id"`
	ToEntryID   uint      `json:"to_entry_id" gorm:"index"`
	EntryCount  int       `json:"entry_count"`
	ObjectKey   string    `json:"object_key" gorm:"size:512;uniqueIndex"`
}

func (LedgerExport) TableName() string { return "ledger_exports" }

// LedgerExportedEntry markiert einen Ledger-Eintrag als archiviert. Offen sind alle
// Einträge ohne Markierung, unabhängig davon, ob eine höhere ID schon exportiert wurde.
type LedgerExportedEntry struct {
	EntryID  uint `json:"entry_id" gorm:"primaryKey;autoIncrement:false"`
	ExportID uint `json:"export_id" gorm:"index;not null"`
}

func (LedgerExportedEntry) TableName() string { return "ledger_exported_entries" }
