package models

import "time"

// MasterAuthor ist die kanonische, zusammengeführte Identität einer realen Person.
// Wird von diesem Service nie gelöscht.
type MasterAuthor struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	PrimaryORCID  *string   `json:"primary_orcid,omitempty" gorm:"column:primary_orcid;size:19;uniqueIndex"`
	CanonicalName string    `json:"canonical_name" gorm:"size:255"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName gibt explizit den Tabellennamen an.
func (MasterAuthor) TableName() string {
	return "master_authors"
}

// MasterAuthorEntry ist ein unveränderlicher Audit-Snapshot eines AuthorRecords zum
// Zeitpunkt des Merges. Append-only: Einträge werden nie geändert oder gelöscht.
type MasterAuthorEntry struct {
	ID               uint   `json:"id" gorm:"primaryKey"`
	MasterAuthorID   uint   `json:"master_author_id" gorm:"index;not null"`
	OriginalAuthorID uint   `json:"original_author_id" gorm:"index;not null"`
	MergeEventID     string `json:"merge_event_id" gorm:"size:36;index;not null"`

	RawORCID       *string   `json:"raw_orcid,omitempty" gorm:"column:raw_orcid;size:19"`
	RawName        string    `json:"raw_name" gorm:"size:255"`
	RawAffiliation string    `json:"raw_affiliation" gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at"`
}

func (MasterAuthorEntry) TableName() string { return "master_author_entries" }
