package models

import (
	"strings"
	"time"
)

// Verarbeitungsstatus eines AuthorRecords.
const (
	ProcessingUnprocessed = "unprocessed"
	ProcessingProcessed   = "processed"
)

// AuthorRecord repräsentiert eine rohe, von einer Quelle gelieferte Autorenidentität.
type AuthorRecord struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	ORCID                *string `json:"orcid,omitempty" gorm:"column:orcid_id;size:19;uniqueIndex"`
	GivenName            string  `json:"given_name" gorm:"size:150"`
	FamilyName           string  `json:"family_name" gorm:"size:150"`
	RawAffiliationString string  `json:"affiliation" gorm:"column:raw_affiliation_string;type:text"`
	IsControlGroup       bool    `json:"is_control_group" gorm:"default:false"`

	// Wird ausschließlich von der Merge-Engine geschrieben.
	ProcessingStatus string `json:"processing_status" gorm:"size:20;index;default:'unprocessed'"`
	MasterAuthorID   *uint  `json:"master_author_id,omitempty" gorm:"index"`
}

// TableName gibt explizit den Tabellennamen an.
func (AuthorRecord) TableName() string {
	return "authors"
}

// FullName setzt Vor- und Nachname so zusammen, wie sie gespeichert sind.
func (a AuthorRecord) FullName() string {
	return a.GivenName + " " + a.FamilyName
}

// ORCIDValue liefert die ORCID oder einen leeren String.
func (a AuthorRecord) ORCIDValue() string {
	if a.ORCID == nil {
		return ""
	}
	return strings.TrimSpace(*a.ORCID)
}

// AuthorAlias speichert eine alternative Schreibweise eines Autorennamens.
type AuthorAlias struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	AuthorID  uint      `json:"author_id" gorm:"index;not null"`
	AliasName string    `json:"alias_name" gorm:"size:255;not null"`
}

func (AuthorAlias) TableName() string { return "author_aliases" }
