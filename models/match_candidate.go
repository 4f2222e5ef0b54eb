package models

import "time"

// Status eines MatchCandidate. Übergänge nur pending -> approved|rejected.
const (
	CandidatePending  = "pending"
	CandidateApproved = "approved"
	CandidateRejected = "rejected"
)

// MatchCandidate ist ein vorgeschlagenes Paar zweier AuthorRecords.
// Das Paar wird kanonisch gespeichert: AuthorIDA < AuthorIDB.
type MatchCandidate struct {
	AuthorIDA uint `json:"author_id_a" gorm:"column:author_id_a;primaryKey;autoIncrement:false"`
	AuthorIDB uint `json:"author_id_b" gorm:"column:author_id_b;primaryKey;autoIncrement:false"`

	// Vom Upstream-Scorer berechnet, hier nur gelesen.
	NameScore     float64 `json:"name_score" gorm:"default:0"`
	CoauthorBoost float64 `json:"coauthor_boost" gorm:"default:0"`
	TotalScore    float64 `json:"total_score" gorm:"index;default:0"`

	Status    string     `json:"status" gorm:"size:20;index;default:'pending'"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
}

// TableName gibt explizit den Tabellennamen an.
func (MatchCandidate) TableName() string {
	return "match_candidates"
}

// CanonicalPair ordnet zwei IDs so, dass die kleinere zuerst kommt.
func CanonicalPair(a, b uint) (uint, uint) {
	if b < a {
		return b, a
	}
	return a, b
}
