package models

// Publication repräsentiert ein bibliographisches Werk.
type Publication struct {
	ID              uint    `json:"id" gorm:"primaryKey"`
	DOI             *string `json:"doi,omitempty" gorm:"column:doi;size:255;uniqueIndex"`
	Title           string  `json:"title" gorm:"type:text"`
	PublicationYear int16   `json:"year"`
	VenueName       string  `json:"venue" gorm:"size:255"`
}

// TableName gibt explizit den Tabellennamen an.
func (Publication) TableName() string {
	return "publications"
}

// Authorship modelliert die ungerichtete Kante Autor <-> Publikation.
// Zwei Autoren sind im Relatedness-Graphen benachbart, wenn sie eine Publikation teilen.
type Authorship struct {
	AuthorID      uint `json:"author_id" gorm:"primaryKey;autoIncrement:false"`
	PublicationID uint `json:"publication_id" gorm:"primaryKey;autoIncrement:false;index"`
}

func (Authorship) TableName() string { return "authorships" }
