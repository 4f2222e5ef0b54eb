// Package fixtures lädt YAML-Datensätze (Autoren, Publikationen, Kandidaten) und
// schreibt sie in einer Transaktion in die Datenbank. Genutzt von cmd/seed und Tests.
package fixtures

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"author-merge/models"
)

//go:embed datasets/demo.yaml
var demoYAML []byte

// Dataset ist der Inhalt einer Fixture-Datei.
type Dataset struct {
	Masters      []Master      `yaml:"masters"`
	Authors      []Author      `yaml:"authors"`
	Publications []Publication `yaml:"publications"`
	Aliases      []Alias       `yaml:"aliases"`
	Candidates   []Candidate   `yaml:"candidates"`
}

type Master struct {
	ID            uint   `yaml:"id"`
	PrimaryORCID  string `yaml:"primary_orcid"`
	CanonicalName string `yaml:"canonical_name"`
}

type Author struct {
	ID             uint   `yaml:"id"`
	ORCID          string `yaml:"orcid"`
	GivenName      string `yaml:"given_name"`
	FamilyName     string `yaml:"family_name"`
	Affiliation    string `yaml:"affiliation"`
	MasterAuthorID uint   `yaml:"master_author_id"`
}

// Publication trägt ihre Autoren direkt; daraus entstehen die Authorship-Kanten.
type Publication struct {
	ID      uint   `yaml:"id"`
	DOI     string `yaml:"doi"`
	Title   string `yaml:"title"`
	Year    int16  `yaml:"year"`
	Venue   string `yaml:"venue"`
	Authors []uint `yaml:"authors"`
}

type Alias struct {
	Author uint   `yaml:"author"`
	Name   string `yaml:"name"`
}

type Candidate struct {
	A             uint    `yaml:"a"`
	B             uint    `yaml:"b"`
	NameScore     float64 `yaml:"name_score"`
	CoauthorBoost float64 `yaml:"coauthor_boost"`
	TotalScore    float64 `yaml:"total_score"`
	Status        string  `yaml:"status"`
}

// Parse dekodiert einen YAML-Datensatz.
func Parse(data []byte) (*Dataset, error) {
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	return &ds, nil
}

// LoadFile liest und dekodiert eine Fixture-Datei.
func LoadFile(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	return Parse(data)
}

// Demo liefert den eingebetteten Demo-Datensatz.
func Demo() (*Dataset, error) {
	return Parse(demoYAML)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func optionalID(id uint) *uint {
	if id == 0 {
		return nil
	}
	return &id
}

// Seed schreibt den Datensatz atomar in db.
func Seed(ctx context.Context, db *gorm.DB, ds *Dataset) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range ds.Masters {
			row := models.MasterAuthor{ID: m.ID, PrimaryORCID: optional(m.PrimaryORCID), CanonicalName: m.CanonicalName}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("seed master %d: %w", m.ID, err)
			}
		}
		for _, a := range ds.Authors {
			row := models.AuthorRecord{
				ID:                   a.ID,
				ORCID:                optional(a.ORCID),
				GivenName:            a.GivenName,
				FamilyName:           a.FamilyName,
				RawAffiliationString: a.Affiliation,
				ProcessingStatus:     models.ProcessingUnprocessed,
				MasterAuthorID:       optionalID(a.MasterAuthorID),
			}
			if row.MasterAuthorID != nil {
				row.ProcessingStatus = models.ProcessingProcessed
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("seed author %d: %w", a.ID, err)
			}
		}
		for _, p := range ds.Publications {
			row := models.Publication{ID: p.ID, DOI: optional(p.DOI), Title: p.Title, PublicationYear: p.Year, VenueName: p.Venue}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("seed publication %d: %w", p.ID, err)
			}
			for _, authorID := range p.Authors {
				edge := models.Authorship{AuthorID: authorID, PublicationID: p.ID}
				if err := tx.Create(&edge).Error; err != nil {
					return fmt.Errorf("seed authorship %d-%d: %w", authorID, p.ID, err)
				}
			}
		}
		for _, al := range ds.Aliases {
			row := models.AuthorAlias{AuthorID: al.Author, AliasName: al.Name}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("seed alias for %d: %w", al.Author, err)
			}
		}
		for _, c := range ds.Candidates {
			if c.A == c.B {
				return fmt.Errorf("seed candidate: author %d paired with itself", c.A)
			}
			a, b := models.CanonicalPair(c.A, c.B)
			status := c.Status
			if status == "" {
				status = models.CandidatePending
			}
			row := models.MatchCandidate{
				AuthorIDA:     a,
				AuthorIDB:     b,
				NameScore:     c.NameScore,
				CoauthorBoost: c.CoauthorBoost,
				TotalScore:    c.TotalScore,
				Status:        status,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("seed candidate (%d,%d): %w", a, b, err)
			}
		}
		return nil
	})
}
