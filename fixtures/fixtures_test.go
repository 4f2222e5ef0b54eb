package fixtures_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"author-merge/fixtures"
	"author-merge/models"
	"author-merge/storage/storagetest"
)

func TestDemoDataset(t *testing.T) {
	ds, err := fixtures.Demo()
	require.NoError(t, err)

	assert.Len(t, ds.Authors, 7)
	assert.Len(t, ds.Publications, 6)
	assert.Len(t, ds.Candidates, 2)
	assert.Equal(t, []uint{1, 3}, ds.Publications[0].Authors)
	assert.Equal(t, uint(7), ds.Authors[5].MasterAuthorID)
}

func TestSeedCanonicalizesCandidates(t *testing.T) {
	db := storagetest.Open(t)
	ds, err := fixtures.Demo()
	require.NoError(t, err)
	require.NoError(t, fixtures.Seed(context.Background(), db, ds))

	var cands []models.MatchCandidate
	require.NoError(t, db.Order("author_id_a").Find(&cands).Error)
	require.Len(t, cands, 2)
	assert.Equal(t, uint(6), cands[1].AuthorIDA)
	assert.Equal(t, uint(8), cands[1].AuthorIDB)
	assert.Equal(t, models.CandidatePending, cands[1].Status)

	var linked models.AuthorRecord
	require.NoError(t, db.First(&linked, 6).Error)
	assert.Equal(t, models.ProcessingProcessed, linked.ProcessingStatus)

	var free models.AuthorRecord
	require.NoError(t, db.First(&free, 2).Error)
	assert.Nil(t, free.ORCID)
	assert.Nil(t, free.MasterAuthorID)
	assert.Equal(t, models.ProcessingUnprocessed, free.ProcessingStatus)

	var edges int64
	require.NoError(t, db.Model(&models.Authorship{}).Count(&edges).Error)
	assert.EqualValues(t, 12, edges)
}

func TestSeedRejectsSelfPairAtomically(t *testing.T) {
	db := storagetest.Open(t)
	ds := &fixtures.Dataset{
		Authors:    []fixtures.Author{{ID: 1, GivenName: "A", FamilyName: "B"}},
		Candidates: []fixtures.Candidate{{A: 1, B: 1}},
	}
	require.Error(t, fixtures.Seed(context.Background(), db, ds))

	var n int64
	require.NoError(t, db.Model(&models.AuthorRecord{}).Count(&n).Error)
	assert.EqualValues(t, 0, n)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "small.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
authors:
  - id: 1
    given_name: Ada
    family_name: Lovelace
    orcid: " 0000-0001-2345-6789 "
candidates:
  - {a: 2, b: 1, total_score: 0.5, status: rejected}
`), 0o600))

	ds, err := fixtures.LoadFile(path)
	require.NoError(t, err)
	require.Len(t, ds.Authors, 1)
	assert.Equal(t, "Lovelace", ds.Authors[0].FamilyName)
	assert.Equal(t, "rejected", ds.Candidates[0].Status)

	_, err = fixtures.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = fixtures.Parse([]byte("authors: [unclosed"))
	assert.Error(t, err)
}
