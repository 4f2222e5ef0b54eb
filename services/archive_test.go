package services

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"author-merge/config"
	"author-merge/fixtures"
	"author-merge/models"
	"author-merge/storage"
	"author-merge/storage/dbctx"
	"author-merge/storage/storagetest"
)

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	times   map[string]time.Time
	clock   time.Time
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{
		objects: map[string][]byte{},
		times:   map[string]time.Time{},
		clock:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memoryObjects) PutObject(_ context.Context, key string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = m.clock.Add(time.Minute)
	m.objects[key] = data
	m.times[key] = m.clock
	return "mem://" + key, nil
}

func (m *memoryObjects) ListObjects(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.ObjectInfo
	for k, data := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, storage.ObjectInfo{Key: k, LastModified: m.times[k], Size: int64(len(data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastModified.After(out[j].LastModified) })
	return out, nil
}

func (m *memoryObjects) DeleteObject(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	delete(m.times, key)
	return nil
}

func (m *memoryObjects) keys(prefix string) []string {
	objs, _ := m.ListObjects(context.Background(), prefix)
	keys := make([]string, 0, len(objs))
	for _, o := range objs {
		keys = append(keys, o.Key)
	}
	sort.Strings(keys)
	return keys
}

func decodeLedger(t *testing.T, data []byte) []models.MasterAuthorEntry {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	raw, err := io.ReadAll(gz)
	require.NoError(t, err)

	var out []models.MasterAuthorEntry
	dec := json.NewDecoder(bytes.NewReader(raw))
	for dec.More() {
		var e models.MasterAuthorEntry
		require.NoError(t, dec.Decode(&e))
		out = append(out, e)
	}
	return out
}

func newArchiveFixture(t *testing.T, batch int) (*LedgerArchiver, *MergeService, *memoryObjects) {
	t.Helper()
	db := storagetest.Open(t)
	ds, err := fixtures.Demo()
	require.NoError(t, err)
	require.NoError(t, fixtures.Seed(context.Background(), db, ds))

	store := storage.NewRecordStore(db)
	objects := newMemoryObjects()
	cfg := &config.Config{LedgerS3Prefix: "/ledger/", LedgerExportBatch: batch}
	archiver := NewLedgerArchiver(cfg, store, objects, zap.NewNop())
	tick := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	archiver.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return archiver, NewMergeService(db, store, zap.NewNop()), objects
}

func TestExportPendingWritesBatches(t *testing.T) {
	archiver, merge, objects := newArchiveFixture(t, 3)
	ctx := context.Background()

	report, err := archiver.ExportPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Batches)

	_, err = merge.Decide(ctx, 1, 2, "approve", nil)
	require.NoError(t, err)
	_, err = merge.Decide(ctx, 6, 8, "approve", nil)
	require.NoError(t, err)

	report, err = archiver.ExportPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Batches)
	assert.Equal(t, 4, report.Entries)
	require.Len(t, report.Keys, 2)
	for _, k := range report.Keys {
		assert.True(t, strings.HasPrefix(k, "ledger/incremental/"), k)
	}

	first := decodeLedger(t, objects.objects[report.Keys[0]])
	second := decodeLedger(t, objects.objects[report.Keys[1]])
	require.Len(t, first, 3)
	require.Len(t, second, 1)
	assert.Equal(t, report.LastEntryID, second[0].ID)

	exports, err := archiver.Store.LedgerExports(dbctx.New(ctx))
	require.NoError(t, err)
	require.Len(t, exports, 2)
	assert.Equal(t, 3, exports[0].EntryCount)
	assert.Equal(t, report.LastEntryID, exports[1].ToEntryID)

	// nichts Neues: kein weiterer Upload
	again, err := archiver.ExportPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Batches)
	assert.Len(t, objects.keys("ledger/incremental/"), 2)
}

func TestExportPendingPicksUpLateCommittedEntries(t *testing.T) {
	archiver, _, objects := newArchiveFixture(t, 10)
	ctx := context.Background()
	dbc := dbctx.New(ctx)

	entry := func(id uint) *models.MasterAuthorEntry {
		return &models.MasterAuthorEntry{
			ID:               id,
			MasterAuthorID:   7,
			OriginalAuthorID: 6,
			MergeEventID:     fmt.Sprintf("evt-%d", id),
			RawName:          "Max Mustermann",
		}
	}
	require.NoError(t, archiver.Store.AppendEntries(dbc, []*models.MasterAuthorEntry{entry(20), entry(21)}))

	first, err := archiver.ExportPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Entries)
	assert.Equal(t, uint(21), first.LastEntryID)

	// kleinere ID, deren Transaktion erst nach dem ersten Export committet
	require.NoError(t, archiver.Store.AppendEntries(dbc, []*models.MasterAuthorEntry{entry(15)}))

	second, err := archiver.ExportPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Batches)
	require.Len(t, second.Keys, 1)
	got := decodeLedger(t, objects.objects[second.Keys[0]])
	require.Len(t, got, 1)
	assert.Equal(t, uint(15), got[0].ID)
	assert.Len(t, objects.keys("ledger/incremental/"), 2)

	third, err := archiver.ExportPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, third.Batches)
}

func TestExportSnapshotAndRotate(t *testing.T) {
	archiver, merge, objects := newArchiveFixture(t, 1)
	ctx := context.Background()

	_, err := merge.Decide(ctx, 1, 2, "approve", nil)
	require.NoError(t, err)
	_, err = archiver.ExportPending(ctx)
	require.NoError(t, err)

	var keys []string
	for i := 0; i < 4; i++ {
		key, n, err := archiver.ExportSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.True(t, strings.HasPrefix(key, "ledger/snapshots/"), key)
		keys = append(keys, key)
	}
	assert.Len(t, decodeLedger(t, objects.objects[keys[0]]), 2)

	deleted, err := archiver.RotateSnapshots(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	remaining := objects.keys("ledger/snapshots/")
	assert.ElementsMatch(t, keys[2:], remaining)
	// inkrementelle Exporte bleiben unberührt
	assert.Len(t, objects.keys("ledger/incremental/"), 2)

	_, err = archiver.RotateSnapshots(ctx, 0)
	assert.Error(t, err)
}
