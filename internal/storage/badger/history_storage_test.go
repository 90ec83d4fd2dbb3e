package badger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/tuyendl123/ComfyUI/internal/common"
	"github.com/tuyendl123/ComfyUI/internal/interfaces"
	"github.com/tuyendl123/ComfyUI/internal/models"
)

func newTestStorage(t *testing.T) interfaces.HistoryStorage {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := NewBadgerDB(logger, &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "badger"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewHistoryStorage(db, logger)
}

func entry(promptID string, number float64, ts time.Time) *models.HistoryEntry {
	return &models.HistoryEntry{
		PromptID: promptID,
		Number:   number,
		Prompt: models.Graph{
			"1": {ClassType: "EmptyImage", Inputs: map[string]any{"width": 8.0}},
		},
		Outputs: models.Outputs{
			"1": {"images": []models.ImageRef{{Filename: "out.png", Type: "output"}}},
		},
		Timestamp: ts,
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	storage := newTestStorage(t)

	original := entry("p-1", 3, time.Now().UTC())
	require.NoError(t, storage.Put(original))

	got, err := storage.Get("p-1")
	require.NoError(t, err)
	assert.Equal(t, original.PromptID, got.PromptID)
	assert.Equal(t, original.Number, got.Number)
	assert.Equal(t, "EmptyImage", got.Prompt["1"].ClassType)
}

func TestHistoryGetMissing(t *testing.T) {
	storage := newTestStorage(t)

	_, err := storage.Get("nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestHistoryPutRequiresID(t *testing.T) {
	storage := newTestStorage(t)
	assert.Error(t, storage.Put(&models.HistoryEntry{}))
}

func TestHistoryUpsertReplaces(t *testing.T) {
	storage := newTestStorage(t)

	require.NoError(t, storage.Put(entry("p-1", 1, time.Now())))
	require.NoError(t, storage.Put(entry("p-1", 2, time.Now())))

	got, err := storage.Get("p-1")
	require.NoError(t, err)
	assert.Equal(t, float64(2), got.Number)

	all, err := storage.GetAll()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestHistoryGetAllOldestFirst(t *testing.T) {
	storage := newTestStorage(t)

	base := time.Now().UTC()
	require.NoError(t, storage.Put(entry("newer", 2, base.Add(time.Minute))))
	require.NoError(t, storage.Put(entry("older", 1, base)))

	all, err := storage.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "older", all[0].PromptID)
	assert.Equal(t, "newer", all[1].PromptID)
}

func TestHistoryDeleteAndWipe(t *testing.T) {
	storage := newTestStorage(t)

	require.NoError(t, storage.Put(entry("p-1", 1, time.Now())))
	require.NoError(t, storage.Put(entry("p-2", 2, time.Now())))

	require.NoError(t, storage.Delete("p-1"))
	// Deleting an absent entry is not an error.
	require.NoError(t, storage.Delete("p-1"))

	_, err := storage.Get("p-1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, storage.Wipe())
	all, err := storage.GetAll()
	require.NoError(t, err)
	assert.Empty(t, all)
}
