package badger

import (
	"encoding/gob"
	"fmt"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
	"github.com/tuyendl123/ComfyUI/internal/interfaces"
	"github.com/tuyendl123/ComfyUI/internal/models"
)

func init() {
	// badgerhold encodes entries with gob; concrete types stored behind
	// NodeOutput's `any` values must be registered for round-tripping.
	gob.Register([]models.ImageRef{})
	gob.Register(map[string]any{})
}

// HistoryStorage implements the HistoryStorage interface for Badger
type HistoryStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewHistoryStorage creates a new HistoryStorage instance
func NewHistoryStorage(db *BadgerDB, logger arbor.ILogger) interfaces.HistoryStorage {
	return &HistoryStorage{
		db:     db,
		logger: logger,
	}
}

// Put stores a completed execution record
func (s *HistoryStorage) Put(entry *models.HistoryEntry) error {
	if entry.PromptID == "" {
		return fmt.Errorf("history entry missing prompt id")
	}
	if err := s.db.Store().Upsert(entry.PromptID, entry); err != nil {
		return fmt.Errorf("failed to store history entry: %w", err)
	}
	s.logger.Debug().Str("prompt_id", entry.PromptID).Msg("History entry stored")
	return nil
}

// Get retrieves a single execution record by prompt ID
func (s *HistoryStorage) Get(promptID string) (*models.HistoryEntry, error) {
	var entry models.HistoryEntry
	err := s.db.Store().Get(promptID, &entry)
	if err == badgerhold.ErrNotFound {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get history entry: %w", err)
	}
	return &entry, nil
}

// GetAll returns all execution records, oldest first
func (s *HistoryStorage) GetAll() ([]*models.HistoryEntry, error) {
	var entries []*models.HistoryEntry
	if err := s.db.Store().Find(&entries, nil); err != nil {
		return nil, fmt.Errorf("failed to list history entries: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// Delete removes a single execution record
func (s *HistoryStorage) Delete(promptID string) error {
	err := s.db.Store().Delete(promptID, &models.HistoryEntry{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete history entry: %w", err)
	}
	return nil
}

// Wipe removes all execution records
func (s *HistoryStorage) Wipe() error {
	if err := s.db.Store().DeleteMatching(&models.HistoryEntry{}, nil); err != nil {
		return fmt.Errorf("failed to wipe history: %w", err)
	}
	s.logger.Debug().Msg("History wiped")
	return nil
}

// Close is a no-op; the shared connection is closed by the app
func (s *HistoryStorage) Close() error {
	return nil
}
