package interfaces

import (
	"github.com/tuyendl123/ComfyUI/internal/models"
)

// HistoryStorage persists completed executions.
type HistoryStorage interface {
	Put(entry *models.HistoryEntry) error
	Get(promptID string) (*models.HistoryEntry, error)
	// GetAll returns entries in completion order, oldest first.
	GetAll() ([]*models.HistoryEntry, error)
	Delete(promptID string) error
	Wipe() error
	Close() error
}
