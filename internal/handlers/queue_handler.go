package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/tuyendl123/ComfyUI/internal/common"
	"github.com/tuyendl123/ComfyUI/internal/interfaces"
	"github.com/tuyendl123/ComfyUI/internal/models"
)

// QueueHandler exposes queue inspection and pruning.
type QueueHandler struct {
	executor interfaces.Executor
	logger   arbor.ILogger
}

func NewQueueHandler(exec interfaces.Executor) *QueueHandler {
	return &QueueHandler{
		executor: exec,
		logger:   common.GetLogger(),
	}
}

// HandleQueue serves GET /queue (snapshot) and POST /queue (clear/delete).
func (h *QueueHandler) HandleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		running, pending := h.executor.CurrentQueue()
		WriteJSON(w, http.StatusOK, models.QueueSnapshot{
			Running: running,
			Pending: pending,
		})
	case http.MethodPost:
		var req struct {
			Clear  bool     `json:"clear"`
			Delete []string `json:"delete"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if req.Clear {
			h.executor.WipeQueue()
			h.logger.Info().Msg("Queue cleared")
		}
		if len(req.Delete) > 0 {
			ids := make(map[string]bool, len(req.Delete))
			for _, id := range req.Delete {
				ids[id] = true
			}
			h.executor.DeleteQueueItem(func(item *models.QueueItem) bool {
				return ids[item.PromptID]
			})
		}
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleInterrupt serves POST /interrupt.
func (h *QueueHandler) HandleInterrupt(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	h.executor.Interrupt()
	h.logger.Info().Msg("Interrupt requested")
	w.WriteHeader(http.StatusOK)
}
