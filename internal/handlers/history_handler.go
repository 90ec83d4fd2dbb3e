package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/tuyendl123/ComfyUI/internal/common"
	"github.com/tuyendl123/ComfyUI/internal/interfaces"
	"github.com/tuyendl123/ComfyUI/internal/models"
)

// HistoryHandler exposes the persisted execution record.
type HistoryHandler struct {
	history interfaces.HistoryStorage
	logger  arbor.ILogger
}

func NewHistoryHandler(history interfaces.HistoryStorage) *HistoryHandler {
	return &HistoryHandler{
		history: history,
		logger:  common.GetLogger(),
	}
}

// HandleHistory serves GET /history, GET /history/{prompt_id}, and
// POST /history (clear/delete).
func (h *HistoryHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if id := strings.TrimPrefix(r.URL.Path, "/history/"); id != "" && id != r.URL.Path {
			h.getOne(w, id)
			return
		}
		h.getAll(w)
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
			if err := h.history.Wipe(); err != nil {
				h.logger.Warn().Err(err).Msg("Failed to wipe history")
			}
		}
		for _, id := range req.Delete {
			if err := h.history.Delete(id); err != nil {
				h.logger.Warn().Err(err).Str("prompt_id", id).Msg("Failed to delete history entry")
			}
		}
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HistoryHandler) getOne(w http.ResponseWriter, promptID string) {
	entry, err := h.history.Get(promptID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		promptID: historyBody(entry),
	})
}

func (h *HistoryHandler) getAll(w http.ResponseWriter) {
	entries, err := h.history.GetAll()
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	out := make(map[string]any, len(entries))
	for _, entry := range entries {
		out[entry.PromptID] = historyBody(entry)
	}
	WriteJSON(w, http.StatusOK, out)
}

func historyBody(entry *models.HistoryEntry) map[string]any {
	return map[string]any{
		"prompt":  []any{entry.Number, entry.PromptID, entry.Prompt, entry.ExtraData},
		"outputs": entry.Outputs,
	}
}
