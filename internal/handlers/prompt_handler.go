package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/tuyendl123/ComfyUI/internal/common"
	"github.com/tuyendl123/ComfyUI/internal/models"
	"github.com/tuyendl123/ComfyUI/internal/services/prompts"
)

// PromptHandler serves the legacy fire-and-forget submission surface.
type PromptHandler struct {
	prompts *prompts.Service
	logger  arbor.ILogger
}

func NewPromptHandler(service *prompts.Service) *PromptHandler {
	return &PromptHandler{
		prompts: service,
		logger:  common.GetLogger(),
	}
}

type promptRequest struct {
	Prompt    models.Graph   `json:"prompt"`
	Number    *float64       `json:"number"`
	Front     bool           `json:"front"`
	ExtraData map[string]any `json:"extra_data"`
	ClientID  string         `json:"client_id"`
}

// HandlePrompt serves GET /prompt (queue info) and POST /prompt (enqueue).
func (h *PromptHandler) HandlePrompt(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		WriteJSON(w, http.StatusOK, map[string]any{
			"exec_info": map[string]any{
				"queue_remaining": h.prompts.QueueInfo(),
			},
		})
	case http.MethodPost:
		h.handleSubmit(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *PromptHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]any{
			"error":       "invalid json",
			"node_errors": map[string]any{},
		})
		return
	}

	if len(req.Prompt) == 0 {
		WriteJSON(w, http.StatusBadRequest, map[string]any{
			"error":       "no prompt",
			"node_errors": map[string]any{},
		})
		return
	}

	result, err := h.prompts.Submit(prompts.SubmitRequest{
		Graph:     req.Prompt,
		Number:    req.Number,
		Front:     req.Front,
		ExtraData: req.ExtraData,
		ClientID:  req.ClientID,
	})
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}
