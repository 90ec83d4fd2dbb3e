package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/tuyendl123/ComfyUI/internal/common"
	"github.com/tuyendl123/ComfyUI/internal/interfaces"
	"github.com/tuyendl123/ComfyUI/internal/models"
	"github.com/tuyendl123/ComfyUI/internal/services/cache"
	"github.com/tuyendl123/ComfyUI/internal/services/files"
	"github.com/tuyendl123/ComfyUI/internal/services/prompts"
)

// APIV1Handler serves the synchronous request/response surface: submit a
// graph, get the resulting artifact (or its cached copy) back in the same
// exchange.
type APIV1Handler struct {
	prompts       *prompts.Service
	cache         *cache.Service
	files         *files.Service
	history       interfaces.HistoryStorage
	maxUploadSize int64
	logger        arbor.ILogger
}

func NewAPIV1Handler(promptService *prompts.Service, artifactCache *cache.Service, fileGateway *files.Service, history interfaces.HistoryStorage, maxUploadSize int64) *APIV1Handler {
	return &APIV1Handler{
		prompts:       promptService,
		cache:         artifactCache,
		files:         fileGateway,
		history:       history,
		maxUploadSize: maxUploadSize,
		logger:        common.GetLogger(),
	}
}

// HandlePrompts serves POST /api/v1/prompts (run synchronously) and
// GET /api/v1/prompts (most recently executed graph).
func (h *APIV1Handler) HandlePrompts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.latestGraph(w)
	case http.MethodPost:
		h.runSync(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *APIV1Handler) latestGraph(w http.ResponseWriter) {
	entries, err := h.history.GetAll()
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if len(entries) == 0 {
		WriteError(w, http.StatusNotFound, "no prompts have been executed")
		return
	}
	WriteJSON(w, http.StatusOK, entries[len(entries)-1].Prompt)
}

func (h *APIV1Handler) runSync(w http.ResponseWriter, r *http.Request) {
	graph, err := h.readGraph(w, r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(graph) == 0 {
		WriteError(w, http.StatusBadRequest, "no prompt")
		return
	}

	result, err := h.prompts.SubmitAndWait(r.Context(), graph, nil, "")
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	w.Header().Set("Digest", "SHA-256="+result.Digest)
	w.Header().Set("Location", "/api/v1/images/"+result.Digest)

	if strings.Contains(r.Header.Get("Accept"), "text/uri-list") {
		uris := []string{"/api/v1/images/" + result.Digest}
		if result.Ref != nil {
			q := url.Values{}
			q.Set("filename", result.Ref.Filename)
			q.Set("subfolder", result.Ref.Subfolder)
			q.Set("type", result.Ref.Type)
			uris = append(uris, "/view?"+q.Encode())
		}
		w.Header().Set("Content-Type", "text/uri-list")
		fmt.Fprint(w, strings.Join(uris, "\r\n")+"\r\n")
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("filename=%q", filepath.Base(result.Path)))
	http.ServeFile(w, r, result.Path)
}

// readGraph decodes the submitted graph from a JSON body (bare graph or a
// {"prompt": ...} wrapper) or a multipart form, saving any uploaded file
// parts into the input root with overwrite.
func (h *APIV1Handler) readGraph(w http.ResponseWriter, r *http.Request) (models.Graph, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/") {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
		reader, err := r.MultipartReader()
		if err != nil {
			return nil, fmt.Errorf("invalid multipart body")
		}
		var graph models.Graph
		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("invalid multipart body")
			}
			if part.FileName() != "" {
				if _, _, err := h.files.SaveUpload("input", "", part.FileName(), part, true); err != nil {
					return nil, fmt.Errorf("failed to save %s", part.FileName())
				}
				continue
			}
			if part.FormName() == "prompt" {
				if err := json.NewDecoder(part).Decode(&graph); err != nil {
					return nil, fmt.Errorf("invalid prompt json")
				}
			}
		}
		return graph, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxUploadSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read body")
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("no prompt")
	}

	var wrapper struct {
		Prompt models.Graph `json:"prompt"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && len(wrapper.Prompt) > 0 {
		return wrapper.Prompt, nil
	}
	var graph models.Graph
	if err := json.Unmarshal(body, &graph); err != nil {
		return nil, fmt.Errorf("invalid prompt json")
	}
	return graph, nil
}

// HandleImage serves GET /api/v1/images/{digest}: the cached artifact for
// a previously executed graph.
func (h *APIV1Handler) HandleImage(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	digest := strings.TrimPrefix(r.URL.Path, "/api/v1/images/")
	if digest == "" || strings.Contains(digest, "/") {
		WriteError(w, http.StatusBadRequest, "invalid digest")
		return
	}
	path, ok := h.cache.Lookup(digest)
	if !ok {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Digest", "SHA-256="+digest)
	w.Header().Set("Content-Disposition", fmt.Sprintf("filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}
