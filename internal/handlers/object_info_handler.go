package handlers

import (
	"net/http"
	"strings"

	"github.com/tuyendl123/ComfyUI/internal/nodes"
)

// ObjectInfoHandler exposes node-type introspection.
type ObjectInfoHandler struct {
	registry *nodes.Registry
}

func NewObjectInfoHandler(registry *nodes.Registry) *ObjectInfoHandler {
	return &ObjectInfoHandler{registry: registry}
}

// HandleObjectInfo serves GET /object_info and GET /object_info/{class}.
func (h *ObjectInfoHandler) HandleObjectInfo(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	class := strings.TrimPrefix(r.URL.Path, "/object_info/")
	if class != "" && class != r.URL.Path {
		def, ok := h.registry.Get(class)
		if !ok {
			WriteError(w, http.StatusNotFound, "unknown node type")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{class: def.Info()})
		return
	}

	WriteJSON(w, http.StatusOK, h.registry.AllInfo())
}
