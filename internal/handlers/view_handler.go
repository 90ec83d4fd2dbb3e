package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/ternarybob/arbor"
	"github.com/tuyendl123/ComfyUI/internal/common"
	"github.com/tuyendl123/ComfyUI/internal/services/files"
)

// ViewHandler serves managed files: raw, transcoded previews, and channel
// extractions. Uploads land in the input root.
type ViewHandler struct {
	files         *files.Service
	maxUploadSize int64
	logger        arbor.ILogger
}

func NewViewHandler(fileGateway *files.Service, maxUploadSize int64) *ViewHandler {
	return &ViewHandler{
		files:         fileGateway,
		maxUploadSize: maxUploadSize,
		logger:        common.GetLogger(),
	}
}

// HandleView serves GET /view?filename=&type=&subfolder=&preview=&channel=.
func (h *ViewHandler) HandleView(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	query := r.URL.Query()
	filename := query.Get("filename")
	if filename == "" {
		WriteError(w, http.StatusBadRequest, "filename is required")
		return
	}
	kind := query.Get("type")
	if kind == "" {
		kind = "output"
	}

	// Annotated filenames override the type parameter.
	filename, kind = files.ParseAnnotated(filename, kind)

	path, _, err := h.files.Stat(kind, query.Get("subfolder"), filename)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	preview := query.Get("preview")
	channel := query.Get("channel")
	if preview == "" && (channel == "" || channel == "rgba") {
		w.Header().Set("Content-Disposition", fmt.Sprintf("filename=%q", filename))
		http.ServeFile(w, r, path)
		return
	}

	spec := files.ParsePreviewSpec(preview)
	body, contentType, err := files.Transcode(path, spec, channel)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Write(body)
}

// HandleUpload serves POST /upload/image (multipart).
func (h *ViewHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	kind := r.FormValue("type")
	if kind == "" {
		kind = "input"
	}
	overwrite, _ := strconv.ParseBool(r.FormValue("overwrite"))

	name, subfolder, err := h.files.SaveUpload(kind, r.FormValue("subfolder"), header.Filename, file, overwrite)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	h.logger.Debug().Str("file", name).Str("type", kind).Msg("Image uploaded")
	WriteJSON(w, http.StatusOK, map[string]any{
		"name":      name,
		"subfolder": subfolder,
		"type":      kind,
	})
}
