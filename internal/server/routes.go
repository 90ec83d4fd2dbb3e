package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.ServeWS)

	// Legacy submission surface
	mux.HandleFunc("/prompt", s.app.PromptHandler.HandlePrompt) // GET (queue info), POST (enqueue)

	// Synchronous API
	mux.HandleFunc("/api/v1/prompts", s.app.APIV1Handler.HandlePrompts) // GET (latest graph), POST (run)
	mux.HandleFunc("/api/v1/images/", s.app.APIV1Handler.HandleImage)   // GET /{digest}

	// Files
	mux.HandleFunc("/view", s.app.ViewHandler.HandleView)
	mux.HandleFunc("/upload/image", s.app.ViewHandler.HandleUpload)

	// Queue and history
	mux.HandleFunc("/queue", s.app.QueueHandler.HandleQueue)
	mux.HandleFunc("/interrupt", s.app.QueueHandler.HandleInterrupt)
	mux.HandleFunc("/history", s.app.HistoryHandler.HandleHistory)
	mux.HandleFunc("/history/", s.app.HistoryHandler.HandleHistory) // GET /{prompt_id}

	// Node introspection
	mux.HandleFunc("/object_info", s.app.ObjectInfoHandler.HandleObjectInfo)
	mux.HandleFunc("/object_info/", s.app.ObjectInfoHandler.HandleObjectInfo) // GET /{class}

	// Service endpoints
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)

	// Fallback
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			s.app.APIHandler.NotFoundHandler(w, r)
			return
		}
		s.app.APIHandler.HealthHandler(w, r)
	})

	return mux
}
