package api

import (
	"persona-kb/internal/middleware"

	"github.com/gorilla/mux"
)

func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	// Middleware runs in order: tracing, recovery, CORS
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware)

	api := r.PathPrefix("/api").Subrouter()

	// Admin workflow
	api.HandleFunc("/personas/{personaID}/sources", h.CreateSource).Methods("POST")
	api.HandleFunc("/personas/{personaID}/sources", h.ListSources).Methods("GET")
	api.HandleFunc("/personas/{personaID}/knowledge", h.DeletePersonaKnowledge).Methods("DELETE")
	api.HandleFunc("/personas/{personaID}/stats", h.GetStats).Methods("GET")

	api.HandleFunc("/sources/{id}", h.GetSource).Methods("GET")
	api.HandleFunc("/sources/{id}", h.DeleteSource).Methods("DELETE")
	api.HandleFunc("/sources/{id}/process", h.ProcessSource).Methods("POST")
	api.HandleFunc("/sources/{id}/chunks", h.ListChunks).Methods("GET")

	// Chat workflow
	api.HandleFunc("/personas/{personaID}/retrieve", h.Retrieve).Methods("POST")
	api.HandleFunc("/personas/{personaID}/chat", h.Chat).Methods("POST")

	api.HandleFunc("/health", h.Health).Methods("GET")

	r.HandleFunc("/ws/sources", h.HandleSourcesWebSocket)

	return r
}
