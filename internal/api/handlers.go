package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"persona-kb/internal/middleware"
	"persona-kb/internal/models"
	"persona-kb/internal/services"

	"github.com/gorilla/mux"
)

// Handler handles HTTP requests for the admin and chat workflows
type Handler struct {
	processor SourceService
	sources   SourceReader
	chunks    ChunkReader
	queue     ProcessingQueue
	retriever Retriever
	chat      ChatService
	stats     StatsService
	feed      StatusFeed
}

// Deps groups the collaborators of a Handler. Feed may be nil.
type Deps struct {
	Processor SourceService
	Sources   SourceReader
	Chunks    ChunkReader
	Queue     ProcessingQueue
	Retriever Retriever
	Chat      ChatService
	Stats     StatsService
	Feed      StatusFeed
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		processor: d.Processor,
		sources:   d.Sources,
		chunks:    d.Chunks,
		queue:     d.Queue,
		retriever: d.Retriever,
		chat:      d.Chat,
		stats:     d.Stats,
		feed:      d.Feed,
	}
}

// Source handlers

func (h *Handler) CreateSource(w http.ResponseWriter, r *http.Request) {
	var in models.SourceCreate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	in.PersonaID = mux.Vars(r)["personaID"]

	created, err := h.processor.Submit(r.Context(), &in)
	if err != nil {
		respondError(w, err)
		return
	}

	if r.URL.Query().Get("process") == "true" {
		if err := h.queue.Enqueue(r.Context(), created.ID); err != nil {
			log.Printf("[%s] ⚠️  Source %s created but not queued: %v", middleware.GetRequestID(r.Context()), created.ID, err)
			http.Error(w, "Source created but could not be queued for processing", http.StatusServiceUnavailable)
			return
		}
	}

	respondJSON(w, http.StatusCreated, created)
}

func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	personaID := mux.Vars(r)["personaID"]
	sources, err := h.sources.ListByPersona(r.Context(), personaID, limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sources": sources,
		"limit":   limit,
		"offset":  offset,
	})
}

func (h *Handler) GetSource(w http.ResponseWriter, r *http.Request) {
	source, err := h.sources.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, source)
}

// ProcessSource queues a processing run. With ?sync=true the run happens
// inside the request and the terminal source is returned.
func (h *Handler) ProcessSource(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := h.sources.GetByID(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}

	if r.URL.Query().Get("sync") == "true" {
		source, err := h.processor.Process(r.Context(), id)
		if err != nil && source == nil {
			respondError(w, err)
			return
		}
		// a failed run still reports the source with its error message
		respondJSON(w, http.StatusOK, source)
		return
	}

	if err := h.queue.Enqueue(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"source_id":    id,
		"status":       "queued",
		"queue_length": h.queue.Len(),
	})
}

func (h *Handler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	if err := h.processor.DeleteSource(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListChunks(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := h.sources.GetByID(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}

	chunks, err := h.chunks.ListBySource(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"source_id": id,
		"chunks":    chunks,
	})
}

func (h *Handler) DeletePersonaKnowledge(w http.ResponseWriter, r *http.Request) {
	if err := h.processor.DeletePersona(r.Context(), mux.Vars(r)["personaID"]); err != nil {
		respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Chat workflow handlers

type retrieveRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (h *Handler) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.TopK < 0 {
		http.Error(w, "top_k must not be negative", http.StatusBadRequest)
		return
	}

	personaID := mux.Vars(r)["personaID"]
	results, err := h.retriever.Retrieve(r.Context(), personaID, req.Query, req.TopK)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"persona_id": personaID,
		"query":      req.Query,
		"results":    results,
	})
}

func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req services.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.PersonaID = mux.Vars(r)["personaID"]

	reply, err := h.chat.Reply(r.Context(), &req)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, reply)
}

// Diagnostics

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context(), mux.Vars(r)["personaID"])
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.stats.Health(r.Context())

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, status)
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// respondError maps service errors onto status codes.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrSourceNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrPersonaRequired), errors.Is(err, services.ErrQueryRequired),
		errors.Is(err, services.ErrInvalidSource):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrResponderUnavailable), errors.Is(err, services.ErrQueueClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case models.IsProviderError(err), models.IsIndexError(err):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
