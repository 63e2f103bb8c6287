package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agoradebate/agora/internal/api/response"
	"github.com/agoradebate/agora/internal/readings"
	"github.com/agoradebate/agora/internal/store"
)

// ReadingsHandler serves suggested readings for debate participants
type ReadingsHandler struct {
	sessions   *store.SessionStore
	aggregator *readings.Aggregator
}

// NewReadingsHandler creates a new readings handler
func NewReadingsHandler(sessions *store.SessionStore, aggregator *readings.Aggregator) *ReadingsHandler {
	return &ReadingsHandler{sessions: sessions, aggregator: aggregator}
}

// GetForSession fans out one lookup per participant and returns whatever
// succeeded. Per-participant failures are reported alongside the results
// rather than failing the request; only an already-active cooldown turns
// into a 429.
func (h *ReadingsHandler) GetForSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	results, errs, err := h.aggregator.GetReadingsForAll(r.Context(), session.Topic, session.Participants)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	failures := make(map[string]string, len(errs))
	for key, lookupErr := range errs {
		failures[key] = lookupErr.Error()
	}

	response.OK(w, map[string]any{
		"readings": results,
		"errors":   failures,
	})
}

// GetForParticipant returns readings for a single participant in a session
func (h *ReadingsHandler) GetForParticipant(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	participantID := chi.URLParam(r, "participantID")

	session, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	participant, ok := session.Participant(participantID)
	if !ok {
		response.NotFound(w, "participant not found in session")
		return
	}

	results, err := h.aggregator.GetReadings(r.Context(), session.Topic, participant)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response.OK(w, map[string]any{
		"participant": participant.IdentityKey(),
		"readings":    results,
	})
}
