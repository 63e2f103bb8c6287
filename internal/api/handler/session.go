package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/agoradebate/agora/internal/api/response"
	"github.com/agoradebate/agora/internal/domain"
	"github.com/agoradebate/agora/internal/store"
)

// SessionHandler handles debate session endpoints
type SessionHandler struct {
	sessions *store.SessionStore
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *store.SessionStore) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

type createSessionRequest struct {
	ID           string               `json:"id"`
	Topic        string               `json:"topic" validate:"required"`
	OwnerID      string               `json:"owner_id"`
	Participants []domain.Participant `json:"participants" validate:"required,min=1"`
}

// Create initializes a new debate session
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	for _, p := range req.Participants {
		if p.Stance != domain.StancePro && p.Stance != domain.StanceCon {
			response.BadRequest(w, "participant stance must be pro or con")
			return
		}
	}

	id, err := h.sessions.InitializeSession(r.Context(), req.ID, req.Topic, req.Participants, req.OwnerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response.Created(w, map[string]string{"id": id})
}

// Get returns the full session, messages included
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response.OK(w, session)
}

// Delete removes a session from both tiers
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.sessions.DeleteSession(r.Context(), sessionID); err != nil {
		writeDomainError(w, err)
		return
	}

	response.OK(w, map[string]string{"message": "session deleted"})
}

type appendMessageRequest struct {
	Role      string `json:"role" validate:"required,oneof=user participant"`
	SpeakerID string `json:"speaker_id"`
	Content   string `json:"content" validate:"required"`
}

// AppendMessage appends one message to the session transcript
func (h *SessionHandler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req appendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	role := domain.MessageRole(req.Role)
	if role == domain.RoleParticipant && req.SpeakerID == "" {
		response.BadRequest(w, "speaker_id is required for participant messages")
		return
	}

	msg := domain.Message{
		Role:      role,
		SpeakerID: req.SpeakerID,
		Content:   req.Content,
	}
	if err := h.sessions.AppendMessage(r.Context(), sessionID, &msg); err != nil {
		writeDomainError(w, err)
		return
	}

	response.Created(w, msg)
}

// ListMessages returns messages after a cursor. The cursor comes in one of
// two forms: since_seq (numeric sequence) or since_id (message id from a
// previous response). Without either the full transcript is returned.
func (h *SessionHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var since store.Cursor
	if raw := r.URL.Query().Get("since_seq"); raw != "" {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.BadRequest(w, "since_seq must be an integer")
			return
		}
		since = store.Cursor{Sequence: seq, BySequence: true}
	} else if raw := r.URL.Query().Get("since_id"); raw != "" {
		since = store.Cursor{MessageID: raw}
	}

	messages, err := h.sessions.ListNewMessages(r.Context(), sessionID, since)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response.OK(w, messages)
}
