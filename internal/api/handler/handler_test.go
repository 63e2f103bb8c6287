package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoradebate/agora/internal/api"
	"github.com/agoradebate/agora/internal/config"
	"github.com/agoradebate/agora/internal/domain"
	"github.com/agoradebate/agora/internal/metrics"
	"github.com/agoradebate/agora/internal/readings"
	"github.com/agoradebate/agora/internal/repository/memory"
	"github.com/agoradebate/agora/internal/store"
)

type staticLookup struct{}

func (staticLookup) Lookup(ctx context.Context, query string) ([]domain.ReadingResult, error) {
	return []domain.ReadingResult{{Title: "On Rhetoric", URL: "https://example.org/rhetoric"}}, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	cfg := &config.Config{}
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"

	sessions := store.New(memory.NewCache(), memory.NewDurable(), store.Options{})
	metricsStore := metrics.NewStore(100)
	agg := readings.NewAggregator(staticLookup{}, readings.NewLimiter(), metricsStore, readings.Options{
		CallDelay: time.Millisecond,
	})

	return api.NewRouter(cfg, api.Deps{
		Sessions:   sessions,
		Aggregator: agg,
		Metrics:    metricsStore,
	})
}

func makeJSONRequest(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	return envelope
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, true, envelope["success"])
}

func TestSessionLifecycle(t *testing.T) {
	router := newTestRouter(t)

	// Create
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, makeJSONRequest(http.MethodPost, "/api/v1/sessions", map[string]any{
		"topic":    "Should cities ban cars from their centers?",
		"owner_id": "user-1",
		"participants": []map[string]any{
			{"id": "p-1", "name": "Jane Jacobs", "stance": "pro", "kind": "fixed-persona"},
			{"id": "p-2", "name": "Robert Moses", "stance": "con", "kind": "fixed-persona"},
		},
	}))
	require.Equal(t, http.StatusCreated, rec.Code)

	envelope := decodeEnvelope(t, rec)
	data := envelope["data"].(map[string]any)
	sessionID := data["id"].(string)
	require.NotEmpty(t, sessionID)

	// Append a user message, then a participant reply
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, makeJSONRequest(http.MethodPost, "/api/v1/sessions/"+sessionID+"/messages", map[string]any{
		"role":    "user",
		"content": "What about emergency vehicles?",
	}))
	require.Equal(t, http.StatusCreated, rec.Code)

	envelope = decodeEnvelope(t, rec)
	userMsg := envelope["data"].(map[string]any)
	userMsgID := userMsg["id"].(string)
	assert.Equal(t, float64(0), userMsg["sequence"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, makeJSONRequest(http.MethodPost, "/api/v1/sessions/"+sessionID+"/messages", map[string]any{
		"role":       "participant",
		"speaker_id": "p-1",
		"content":    "Exemptions for emergency access are standard in every car-free zone.",
	}))
	require.Equal(t, http.StatusCreated, rec.Code)

	// Only the reply arrives when polling past the user message
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+sessionID+"/messages?since_id="+userMsgID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	envelope = decodeEnvelope(t, rec)
	messages := envelope["data"].([]any)
	require.Len(t, messages, 1)
	assert.Equal(t, float64(1), messages[0].(map[string]any)["sequence"])

	// Full session still holds both
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+sessionID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	envelope = decodeEnvelope(t, rec)
	session := envelope["data"].(map[string]any)
	assert.Len(t, session["messages"], 2)

	// Delete
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/"+sessionID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+sessionID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSession_Validation(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, makeJSONRequest(http.MethodPost, "/api/v1/sessions", map[string]any{
		"topic": "No participants",
	}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, makeJSONRequest(http.MethodPost, "/api/v1/sessions", map[string]any{
		"topic": "Bad stance",
		"participants": []map[string]any{
			{"id": "p-1", "name": "X", "stance": "maybe", "kind": "fixed-persona"},
		},
	}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSession_DuplicateID(t *testing.T) {
	router := newTestRouter(t)

	body := map[string]any{
		"id":    "dup-1",
		"topic": "t",
		"participants": []map[string]any{
			{"id": "p-1", "name": "X", "stance": "pro", "kind": "fixed-persona"},
		},
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, makeJSONRequest(http.MethodPost, "/api/v1/sessions", body))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, makeJSONRequest(http.MethodPost, "/api/v1/sessions", body))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAppendMessage_ParticipantRequiresSpeaker(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, makeJSONRequest(http.MethodPost, "/api/v1/sessions", map[string]any{
		"id":    "s-1",
		"topic": "t",
		"participants": []map[string]any{
			{"id": "p-1", "name": "X", "stance": "pro", "kind": "fixed-persona"},
		},
	}))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, makeJSONRequest(http.MethodPost, "/api/v1/sessions/s-1/messages", map[string]any{
		"role":    "participant",
		"content": "no speaker",
	}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadingsForSession(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, makeJSONRequest(http.MethodPost, "/api/v1/sessions", map[string]any{
		"id":    "s-r",
		"topic": "t",
		"participants": []map[string]any{
			{"id": "p-1", "name": "Ada", "stance": "pro", "kind": "fixed-persona"},
			{"id": "p-2", "name": "Bert", "stance": "con", "kind": "generated-persona"},
		},
	}))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s-r/readings", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	envelope := decodeEnvelope(t, rec)
	data := envelope["data"].(map[string]any)
	results := data["readings"].(map[string]any)
	assert.Len(t, results, 2)
	assert.Empty(t, data["errors"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s-r/readings/p-2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s-r/readings/absent", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	// Generate one sample first
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	envelope := decodeEnvelope(t, rec)
	stats := envelope["data"].(map[string]any)
	assert.Contains(t, stats, "GET /api/v1/health")
}

func TestPendingWritesEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/pending-writes", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	envelope := decodeEnvelope(t, rec)
	data := envelope["data"].(map[string]any)
	assert.Equal(t, float64(0), data["count"])
}
