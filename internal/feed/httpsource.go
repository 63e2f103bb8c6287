package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agoradebate/agora/internal/domain"
	"github.com/agoradebate/agora/internal/store"
)

// HTTPSource is a Source backed by the server's message feed endpoint,
// for synchronizers running outside the server process.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (h *HTTPSource) ListNewMessages(ctx context.Context, sessionID string, since store.Cursor) ([]domain.Message, error) {
	u := fmt.Sprintf("%s/api/v1/sessions/%s/messages", h.baseURL, url.PathEscape(sessionID))

	q := url.Values{}
	if since.BySequence {
		q.Set("since_seq", strconv.FormatInt(since.Sequence, 10))
	} else if since.MessageID != "" {
		q.Set("since_id", since.MessageID)
	}
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed request returned status %d", resp.StatusCode)
	}

	var envelope struct {
		Success bool             `json:"success"`
		Data    []domain.Message `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode feed response: %w", err)
	}

	return envelope.Data, nil
}
