package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/agoradebate/agora/internal/domain"
)

const defaultModel = "gemini-1.5-flash"

// Lookup implements domain.ReadingLookup against the Gemini API. The model
// is asked for a JSON array of readings; anything it wraps the payload in
// (markdown fences, stray whitespace) is stripped before unmarshalling.
type Lookup struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, apiKey, model string) (*Lookup, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	if model == "" {
		model = defaultModel
	}
	return &Lookup{client: client, model: model}, nil
}

func (l *Lookup) Close() error {
	return l.client.Close()
}

func (l *Lookup) Lookup(ctx context.Context, query string) ([]domain.ReadingResult, error) {
	model := l.client.GenerativeModel(l.model)
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
	}

	resp, err := model.GenerateContent(ctx, genai.Text(buildPrompt(query)))
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("gemini: empty response: %w", domain.ErrUpstreamUnavailable)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}

	cleaned := cleanModelOutput(sb.String())
	var results []domain.ReadingResult
	if err := json.Unmarshal([]byte(cleaned), &results); err != nil {
		log.Warn().Err(err).Str("raw", cleaned).Msg("gemini returned unparseable readings payload")
		return nil, fmt.Errorf("gemini: parse response: %w", err)
	}
	return results, nil
}

func buildPrompt(query string) string {
	return fmt.Sprintf(`Act as a research librarian. Suggest up to 5 readings for the following request:

%s

Required Output Format (JSON array only, no prose):
[
  {"title": "text", "url": "text", "snippet": "one-sentence summary", "year": 2020, "is_primary_source": false},
  ...
]`, query)
}

// cleanModelOutput strips the markdown code fences Gemini tends to wrap
// JSON payloads in.
func cleanModelOutput(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```JSON")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}

// classifyError maps API failures onto the domain error kinds. Quota
// rejections carry the server's Retry-After when one is present.
func classifyError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 {
			return &domain.ThrottledError{RetryAfter: retryAfterFrom(apiErr)}
		}
		if apiErr.Code >= 500 {
			return fmt.Errorf("gemini: server error %d: %w", apiErr.Code, domain.ErrUpstreamUnavailable)
		}
		return fmt.Errorf("gemini: request failed: %w", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("gemini: timed out: %w", domain.ErrUpstreamUnavailable)
	}
	return fmt.Errorf("gemini: %w", err)
}

func retryAfterFrom(apiErr *googleapi.Error) time.Duration {
	if apiErr.Header == nil {
		return 0
	}
	raw := apiErr.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
