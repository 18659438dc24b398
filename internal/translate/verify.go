package translate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Verification limits. Unbounded verification dominates latency, so both the
// call count per message and the per-call deadline are capped.
const (
	MaxVerifyCalls = 3
	VerifyTimeout  = 2 * time.Second
)

// Verifier asks an AI provider for a second opinion on a detection.
type Verifier interface {
	Verify(ctx context.Context, text, language string) (Detection, error)
}

// HTTPVerifier calls an OpenAI-compatible completion endpoint that answers
// `{"language": "en", "confidence": 0.97}`.
type HTTPVerifier struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewHTTPVerifier creates a verifier against endpoint.
func NewHTTPVerifier(endpoint, apiKey, model string) *HTTPVerifier {
	return &HTTPVerifier{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: VerifyTimeout},
	}
}

func (v *HTTPVerifier) Verify(ctx context.Context, text, language string) (Detection, error) {
	ctx, cancel := context.WithTimeout(ctx, VerifyTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"model":     v.model,
		"text":      text,
		"candidate": language,
	})
	if err != nil {
		return Detection{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return Detection{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.apiKey)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return Detection{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Detection{}, fmt.Errorf("verifier returned %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Detection{}, err
	}
	var out struct {
		Language   string  `json:"language"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Detection{}, err
	}
	return Detection{Language: out.Language, Confidence: out.Confidence}, nil
}
