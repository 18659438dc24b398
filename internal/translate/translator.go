package translate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Translator converts text between languages.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// HTTPTranslator speaks the LibreTranslate wire shape: POST /translate with
// {q, source, target, format} answered by {translatedText}.
type HTTPTranslator struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPTranslator creates a translator against endpoint.
func NewHTTPTranslator(endpoint, apiKey string, timeout time.Duration) *HTTPTranslator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTranslator{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"q":       text,
		"source":  source,
		"target":  target,
		"format":  "text",
		"api_key": t.apiKey,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translator returned %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var out struct {
		TranslatedText string `json:"translatedText"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	return out.TranslatedText, nil
}
