package receiver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TokenRefreshBuffer is how close to expiry a token may get before it is
// refreshed ahead of use.
const TokenRefreshBuffer = 300 * time.Second

const twitchTokenURL = "https://id.twitch.tv/oauth2/token"

// TokenState is the persisted OAuth token pair.
type TokenState struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// TokenPersister stores a refreshed token pair atomically.
type TokenPersister func(ctx context.Context, state TokenState) error

// TwitchTokenManager hands out a live access token, refreshing it when it
// is inside the expiry buffer. Safe for concurrent use.
type TwitchTokenManager struct {
	// RefreshBuffer may be overridden before first use.
	RefreshBuffer time.Duration

	clientID     string
	clientSecret string
	tokenURL     string
	persist      TokenPersister
	client       *http.Client
	log          *zap.Logger

	mu    sync.Mutex
	state TokenState
}

// NewTwitchTokenManager creates a manager seeded with state.
func NewTwitchTokenManager(clientID, clientSecret string, state TokenState, persist TokenPersister, log *zap.Logger) *TwitchTokenManager {
	return &TwitchTokenManager{
		RefreshBuffer: TokenRefreshBuffer,
		clientID:      clientID,
		clientSecret:  clientSecret,
		tokenURL:      twitchTokenURL,
		persist:       persist,
		client:        &http.Client{Timeout: 10 * time.Second},
		state:         state,
		log:           log.With(zap.String("module", "receiver.twitch.token")),
	}
}

// Token returns a live access token, refreshing first when the current one
// expires within the buffer window.
func (m *TwitchTokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Until(m.state.ExpiresAt) > m.RefreshBuffer {
		return m.state.AccessToken, nil
	}
	if err := m.refreshLocked(ctx); err != nil {
		return "", err
	}
	return m.state.AccessToken, nil
}

func (m *TwitchTokenManager) refreshLocked(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {m.state.RefreshToken},
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token refresh returned %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return err
	}
	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}

	next := TokenState{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(out.ExpiresIn) * time.Second),
	}
	if next.RefreshToken == "" {
		next.RefreshToken = m.state.RefreshToken
	}
	// Persist before swapping so a crash never loses the new refresh token.
	if m.persist != nil {
		if err := m.persist(ctx, next); err != nil {
			return fmt.Errorf("persist token: %w", err)
		}
	}
	m.state = next
	m.log.Info("twitch token refreshed", zap.Time("expires_at", next.ExpiresAt))
	return nil
}
