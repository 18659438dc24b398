package translate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Catalog TTLs. Global catalogs barely change; channel catalogs churn with
// subscriptions.
const (
	GlobalEmoteTTL    = 30 * 24 * time.Hour
	ChannelEmoteTTL   = 24 * time.Hour
	emoteFetchTimeout = 5 * time.Second
)

// EmoteSource fetches emote codes from a platform's emote service.
type EmoteSource interface {
	GlobalEmotes(ctx context.Context, platform string) ([]string, error)
	ChannelEmotes(ctx context.Context, platform, channelID string) ([]string, error)
}

// EmoteCatalog caches emote codes per platform and per channel with bounded
// TTL caches in front of an EmoteSource.
type EmoteCatalog struct {
	src     EmoteSource
	global  *lru.LRU[string, []string]
	channel *lru.LRU[string, []string]
	log     *zap.Logger
}

// NewEmoteCatalog creates a catalog over src.
func NewEmoteCatalog(src EmoteSource, log *zap.Logger) *EmoteCatalog {
	return &EmoteCatalog{
		src:     src,
		global:  lru.NewLRU[string, []string](16, nil, GlobalEmoteTTL),
		channel: lru.NewLRU[string, []string](4096, nil, ChannelEmoteTTL),
		log:     log.With(zap.String("module", "translate.emotes")),
	}
}

// Emotes returns the merged global + channel emote codes for a surface.
// Fetch failures degrade to whatever is cached; an empty catalog only means
// emotes are not preserved, never an error.
func (c *EmoteCatalog) Emotes(ctx context.Context, platform, channelID string) []string {
	var out []string
	if codes, ok := c.global.Get(platform); ok {
		out = append(out, codes...)
	} else if c.src != nil {
		codes, err := c.src.GlobalEmotes(ctx, platform)
		if err != nil {
			c.log.Warn("global emote fetch failed", zap.String("platform", platform), zap.Error(err))
		} else {
			c.global.Add(platform, codes)
			out = append(out, codes...)
		}
	}
	if channelID == "" {
		return out
	}
	key := platform + ":" + channelID
	if codes, ok := c.channel.Get(key); ok {
		return append(out, codes...)
	}
	if c.src != nil {
		codes, err := c.src.ChannelEmotes(ctx, platform, channelID)
		if err != nil {
			c.log.Warn("channel emote fetch failed", zap.String("channel_id", channelID), zap.Error(err))
			return out
		}
		c.channel.Add(key, codes)
		out = append(out, codes...)
	}
	return out
}

// HTTPEmoteSource reads emote catalogs from per-platform emote services that
// answer `{"emotes": ["Kappa", …]}`.
type HTTPEmoteSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPEmoteSource creates a source rooted at baseURL.
func NewHTTPEmoteSource(baseURL string) *HTTPEmoteSource {
	return &HTTPEmoteSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: emoteFetchTimeout},
	}
}

func (s *HTTPEmoteSource) GlobalEmotes(ctx context.Context, platform string) ([]string, error) {
	return s.fetch(ctx, fmt.Sprintf("%s/api/v1/emotes/%s/global", s.baseURL, platform))
}

func (s *HTTPEmoteSource) ChannelEmotes(ctx context.Context, platform, channelID string) ([]string, error) {
	return s.fetch(ctx, fmt.Sprintf("%s/api/v1/emotes/%s/channel/%s", s.baseURL, platform, channelID))
}

func (s *HTTPEmoteSource) fetch(ctx context.Context, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("emote service returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var payload struct {
		Emotes []string `json:"emotes"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return payload.Emotes, nil
}
