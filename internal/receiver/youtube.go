package receiver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/waddlebot/waddlebot-core/internal/events"
	"github.com/waddlebot/waddlebot-core/internal/repository/routing"
)

const youtubeAPIBase = "https://www.googleapis.com/youtube/v3"

// YouTubeAdapter polls live-chat messages at the interval the API returns
// and receives PubSubHubbub notifications for video/stream updates.
type YouTubeAdapter struct {
	apiKey  string
	emitter *Emitter
	baseURL string
	client  *http.Client
	log     *zap.Logger

	mu       sync.Mutex
	channels map[string]routing.Channel // liveChatID -> channel
	pages    map[string]string          // liveChatID -> nextPageToken
}

// NewYouTubeAdapter creates the adapter.
func NewYouTubeAdapter(apiKey string, emitter *Emitter, log *zap.Logger) *YouTubeAdapter {
	return &YouTubeAdapter{
		apiKey:   apiKey,
		emitter:  emitter,
		baseURL:  youtubeAPIBase,
		client:   &http.Client{Timeout: 15 * time.Second},
		log:      log.With(zap.String("module", "receiver.youtube")),
		channels: make(map[string]routing.Channel),
		pages:    make(map[string]string),
	}
}

func (a *YouTubeAdapter) Platform() events.Platform { return events.PlatformYouTube }

func (a *YouTubeAdapter) UpdateChannels(channels []routing.Channel) {
	next := make(map[string]routing.Channel, len(channels))
	for _, ch := range channels {
		_, _, liveChatID, err := events.ParseEntityID(ch.EntityID)
		if err != nil {
			continue
		}
		next[liveChatID] = ch
	}
	a.mu.Lock()
	a.channels = next
	a.mu.Unlock()
}

// Run polls every attached live chat. The next delay per chat comes from the
// API's pollingIntervalMillis; errors back off to a fixed retry delay.
func (a *YouTubeAdapter) Run(ctx context.Context) error {
	const fallbackInterval = 5 * time.Second
	timers := map[string]time.Time{}
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		a.mu.Lock()
		ids := make([]string, 0, len(a.channels))
		for id := range a.channels {
			ids = append(ids, id)
		}
		a.mu.Unlock()

		now := time.Now()
		for _, id := range ids {
			if due, ok := timers[id]; ok && now.Before(due) {
				continue
			}
			interval, err := a.pollOnce(ctx, id)
			if err != nil {
				a.log.Warn("live chat poll failed", zap.String("live_chat_id", id), zap.Error(err))
				interval = fallbackInterval
			}
			timers[id] = now.Add(interval)
		}
	}
}

// pollOnce fetches one page of live-chat messages and returns the interval
// the API asks us to wait.
func (a *YouTubeAdapter) pollOnce(ctx context.Context, liveChatID string) (time.Duration, error) {
	a.mu.Lock()
	pageToken := a.pages[liveChatID]
	a.mu.Unlock()

	url := fmt.Sprintf("%s/liveChat/messages?liveChatId=%s&part=snippet,authorDetails&key=%s",
		a.baseURL, liveChatID, a.apiKey)
	if pageToken != "" {
		url += "&pageToken=" + pageToken
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("live chat poll returned %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, err
	}
	var out struct {
		NextPageToken         string `json:"nextPageToken"`
		PollingIntervalMillis int    `json:"pollingIntervalMillis"`
		Items                 []struct {
			Snippet struct {
				Type           string `json:"type"`
				DisplayMessage string `json:"displayMessage"`
				PublishedAt    string `json:"publishedAt"`
				SuperChat      *struct {
					AmountMicros string `json:"amountMicros"`
					Currency     string `json:"currency"`
				} `json:"superChatDetails"`
			} `json:"snippet"`
			Author struct {
				ChannelID   string `json:"channelId"`
				DisplayName string `json:"displayName"`
			} `json:"authorDetails"`
		} `json:"items"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, err
	}

	a.mu.Lock()
	a.pages[liveChatID] = out.NextPageToken
	a.mu.Unlock()

	for _, item := range out.Items {
		env := &events.Envelope{
			Platform:    events.PlatformYouTube,
			ServerID:    liveChatID,
			ChannelID:   liveChatID,
			UserID:      item.Author.ChannelID,
			Username:    item.Author.DisplayName,
			DisplayName: item.Author.DisplayName,
			Message:     item.Snippet.DisplayMessage,
			Metadata:    map[string]any{},
		}
		switch item.Snippet.Type {
		case "textMessageEvent":
			env.EventType = events.EventChatMessage
		case "superChatEvent":
			env.EventType = events.EventDonation
			if sc := item.Snippet.SuperChat; sc != nil {
				env.Metadata["amount_micros"] = sc.AmountMicros
				env.Metadata["currency"] = sc.Currency
			}
		case "newSponsorEvent":
			env.EventType = events.EventSubscription
		default:
			env.EventType = events.EventUnknown
			env.Metadata["raw"] = map[string]any{"type": item.Snippet.Type}
		}
		if err := a.emitter.Emit(ctx, env); err != nil {
			a.log.Warn("emit failed", zap.Error(err))
		}
	}

	interval := time.Duration(out.PollingIntervalMillis) * time.Millisecond
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return interval, nil
}

// WebSubHandler answers PubSubHubbub verification and accepts feed pushes
// for video/stream notifications.
func (a *YouTubeAdapter) WebSubHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if HandleWebSub(w, r, nil) {
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			http.Error(w, "unreadable body", http.StatusBadRequest)
			return
		}
		env := &events.Envelope{
			EventType: events.EventUnknown,
			Platform:  events.PlatformYouTube,
			ServerID:  "feed",
			ChannelID: "feed",
			Metadata:  map[string]any{"raw": string(body), "source": "websub"},
		}
		if err := a.emitter.Emit(r.Context(), env); err != nil {
			a.log.Warn("emit failed", zap.Error(err))
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
