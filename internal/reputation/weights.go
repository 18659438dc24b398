package reputation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	repo "github.com/waddlebot/waddlebot-core/internal/repository/reputation"
)

// Event names used in the weights table and event log.
const (
	NameChatMessage   = "chat_message"
	NameCommandUsage  = "command_usage"
	NameGiveawayEntry = "giveaway_entry"
	NameFollow        = "follow"
	NameSubscription  = "subscription"
	NameSubTier2      = "sub_tier2"
	NameSubTier3      = "sub_tier3"
	NameGiftSub       = "gift_sub"
	NameDonation      = "donation"
	NameCheer         = "cheer"
	NameRaid          = "raid"
	NameBoost         = "boost"
	NameWarn          = "warn"
	NameTimeout       = "timeout"
	NameKick          = "kick"
	NameBan           = "ban"
)

// defaultWeights apply when a community has no override row. Donation weight
// is per dollar; cheer weight is per 100 bits.
var defaultWeights = map[string]float64{
	NameChatMessage:   0.01,
	NameCommandUsage:  -0.1,
	NameGiveawayEntry: -1.0,
	NameFollow:        1.0,
	NameSubscription:  5.0,
	NameSubTier2:      10,
	NameSubTier3:      20,
	NameGiftSub:       3.0,
	NameDonation:      1.0,
	NameCheer:         1.0,
	NameRaid:          2.0,
	NameBoost:         5.0,
	NameWarn:          -25,
	NameTimeout:       -50,
	NameKick:          -75,
	NameBan:           -200,
}

// DefaultWeight returns the built-in weight for an event name.
func DefaultWeight(eventName string) (float64, bool) {
	w, ok := defaultWeights[eventName]
	return w, ok
}

// WeightResolver resolves per-community weights with a short-TTL bounded
// cache in front of the weights table.
type WeightResolver struct {
	repo  *repo.Repository
	cache *lru.LRU[string, float64]
	log   *zap.Logger
}

// NewWeightResolver creates a resolver. ttl defaults to five minutes.
func NewWeightResolver(r *repo.Repository, ttl time.Duration, log *zap.Logger) *WeightResolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &WeightResolver{
		repo:  r,
		cache: lru.NewLRU[string, float64](4096, nil, ttl),
		log:   log.With(zap.String("module", "reputation.weights")),
	}
}

// Resolve returns the weight for (communityID, eventName), falling back to
// the defaults table. Unknown event names resolve to zero.
func (wr *WeightResolver) Resolve(ctx context.Context, communityID, eventName string) float64 {
	cacheKey := communityID + ":" + eventName
	if w, ok := wr.cache.Get(cacheKey); ok {
		return w
	}
	w, err := wr.repo.GetWeight(ctx, communityID, eventName)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			wr.log.Warn("weight lookup failed, using default",
				zap.String("community_id", communityID),
				zap.String("event_name", eventName),
				zap.Error(err),
			)
		}
		w = defaultWeights[eventName]
	}
	wr.cache.Add(cacheKey, w)
	return w
}
