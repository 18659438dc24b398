// Package main runs the trigger receivers and action pushers: platform
// adapters normalize events onto the inbound stream, the actions consumer
// delivers chat, moderation, and overlay side-effects back out.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/waddlebot/waddlebot-core/database/connect"
	"github.com/waddlebot/waddlebot-core/internal/config"
	"github.com/waddlebot/waddlebot-core/internal/pusher"
	"github.com/waddlebot/waddlebot-core/internal/receiver"
	"github.com/waddlebot/waddlebot-core/internal/repository/routing"
	"github.com/waddlebot/waddlebot-core/internal/server"
	"github.com/waddlebot/waddlebot-core/internal/stream"
	"github.com/waddlebot/waddlebot-core/pkg/aaa"
	"github.com/waddlebot/waddlebot-core/pkg/health"
	"github.com/waddlebot/waddlebot-core/pkg/logger"
	"github.com/waddlebot/waddlebot-core/pkg/metricsutil"
	"github.com/waddlebot/waddlebot-core/pkg/redis"
)

const version = "1.0.0"

// Exit codes: 1 configuration, 2 runtime failure, 3 dependency unreachable.
func main() {
	cfg, err := config.Load("receiver")
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{
		Environment: cfg.AppEnv,
		LogLevel:    cfg.LogLevel,
		ServiceName: "receiver",
	})
	defer func() { _ = log.Sync() }()
	metricsutil.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		log.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := connect.Postgres(ctx, log, cfg.DatabaseURL)
	if err != nil {
		log.Error("open database", zap.Error(err))
		os.Exit(3)
	}
	defer db.Close()

	rdb, err := redis.NewClient(redis.Config{URL: cfg.RedisURL}, log)
	if err != nil {
		log.Error("connect redis", zap.Error(err))
		os.Exit(3)
	}
	defer rdb.Close()

	audit := aaa.NewLogger(log)
	routingRepo := routing.NewRepository(db)
	producer := stream.NewProducer(rdb, log)
	emitter := receiver.NewEmitter(producer, log)

	var adapters []receiver.Adapter
	var pushers []pusher.Pusher
	var routes []func(*http.ServeMux)

	wantPlatform := func(name string) bool {
		return cfg.ReceiverPlatform == "" || cfg.ReceiverPlatform == name
	}

	var twitchTokens *receiver.TwitchTokenManager
	if wantPlatform("twitch") && cfg.TwitchClientID != "" {
		twitchTokens = receiver.NewTwitchTokenManager(
			cfg.TwitchClientID, cfg.TwitchClientSecret,
			receiver.TokenState{AccessToken: cfg.TwitchBotToken, RefreshToken: cfg.TwitchRefreshToken},
			nil, log,
		)
		twitchTokens.RefreshBuffer = cfg.TokenRefreshBuffer
		guard := receiver.NewWebhookGuard(cfg.TwitchWebhookSecret, "Twitch-Eventsub-Message-Signature", audit, log)
		twitch := receiver.NewTwitchAdapter("waddlebot", twitchTokens, emitter, guard, log)
		adapters = append(adapters, twitch)
		routes = append(routes, func(m *http.ServeMux) {
			m.HandleFunc("POST /webhooks/twitch/eventsub", twitch.EventSubHandler())
		})
		pushers = append(pushers, pusher.NewTwitchPusher(cfg.TwitchClientID, cfg.TwitchBotUserID, func() (string, error) {
			return twitchTokens.Token(context.Background())
		}))
	}

	if wantPlatform("discord") && cfg.DiscordBotToken != "" {
		discord := receiver.NewDiscordAdapter(cfg.DiscordBotToken, emitter, log)
		adapters = append(adapters, discord)
		pushers = append(pushers, pusher.NewDiscordPusher(&lazyDiscordSession{adapter: discord}))
	}

	if wantPlatform("slack") && cfg.SlackSigningSecret != "" {
		slack := receiver.NewSlackAdapter(cfg.SlackSigningSecret, emitter, audit, log)
		adapters = append(adapters, slack)
		routes = append(routes, func(m *http.ServeMux) {
			m.HandleFunc("POST /webhooks/slack/events", slack.EventsHandler())
			m.HandleFunc("POST /webhooks/slack/interactions", slack.InteractionsHandler())
		})
		pushers = append(pushers, pusher.NewSlackPusher(cfg.SlackBotToken))
	}

	if wantPlatform("youtube") && cfg.YouTubeAPIKey != "" {
		youtube := receiver.NewYouTubeAdapter(cfg.YouTubeAPIKey, emitter, log)
		adapters = append(adapters, youtube)
		routes = append(routes, func(m *http.ServeMux) {
			m.HandleFunc("/webhooks/youtube/websub", youtube.WebSubHandler())
		})
	}

	if wantPlatform("kick") && cfg.KickPusherAppKey != "" {
		guard := receiver.NewWebhookGuard(cfg.KickWebhookSecret, "Kick-Event-Signature", audit, log)
		kick := receiver.NewKickAdapter(cfg.KickPusherAppKey, cfg.KickPusherCluster, emitter, guard, log)
		adapters = append(adapters, kick)
		routes = append(routes, func(m *http.ServeMux) {
			m.HandleFunc("POST /webhooks/kick", kick.WebhookHandler())
		})
	}

	if len(adapters) == 0 {
		log.Error("no platform adapters configured")
		os.Exit(1)
	}

	overlay := pusher.NewOverlayHub(os.Getenv("OVERLAY_ALLOWED_ORIGINS"), log)
	registry := pusher.NewRegistry(log, pushers...)
	svc := receiver.NewService(routingRepo, cfg.DiscoveryRefresh, log, adapters...)

	checker := health.NewChecker()
	checker.Register(health.NewDatabaseCheck("postgres", db))
	checker.Register(health.NewRedisCheck("redis", rdb))

	srv := server.New(server.Options{
		Addr:        ":" + cfg.ModulePort,
		MetricsAddr: metricsAddr(cfg),
		ServiceName: "receiver",
		Version:     version,
		Grace:       cfg.ShutdownGrace,
		Checker:     checker,
		Log:         log,
		Register: func(m *http.ServeMux) {
			for _, route := range routes {
				route(m)
			}
			m.Handle("GET /ws/overlay", overlay)
		},
	})

	hostname, _ := os.Hostname()
	actions := stream.NewConsumer(rdb, stream.ConsumerConfig{
		Stream:      stream.Actions,
		Group:       "pusher",
		Consumer:    hostname,
		BatchSize:   int64(cfg.StreamBatchSize),
		Block:       cfg.StreamBlockTime,
		MaxRetries:  cfg.StreamMaxRetries,
		Concurrency: int64(cfg.MaxConcurrent),
	}, registry.ActionsHandler(overlay), log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error { return actions.Run(gctx) })

	log.Info("receiver started",
		zap.String("port", cfg.ModulePort),
		zap.Int("adapters", len(adapters)),
	)
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error("receiver failed", zap.Error(err))
		os.Exit(2)
	}
	log.Info("receiver stopped")
}

func metricsAddr(cfg *config.Config) string {
	if cfg.MetricsPort == "" {
		return ""
	}
	return ":" + cfg.MetricsPort
}

// lazyDiscordSession defers to the adapter's gateway session, which only
// exists once the gateway is open.
type lazyDiscordSession struct {
	adapter *receiver.DiscordAdapter
}

func (l *lazyDiscordSession) live() (*discordgo.Session, error) {
	s := l.adapter.Session()
	if s == nil {
		return nil, fmt.Errorf("discord gateway not connected")
	}
	return s, nil
}

func (l *lazyDiscordSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	s, err := l.live()
	if err != nil {
		return nil, err
	}
	return s.ChannelMessageSend(channelID, content, options...)
}

func (l *lazyDiscordSession) GuildBanCreateWithReason(guildID, userID, reason string, days int, options ...discordgo.RequestOption) error {
	s, err := l.live()
	if err != nil {
		return err
	}
	return s.GuildBanCreateWithReason(guildID, userID, reason, days, options...)
}

func (l *lazyDiscordSession) GuildMemberTimeout(guildID, userID string, until *time.Time, options ...discordgo.RequestOption) error {
	s, err := l.live()
	if err != nil {
		return err
	}
	return s.GuildMemberTimeout(guildID, userID, until, options...)
}
