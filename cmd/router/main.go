// Package main runs the router service: the REST ingest surface, the
// inbound and responses stream consumers, and the translation preprocessor.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/waddlebot/waddlebot-core/database/connect"
	"github.com/waddlebot/waddlebot-core/internal/config"
	"github.com/waddlebot/waddlebot-core/internal/events"
	"github.com/waddlebot/waddlebot-core/internal/repository/routing"
	"github.com/waddlebot/waddlebot-core/internal/reputation"
	"github.com/waddlebot/waddlebot-core/internal/router"
	"github.com/waddlebot/waddlebot-core/internal/server"
	"github.com/waddlebot/waddlebot-core/internal/session"
	"github.com/waddlebot/waddlebot-core/internal/stream"
	"github.com/waddlebot/waddlebot-core/internal/translate"
	"github.com/waddlebot/waddlebot-core/pkg/aaa"
	"github.com/waddlebot/waddlebot-core/pkg/auth"
	"github.com/waddlebot/waddlebot-core/pkg/health"
	"github.com/waddlebot/waddlebot-core/pkg/logger"
	"github.com/waddlebot/waddlebot-core/pkg/metricsutil"
	"github.com/waddlebot/waddlebot-core/pkg/ratelimit"
	"github.com/waddlebot/waddlebot-core/pkg/redis"
)

const version = "1.0.0"

// Exit codes: 1 configuration, 2 runtime failure, 3 dependency unreachable.
func main() {
	cfg, err := config.Load("router")
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{
		Environment: cfg.AppEnv,
		LogLevel:    cfg.LogLevel,
		ServiceName: "router",
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

	routingRepo := routing.NewRepository(db)
	audit := aaa.NewLogger(log)
	sessions := session.NewStore(rdb, cfg.SessionTTL, log)
	limiter := ratelimit.New(rdb, "router", log)
	lookup := router.NewLookup(routingRepo, router.DefaultLookupTTL)
	producer := stream.NewProducer(rdb, log)

	serviceToken := func() (string, error) {
		return auth.MintServiceToken(cfg.SecretKey, "router", []string{"module:execute"}, time.Minute)
	}
	dispatcher := router.NewDispatcher(serviceToken, log)

	var scores router.ScoreReporter
	if cfg.ReputationGRPCAddr != "" {
		client, err := reputation.NewClient(cfg.ReputationGRPCAddr, cfg.SecretKey, "router")
		if err != nil {
			log.Error("reputation client", zap.Error(err))
			os.Exit(3)
		}
		defer client.Close()
		scores = client
	}

	svc := router.NewService(
		router.Config{
			RateLimitPerMinute: cfg.RateLimitPerMinute,
			ResponseTimeout:    cfg.CommandTimeout,
		},
		sessions, limiter, lookup, dispatcher, producer, scores,
		router.NewRoleAuthorizer(routingRepo), audit, log,
	)

	translator := buildTranslator(cfg, log)
	dedup := stream.NewDedup(rdb, "router", 24*time.Hour)
	inbound := stream.WithDedup(dedup, log, translatingHandler(translator, svc.InboundHandler(), log))

	checker := health.NewChecker()
	checker.Register(health.NewDatabaseCheck("postgres", db))
	checker.Register(health.NewRedisCheck("redis", rdb))

	httpAPI := router.NewHTTP(svc, log)
	srv := server.New(server.Options{
		Addr:        ":" + cfg.ModulePort,
		MetricsAddr: metricsAddr(cfg),
		ServiceName: "router",
		Version:     version,
		Grace:       cfg.ShutdownGrace,
		Checker:     checker,
		Log:         log,
		Register: func(mux *http.ServeMux) {
			httpAPI.Register(mux, cfg.SecretKey, cfg.ServiceAPIKey)
		},
	})

	hostname, _ := os.Hostname()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if cfg.StreamEnabled {
		for i := 0; i < cfg.StreamConsumerCount; i++ {
			consumer := stream.NewConsumer(rdb, stream.ConsumerConfig{
				Stream:      stream.Inbound,
				Group:       "router",
				Consumer:    fmt.Sprintf("%s-%d", hostname, i),
				BatchSize:   int64(cfg.StreamBatchSize),
				Block:       cfg.StreamBlockTime,
				MaxRetries:  cfg.StreamMaxRetries,
				Concurrency: int64(cfg.MaxConcurrent),
			}, inbound, log)
			g.Go(func() error { return consumer.Run(gctx) })
		}
	} else {
		log.Info("stream pipeline disabled, serving REST ingest only")
	}
	responses := stream.NewConsumer(rdb, stream.ConsumerConfig{
		Stream:      stream.Responses,
		Group:       "router-responses",
		Consumer:    hostname,
		BatchSize:   int64(cfg.StreamBatchSize),
		Block:       cfg.StreamBlockTime,
		MaxRetries:  cfg.StreamMaxRetries,
		Concurrency: int64(cfg.MaxConcurrent),
	}, svc.ResponsesHandler(), log)
	g.Go(func() error { return responses.Run(gctx) })
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := svc.Pending().Sweep(); n > 0 {
					log.Debug("swept expired executions", zap.Int("count", n))
				}
			}
		}
	})

	log.Info("router started", zap.String("port", cfg.ModulePort))
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error("router failed", zap.Error(err))
		os.Exit(2)
	}
	log.Info("router stopped")
}

func metricsAddr(cfg *config.Config) string {
	if cfg.MetricsPort == "" {
		return ""
	}
	return ":" + cfg.MetricsPort
}

// buildTranslator assembles the translation preprocessor. A missing
// TRANSLATE_ENDPOINT disables it.
func buildTranslator(cfg *config.Config, log *zap.Logger) *translate.Service {
	if cfg.TranslateEndpoint == "" {
		return nil
	}
	ensemble := translate.NewEnsemble(
		translate.NewLinguaDetector(),
		translate.NewWhatlangDetector(),
		translate.NewStopwordDetector(),
	)
	var verifier translate.Verifier
	if cfg.AIEndpoint != "" {
		verifier = translate.NewHTTPVerifier(cfg.AIEndpoint, cfg.AIAPIKey, cfg.AIModel)
	}
	catalog := translate.NewEmoteCatalog(translate.NewHTTPEmoteSource(cfg.TranslateEndpoint), log)
	translator := translate.NewHTTPTranslator(cfg.TranslateEndpoint, cfg.AIAPIKey, cfg.AITimeout)
	svc := translate.NewService(catalog, ensemble, verifier, translator, "en", log)
	if cfg.AIMaxVerifyCalls > 0 {
		svc.VerifyAttempts = cfg.AIMaxVerifyCalls
	}
	return svc
}

// translatingHandler normalizes chat message text to the community language
// before routing. Translation failures never block the pipeline.
func translatingHandler(t *translate.Service, next stream.Handler, log *zap.Logger) stream.Handler {
	if t == nil {
		return next
	}
	return func(ctx context.Context, env *events.Envelope) error {
		if env.EventType == events.EventChatMessage && env.Message != "" {
			out, err := t.Process(ctx, string(env.Platform), env.ChannelID, env.Message)
			if err != nil {
				log.Warn("translation unavailable", zap.String("event_id", env.EventID), zap.Error(err))
			} else if out.Status == translate.StatusTranslated {
				if env.Metadata == nil {
					env.Metadata = map[string]any{}
				}
				env.Metadata["original_message"] = env.Message
				env.Metadata["detected_language"] = out.Language
				env.Message = out.Text
			}
		}
		return next(ctx, env)
	}
}
