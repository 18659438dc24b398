// Package main runs the reputation gRPC service and its policy workers.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/waddlebot/waddlebot-core/database/connect"
	"github.com/waddlebot/waddlebot-core/internal/config"
	repo "github.com/waddlebot/waddlebot-core/internal/repository/reputation"
	"github.com/waddlebot/waddlebot-core/internal/reputation"
	"github.com/waddlebot/waddlebot-core/internal/server"
	"github.com/waddlebot/waddlebot-core/internal/stream"
	"github.com/waddlebot/waddlebot-core/pkg/aaa"
	"github.com/waddlebot/waddlebot-core/pkg/grpcutil"
	"github.com/waddlebot/waddlebot-core/pkg/health"
	"github.com/waddlebot/waddlebot-core/pkg/logger"
	"github.com/waddlebot/waddlebot-core/pkg/metricsutil"
	"github.com/waddlebot/waddlebot-core/pkg/redis"
)

const (
	version         = "1.0.0"
	defaultGRPCPort = "50051"
	weightCacheTTL  = 300 * time.Second
	decayDays       = 30
)

// Exit codes: 1 configuration, 2 runtime failure, 3 dependency unreachable.
func main() {
	cfg, err := config.Load("reputation")
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{
		Environment: cfg.AppEnv,
		LogLevel:    cfg.LogLevel,
		ServiceName: "reputation",
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
	replica := db
	if cfg.ReadReplicaURL != "" {
		replica, err = connect.Postgres(ctx, log, cfg.ReadReplicaURL)
		if err != nil {
			log.Error("open read replica", zap.Error(err))
			os.Exit(3)
		}
		defer replica.Close()
	}

	rdb, err := redis.NewClient(redis.Config{URL: cfg.RedisURL}, log)
	if err != nil {
		log.Error("connect redis", zap.Error(err))
		os.Exit(3)
	}
	defer rdb.Close()

	audit := aaa.NewLogger(log)
	repository := repo.NewRepository(db, replica)
	weights := reputation.NewWeightResolver(repository, weightCacheTTL, log)
	sink := reputation.NewStreamSink(stream.NewProducer(rdb, log))
	policy := reputation.NewPolicyEnforcer(reputation.PolicyConfig{
		WarningDecayDays: decayDays,
	}, sink, repository, audit, log)
	svc := reputation.NewService(repository, weights, policy, log)

	grpcPort := defaultGRPCPort
	if v := os.Getenv("GRPC_PORT"); v != "" {
		grpcPort = v
	}
	lis, err := net.Listen("tcp", ":"+grpcPort)
	if err != nil {
		log.Error("listen grpc", zap.String("port", grpcPort), zap.Error(err))
		os.Exit(2)
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpcutil.NewServiceTokenInterceptor(cfg.SecretKey),
		grpcutil.NewRateLimitInterceptor(100, 200),
	))
	reputation.Register(grpcServer, reputation.NewGRPCServer(svc, log))
	reflection.Register(grpcServer)

	checker := health.NewChecker()
	checker.Register(health.NewDatabaseCheck("postgres", db))
	checker.Register(health.NewRedisCheck("redis", rdb))

	srv := server.New(server.Options{
		Addr:        ":" + cfg.ModulePort,
		MetricsAddr: metricsAddr(cfg),
		ServiceName: "reputation",
		Version:     version,
		Grace:       cfg.ShutdownGrace,
		Checker:     checker,
		Log:         log,
	})

	decay := cron.New()
	if _, err := decay.AddFunc("@daily", func() {
		if err := svc.DecayWarnings(ctx, decayDays); err != nil {
			log.Warn("warning decay failed", zap.Error(err))
		}
	}); err != nil {
		log.Error("schedule warning decay", zap.Error(err))
		os.Exit(2)
	}
	decay.Start()
	defer decay.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		log.Info("grpc server listening", zap.String("port", grpcPort))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		policy.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		done := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(cfg.ShutdownGrace):
			grpcServer.Stop()
		}
		return nil
	})

	log.Info("reputation started", zap.String("grpc_port", grpcPort))
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error("reputation failed", zap.Error(err))
		os.Exit(2)
	}
	log.Info("reputation stopped")
}

func metricsAddr(cfg *config.Config) string {
	if cfg.MetricsPort == "" {
		return ""
	}
	return ":" + cfg.MetricsPort
}
