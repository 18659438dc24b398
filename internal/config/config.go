package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds environment configuration shared by all binaries.
type Config struct {
	AppEnv      string
	ServiceName string

	DatabaseURL    string
	ReadReplicaURL string
	RedisURL       string

	ModulePort  string
	MetricsPort string
	LogLevel    string

	SecretKey     string
	ServiceAPIKey string

	// Stream pipeline
	StreamEnabled       bool
	StreamBatchSize     int
	StreamBlockTime     time.Duration
	StreamMaxRetries    int
	StreamConsumerCount int

	// Router
	MaxConcurrent      int
	SessionTTL         time.Duration
	CommandTimeout     time.Duration
	RateLimitPerMinute int
	ShutdownGrace      time.Duration

	// Reputation
	ReputationGRPCAddr string

	// Receivers
	ReceiverPlatform    string
	DiscoveryRefresh    time.Duration
	TwitchBotUserID     string
	TwitchClientID      string
	TwitchClientSecret  string
	TwitchBotToken      string
	TwitchRefreshToken  string
	TwitchWebhookSecret string
	DiscordBotToken     string
	SlackSigningSecret  string
	SlackBotToken       string
	YouTubeAPIKey       string
	KickWebhookSecret   string
	KickPusherAppKey    string
	KickPusherCluster   string
	TokenRefreshBuffer  time.Duration

	// Translation
	TranslateEndpoint string
	AIEndpoint        string
	AIAPIKey          string
	AIModel           string
	AITimeout         time.Duration
	AIMaxVerifyCalls  int
}

// Load reads configuration from the environment. Returns an error when a
// required variable is missing or malformed; callers exit with code 1.
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		ServiceName: serviceName,

		DatabaseURL:    os.Getenv("DATABASE_URL"),
		ReadReplicaURL: os.Getenv("READ_REPLICA_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),

		ModulePort:  getEnv("MODULE_PORT", "8000"),
		MetricsPort: os.Getenv("METRICS_PORT"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		SecretKey:     os.Getenv("SECRET_KEY"),
		ServiceAPIKey: os.Getenv("SERVICE_API_KEY"),

		ReputationGRPCAddr: getEnv("REPUTATION_GRPC_ADDR", "localhost:50051"),

		ReceiverPlatform:    os.Getenv("RECEIVER_PLATFORM"),
		TwitchBotUserID:     os.Getenv("TWITCH_BOT_USER_ID"),
		TwitchClientID:      os.Getenv("TWITCH_CLIENT_ID"),
		TwitchClientSecret:  os.Getenv("TWITCH_CLIENT_SECRET"),
		TwitchBotToken:      os.Getenv("TWITCH_BOT_TOKEN"),
		TwitchRefreshToken:  os.Getenv("TWITCH_REFRESH_TOKEN"),
		TwitchWebhookSecret: os.Getenv("TWITCH_WEBHOOK_SECRET"),
		DiscordBotToken:     os.Getenv("DISCORD_BOT_TOKEN"),
		SlackSigningSecret:  os.Getenv("SLACK_SIGNING_SECRET"),
		SlackBotToken:       os.Getenv("SLACK_BOT_TOKEN"),
		YouTubeAPIKey:       os.Getenv("YOUTUBE_API_KEY"),
		KickWebhookSecret:   os.Getenv("KICK_WEBHOOK_SECRET"),
		KickPusherAppKey:    os.Getenv("KICK_PUSHER_APP_KEY"),
		KickPusherCluster:   getEnv("KICK_PUSHER_CLUSTER", "us2"),

		TranslateEndpoint: getEnv("TRANSLATE_ENDPOINT", "http://localhost:5002"),
		AIEndpoint:        os.Getenv("AI_ENDPOINT"),
		AIAPIKey:          os.Getenv("AI_API_KEY"),
		AIModel:           getEnv("AI_MODEL", "gpt-4o-mini"),
	}

	var err error
	if cfg.StreamEnabled, err = getBool("STREAM_PIPELINE_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.StreamBatchSize, err = getInt("STREAM_BATCH_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.StreamBlockTime, err = getDurationMillis("STREAM_BLOCK_TIME", 1000); err != nil {
		return nil, err
	}
	if cfg.StreamMaxRetries, err = getInt("STREAM_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.StreamConsumerCount, err = getInt("STREAM_CONSUMER_COUNT", 1); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrent, err = getInt("MAX_CONCURRENT", 10); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerMinute, err = getInt("RATE_LIMIT_PER_MINUTE", 60); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getDurationSeconds("SESSION_TTL", 3600); err != nil {
		return nil, err
	}
	if cfg.CommandTimeout, err = getDurationSeconds("COMMAND_TIMEOUT", 30); err != nil {
		return nil, err
	}
	if cfg.ShutdownGrace, err = getDurationSeconds("SHUTDOWN_GRACE", 30); err != nil {
		return nil, err
	}
	if cfg.DiscoveryRefresh, err = getDurationSeconds("DISCOVERY_REFRESH", 300); err != nil {
		return nil, err
	}
	if cfg.TokenRefreshBuffer, err = getDurationSeconds("TOKEN_REFRESH_BUFFER", 300); err != nil {
		return nil, err
	}
	if cfg.AITimeout, err = getDurationSeconds("AI_TIMEOUT", 2); err != nil {
		return nil, err
	}
	if cfg.AIMaxVerifyCalls, err = getInt("AI_MAX_VERIFY_CALLS", 3); err != nil {
		return nil, err
	}

	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("missing required environment variable REDIS_URL")
	}
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("missing required environment variable SECRET_KEY")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getDurationMillis(key string, defMillis int) (time.Duration, error) {
	n, err := getInt(key, defMillis)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}

func getDurationSeconds(key string, defSeconds int) (time.Duration, error) {
	n, err := getInt(key, defSeconds)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}
