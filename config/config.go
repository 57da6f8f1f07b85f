package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	awspkg "abandonment-service/pkg/aws"
	"abandonment-service/services"

	"github.com/joho/godotenv"
)

const (
	MailProviderSMTP   = "smtp"
	MailProviderResend = "resend"
	MailProviderSNS    = "sns"
)

// Config holds all configuration for the abandonment service.
type Config struct {
	Env  string
	Port string

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	PostgresMaxOpenConns    int
	PostgresMaxIdleConns    int
	PostgresConnMaxLifetime time.Duration

	RedisURL    string
	ActivityTTL time.Duration

	IdleThreshold    time.Duration
	CheckInterval    time.Duration
	DedupWindow      time.Duration
	InFlightWindow   time.Duration
	ConversionWindow time.Duration

	DiscountTiers       []services.DiscountTier
	RecommendationCount int
	FreeShipping        bool
	StoreBaseURL        string
	StoreName           string
	SupportEmail        string

	GroqAPIKey            string
	GroqBaseURL           string
	GenerationModel       string
	GenerationTemperature float32
	GenerationMaxTokens   int
	GenerationTopP        float32
	GenerationPenalty     float32
	GenerationTimeout     time.Duration

	MailProvider        string
	FromAddress         string
	FromName            string
	SMTPHost            string
	SMTPPort            string
	SMTPUsername        string
	SMTPPassword        string
	ResendAPIKey        string
	AbandonmentTopicARN string
	SendTimeout         time.Duration

	// SQS queue with order events; conversion tracking from events is off when empty.
	OrderEventsQueueURL string

	ServiceJWTSecret string
	TrackRateLimit   float64
	TrackRateBurst   int
}

type secretGetter interface {
	GetSecretValues(ctx context.Context, name string) (map[string]string, error)
}

// Load reads configuration from the environment (and .env when present)
// with optional Secrets Manager override.
func Load(ctx context.Context) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := fromEnv()
	if err != nil {
		return nil, err
	}

	if os.Getenv("AWS_USE_SECRETS") == "true" {
		if awsCfg, err := awspkg.LoadAWSConfig(ctx); err == nil {
			applySecrets(ctx, cfg, awspkg.NewSecretsClient(awsCfg))
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv() (*Config, error) {
	tiers, err := ParseDiscountTiers(getEnv("DISCOUNT_TIERS", "100:10,500:20"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Env:  getEnv("APP_ENV", "development"),
		Port: getEnv("PORT", "8095"),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: getEnv("POSTGRES_TIMEZONE", "Asia/Kolkata"),

		PostgresMaxOpenConns:    getInt("POSTGRES_MAX_OPEN_CONNS", 10),
		PostgresMaxIdleConns:    getInt("POSTGRES_MAX_IDLE_CONNS", 5),
		PostgresConnMaxLifetime: getDuration("POSTGRES_CONN_MAX_LIFETIME", 5*time.Minute),

		RedisURL:    os.Getenv("REDIS_URL"),
		ActivityTTL: getDuration("ACTIVITY_TTL", 48*time.Hour),

		IdleThreshold:    getDuration("IDLE_THRESHOLD", time.Minute),
		CheckInterval:    getDuration("CHECK_INTERVAL", 30*time.Second),
		DedupWindow:      getDuration("DEDUP_WINDOW", 24*time.Hour),
		InFlightWindow:   getDuration("IN_FLIGHT_WINDOW", 2*time.Minute),
		ConversionWindow: getDuration("CONVERSION_WINDOW", 7*24*time.Hour),

		DiscountTiers:       tiers,
		RecommendationCount: getInt("RECOMMENDATION_COUNT", 3),
		FreeShipping:        getBool("FREE_SHIPPING", true),
		StoreBaseURL:        strings.TrimRight(getEnv("STORE_BASE_URL", "http://localhost:3000"), "/"),
		StoreName:           getEnv("STORE_NAME", "Our Store"),
		SupportEmail:        os.Getenv("SUPPORT_EMAIL"),

		GroqAPIKey:            os.Getenv("GROQ_API_KEY"),
		GroqBaseURL:           getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		GenerationModel:       getEnv("GENERATION_MODEL", "llama-3.3-70b-versatile"),
		GenerationTemperature: getFloat32("GENERATION_TEMPERATURE", 0.85),
		GenerationMaxTokens:   getInt("GENERATION_MAX_TOKENS", 200),
		GenerationTopP:        getFloat32("GENERATION_TOP_P", 0.9),
		GenerationPenalty:     getFloat32("GENERATION_PENALTY", 0.4),
		GenerationTimeout:     getDuration("GENERATION_TIMEOUT", 20*time.Second),

		MailProvider:        strings.ToLower(getEnv("MAIL_PROVIDER", MailProviderSMTP)),
		FromAddress:         os.Getenv("MAIL_FROM_ADDRESS"),
		FromName:            getEnv("MAIL_FROM_NAME", "Our Store"),
		SMTPHost:            os.Getenv("SMTP_HOST"),
		SMTPPort:            getEnv("SMTP_PORT", "587"),
		SMTPUsername:        os.Getenv("SMTP_USERNAME"),
		SMTPPassword:        os.Getenv("SMTP_PASSWORD"),
		ResendAPIKey:        os.Getenv("RESEND_API_KEY"),
		AbandonmentTopicARN: os.Getenv("ABANDONMENT_SNS_TOPIC_ARN"),
		SendTimeout:         getDuration("SEND_TIMEOUT", 30*time.Second),

		OrderEventsQueueURL: os.Getenv("ORDER_EVENTS_QUEUE_URL"),

		ServiceJWTSecret: os.Getenv("SERVICE_JWT_SECRET"),
		TrackRateLimit:   getFloat("TRACK_RATE_LIMIT", 5),
		TrackRateBurst:   getInt("TRACK_RATE_BURST", 20),
	}
	return cfg, nil
}

// applySecrets overrides database credentials and API keys with values from
// Secrets Manager. Missing secrets leave the environment values in place.
func applySecrets(ctx context.Context, cfg *Config, sm secretGetter) {
	if m := readSecret(ctx, sm, "abandonment/DB_CREDENTIALS"); m != nil {
		override(&cfg.PostgresUser, m["POSTGRES_USER"])
		override(&cfg.PostgresPassword, m["POSTGRES_PASSWORD"])
		override(&cfg.PostgresDB, m["POSTGRES_DB"])
		override(&cfg.PostgresHost, m["POSTGRES_HOST"])
		override(&cfg.PostgresPort, m["POSTGRES_PORT"])
	}
	if m := readSecret(ctx, sm, "abandonment/API_KEYS"); m != nil {
		override(&cfg.GroqAPIKey, m["GROQ_API_KEY"])
		override(&cfg.ResendAPIKey, m["RESEND_API_KEY"])
		override(&cfg.SMTPPassword, m["SMTP_PASSWORD"])
		override(&cfg.ServiceJWTSecret, m["SERVICE_JWT_SECRET"])
	}
}

func readSecret(ctx context.Context, sm secretGetter, name string) map[string]string {
	m, err := sm.GetSecretValues(ctx, name)
	if err != nil {
		return nil
	}
	return m
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (c *Config) Validate() error {
	if c.PostgresUser == "" || c.PostgresPassword == "" || c.PostgresDB == "" || c.PostgresHost == "" {
		return fmt.Errorf("database config incomplete")
	}
	switch c.MailProvider {
	case MailProviderSMTP:
		if c.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required for mail provider %q", c.MailProvider)
		}
	case MailProviderResend:
		if c.ResendAPIKey == "" {
			return fmt.Errorf("RESEND_API_KEY is required for mail provider %q", c.MailProvider)
		}
	case MailProviderSNS:
		if c.AbandonmentTopicARN == "" {
			return fmt.Errorf("ABANDONMENT_SNS_TOPIC_ARN is required for mail provider %q", c.MailProvider)
		}
	default:
		return fmt.Errorf("unknown MAIL_PROVIDER %q", c.MailProvider)
	}
	if c.IdleThreshold <= 0 || c.CheckInterval <= 0 {
		return fmt.Errorf("IDLE_THRESHOLD and CHECK_INTERVAL must be positive")
	}
	if c.InFlightWindow >= c.DedupWindow {
		return fmt.Errorf("IN_FLIGHT_WINDOW must be shorter than DEDUP_WINDOW")
	}
	return nil
}

// PostgresDSN builds the connection string for the gorm postgres driver.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB,
		c.PostgresPort, c.PostgresSSLMode, c.PostgresTimeZone,
	)
}

// ParseDiscountTiers parses "threshold:percent" pairs separated by commas,
// e.g. "100:10,500:20". The result is sorted by threshold.
func ParseDiscountTiers(s string) ([]services.DiscountTier, error) {
	var tiers []services.DiscountTier
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		threshold, percent, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("invalid discount tier %q", part)
		}
		t, err := strconv.ParseFloat(strings.TrimSpace(threshold), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid discount threshold %q: %w", threshold, err)
		}
		p, err := strconv.ParseFloat(strings.TrimSpace(percent), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid discount percent %q: %w", percent, err)
		}
		if t < 0 || p < 0 || p > 100 {
			return nil, fmt.Errorf("discount tier %q out of range", part)
		}
		tiers = append(tiers, services.DiscountTier{Threshold: t, Percent: p})
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Threshold < tiers[j].Threshold })
	return tiers, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && v >= 0 {
		return v
	}
	return fallback
}

func getFloat32(key string, fallback float32) float32 {
	return float32(getFloat(key, float64(fallback)))
}

func getBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}
