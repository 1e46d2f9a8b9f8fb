// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
}

// RedisConfig provides the redis connection used for locks and the task queue.
type RedisConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
}

// SchedulerConfig provides settings for the reconciliation scheduler and its worker.
type SchedulerConfig interface {
	RedisConfig
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetReconcileSchedule() string
	GetReconcileLockTTL() time.Duration
	GetSchedulerHTTPAddr() string
	GetOutboxPollInterval() time.Duration
}

// OfferConfig provides offer lifecycle settings.
type OfferConfig interface {
	GetOfferTTL() time.Duration
	GetLeadTTL() time.Duration
	GetMatchConcurrency() int
	GetCancelSiblingOffers() bool
}

// RefundPolicyConfig provides refund window and sweep settings.
type RefundPolicyConfig interface {
	GetRefundWindowDays() int
	GetRefundSweepEnabled() bool
	GetRefundSweepMinAgeDays() int
	GetRefundSweepAssumedAttempts() int
}

// PayoutConfig provides bonus and referral payout amounts.
type PayoutConfig interface {
	GetPerformanceBonusCents() int64
	GetReferralCommissionCents() int64
}

// EmailConfig provides settings for email sending.
type EmailConfig interface {
	GetEmailEnabled() bool
	GetBrevoAPIKey() string
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
}

// SMSConfig provides ClickSend credentials.
type SMSConfig interface {
	GetClickSendUsername() string
	GetClickSendAPIKey() string
	IsSMSEnabled() bool
}

// NotificationConfig provides settings for the notification module.
type NotificationConfig interface {
	GetAppBaseURL() string
}

// MinIOConfig provides settings for MinIO S3-compatible storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOMaxFileSize() int64
	GetMinioBucketRefundEvidence() string
	IsMinIOEnabled() bool
}

// PaymentConfig provides payment gateway credentials.
type PaymentConfig interface {
	GetStripeSecretKey() string
	GetStripeBaseURL() string
}

// RegistryConfig provides business registry (ABR) settings.
type RegistryConfig interface {
	GetABRGUID() string
	GetABRBaseURL() string
	GetABRRequestsPerSecond() float64
}

// SourcingConfig provides settings for AI lead top-up.
type SourcingConfig interface {
	GetGeminiAPIKey() string
	GetGeminiModel() string
	GetSourcingBatchSize() int
	IsSourcingEnabled() bool
	GetSourcingLocation() *time.Location
}

// RelayConfig provides settings for the RabbitMQ event relay.
type RelayConfig interface {
	GetRabbitMQURL() string
	GetRabbitMQExchange() string
	IsRelayEnabled() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env              string
	HTTPAddr         string
	DatabaseURL      string
	CORSAllowAll     bool
	CORSOrigins      []string
	AppBaseURL       string
	PolicyFile       string
	Policy           *Policy
	RedisURL         string
	RedisTLSInsecure bool

	AsynqQueueName      string
	AsynqConcurrency    int
	ReconcileSchedule   string
	ReconcileLockTTL    time.Duration
	SchedulerHTTPAddr   string
	OutboxPollInterval  time.Duration
	OfferTTL            time.Duration
	LeadTTL             time.Duration
	MatchConcurrency    int
	CancelSiblingOffers bool

	RefundWindowDays           int
	RefundSweepEnabled         bool
	RefundSweepMinAgeDays      int
	RefundSweepAssumedAttempts int
	PerformanceBonusCents      int64
	ReferralCommissionCents    int64

	EmailEnabled      bool
	BrevoAPIKey       string
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
	EmailFromName     string
	EmailFromAddress  string
	ClickSendUsername string
	ClickSendAPIKey   string

	MinIOEndpoint             string
	MinIOAccessKey            string
	MinIOSecretKey            string
	MinIOUseSSL               bool
	MinIOMaxFileSize          int64
	MinioBucketRefundEvidence string

	StripeSecretKey string
	StripeBaseURL   string

	ABRGUID              string
	ABRBaseURL           string
	ABRRequestsPerSecond float64

	GeminiAPIKey      string
	GeminiModel       string
	SourcingBatchSize int
	SourcingLocation  *time.Location

	RabbitMQURL      string
	RabbitMQExchange string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string                  { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool            { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string            { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int             { return c.AsynqConcurrency }
func (c *Config) GetReconcileSchedule() string         { return c.ReconcileSchedule }
func (c *Config) GetReconcileLockTTL() time.Duration   { return c.ReconcileLockTTL }
func (c *Config) GetSchedulerHTTPAddr() string         { return c.SchedulerHTTPAddr }
func (c *Config) GetOutboxPollInterval() time.Duration { return c.OutboxPollInterval }

// OfferConfig implementation
func (c *Config) GetOfferTTL() time.Duration   { return c.OfferTTL }
func (c *Config) GetLeadTTL() time.Duration    { return c.LeadTTL }
func (c *Config) GetMatchConcurrency() int     { return c.MatchConcurrency }
func (c *Config) GetCancelSiblingOffers() bool { return c.CancelSiblingOffers }

// RefundPolicyConfig implementation
func (c *Config) GetRefundWindowDays() int           { return c.RefundWindowDays }
func (c *Config) GetRefundSweepEnabled() bool        { return c.RefundSweepEnabled }
func (c *Config) GetRefundSweepMinAgeDays() int      { return c.RefundSweepMinAgeDays }
func (c *Config) GetRefundSweepAssumedAttempts() int { return c.RefundSweepAssumedAttempts }

// PayoutConfig implementation
func (c *Config) GetPerformanceBonusCents() int64   { return c.PerformanceBonusCents }
func (c *Config) GetReferralCommissionCents() int64 { return c.ReferralCommissionCents }

// EmailConfig implementation
func (c *Config) GetEmailEnabled() bool       { return c.EmailEnabled }
func (c *Config) GetBrevoAPIKey() string      { return c.BrevoAPIKey }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }

// SMSConfig implementation
func (c *Config) GetClickSendUsername() string { return c.ClickSendUsername }
func (c *Config) GetClickSendAPIKey() string   { return c.ClickSendAPIKey }
func (c *Config) IsSMSEnabled() bool {
	return c.ClickSendUsername != "" && c.ClickSendAPIKey != ""
}

// NotificationConfig implementation
func (c *Config) GetAppBaseURL() string { return c.AppBaseURL }

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string             { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string            { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string            { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool                 { return c.MinIOUseSSL }
func (c *Config) GetMinIOMaxFileSize() int64           { return c.MinIOMaxFileSize }
func (c *Config) GetMinioBucketRefundEvidence() string { return c.MinioBucketRefundEvidence }
func (c *Config) IsMinIOEnabled() bool                 { return c.MinIOEndpoint != "" }

// PaymentConfig implementation
func (c *Config) GetStripeSecretKey() string { return c.StripeSecretKey }
func (c *Config) GetStripeBaseURL() string   { return c.StripeBaseURL }

// RegistryConfig implementation
func (c *Config) GetABRGUID() string               { return c.ABRGUID }
func (c *Config) GetABRBaseURL() string            { return c.ABRBaseURL }
func (c *Config) GetABRRequestsPerSecond() float64 { return c.ABRRequestsPerSecond }

// SourcingConfig implementation
func (c *Config) GetGeminiAPIKey() string   { return c.GeminiAPIKey }
func (c *Config) GetGeminiModel() string    { return c.GeminiModel }
func (c *Config) GetSourcingBatchSize() int { return c.SourcingBatchSize }
func (c *Config) IsSourcingEnabled() bool   { return c.GeminiAPIKey != "" }

// GetSourcingLocation is the zone whose wall clock drives the top-up cadence.
func (c *Config) GetSourcingLocation() *time.Location {
	if c.SourcingLocation == nil {
		return time.UTC
	}
	return c.SourcingLocation
}

// RelayConfig implementation
func (c *Config) GetRabbitMQURL() string      { return c.RabbitMQURL }
func (c *Config) GetRabbitMQExchange() string { return c.RabbitMQExchange }
func (c *Config) IsRelayEnabled() bool        { return c.RabbitMQURL != "" }

// GetPolicy returns the pricing policy, falling back to built-in defaults.
func (c *Config) GetPolicy() *Policy {
	if c.Policy == nil {
		return DefaultPolicy()
	}
	return c.Policy
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:5173"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	brevoAPIKey := getEnv("BREVO_API_KEY", "")
	smtpHost := getEnv("SMTP_HOST", "")
	emailEnabled := strings.EqualFold(getEnv("EMAIL_ENABLED", "true"), "true")

	cfg := &Config{
		Env:              getEnv("APP_ENV", "development"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		CORSAllowAll:     corsAllowAll,
		CORSOrigins:      corsOrigins,
		AppBaseURL:       strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:5173"), "/"),
		PolicyFile:       getEnv("POLICY_FILE", ""),
		RedisURL:         getEnv("REDIS_URL", ""),
		RedisTLSInsecure: strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),

		AsynqQueueName:      getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:    mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		ReconcileSchedule:   getEnv("RECONCILE_SCHEDULE", "@every 15m"),
		ReconcileLockTTL:    mustDuration(getEnv("RECONCILE_LOCK_TTL", "14m")),
		SchedulerHTTPAddr:   getEnv("SCHEDULER_HTTP_ADDR", ":8081"),
		OutboxPollInterval:  mustDuration(getEnv("OUTBOX_POLL_INTERVAL", "30s")),
		OfferTTL:            mustDuration(getEnv("OFFER_TTL", "48h")),
		LeadTTL:             mustDuration(getEnv("LEAD_TTL", "168h")),
		MatchConcurrency:    mustInt(getEnv("MATCH_CONCURRENCY", "4")),
		CancelSiblingOffers: strings.EqualFold(getEnv("OFFER_CANCEL_SIBLINGS", "false"), "true"),

		RefundWindowDays:           mustInt(getEnv("REFUND_WINDOW_DAYS", "30")),
		RefundSweepEnabled:         strings.EqualFold(getEnv("REFUND_SWEEP_ENABLED", "true"), "true"),
		RefundSweepMinAgeDays:      mustInt(getEnv("REFUND_SWEEP_MIN_AGE_DAYS", "7")),
		RefundSweepAssumedAttempts: mustInt(getEnv("REFUND_SWEEP_ASSUMED_ATTEMPTS", "3")),
		PerformanceBonusCents:      mustInt64(getEnv("PERFORMANCE_BONUS_CENTS", "4000")),
		ReferralCommissionCents:    mustInt64(getEnv("REFERRAL_COMMISSION_CENTS", "5000")),

		EmailEnabled:      emailEnabled && (brevoAPIKey != "" || smtpHost != ""),
		BrevoAPIKey:       brevoAPIKey,
		SMTPHost:          smtpHost,
		SMTPPort:          mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),
		EmailFromName:     getEnv("EMAIL_FROM_NAME", "Solar Leads"),
		EmailFromAddress:  getEnv("EMAIL_FROM_ADDRESS", ""),
		ClickSendUsername: getEnv("CLICKSEND_USERNAME", ""),
		ClickSendAPIKey:   getEnv("CLICKSEND_API_KEY", ""),

		MinIOEndpoint:             getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:            getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:            getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:               strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinIOMaxFileSize:          mustInt64(getEnv("MINIO_MAX_FILE_SIZE", "10485760")),
		MinioBucketRefundEvidence: getEnv("MINIO_BUCKET_REFUND_EVIDENCE", "refund-evidence"),

		StripeSecretKey: getEnv("STRIPE_SECRET_KEY", ""),
		StripeBaseURL:   getEnv("STRIPE_BASE_URL", "https://api.stripe.com"),

		ABRGUID:              getEnv("ABR_GUID", ""),
		ABRBaseURL:           getEnv("ABR_BASE_URL", "https://abr.business.gov.au"),
		ABRRequestsPerSecond: mustFloat(getEnv("ABR_REQUESTS_PER_SECOND", "2")),

		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		SourcingBatchSize: mustInt(getEnv("SOURCING_BATCH_SIZE", "10")),

		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange: getEnv("RABBITMQ_EXCHANGE", "lead-engine.events"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.EmailEnabled && cfg.EmailFromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when email is enabled")
	}
	if cfg.OfferTTL <= 0 || cfg.LeadTTL <= 0 {
		return nil, fmt.Errorf("OFFER_TTL and LEAD_TTL must be positive durations")
	}
	if cfg.RefundWindowDays <= 0 {
		return nil, fmt.Errorf("REFUND_WINDOW_DAYS must be positive")
	}
	if cfg.MatchConcurrency < 1 {
		cfg.MatchConcurrency = 1
	}

	loc, err := time.LoadLocation(getEnv("SOURCING_TIMEZONE", "Australia/Sydney"))
	if err != nil {
		return nil, fmt.Errorf("SOURCING_TIMEZONE: %w", err)
	}
	cfg.SourcingLocation = loc

	if cfg.PolicyFile != "" {
		policy, err := LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		cfg.Policy = policy
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
