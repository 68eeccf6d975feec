// Package config provides application configuration loading.
// Configuration is read from the environment exactly once at process start;
// components receive the parts they need through narrow interfaces and never
// consult ambient state themselves.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// AuthServiceConfig provides settings needed by the auth service.
type AuthServiceConfig interface {
	JWTConfig
	GetAccessTokenTTL() time.Duration
	GetAdminUsername() string
	GetAdminPasswordHash() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
}

// BitrixConfig provides settings for the CRM REST client.
type BitrixConfig interface {
	GetBitrixWebhookURL() string
	GetBitrixRequestTimeout() time.Duration
	GetBitrixRequestsPerSecond() float64
	GetCRMPortalURL() string
}

// PurchasesConfig provides settings for the purchases smart process.
type PurchasesConfig interface {
	GetSmartProcessPurchasesID() int
	IsPurchasesEnabled() bool
}

// SchedulerConfig provides settings for the asynq scheduler.
type SchedulerConfig interface {
	GetRedisURL() string
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetOrphanSweepDelay() time.Duration
	GetRedisTLSInsecure() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                     string
	HTTPAddr                string
	DatabaseURL             string
	JWTAccessSecret         string
	AccessTokenTTL          time.Duration
	CORSAllowAll            bool
	CORSOrigins             []string
	AdminUsername           string
	AdminPasswordHash       string
	BitrixWebhookURL        string
	BitrixRequestTimeout    time.Duration
	BitrixRequestsPerSecond float64
	CRMPortalURL            string
	SmartProcessPurchasesID int
	RedisURL                string
	AsynqQueueName          string
	AsynqConcurrency        int
	OrphanSweepDelay        time.Duration
	RedisTLSInsecure        bool
}

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// AuthServiceConfig implementation
func (c *Config) GetAccessTokenTTL() time.Duration { return c.AccessTokenTTL }
func (c *Config) GetAdminUsername() string         { return c.AdminUsername }
func (c *Config) GetAdminPasswordHash() string     { return c.AdminPasswordHash }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }

// BitrixConfig implementation
func (c *Config) GetBitrixWebhookURL() string            { return c.BitrixWebhookURL }
func (c *Config) GetBitrixRequestTimeout() time.Duration { return c.BitrixRequestTimeout }
func (c *Config) GetBitrixRequestsPerSecond() float64    { return c.BitrixRequestsPerSecond }
func (c *Config) GetCRMPortalURL() string                { return c.CRMPortalURL }

// PurchasesConfig implementation
func (c *Config) GetSmartProcessPurchasesID() int { return c.SmartProcessPurchasesID }
func (c *Config) IsPurchasesEnabled() bool        { return c.SmartProcessPurchasesID > 0 }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string                { return c.RedisURL }
func (c *Config) GetAsynqQueueName() string          { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int           { return c.AsynqConcurrency }
func (c *Config) GetOrphanSweepDelay() time.Duration { return c.OrphanSweepDelay }
func (c *Config) GetRedisTLSInsecure() bool          { return c.RedisTLSInsecure }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                     getEnv("APP_ENV", "development"),
		HTTPAddr:                getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		JWTAccessSecret:         getEnv("JWT_ACCESS_SECRET", ""),
		AccessTokenTTL:          mustDuration(getEnv("JWT_ACCESS_TTL", "12h")),
		CORSAllowAll:            corsAllowAll,
		CORSOrigins:             corsOrigins,
		AdminUsername:           getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash:       getEnv("ADMIN_PASSWORD_HASH", ""),
		BitrixWebhookURL:        getEnv("BITRIX24_WEBHOOK_URL", ""),
		BitrixRequestTimeout:    mustDuration(getEnv("BITRIX24_REQUEST_TIMEOUT", "10s")),
		BitrixRequestsPerSecond: mustFloat(getEnv("BITRIX24_REQUESTS_PER_SECOND", "2")),
		CRMPortalURL:            getEnv("CRM_PORTAL_URL", ""),
		SmartProcessPurchasesID: int(mustInt64(getEnv("SMART_PROCESS_PURCHASES_ID", "0"))),
		RedisURL:                getEnv("REDIS_URL", ""),
		AsynqQueueName:          getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:        int(mustInt64(getEnv("ASYNQ_CONCURRENCY", "10"))),
		OrphanSweepDelay:        mustDuration(getEnv("ORPHAN_SWEEP_DELAY", "5m")),
		RedisTLSInsecure:        strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.BitrixWebhookURL == "" {
		return nil, fmt.Errorf("BITRIX24_WEBHOOK_URL is required")
	}
	if cfg.AdminPasswordHash == "" {
		return nil, fmt.Errorf("ADMIN_PASSWORD_HASH is required")
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

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(value, 64)
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
