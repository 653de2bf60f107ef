// Package config parses and validates all worker configuration from
// environment variables using caarlos0/env/v11.
//
// Call [Load] once at startup; pass the resulting [Config] to subcommands.
// The process exits if any field tagged "required" is missing.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all worker configuration sourced from environment variables.
// Sensitive fields must never be logged verbatim.
type Config struct {
	// ── Database ─────────────────────────────────────────────────────────────────
	DatabaseURL          string        `env:"DATABASE_URL,required"`
	DBMaxConns           int32         `env:"DB_MAX_CONNS"            envDefault:"10"`
	DBMaxConnIdleTime    time.Duration `env:"DB_MAX_CONN_IDLE_TIME"   envDefault:"5m"`
	DBStatementTimeoutMS int           `env:"DB_STATEMENT_TIMEOUT_MS" envDefault:"14000"`

	// ── Queue ────────────────────────────────────────────────────────────────────
	// NotifyChannel is the pg_notify channel to LISTEN on. It must match
	// the channel the email_queue_notify trigger emits on, which is fixed
	// in the migration; overriding it without a matching schema change
	// leaves the worker deaf to notifications.
	NotifyChannel string `env:"NOTIFY_CHANNEL" envDefault:"email_queue"`
	// ClaimTimeout bounds the claiming transaction so a stuck send cannot
	// hold a row lock indefinitely.
	ClaimTimeout   time.Duration `env:"CLAIM_TIMEOUT"   envDefault:"30s"`
	ReconnectDelay time.Duration `env:"RECONNECT_DELAY" envDefault:"5s"`
	// SweepInterval enables a periodic recovery sweep in addition to the
	// startup sweep. Zero disables it.
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"0s"`

	// ── Email — SMTP ─────────────────────────────────────────────────────────────
	// An empty SMTPHost selects the stdout sender (local development).
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"1025"`
	SMTPFrom     string `env:"SMTP_FROM" envDefault:"no-reply@seeker.local"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPTLS      bool   `env:"SMTP_TLS"  envDefault:"false"`

	// ── Observability ────────────────────────────────────────────────────────────
	ObsEnabled   bool   `env:"OBS_ENABLED"                 envDefault:"false"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"http://localhost:4317"`
	ServiceName  string `env:"SERVICE_NAME"                envDefault:"email-worker"`
	// OpsAddr serves /healthz and /metrics when set; empty disables the
	// listener entirely.
	OpsAddr string `env:"OPS_ADDR"`

	// ── Logging ──────────────────────────────────────────────────────────────────
	AppEnv    string `env:"APP_ENV"    envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load parses and returns Config from environment variables.
// Returns an error if any required field is missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the worker is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
