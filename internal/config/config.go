// Package config loads runtime settings from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds everything the broker needs at startup. All durable state
// lives in DynamoDB tables; archives live in an S3-compatible bucket reached
// only through presigned URLs.
type Config struct {
	DevMode bool `env:"DEV_MODE"`

	// DynamoDB table names.
	UsersTable      string `env:"USERS_TABLE" envDefault:"SaveSyncUsers"`
	EmailIndexTable string `env:"EMAIL_INDEX_TABLE" envDefault:"SaveSyncEmailIndex"`
	DevicesTable    string `env:"DEVICES_TABLE" envDefault:"SaveSyncDevices"`
	SavesTable      string `env:"SAVES_TABLE" envDefault:"SaveSyncMetadata"`
	DownloadsTable  string `env:"DOWNLOADS_TABLE" envDefault:"SaveSyncDownloads"`
	// RateLimitTable switches the rate limiter to the shared DynamoDB
	// counter store when set; empty means in-process counters.
	RateLimitTable string `env:"RATE_LIMIT_TABLE"`

	// Object storage.
	Bucket      string        `env:"SAVES_BUCKET" envDefault:"savesync-archives"`
	S3Endpoint  string        `env:"S3_ENDPOINT"`
	S3Region    string        `env:"S3_REGION" envDefault:"auto"`
	S3AccessKey string        `env:"S3_ACCESS_KEY_ID"`
	S3SecretKey string        `env:"S3_SECRET_ACCESS_KEY"`
	PresignTTL  time.Duration `env:"PRESIGN_TTL" envDefault:"45s"`

	// SSM parameter names for secret material. In DEV_MODE the resolver
	// falls back to the matching environment variables instead.
	SessionSecretParam        string `env:"SESSION_SECRET_PARAM" envDefault:"/savesync/session-secret"`
	SessionSecretRotatedParam string `env:"SESSION_SECRET_ROTATED_PARAM" envDefault:"/savesync/session-secret-rotated"`
	UploadSecretParam         string `env:"UPLOAD_SECRET_PARAM" envDefault:"/savesync/upload-secret"`
	UploadSecretRotatedParam  string `env:"UPLOAD_SECRET_ROTATED_PARAM" envDefault:"/savesync/upload-secret-rotated"`
	TurnstileSecretParam      string `env:"TURNSTILE_SECRET_PARAM" envDefault:"/savesync/turnstile-secret"`

	// Abuse controls. Empty URL/audience disables the gateway check;
	// an unresolvable Turnstile secret disables the bot challenge.
	GatewayVerifyURL   string `env:"GATEWAY_VERIFY_URL"`
	GatewayAudience    string `env:"GATEWAY_AUDIENCE"`
	TurnstileVerifyURL string `env:"TURNSTILE_VERIFY_URL" envDefault:"https://challenges.cloudflare.com/turnstile/v0/siteverify"`

	RateLimitMax    int           `env:"RATE_LIMIT_MAX" envDefault:"30"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
