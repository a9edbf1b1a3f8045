// Package config loads the service configuration from config.yaml with
// environment overrides for anything secret or deploy-specific.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks when no path is given.
const DefaultPath = "config.yaml"

type OpenAIConfig struct {
	APIKey     string `yaml:"apiKey"`
	BaseURL    string `yaml:"baseUrl"`
	RulesModel string `yaml:"rulesModel"`
	ChatModel  string `yaml:"chatModel"`
}

type SheetsConfig struct {
	SpreadsheetID     string `yaml:"spreadsheetId"`
	ServiceAccountKey string `yaml:"serviceAccountKey"`
}

type BlobConfig struct {
	Endpoint      string `yaml:"endpoint"`
	AccessKey     string `yaml:"accessKey"`
	SecretKey     string `yaml:"secretKey"`
	Bucket        string `yaml:"bucket"`
	PublicBaseURL string `yaml:"publicBaseUrl"`
	UseSSL        bool   `yaml:"useSSL"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
}

type QueueConfig struct {
	Stream      string `yaml:"stream"`
	Group       string `yaml:"group"`
	Concurrency int    `yaml:"concurrency"`
}

type RateLimitConfig struct {
	UploadPerMinute int `yaml:"uploadPerMinute"`
	ChatPerMinute   int `yaml:"chatPerMinute"`
}

type Config struct {
	ListenAddr     string          `yaml:"listenAddr"`
	LogLevel       string          `yaml:"logLevel"`
	SessionSecret  string          `yaml:"sessionSecret"`
	MaxUploadBytes int64           `yaml:"maxUploadBytes"`
	OpenAI         OpenAIConfig    `yaml:"openai"`
	Sheets         SheetsConfig    `yaml:"sheets"`
	Blob           BlobConfig      `yaml:"blob"`
	Redis          RedisConfig     `yaml:"redis"`
	Queue          QueueConfig     `yaml:"queue"`
	RateLimit      RateLimitConfig `yaml:"rateLimit"`

	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

func defaults() Config {
	return Config{
		ListenAddr:      ":8080",
		LogLevel:        "info",
		MaxUploadBytes:  32 << 20,
		Queue:           QueueConfig{Stream: "ludex:process", Group: "workers", Concurrency: 2},
		RateLimit:       RateLimitConfig{UploadPerMinute: 10, ChatPerMinute: 30},
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load reads the config file (missing file is fine, env can carry
// everything), applies env overrides, and validates.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envString(&cfg.ListenAddr, "LUDEX_LISTEN_ADDR")
	envString(&cfg.LogLevel, "LUDEX_LOG_LEVEL")
	envString(&cfg.SessionSecret, "LUDEX_SESSION_SECRET")
	envString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	envString(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")
	envString(&cfg.OpenAI.RulesModel, "OPENAI_RULES_MODEL")
	envString(&cfg.OpenAI.ChatModel, "OPENAI_CHAT_MODEL")
	envString(&cfg.Sheets.SpreadsheetID, "GOOGLE_SHEETS_ID")
	envString(&cfg.Sheets.ServiceAccountKey, "GOOGLE_SERVICE_ACCOUNT_KEY")
	envString(&cfg.Blob.Endpoint, "MINIO_ENDPOINT")
	envString(&cfg.Blob.AccessKey, "MINIO_ACCESS_KEY")
	envString(&cfg.Blob.SecretKey, "MINIO_SECRET_KEY")
	envString(&cfg.Blob.Bucket, "MINIO_BUCKET")
	envString(&cfg.Blob.PublicBaseURL, "MINIO_PUBLIC_URL")
	envBool(&cfg.Blob.UseSSL, "MINIO_USE_SSL")
	envString(&cfg.Redis.Addr, "REDIS_ADDR")
	envString(&cfg.Redis.Password, "REDIS_PASSWORD")
}

func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func envBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

func validate(cfg Config) error {
	type required struct {
		value, setting, env string
	}
	checks := []required{
		{cfg.SessionSecret, "sessionSecret", "LUDEX_SESSION_SECRET"},
		{cfg.OpenAI.APIKey, "openai.apiKey", "OPENAI_API_KEY"},
		{cfg.Sheets.SpreadsheetID, "sheets.spreadsheetId", "GOOGLE_SHEETS_ID"},
		{cfg.Sheets.ServiceAccountKey, "sheets.serviceAccountKey", "GOOGLE_SERVICE_ACCOUNT_KEY"},
		{cfg.Blob.Endpoint, "blob.endpoint", "MINIO_ENDPOINT"},
		{cfg.Blob.AccessKey, "blob.accessKey", "MINIO_ACCESS_KEY"},
		{cfg.Blob.SecretKey, "blob.secretKey", "MINIO_SECRET_KEY"},
		{cfg.Blob.Bucket, "blob.bucket", "MINIO_BUCKET"},
	}
	for _, c := range checks {
		if strings.TrimSpace(c.value) == "" {
			return fmt.Errorf("config: %s required (set %s)", c.setting, c.env)
		}
	}
	return nil
}
