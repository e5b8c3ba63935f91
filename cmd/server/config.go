package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/Skufu/veincheck/internal/analysis"
	"github.com/Skufu/veincheck/internal/auth"
	"github.com/Skufu/veincheck/internal/storage"
	"github.com/Skufu/veincheck/internal/triage"
)

type Config struct {
	Port      string
	GinMode   string
	LogLevel  string
	LogFormat string

	Storage      storage.Config
	SeverityRule string

	Analyzer          string
	AnalysisURL       string
	AnalysisTimeout   time.Duration
	AnalysisRateLimit float64
	AnalysisCacheSize int
	MockAnalysisDelay time.Duration
	MaxUploadBytes    int64

	AdminPasswordHash string
	AdminPassword     string
	JWTSecret         string
	AdminTokenTTL     time.Duration

	SessionTTL      time.Duration
	SessionCapacity int
	AllowOrigins    []string
}

// loadConfig reads .env, an optional config.yaml and the environment, in
// increasing order of precedence.
func loadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		Port:      v.GetString("port"),
		GinMode:   v.GetString("gin_mode"),
		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
		Storage: storage.Config{
			Backend:     strings.ToLower(v.GetString("storage_backend")),
			CSVPath:     v.GetString("csv_path"),
			SQLitePath:  v.GetString("sqlite_path"),
			DatabaseURL: v.GetString("database_url"),
		},
		SeverityRule:      v.GetString("severity_rule"),
		Analyzer:          strings.ToLower(v.GetString("analyzer")),
		AnalysisURL:       v.GetString("analysis_url"),
		AnalysisTimeout:   v.GetDuration("analysis_timeout"),
		AnalysisRateLimit: v.GetFloat64("analysis_rate_limit"),
		AnalysisCacheSize: v.GetInt("analysis_cache_size"),
		MockAnalysisDelay: v.GetDuration("mock_analysis_delay"),
		MaxUploadBytes:    v.GetInt64("max_upload_bytes"),
		AdminPasswordHash: v.GetString("admin_password_hash"),
		AdminPassword:     v.GetString("admin_password"),
		JWTSecret:         v.GetString("jwt_secret"),
		AdminTokenTTL:     v.GetDuration("admin_token_ttl"),
		SessionTTL:        v.GetDuration("session_ttl"),
		SessionCapacity:   v.GetInt("session_capacity"),
		AllowOrigins:      splitCSV(v.GetString("allow_origins")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("gin_mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("storage_backend", storage.BackendCSV)
	v.SetDefault("csv_path", "data/assessments.csv")
	v.SetDefault("sqlite_path", "data/veincheck.db")
	v.SetDefault("database_url", "")
	v.SetDefault("severity_rule", "priority")
	v.SetDefault("analyzer", "mock")
	v.SetDefault("analysis_url", "")
	v.SetDefault("analysis_timeout", "30s")
	v.SetDefault("analysis_rate_limit", 2.0)
	v.SetDefault("analysis_cache_size", 128)
	v.SetDefault("mock_analysis_delay", "2s")
	v.SetDefault("max_upload_bytes", 5<<20)
	v.SetDefault("admin_password_hash", "")
	v.SetDefault("admin_password", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("admin_token_ttl", "1h")
	v.SetDefault("session_ttl", "30m")
	v.SetDefault("session_capacity", 1024)
	v.SetDefault("allow_origins", "*")
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case storage.BackendCSV, storage.BackendSQLite:
	case storage.BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be csv, sqlite or postgres, got %q", c.Storage.Backend)
	}

	switch c.Analyzer {
	case "mock":
	case "remote":
		if c.AnalysisURL == "" {
			return fmt.Errorf("ANALYSIS_URL is required when ANALYZER=remote")
		}
	default:
		return fmt.Errorf("ANALYZER must be mock or remote, got %q", c.Analyzer)
	}

	if _, err := triage.RuleByName(c.SeverityRule); err != nil {
		return fmt.Errorf("SEVERITY_RULE: %w", err)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.adminEnabled() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when admin access is enabled")
	}
	return nil
}

func (c *Config) adminEnabled() bool {
	return c.AdminPasswordHash != "" || c.AdminPassword != ""
}

func newLogger(cfg *Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(cfg.LogFormat, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	}
	return logger
}

func buildAnalyzer(cfg *Config, logger *logrus.Logger) (analysis.Analyzer, error) {
	var base analysis.Analyzer
	switch cfg.Analyzer {
	case "remote":
		remote, err := analysis.NewRemote(analysis.RemoteConfig{
			URL:       cfg.AnalysisURL,
			Timeout:   cfg.AnalysisTimeout,
			RateLimit: cfg.AnalysisRateLimit,
			Burst:     1,
		}, logger)
		if err != nil {
			return nil, err
		}
		base = remote
	default:
		base = analysis.NewMock(cfg.MockAnalysisDelay, 0)
	}

	if cfg.AnalysisCacheSize <= 0 {
		return base, nil
	}
	return analysis.NewCached(base, cfg.AnalysisCacheSize)
}

// buildAuth returns nil when no admin credential is configured. A plain
// ADMIN_PASSWORD is hashed here and is meant for local development only.
func buildAuth(cfg *Config, logger *logrus.Logger) (*auth.Authenticator, error) {
	if !cfg.adminEnabled() {
		logger.Warn("no admin credential configured, admin endpoints are disabled")
		return nil, nil
	}
	hash := cfg.AdminPasswordHash
	if hash == "" {
		logger.Warn("ADMIN_PASSWORD is set in plaintext; use ADMIN_PASSWORD_HASH outside development")
		h, err := auth.HashPassword(cfg.AdminPassword)
		if err != nil {
			return nil, err
		}
		hash = h
	}
	return auth.New(auth.Config{
		PasswordHash: hash,
		Secret:       cfg.JWTSecret,
		TokenTTL:     cfg.AdminTokenTTL,
	})
}

func splitCSV(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
