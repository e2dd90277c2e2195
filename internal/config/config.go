package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Analysis      AnalysisConfig
	Generation    GenerationConfig
	ObjectStore   ObjectStoreConfig
	Sessions      SessionConfig
	Chart         ChartConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// AnalysisConfig bounds the repair loop and the sandbox.
type AnalysisConfig struct {
	MaxRetries       int
	RowCap           int
	Temperature      float64
	SchemaSampleRows int
	RequestTimeout   time.Duration
}

type GenerationConfig struct {
	BaseURL         string
	APIKey          string
	Model           string
	FallbackBaseURL string
	FallbackAPIKey  string
	FallbackModel   string
	Timeout         time.Duration
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type SessionConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	TTL             time.Duration
	MaxTurns        int
	ContextTurns    int
}

type ChartConfig struct {
	Enabled   bool
	RenderURL string
	Timeout   time.Duration
	Scale     int
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("TABLETALK_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid TABLETALK_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "TABLETALK_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_HTTP_ADDR", &cfg.HTTP.Address); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "TABLETALK_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "TABLETALK_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "TABLETALK_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "TABLETALK_ANALYSIS_MAX_RETRIES", &cfg.Analysis.MaxRetries); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "TABLETALK_ANALYSIS_ROW_CAP", &cfg.Analysis.RowCap); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "TABLETALK_ANALYSIS_TEMPERATURE", &cfg.Analysis.Temperature); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "TABLETALK_ANALYSIS_SCHEMA_SAMPLE_ROWS", &cfg.Analysis.SchemaSampleRows); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "TABLETALK_ANALYSIS_REQUEST_TIMEOUT", &cfg.Analysis.RequestTimeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_GENERATION_BASE_URL", &cfg.Generation.BaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_GENERATION_API_KEY", &cfg.Generation.APIKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_GENERATION_MODEL", &cfg.Generation.Model); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_GENERATION_FALLBACK_BASE_URL", &cfg.Generation.FallbackBaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_GENERATION_FALLBACK_API_KEY", &cfg.Generation.FallbackAPIKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_GENERATION_FALLBACK_MODEL", &cfg.Generation.FallbackModel); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "TABLETALK_GENERATION_TIMEOUT", &cfg.Generation.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_OBJECTSTORE_REGION", &cfg.ObjectStore.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "TABLETALK_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "TABLETALK_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_SESSIONS_DSN", &cfg.Sessions.DSN); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "TABLETALK_SESSIONS_MAX_OPEN_CONNS", &cfg.Sessions.MaxOpenConns); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "TABLETALK_SESSIONS_MAX_IDLE_CONNS", &cfg.Sessions.MaxIdleConns); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "TABLETALK_SESSIONS_CONN_MAX_IDLE_TIME", &cfg.Sessions.ConnMaxIdleTime); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "TABLETALK_SESSIONS_CONN_MAX_LIFETIME", &cfg.Sessions.ConnMaxLifetime); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "TABLETALK_SESSIONS_TTL", &cfg.Sessions.TTL); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "TABLETALK_SESSIONS_MAX_TURNS", &cfg.Sessions.MaxTurns); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "TABLETALK_SESSIONS_CONTEXT_TURNS", &cfg.Sessions.ContextTurns); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "TABLETALK_CHART_ENABLED", &cfg.Chart.Enabled); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_CHART_RENDER_URL", &cfg.Chart.RenderURL); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "TABLETALK_CHART_TIMEOUT", &cfg.Chart.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "TABLETALK_CHART_SCALE", &cfg.Chart.Scale); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "TABLETALK_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "TABLETALK_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "TABLETALK_AUTH_REQUIRED", &cfg.Auth.Required); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys); err != nil {
		return Config{}, err
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Analysis.MaxRetries < 0 {
		return Config{}, fmt.Errorf("analysis max retries must not be negative")
	}
	if cfg.Analysis.RowCap <= 0 {
		return Config{}, fmt.Errorf("analysis row cap must be positive")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "tabletalk-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Analysis: AnalysisConfig{
			MaxRetries:       2,
			RowCap:           1000,
			Temperature:      0.1,
			SchemaSampleRows: 5,
			RequestTimeout:   90 * time.Second,
		},
		Generation: GenerationConfig{
			BaseURL: "https://api.openai.com",
			Model:   "gpt-4o-mini",
			Timeout: 30 * time.Second,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "tabletalk",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Sessions: SessionConfig{
			DSN:             "",
			MaxOpenConns:    20,
			MaxIdleConns:    20,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
			TTL:             2 * time.Hour,
			MaxTurns:        10,
			ContextTurns:    3,
		},
		Chart: ChartConfig{
			Enabled:   false,
			RenderURL: "http://localhost:8091/render",
			Timeout:   10 * time.Second,
			Scale:     2,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
