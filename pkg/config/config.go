package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Query        QueryConfig
	LLM          LLMConfig
	Context      ContextConfig
	Sessions     SessionConfig
	Redis        RedisConfig
	Certificates CertificatesConfig
	CORS         CORSConfig
	Log          LogConfig
}

type DatabaseConfig struct {
	Path         string
	MaxOpenConns int
	MaxIdleConns int
	BusyTimeout  time.Duration
}

// QueryConfig bounds compiled statements.
type QueryConfig struct {
	Timeout      time.Duration
	DefaultLimit int
	MaxLimit     int
}

// LLMTierConfig describes one model tier.
type LLMTierConfig struct {
	Provider string
	Model    string
}

// LLMConfig configures the primary and fallback completion tiers.
type LLMConfig struct {
	Primary      LLMTierConfig
	Fallback     LLMTierConfig
	OpenAIKey    string
	OpenAIURL    string
	GeminiKey    string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Temperature  float64
}

// ContextConfig tunes the conversational context stack.
type ContextConfig struct {
	MaxLevels    int
	SampleRows   int
	HistoryLimit int
}

// SessionConfig controls session lifetime and optional redis snapshots.
type SessionConfig struct {
	TTL           time.Duration
	CacheEnabled  bool
	CacheTTL      time.Duration
	SweepInterval time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// CertificatesConfig configures the default certificate collaborator.
type CertificatesConfig struct {
	StorageDir      string
	UploadDir       string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	SchoolName      string
	SchoolCCT       string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Path:         v.GetString("DB_PATH"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		BusyTimeout:  parseDuration(v.GetString("DB_BUSY_TIMEOUT"), 5*time.Second),
	}

	cfg.Query = QueryConfig{
		Timeout:      parseDuration(v.GetString("QUERY_TIMEOUT"), 30*time.Second),
		DefaultLimit: v.GetInt("QUERY_DEFAULT_LIMIT"),
		MaxLimit:     v.GetInt("QUERY_MAX_LIMIT"),
	}

	cfg.LLM = LLMConfig{
		Primary: LLMTierConfig{
			Provider: strings.ToLower(v.GetString("LLM_PRIMARY_PROVIDER")),
			Model:    v.GetString("LLM_PRIMARY_MODEL"),
		},
		Fallback: LLMTierConfig{
			Provider: strings.ToLower(v.GetString("LLM_FALLBACK_PROVIDER")),
			Model:    v.GetString("LLM_FALLBACK_MODEL"),
		},
		OpenAIKey:    v.GetString("OPENAI_API_KEY"),
		OpenAIURL:    v.GetString("OPENAI_BASE_URL"),
		GeminiKey:    v.GetString("GEMINI_API_KEY"),
		Timeout:      parseDuration(v.GetString("LLM_TIMEOUT"), 30*time.Second),
		MaxRetries:   v.GetInt("LLM_MAX_RETRIES"),
		RetryBackoff: parseDuration(v.GetString("LLM_RETRY_BACKOFF"), 500*time.Millisecond),
		Temperature:  v.GetFloat64("LLM_TEMPERATURE"),
	}

	cfg.Context = ContextConfig{
		MaxLevels:    v.GetInt("CONTEXT_MAX_LEVELS"),
		SampleRows:   v.GetInt("CONTEXT_SAMPLE_ROWS"),
		HistoryLimit: v.GetInt("HISTORY_LIMIT"),
	}

	cfg.Sessions = SessionConfig{
		TTL:           parseDuration(v.GetString("SESSION_TTL"), 2*time.Hour),
		CacheEnabled:  v.GetBool("ENABLE_SESSION_CACHE"),
		CacheTTL:      parseDuration(v.GetString("SESSION_CACHE_TTL"), 24*time.Hour),
		SweepInterval: parseDuration(v.GetString("SESSION_SWEEP_INTERVAL"), 5*time.Minute),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Certificates = CertificatesConfig{
		StorageDir:      v.GetString("CERTIFICATES_STORAGE_DIR"),
		UploadDir:       v.GetString("CERTIFICATES_UPLOAD_DIR"),
		SignedURLSecret: v.GetString("CERTIFICATES_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("CERTIFICATES_SIGNED_URL_TTL"), 30*time.Minute),
		SchoolName:      v.GetString("SCHOOL_NAME"),
		SchoolCCT:       v.GetString("SCHOOL_CCT"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_PATH", "./alumnos.db")
	v.SetDefault("DB_MAX_OPEN_CONNS", 4)
	v.SetDefault("DB_MAX_IDLE_CONNS", 2)
	v.SetDefault("DB_BUSY_TIMEOUT", "5s")

	v.SetDefault("QUERY_TIMEOUT", "30s")
	v.SetDefault("QUERY_DEFAULT_LIMIT", 100)
	v.SetDefault("QUERY_MAX_LIMIT", 500)

	v.SetDefault("LLM_PRIMARY_PROVIDER", "openai")
	v.SetDefault("LLM_PRIMARY_MODEL", "gpt-4o-mini")
	v.SetDefault("LLM_FALLBACK_PROVIDER", "gemini")
	v.SetDefault("LLM_FALLBACK_MODEL", "gemini-2.0-flash")
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("OPENAI_BASE_URL", "")
	v.SetDefault("GEMINI_API_KEY", "")
	v.SetDefault("LLM_TIMEOUT", "30s")
	v.SetDefault("LLM_MAX_RETRIES", 1)
	v.SetDefault("LLM_RETRY_BACKOFF", "500ms")
	v.SetDefault("LLM_TEMPERATURE", 0.1)

	v.SetDefault("CONTEXT_MAX_LEVELS", 5)
	v.SetDefault("CONTEXT_SAMPLE_ROWS", 3)
	v.SetDefault("HISTORY_LIMIT", 20)

	v.SetDefault("SESSION_TTL", "2h")
	v.SetDefault("ENABLE_SESSION_CACHE", false)
	v.SetDefault("SESSION_CACHE_TTL", "24h")
	v.SetDefault("SESSION_SWEEP_INTERVAL", "5m")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("CERTIFICATES_STORAGE_DIR", "./constancias")
	v.SetDefault("CERTIFICATES_UPLOAD_DIR", "./cargas")
	v.SetDefault("CERTIFICATES_SIGNED_URL_SECRET", "dev_certificates_secret")
	v.SetDefault("CERTIFICATES_SIGNED_URL_TTL", "30m")
	v.SetDefault("SCHOOL_NAME", "")
	v.SetDefault("SCHOOL_CCT", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// isMissingFile covers viper returning a plain fs error for an explicit SetConfigFile path.
func isMissingFile(err error) bool {
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	return strings.Contains(err.Error(), "no such file or directory") || strings.Contains(err.Error(), "cannot find the file")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
