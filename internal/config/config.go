// Package config provides application configuration with multi-source priority.
//
// Sources (highest to lowest):
//  1. Environment variables
//  2. Config file (~/.campusmate/config.yaml or ./config.yaml)
//  3. Defaults
//
// Categories:
//   - Storage: PostgreSQL connection (DATABASE_URL override supported)
//   - Embedding: provider model, batching, retry and rate limits
//   - Ingestion: worker count, minimum entry length, priority heuristics
//   - Retrieval: composite score weights, top-K, relevance threshold
//   - Context: history window and prompt budget
//
// Sensitive values are masked in MarshalJSON; validation runs at load time
// and fails fast with sentinel errors usable via errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
)

var (
	// ErrMissingAPIKey indicates the embedding provider API key is absent.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidEmbedderModel indicates an unusable embedder model name.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates an unusable PostgreSQL host.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates a PostgreSQL port out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates an unusable database name.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidWeights indicates ranking weights that are negative or all zero.
	ErrInvalidWeights = errors.New("invalid ranking weights")

	// ErrInvalidWorkerCount indicates a non-positive worker count.
	ErrInvalidWorkerCount = errors.New("invalid worker count")

	// ErrInvalidBudget indicates a non-positive context budget.
	ErrInvalidBudget = errors.New("invalid context budget")
)

// DefaultEmbedderModel is the Google embedding model used unless overridden.
// It produces 768-dimensional vectors, matching the pgvector schema.
const DefaultEmbedderModel = "text-embedding-004"

// Config stores the full application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON.
type Config struct {
	// Storage
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Embedding
	EmbedderModel string          `mapstructure:"embedder_model" json:"embedder_model"`
	Embedding     EmbeddingConfig `mapstructure:"embedding" json:"embedding"`

	// Ingestion
	Ingestion IngestionConfig `mapstructure:"ingestion" json:"ingestion"`

	// Retrieval
	Retrieval RetrievalConfig `mapstructure:"retrieval" json:"retrieval"`

	// Context assembly
	Context ContextConfig `mapstructure:"context" json:"context"`
}

// EmbeddingConfig controls the batch embedding generator.
type EmbeddingConfig struct {
	BatchSize      int     `mapstructure:"batch_size" json:"batch_size"`
	Workers        int     `mapstructure:"workers" json:"workers"`
	MaxRetries     int     `mapstructure:"max_retries" json:"max_retries"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec" json:"requests_per_sec"`
	TimeoutSec     int     `mapstructure:"timeout_sec" json:"timeout_sec"`
}

// IngestionConfig controls file processing and the priority heuristics.
// The priority weights are tunable parameters, not a fixed contract.
type IngestionConfig struct {
	Workers       int `mapstructure:"workers" json:"workers"`
	MinEntryWords int `mapstructure:"min_entry_words" json:"min_entry_words"`

	UrgencyBoost     int `mapstructure:"urgency_boost" json:"urgency_boost"`
	DeadlineBoost    int `mapstructure:"deadline_boost" json:"deadline_boost"`
	CourseCodeBoost  int `mapstructure:"course_code_boost" json:"course_code_boost"`
	LongContentBoost int `mapstructure:"long_content_boost" json:"long_content_boost"`
}

// RetrievalConfig controls the composite ranking score
// alpha*similarity + beta*priority + gamma*tag overlap.
type RetrievalConfig struct {
	Alpha         float64 `mapstructure:"alpha" json:"alpha"`
	Beta          float64 `mapstructure:"beta" json:"beta"`
	Gamma         float64 `mapstructure:"gamma" json:"gamma"`
	DefaultTopK   int     `mapstructure:"default_top_k" json:"default_top_k"`
	CandidatePool int     `mapstructure:"candidate_pool" json:"candidate_pool"`
	MinRelevance  float64 `mapstructure:"min_relevance" json:"min_relevance"`
	TimeoutSec    int     `mapstructure:"timeout_sec" json:"timeout_sec"`
}

// ContextConfig controls prompt assembly.
type ContextConfig struct {
	HistoryMessages int `mapstructure:"history_messages" json:"history_messages"`
	BudgetChars     int `mapstructure:"budget_chars" json:"budget_chars"`
}

// Load reads configuration with priority env > file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".campusmate")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "campusmate")
	viper.SetDefault("postgres_password", "campusmate_dev_password")
	viper.SetDefault("postgres_db_name", "campusmate")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Embedding defaults
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("embedding.batch_size", 32)
	viper.SetDefault("embedding.workers", 2)
	viper.SetDefault("embedding.max_retries", 3)
	viper.SetDefault("embedding.requests_per_sec", 5.0)
	viper.SetDefault("embedding.timeout_sec", 30)

	// Ingestion defaults
	viper.SetDefault("ingestion.workers", 4)
	viper.SetDefault("ingestion.min_entry_words", 3)
	viper.SetDefault("ingestion.urgency_boost", 2)
	viper.SetDefault("ingestion.deadline_boost", 1)
	viper.SetDefault("ingestion.course_code_boost", 2)
	viper.SetDefault("ingestion.long_content_boost", 1)

	// Retrieval defaults: similarity dominates, priority breaks near-ties.
	viper.SetDefault("retrieval.alpha", 0.75)
	viper.SetDefault("retrieval.beta", 0.15)
	viper.SetDefault("retrieval.gamma", 0.10)
	viper.SetDefault("retrieval.default_top_k", 5)
	viper.SetDefault("retrieval.candidate_pool", 50)
	viper.SetDefault("retrieval.min_relevance", 0.25)
	viper.SetDefault("retrieval.timeout_sec", 5)

	// Context defaults
	viper.SetDefault("context.history_messages", 20)
	viper.SetDefault("context.budget_chars", 12000)
}

// bindEnvVariables binds environment overrides explicitly.
// GEMINI_API_KEY is read directly by the Genkit plugin, not via viper;
// its presence is checked in Validate for embedding commands.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("postgres_host", "CAMPUSMATE_POSTGRES_HOST")
	mustBind("postgres_password", "CAMPUSMATE_POSTGRES_PASSWORD")
	mustBind("embedder_model", "CAMPUSMATE_EMBEDDER_MODEL")
	mustBind("ingestion.workers", "CAMPUSMATE_INGEST_WORKERS")
}

// parseDatabaseURL applies a DATABASE_URL environment override, the highest
// priority source for PostgreSQL settings.
func (c *Config) parseDatabaseURL() error {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("DATABASE_URL scheme %q is not postgres", u.Scheme)
	}

	if h := u.Hostname(); h != "" {
		c.PostgresHost = h
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid DATABASE_URL port %q: %w", p, err)
		}
		c.PostgresPort = port
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if db := trimLeadingSlash(u.Path); db != "" {
		c.PostgresDBName = db
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

func trimLeadingSlash(s string) string {
	if len(s) > 0 && s[0] == '/' {
		return s[1:]
	}
	return s
}

// DatabaseURL renders the PostgreSQL connection URL.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:   fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:   "/" + c.PostgresDBName,
	}
	q := url.Values{}
	q.Set("sslmode", c.PostgresSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// maskedValue avoids substring leaks: full-width blocks cannot collide with
// characters of a real secret.
const maskedValue = "████████"

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON masks sensitive fields. When adding a new secret field,
// update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer so accidental printing never leaks secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
