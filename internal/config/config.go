package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ChunkerConfig configures how course documents are split.
type ChunkerConfig struct {
	Type            string `yaml:"type"` // window | structural
	Size            int    `yaml:"size"`
	Overlap         int    `yaml:"overlap"`
	SummaryMinRunes int    `yaml:"summary_min_runes"`
	SummarySegments int    `yaml:"summary_segments"`
	SummaryBudget   int    `yaml:"summary_budget"`
}

// EmbedderConfig selects and configures the embedding backend.
type EmbedderConfig struct {
	Provider          string        `yaml:"provider"` // ollama | openai | hash
	Host              string        `yaml:"host"`
	BaseURL           string        `yaml:"base_url"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	Model             string        `yaml:"model"`
	Dimension         int           `yaml:"dimension"`
	BatchSize         int           `yaml:"batch_size"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// LLMConfig selects the primary and fallback language models.
type LLMConfig struct {
	Provider          string        `yaml:"provider"` // ollama | openai
	Host              string        `yaml:"host"`
	BaseURL           string        `yaml:"base_url"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	Model             string        `yaml:"model"`
	FallbackModel     string        `yaml:"fallback_model"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// RetrievalConfig controls search and prompt assembly.
type RetrievalConfig struct {
	K               int    `yaml:"k"`
	Metric          string `yaml:"metric"` // l2 | cosine
	MaxContextRunes int    `yaml:"max_context_runes"`
	HistoryTurns    int    `yaml:"history_turns"`
}

// QdrantConfig holds the gRPC endpoint used to mirror course indexes.
type QdrantConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	CollectionPrefix string `yaml:"collection_prefix"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// Config is the root configuration of octutor.
type Config struct {
	DataDir       string          `yaml:"data_dir"`
	SessionDir    string          `yaml:"session_dir"`
	QuizDir       string          `yaml:"quiz_dir"`
	HistoryPath   string          `yaml:"history_path"`
	DefaultCourse string          `yaml:"default_course"`
	Chunker       ChunkerConfig   `yaml:"chunker"`
	Embedder      EmbedderConfig  `yaml:"embedder"`
	LLM           LLMConfig       `yaml:"llm"`
	Retrieval     RetrievalConfig `yaml:"retrieval"`
	Qdrant        QdrantConfig    `yaml:"qdrant"`
	Server        ServerConfig    `yaml:"server"`
	Log           LogConfig       `yaml:"log"`
}

// Load reads the config at path. A missing file yields the defaults.
// A .env file in the working directory is loaded first so that ${VAR}
// references and environment overrides can use it.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	data = []byte(os.ExpandEnv(string(data)))

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Save writes cfg as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OCTUTOR_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("OCTUTOR_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("OCTUTOR_RETRIEVAL_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			cfg.Retrieval.K = k
		}
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.Embedder.Host = v
		cfg.LLM.Host = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = "knowledge_base"
	}
	if cfg.SessionDir == "" {
		cfg.SessionDir = "sessions"
	}
	if cfg.QuizDir == "" {
		cfg.QuizDir = "quiz_memory"
	}
	if cfg.HistoryPath == "" {
		cfg.HistoryPath = "history.txt"
	}
	if cfg.DefaultCourse == "" {
		cfg.DefaultCourse = "vorkurs_chemie"
	}

	if cfg.Chunker.Type == "" {
		cfg.Chunker.Type = "window"
	}
	// overlap only has a meaning relative to size
	if cfg.Chunker.Size <= 0 {
		cfg.Chunker.Size = 500
		cfg.Chunker.Overlap = 100
	}
	if cfg.Chunker.SummaryMinRunes <= 0 {
		cfg.Chunker.SummaryMinRunes = 300
	}
	if cfg.Chunker.SummarySegments <= 0 {
		cfg.Chunker.SummarySegments = 2
	}
	if cfg.Chunker.SummaryBudget <= 0 {
		cfg.Chunker.SummaryBudget = 1000
	}

	e := &cfg.Embedder
	if e.Provider == "" {
		e.Provider = "ollama"
	}
	if e.Model == "" {
		switch e.Provider {
		case "openai":
			e.Model = "text-embedding-3-small"
		case "hash":
			e.Model = "hash"
		default:
			e.Model = "nomic-embed-text"
		}
	}
	if e.Host == "" && e.Provider == "ollama" {
		e.Host = "http://localhost:11434"
	}
	if e.APIKeyEnv == "" {
		e.APIKeyEnv = "OPENAI_API_KEY"
	}
	if e.Dimension <= 0 {
		e.Dimension = 384
	}
	if e.BatchSize <= 0 {
		e.BatchSize = 32
	}
	if e.Timeout <= 0 {
		e.Timeout = 30 * time.Second
	}
	if e.MaxRetries <= 0 {
		e.MaxRetries = 3
	}
	if e.RequestsPerSecond == 0 {
		e.RequestsPerSecond = 10
	}

	l := &cfg.LLM
	if l.Provider == "" {
		l.Provider = "ollama"
	}
	if l.Model == "" {
		if l.Provider == "openai" {
			l.Model = "gpt-4o-mini"
		} else {
			l.Model = "llama3.2:3b"
		}
	}
	if l.FallbackModel == "" {
		if l.Provider == "openai" {
			l.FallbackModel = l.Model
		} else {
			l.FallbackModel = "llama2:13b"
		}
	}
	if l.Host == "" && l.Provider == "ollama" {
		l.Host = "http://localhost:11434"
	}
	if l.APIKeyEnv == "" {
		l.APIKeyEnv = "OPENAI_API_KEY"
	}
	if l.Timeout <= 0 {
		l.Timeout = 2 * time.Minute
	}
	if l.MaxRetries <= 0 {
		l.MaxRetries = 1
	}
	if l.RequestsPerSecond == 0 {
		l.RequestsPerSecond = 2
	}

	if cfg.Retrieval.K <= 0 {
		cfg.Retrieval.K = 4
	}
	if cfg.Retrieval.Metric == "" {
		cfg.Retrieval.Metric = "l2"
	}

	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}
	if cfg.Qdrant.CollectionPrefix == "" {
		cfg.Qdrant.CollectionPrefix = "course_"
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:3003"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
