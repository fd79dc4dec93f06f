package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Phase names, in execution order. Requesting a phase runs every phase up to
// and including it.
const (
	PhaseGenerate = "generate"
	PhaseCompare  = "compare"
	PhaseReview   = "review"
	PhaseFinalize = "finalize"
)

// PhaseOrder returns the rank of a phase, or -1 for unknown names.
func PhaseOrder(phase string) int {
	switch phase {
	case PhaseGenerate:
		return 0
	case PhaseCompare:
		return 1
	case PhaseReview:
		return 2
	case PhaseFinalize:
		return 3
	}
	return -1
}

// Config holds all configuration for the content pipeline.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	RAG       RAGConfig       `mapstructure:"rag"`
	Cache     CacheConfig     `mapstructure:"cache"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
}

// GeneralConfig contains application-wide settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// StageModels routes each workflow stage to a model name.
type StageModels struct {
	Plan     string `mapstructure:"plan"`
	Refine   string `mapstructure:"refine"`
	Generate string `mapstructure:"generate"`
	Compare  string `mapstructure:"compare"`
	Review   string `mapstructure:"review"`
	Edit     string `mapstructure:"edit"`
}

// ForStage resolves a stage name to its model, falling back to the generate
// model when a stage has no explicit routing.
func (m StageModels) ForStage(stage string) string {
	var model string
	switch stage {
	case "plan":
		model = m.Plan
	case "refine":
		model = m.Refine
	case "generate":
		model = m.Generate
	case "compare":
		model = m.Compare
	case "review":
		model = m.Review
	case "edit":
		model = m.Edit
	}
	if model == "" {
		model = m.Generate
	}
	return model
}

// StageBudgets caps completion tokens per stage.
type StageBudgets struct {
	Plan     int `mapstructure:"plan"`
	Refine   int `mapstructure:"refine"`
	Generate int `mapstructure:"generate"`
	Compare  int `mapstructure:"compare"`
	Review   int `mapstructure:"review"`
	Edit     int `mapstructure:"edit"`
}

// ForStage resolves a stage name to its token budget.
func (b StageBudgets) ForStage(stage string) int {
	switch stage {
	case "plan":
		return b.Plan
	case "refine":
		return b.Refine
	case "generate":
		return b.Generate
	case "compare":
		return b.Compare
	case "review":
		return b.Review
	case "edit":
		return b.Edit
	}
	return 0
}

// WorkflowConfig controls the per-row stage pipeline.
type WorkflowConfig struct {
	Phase              string       `mapstructure:"phase"`
	FanOut             int          `mapstructure:"fan_out"`
	Concurrency        int          `mapstructure:"concurrency"`
	SelectedRows       []string     `mapstructure:"selected_rows"`
	DetectionThreshold int          `mapstructure:"detection_threshold"`
	OutputDir          string       `mapstructure:"output_dir"`
	Models             StageModels  `mapstructure:"models"`
	TokenBudgets       StageBudgets `mapstructure:"token_budgets"`
	Temperature        float64      `mapstructure:"temperature"`
}

// Validate checks workflow settings.
func (w WorkflowConfig) Validate() error {
	if PhaseOrder(w.Phase) < 0 {
		return fmt.Errorf("workflow.phase must be one of generate|compare|review|finalize, got %q", w.Phase)
	}
	if w.FanOut < 1 {
		return errors.New("workflow.fan_out must be >= 1")
	}
	if w.Concurrency < 1 {
		return errors.New("workflow.concurrency must be >= 1")
	}
	if w.OutputDir == "" {
		return errors.New("workflow.output_dir is required")
	}
	return nil
}

// RAGConfig controls the retrieval engine.
type RAGConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	ReferenceDir       string  `mapstructure:"reference_dir"`
	IndexPath          string  `mapstructure:"index_path"`
	ChunkSize          int     `mapstructure:"chunk_size"`
	ChunkOverlap       int     `mapstructure:"chunk_overlap"`
	TopK               int     `mapstructure:"top_k"`
	ContextTokenBudget int     `mapstructure:"context_token_budget"`
	TokenCalibration   float64 `mapstructure:"token_calibration"`
}

// Validate checks retrieval settings when retrieval is enabled.
func (r RAGConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	if r.ReferenceDir == "" {
		return errors.New("rag.reference_dir is required when rag is enabled")
	}
	if r.ChunkSize <= 0 {
		return errors.New("rag.chunk_size must be > 0")
	}
	if r.ChunkOverlap < 0 || r.ChunkOverlap >= r.ChunkSize {
		return errors.New("rag.chunk_overlap must be in [0, chunk_size)")
	}
	if r.TopK <= 0 {
		return errors.New("rag.top_k must be > 0")
	}
	if r.ContextTokenBudget <= 0 {
		return errors.New("rag.context_token_budget must be > 0")
	}
	return nil
}

// RedisConfig connects the cache to a Redis backend.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// CacheConfig controls the two-tier response cache.
type CacheConfig struct {
	Enabled       bool        `mapstructure:"enabled"`
	Backend       string      `mapstructure:"backend"` // disk or redis
	Dir           string      `mapstructure:"dir"`
	MemoryEntries int         `mapstructure:"memory_entries"`
	Redis         RedisConfig `mapstructure:"redis"`
}

// Validate checks cache settings when caching is enabled.
func (c CacheConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Backend {
	case "disk":
		if c.Dir == "" {
			return errors.New("cache.dir is required for the disk backend")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("cache.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend must be disk or redis, got %q", c.Backend)
	}
	return nil
}

// LLMConfig configures the completion/embedding provider.
type LLMConfig struct {
	Provider       string        `mapstructure:"provider"`
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// PostgresConfig connects the optional run-history store.
type PostgresConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// StorageConfig groups persistence settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// ServerConfig contains the ops API settings.
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// TelemetryConfig controls metrics exposure.
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return errors.New("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// ScheduleConfig enables recurring batch runs.
type ScheduleConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"`
}

// Validate checks the whole config.
func (c *Config) Validate() error {
	if err := c.Workflow.Validate(); err != nil {
		return err
	}
	if err := c.RAG.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	if c.Storage.Postgres.Enabled && c.Storage.Postgres.URL == "" {
		return errors.New("storage.postgres.url is required when postgres is enabled")
	}
	if c.Schedule.Enabled && c.Schedule.Cron == "" {
		return errors.New("schedule.cron is required when scheduling is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", "120s")

	v.SetDefault("workflow.phase", PhaseFinalize)
	v.SetDefault("workflow.fan_out", 3)
	v.SetDefault("workflow.concurrency", 4)
	v.SetDefault("workflow.detection_threshold", 1)
	v.SetDefault("workflow.output_dir", "output")
	v.SetDefault("workflow.temperature", 0.7)
	v.SetDefault("workflow.models.generate", "gpt-4o-mini")
	v.SetDefault("workflow.token_budgets.plan", 2000)
	v.SetDefault("workflow.token_budgets.refine", 2000)
	v.SetDefault("workflow.token_budgets.generate", 4000)
	v.SetDefault("workflow.token_budgets.compare", 8000)
	v.SetDefault("workflow.token_budgets.review", 4000)
	v.SetDefault("workflow.token_budgets.edit", 4000)

	v.SetDefault("rag.enabled", true)
	v.SetDefault("rag.chunk_size", 500)
	v.SetDefault("rag.chunk_overlap", 50)
	v.SetDefault("rag.top_k", 5)
	v.SetDefault("rag.context_token_budget", 2000)
	v.SetDefault("rag.token_calibration", 1.1)
	v.SetDefault("rag.index_path", "data/index.json")
	v.SetDefault("rag.reference_dir", "data/reference")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", "disk")
	v.SetDefault("cache.dir", "data/cache")
	v.SetDefault("cache.memory_entries", 256)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.embedding_model", "text-embedding-3-small")
	v.SetDefault("llm.timeout", "90s")

	v.SetDefault("server.address", ":8080")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.metrics_port", 9090)
}

// LoadConfig reads configuration from path, or from the usual search paths
// when path is empty. COURSEFORGE_* environment variables override file
// values; a missing config file falls back to defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("COURSEFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
