package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Bot        BotConfig        `mapstructure:"bot"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Context    ContextConfig    `mapstructure:"context"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
}

type BotConfig struct {
	Token          string        `mapstructure:"token"`
	Webhook        WebhookConfig `mapstructure:"webhook"`
	UpdateTimeout  int           `mapstructure:"update_timeout"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
}

type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Port    int    `mapstructure:"port"`
}

// ProvidersConfig holds one block per generation backend. A provider with
// an empty key (or URL, for self-hosted ones) is treated as unavailable.
type ProvidersConfig struct {
	OpenAI      OpenAIConfig   `mapstructure:"openai"`
	Groq        GroqConfig     `mapstructure:"groq"`
	Perplexity  ChatConfig     `mapstructure:"perplexity"`
	Together    TogetherConfig `mapstructure:"together"`
	Ollama      ChatConfig     `mapstructure:"ollama"`
	Bedrock     BedrockConfig  `mapstructure:"bedrock"`
	Fal         ImageConfig    `mapstructure:"fal"`
	HuggingFace ImageConfig    `mapstructure:"huggingface"`
	ComfyUI     ComfyUIConfig  `mapstructure:"comfyui"`
}

type ChatConfig struct {
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	ChatModel    string `mapstructure:"chat_model"`
	SystemPrompt string `mapstructure:"system_prompt"`
	MaxTokens    int    `mapstructure:"max_tokens"`
}

type OpenAIConfig struct {
	ChatConfig  `mapstructure:",squash"`
	VisionModel string `mapstructure:"vision_model"`
	ImageModel  string `mapstructure:"image_model"`
	ImageSize   string `mapstructure:"image_size"`
	TTSModel    string `mapstructure:"tts_model"`
	TTSVoice    string `mapstructure:"tts_voice"`
}

type GroqConfig struct {
	ChatConfig   `mapstructure:",squash"`
	WhisperModel string `mapstructure:"whisper_model"`
}

type TogetherConfig struct {
	ChatConfig `mapstructure:",squash"`
	ImageModel string `mapstructure:"image_model"`
}

type BedrockConfig struct {
	Region    string `mapstructure:"region"`
	ModelID   string `mapstructure:"model_id"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

type ImageConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type ComfyUIConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	WorkflowPath string        `mapstructure:"workflow_path"`
	PromptNode   string        `mapstructure:"prompt_node"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// RateLimitRule is the per-command quota applied to each user.
type RateLimitRule struct {
	Quota  int           `mapstructure:"quota"`
	Window time.Duration `mapstructure:"window"`
}

type RateLimitConfig struct {
	Enabled  bool                     `mapstructure:"enabled"`
	Store    string                   `mapstructure:"store"`
	Commands map[string]RateLimitRule `mapstructure:"commands"`
}

type StreamConfig struct {
	EditInterval   time.Duration `mapstructure:"edit_interval"`
	ProgressMarker string        `mapstructure:"progress_marker"`
	EditsPerSecond float64       `mapstructure:"edits_per_second"`
	EditBurst      int           `mapstructure:"edit_burst"`
}

type StorageConfig struct {
	Type   string       `mapstructure:"type"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Memory MemoryConfig `mapstructure:"memory"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MemoryConfig struct {
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
	MaxSize int           `mapstructure:"max_size"`
}

type ContextConfig struct {
	MaxMessages         int           `mapstructure:"max_messages"`
	DefaultSystemPrompt string        `mapstructure:"default_system_prompt"`
	TTL                 time.Duration `mapstructure:"ttl"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
	Directory       string   `mapstructure:"directory"`
}

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"bot.token":                     "BOT_TOKEN",
	"providers.openai.api_key":      "OPENAI_API_KEY",
	"providers.groq.api_key":        "GROQ_API_KEY",
	"providers.perplexity.api_key":  "PERPLEXITY_API_KEY",
	"providers.together.api_key":    "TOGETHER_API_KEY",
	"providers.fal.api_key":         "FAL_KEY",
	"providers.huggingface.api_key": "HF_TOKEN",
	"providers.ollama.base_url":     "OLLAMA_HOST",
	"providers.comfyui.base_url":    "COMFYUI_URL",
	"providers.bedrock.region":      "AWS_REGION",
	"storage.redis.password":        "REDIS_PASSWORD",
	"storage.redis.db":              "REDIS_DB",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.update_timeout", 60)
	v.SetDefault("bot.handler_timeout", 3*time.Minute)

	v.SetDefault("providers.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("providers.openai.chat_model", "gpt-4o-mini")
	v.SetDefault("providers.openai.vision_model", "gpt-4o")
	v.SetDefault("providers.openai.image_model", "dall-e-3")
	v.SetDefault("providers.openai.image_size", "1024x1024")
	v.SetDefault("providers.openai.tts_model", "tts-1")
	v.SetDefault("providers.openai.tts_voice", "alloy")
	v.SetDefault("providers.groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("providers.groq.chat_model", "llama-3.3-70b-versatile")
	v.SetDefault("providers.groq.whisper_model", "whisper-large-v3")
	v.SetDefault("providers.perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("providers.perplexity.chat_model", "sonar")
	v.SetDefault("providers.together.base_url", "https://api.together.xyz/v1")
	v.SetDefault("providers.together.chat_model", "meta-llama/Llama-3.3-70B-Instruct-Turbo")
	v.SetDefault("providers.together.image_model", "black-forest-labs/FLUX.1-schnell")
	v.SetDefault("providers.ollama.chat_model", "llama3.2")
	v.SetDefault("providers.bedrock.model_id", "anthropic.claude-3-5-sonnet-20240620-v1:0")
	v.SetDefault("providers.bedrock.max_tokens", 1024)
	v.SetDefault("providers.fal.base_url", "https://fal.run")
	v.SetDefault("providers.fal.model", "fal-ai/flux/schnell")
	v.SetDefault("providers.huggingface.base_url", "https://api-inference.huggingface.co")
	v.SetDefault("providers.huggingface.model", "stabilityai/stable-diffusion-xl-base-1.0")
	v.SetDefault("providers.comfyui.prompt_node", "6")
	v.SetDefault("providers.comfyui.timeout", 2*time.Minute)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.store", "memory")

	v.SetDefault("stream.edit_interval", 3*time.Second)
	v.SetDefault("stream.progress_marker", " …")
	v.SetDefault("stream.edits_per_second", 1.0)
	v.SetDefault("stream.edit_burst", 3)

	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.memory.default_expiration", 24*time.Hour)
	v.SetDefault("storage.memory.cleanup_interval", 10*time.Minute)

	v.SetDefault("context.max_messages", 10)
	v.SetDefault("context.ttl", 24*time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("i18n.default_language", "en")
	v.SetDefault("i18n.languages", []string{"en"})
	v.SetDefault("i18n.directory", "configs/i18n")
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Redis address is assembled from host and port when provided separately
	if redisHost := viperEnv(v, "REDIS_HOST"); redisHost != "" {
		redisPort := viperEnv(v, "REDIS_PORT")
		if redisPort == "" {
			redisPort = "6379"
		}
		config.Storage.Redis.Addr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func viperEnv(v *viper.Viper, name string) string {
	_ = v.BindEnv(name)
	return v.GetString(name)
}

// SortedCommands returns the rate-limited command names in stable order.
func (c RateLimitConfig) SortedCommands() []string {
	names := make([]string, 0, len(c.Commands))
	for name := range c.Commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validateConfig(cfg *Config) error {
	if cfg.Bot.Token == "" {
		return fmt.Errorf("bot token is required")
	}
	if cfg.Stream.EditInterval <= 0 {
		return fmt.Errorf("stream.edit_interval must be positive")
	}
	switch cfg.RateLimit.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported rate limit store: %s", cfg.RateLimit.Store)
	}
	for _, name := range cfg.RateLimit.SortedCommands() {
		rule := cfg.RateLimit.Commands[name]
		if rule.Quota <= 0 {
			return fmt.Errorf("rate limit for %q: quota must be positive, got %d", name, rule.Quota)
		}
		if rule.Window <= 0 {
			return fmt.Errorf("rate limit for %q: window must be positive, got %s", name, rule.Window)
		}
	}
	if cfg.RateLimit.Store == "redis" && cfg.Storage.Type != "redis" {
		return fmt.Errorf("rate_limit.store redis requires storage.type redis")
	}
	return nil
}
