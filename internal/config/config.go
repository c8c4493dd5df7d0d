package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"multi-complete/internal/llm"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	TypeOpenAI      = "openai"
	TypeAzure       = "azure"
	TypeHuggingFace = "huggingface"
	TypeAnthropic   = "anthropic"
	TypeGemini      = "gemini"

	StoreFile     = "file"
	StoreVolatile = "volatile"
	StoreRedis    = "redis"
)

type Config struct {
	LLM    LLMConfig    `mapstructure:"llm"`
	Log    LogConfig    `mapstructure:"log"`
	Memory MemoryConfig `mapstructure:"memory"`
}

type LLMConfig struct {
	Type           string          `mapstructure:"type" validate:"omitempty,oneof=openai azure huggingface anthropic gemini"`
	URL            string          `mapstructure:"url"`
	ChatURL        string          `mapstructure:"chat_url"`
	Model          string          `mapstructure:"model"`
	EmbeddingModel string          `mapstructure:"embedding_model"`
	Token          string          `mapstructure:"token"`
	APIVersion     string          `mapstructure:"api_version"`
	Timeout        time.Duration   `mapstructure:"timeout" validate:"gte=0"`
	Settings       llm.Settings    `mapstructure:"settings"`
	Retry          llm.RetryConfig `mapstructure:"retry"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=console json"`
}

type MemoryConfig struct {
	Store      string      `mapstructure:"store" validate:"omitempty,oneof=file volatile redis"`
	Collection string      `mapstructure:"collection"`
	File       FileConfig  `mapstructure:"file"`
	Redis      RedisConfig `mapstructure:"redis"`
}

type FileConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	Prefix   string `mapstructure:"prefix"`
}

// SetDefaults registers every key so that environment variables can
// override keys that never appear in a config file.
func SetDefaults(v *viper.Viper) {
	defaults := llm.DefaultSettings()
	v.SetDefault("llm.type", TypeOpenAI)
	v.SetDefault("llm.url", "")
	v.SetDefault("llm.chat_url", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.embedding_model", "")
	v.SetDefault("llm.token", "")
	v.SetDefault("llm.api_version", "")
	v.SetDefault("llm.timeout", 2*time.Minute)
	v.SetDefault("llm.settings.max_tokens", defaults.MaxTokens)
	v.SetDefault("llm.settings.temperature", defaults.Temperature)
	v.SetDefault("llm.settings.top_p", defaults.TopP)
	v.SetDefault("llm.settings.frequency_penalty", defaults.FrequencyPenalty)
	v.SetDefault("llm.settings.presence_penalty", defaults.PresencePenalty)
	v.SetDefault("llm.settings.number_of_responses", defaults.NumberOfResponses)
	v.SetDefault("llm.settings.stop", []string{})
	v.SetDefault("llm.retry.max_attempts", 3)
	v.SetDefault("llm.retry.initial_interval", 500*time.Millisecond)
	v.SetDefault("llm.retry.max_interval", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("memory.store", StoreFile)
	v.SetDefault("memory.collection", "generic")
	v.SetDefault("memory.file.path", defaultMemoryPath())
	v.SetDefault("memory.redis.addr", "localhost:6379")
	v.SetDefault("memory.redis.password", "")
	v.SetDefault("memory.redis.db", 0)
	v.SetDefault("memory.redis.prefix", "memory")
}

func defaultMemoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".", "multi-complete-memory.json")
	}
	return filepath.Join(home, ".config", "multi-complete", "memory.json")
}

func Load() (Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var validate = newValidator()

// newValidator reports fields by their mapstructure key.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msgs = append(msgs, fmt.Sprintf("invalid %s: %v", configKey(fe.Namespace()), fe.Value()))
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}

// configKey maps a validator namespace such as Config.LLM.Type to llm.type.
func configKey(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, part := range parts {
		parts[i] = strings.ToLower(part)
	}
	return strings.Join(parts, ".")
}
