package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// CODESMITH_BASIC_CONFIG_SERVER_ADDRESS.
const EnvPrefix = "CODESMITH"

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" mapstructure:"basic_config"`
	Generation  GenerationConfig          `json:"generation" mapstructure:"generation"`
	Providers   map[string]ProviderConfig `json:"providers" mapstructure:"providers"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url" mapstructure:"base_url"`
	APIKey  string `json:"api_key" mapstructure:"api_key"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address" mapstructure:"server_address"`
	SessionTTLMinutes int    `json:"session_ttl_minutes" mapstructure:"session_ttl_minutes"`
	SessionQueueSize  int    `json:"session_queue_size" mapstructure:"session_queue_size"`
}

// GenerationConfig selects the model backend and the fixed set of model names
// a session may pick from.
type GenerationConfig struct {
	Provider       string   `json:"provider" mapstructure:"provider"`
	Models         []string `json:"models" mapstructure:"models"`
	DefaultModel   string   `json:"default_model" mapstructure:"default_model"`
	Temperature    float32  `json:"temperature" mapstructure:"temperature"`
	TimeoutSeconds int      `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// Default returns the configuration used when no file or env override is present.
func Default() *Config {
	return &Config{
		BasicConfig: BasicConfig{
			ServerAddress:     ":8090",
			SessionTTLMinutes: 60,
			SessionQueueSize:  4,
		},
		Generation: GenerationConfig{
			Provider:       "ollama",
			Models:         []string{"codesmith-1.5b", "codesmith-3b"},
			DefaultModel:   "codesmith-1.5b",
			Temperature:    0.3,
			TimeoutSeconds: 120,
		},
		Providers: map[string]ProviderConfig{
			"ollama": {BaseURL: "http://localhost:11434/v1"},
		},
	}
}

// Load reads configuration from the provided path. An empty path looks for
// config.{json,toml,yaml} in the working directory and falls back to defaults
// when none exists. Environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		v.SetConfigFile(absPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", absPath, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("basic_config.server_address", def.BasicConfig.ServerAddress)
	v.SetDefault("basic_config.session_ttl_minutes", def.BasicConfig.SessionTTLMinutes)
	v.SetDefault("basic_config.session_queue_size", def.BasicConfig.SessionQueueSize)
	v.SetDefault("generation.provider", def.Generation.Provider)
	v.SetDefault("generation.models", def.Generation.Models)
	// no default here: Validate falls back to the first configured model
	_ = v.BindEnv("generation.default_model")
	v.SetDefault("generation.temperature", def.Generation.Temperature)
	v.SetDefault("generation.timeout_seconds", def.Generation.TimeoutSeconds)
	for name, p := range def.Providers {
		v.SetDefault("providers."+name+".base_url", p.BaseURL)
		v.SetDefault("providers."+name+".api_key", p.APIKey)
	}
}

// Validate checks the model set and fills the default model when it is unset.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Generation.Provider) == "" {
		return errors.New("generation.provider must be configured")
	}
	models := make([]string, 0, len(c.Generation.Models))
	for _, m := range c.Generation.Models {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	if len(models) == 0 {
		return errors.New("generation.models must list at least one model")
	}
	c.Generation.Models = models
	if c.Generation.DefaultModel == "" {
		c.Generation.DefaultModel = models[0]
	}
	if !c.HasModel(c.Generation.DefaultModel) {
		return fmt.Errorf("default model %s is not in generation.models", c.Generation.DefaultModel)
	}
	if c.BasicConfig.SessionQueueSize <= 0 {
		c.BasicConfig.SessionQueueSize = 1
	}
	return nil
}

// HasModel reports whether name is one of the configured model names.
func (c *Config) HasModel(name string) bool {
	for _, m := range c.Generation.Models {
		if m == name {
			return true
		}
	}
	return false
}
