package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v6"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderYandex     = "yandex"
)

// ProviderConfig describes one configured AI backend.
// APIKey empty means the provider is unconfigured and must be
// skipped during resolution.
type ProviderConfig struct {
	Name     string
	APIKey   string
	Endpoint string
	Model    string
	Priority int

	// Yandex only
	FolderID string
}

type Config struct {
	// Storage
	DatabaseFile string `env:"DATABASE_FILE" envDefault:"dialogs.db"`

	// Chat behaviour
	DefaultResponse string `env:"DEFAULT_RESPONSE" envDefault:"The AI model is currently unavailable. Please try again later."`
	DefaultGenre    string `env:"DEFAULT_GENRE" envDefault:"Romance"`
	AutoCreateUsers bool   `env:"CHAT_AUTO_CREATE_USERS" envDefault:"true"`

	// Per-attempt timeout for a single provider call
	ProviderTimeoutSeconds int `env:"PROVIDER_TIMEOUT_SECONDS" envDefault:"60"`

	// OpenRouter (raw chat completions HTTP API)
	OpenRouterAPIKey   string `env:"OPENROUTER_API_KEY"`
	OpenRouterEndpoint string `env:"OPENROUTER_ENDPOINT" envDefault:"https://openrouter.ai/api/v1/chat/completions"`
	OpenRouterModel    string `env:"OPENROUTER_MODEL" envDefault:"deepseek/deepseek-r1-0528:free"`
	OpenRouterPriority int    `env:"OPENROUTER_PRIORITY" envDefault:"1"`

	// OpenAI-compatible API
	OpenAIAPIKey   string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `env:"OPENAI_BASE_URL"`
	OpenAIModel    string `env:"OPENAI_MODEL" envDefault:"gpt-3.5-turbo"`
	OpenAIPriority int    `env:"OPENAI_PRIORITY" envDefault:"2"`

	// YandexGPT
	YandexOAuthToken string `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string `env:"YANDEX_FOLDER_ID"`
	YandexPriority   int    `env:"YANDEX_PRIORITY" envDefault:"3"`

	// Credential dotfiles, checked when the env vars above are empty
	OpenRouterKeyFile string `env:"OPENROUTER_KEY_FILE" envDefault:"~/.api-openrouter"`
	OpenAIKeyFile     string `env:"OPENAI_KEY_FILE" envDefault:"~/.api-openai"`

	// Runtime overrides: <provider>.<field> files in this directory win
	// over everything else and are re-read on every snapshot
	OverridesDirPath string `env:"OVERRIDES_DIR_PATH" envDefault:"data/overrides"`

	// Interaction audit log + daily stats report
	AuditLogPath  string `env:"AUDIT_LOG_PATH" envDefault:"logs/interactions.jsonl"`
	StatsCronSpec string `env:"STATS_CRON_SPEC" envDefault:"0 21 * * *"`
}

func New() *Config {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}

// ProviderSnapshot materializes the provider list from the layered
// sources at call time: override files > environment (which godotenv
// has already backed with .env defaults) > credential dotfiles.
// Order is declaration order; sorting is the resolver's job.
func (c *Config) ProviderSnapshot() []ProviderConfig {
	providers := []ProviderConfig{
		{
			Name:     ProviderOpenRouter,
			APIKey:   firstNonEmpty(c.OpenRouterAPIKey, readTrim(expandHome(c.OpenRouterKeyFile))),
			Endpoint: c.OpenRouterEndpoint,
			Model:    c.OpenRouterModel,
			Priority: c.OpenRouterPriority,
		},
		{
			Name:     ProviderOpenAI,
			APIKey:   firstNonEmpty(c.OpenAIAPIKey, readTrim(expandHome(c.OpenAIKeyFile))),
			Endpoint: c.OpenAIBaseURL,
			Model:    c.OpenAIModel,
			Priority: c.OpenAIPriority,
		},
		{
			Name:     ProviderYandex,
			APIKey:   c.YandexOAuthToken,
			Priority: c.YandexPriority,
			FolderID: c.YandexFolderID,
		},
	}

	for i := range providers {
		c.applyOverrides(&providers[i])
	}
	return providers
}

func (c *Config) applyOverrides(p *ProviderConfig) {
	if c.OverridesDirPath == "" {
		return
	}
	if v := c.override(p.Name, "api_key"); v != "" {
		p.APIKey = v
	}
	if v := c.override(p.Name, "endpoint"); v != "" {
		p.Endpoint = v
	}
	if v := c.override(p.Name, "model"); v != "" {
		p.Model = v
	}
	if v := c.override(p.Name, "priority"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.Priority = n
		} else {
			log.Printf("ignoring malformed priority override for %s: %q", p.Name, v)
		}
	}
}

func (c *Config) override(provider, field string) string {
	return readTrim(filepath.Join(c.OverridesDirPath, provider+"."+field))
}

func readTrim(path string) string {
	if path == "" {
		return ""
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, path[2:])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
