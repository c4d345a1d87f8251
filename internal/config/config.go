package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models leadline.yml.
type Config struct {
	Assistant struct {
		Provider           string `yaml:"provider"`
		Model              string `yaml:"model"`
		MaxLeads           int    `yaml:"max_leads"`
		Source             string `yaml:"source"`
		AutoConfirm        bool   `yaml:"auto_confirm"`
		PlanTimeoutSeconds int    `yaml:"plan_timeout_seconds"`
	} `yaml:"assistant"`
	Campaigns struct {
		Catalog map[string]struct {
			Description string `yaml:"description"`
			DelayDays   int    `yaml:"delay_days"`
		} `yaml:"catalog"`
	} `yaml:"campaigns"`
	Notifications struct {
		Webhooks []WebhookConfig `yaml:"webhooks"`
	} `yaml:"notifications"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig describes one outbound HTTP sink. Under notifications it
// receives run-completion records; at the top level it receives the audit
// event stream, optionally filtered by Events.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets the required structure. The safety
// classification sets are deliberately NOT configurable here: which action
// types require confirmation is fixed in code.
func (c *Config) Validate() error {
	if c.Assistant.MaxLeads < 0 {
		return fmt.Errorf("config.assistant.max_leads must not be negative")
	}
	if c.Assistant.MaxLeads == 0 {
		c.Assistant.MaxLeads = defaultMaxLeads
	}
	if c.Assistant.PlanTimeoutSeconds <= 0 {
		c.Assistant.PlanTimeoutSeconds = defaultPlanTimeoutSeconds
	}
	switch c.Assistant.Provider {
	case "", "openai", "anthropic", "gemini", "mock":
	default:
		return fmt.Errorf("config.assistant.provider %q unknown (want openai, anthropic or gemini)", c.Assistant.Provider)
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	for i, hook := range c.Notifications.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.notifications.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.notifications.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	for name, campaign := range c.Campaigns.Catalog {
		if name == "" {
			return fmt.Errorf("config.campaigns.catalog has empty campaign name")
		}
		if campaign.DelayDays < 0 {
			return fmt.Errorf("campaign %s has negative delay_days", name)
		}
	}
	return nil
}

const (
	defaultMaxLeads           = 10
	defaultPlanTimeoutSeconds = 30
)

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "leadline.yml")
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	_ = cfg.Validate()
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `assistant:
  provider: ""
  model: ""
  max_leads: 10
  source: "web"
  auto_confirm: false
  plan_timeout_seconds: 30

campaigns:
  catalog:
    nurture.default:
      description: "Default drip sequence for new leads"
      delay_days: 1
    nurture.reactivation:
      description: "Re-engage leads that went quiet"
      delay_days: 7

notifications:
  webhooks: []

webhooks: []
`
