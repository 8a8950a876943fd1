package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config models habitline.yml.
type Config struct {
	Telegram struct {
		BotToken   string `yaml:"bot_token"`
		MiniAppURL string `yaml:"mini_app_url"`
	} `yaml:"telegram"`
	Auth struct {
		JWTSecret          string `yaml:"jwt_secret"`
		DebugAllowFakeAuth bool   `yaml:"debug_allow_fake_auth"`
	} `yaml:"auth"`
	Defaults struct {
		Currency      string `yaml:"currency"`
		PenaltyDaily  string `yaml:"penalty_daily"`
		PenaltyWeekly string `yaml:"penalty_weekly"`
	} `yaml:"defaults"`
	Reminder struct {
		Time string `yaml:"time"`
	} `yaml:"reminder"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with hl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns defaults if the config file does not exist.
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Defaults.Currency == "" {
		return fmt.Errorf("config.defaults.currency is required")
	}
	if len(c.Defaults.Currency) != 3 {
		return fmt.Errorf("config.defaults.currency must be a 3-letter code")
	}
	for _, field := range []struct{ name, value string }{
		{"config.defaults.penalty_daily", c.Defaults.PenaltyDaily},
		{"config.defaults.penalty_weekly", c.Defaults.PenaltyWeekly},
	} {
		amount, err := decimal.NewFromString(field.value)
		if err != nil {
			return fmt.Errorf("%s: invalid amount %q", field.name, field.value)
		}
		if amount.IsNegative() {
			return fmt.Errorf("%s must not be negative", field.name)
		}
	}
	if c.Reminder.Time != "" {
		var h, m int
		if _, err := fmt.Sscanf(c.Reminder.Time, "%d:%d", &h, &m); err != nil || h < 0 || h > 23 || m < 0 || m > 59 {
			return fmt.Errorf("config.reminder.time must be HH:MM")
		}
	}
	return nil
}

// PenaltyDailyDefault returns the parsed daily penalty default.
func (c *Config) PenaltyDailyDefault() decimal.Decimal {
	d, _ := decimal.NewFromString(c.Defaults.PenaltyDaily)
	return d
}

// PenaltyWeeklyDefault returns the parsed weekly penalty default.
func (c *Config) PenaltyWeeklyDefault() decimal.Decimal {
	d, _ := decimal.NewFromString(c.Defaults.PenaltyWeekly)
	return d
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "habitline.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
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

const defaultTemplate = `telegram:
  bot_token: ""
  mini_app_url: ""

auth:
  jwt_secret: ""
  debug_allow_fake_auth: false

defaults:
  currency: EUR
  penalty_daily: "10"
  penalty_weekly: "20"

reminder:
  time: "09:00"
`
