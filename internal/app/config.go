package app

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	coreconfig "github.com/m3rciful/numbot/core/config"
	coredatabase "github.com/m3rciful/numbot/core/database"
	"github.com/m3rciful/numbot/internal/domain"
	"github.com/m3rciful/numbot/internal/reset"
	"github.com/m3rciful/numbot/internal/session"
)

// Settings holds the pool-bot specific configuration section.
type Settings struct {
	// GroupID is the chat where delivered codes are broadcast. 0 disables it.
	GroupID int64 `yaml:"group_id" envconfig:"GROUP_ID"`
	// LeaseTTLSeconds is how long an unconfirmed number lives after issue.
	LeaseTTLSeconds int `yaml:"lease_ttl_seconds" envconfig:"LEASE_TTL_SECONDS"`
	// ResetCron schedules the nightly pool wipe.
	ResetCron string `yaml:"reset_cron" envconfig:"RESET_CRON"`
	// PurchaseKeywords maps chat keywords to services.
	PurchaseKeywords map[string]string `yaml:"purchase_keywords"`
	// WhatsappRate and TelegramRate price one confirmed number.
	WhatsappRate float64 `yaml:"whatsapp_rate" envconfig:"WHATSAPP_RATE"`
	TelegramRate float64 `yaml:"telegram_rate" envconfig:"TELEGRAM_RATE"`
	// WhatsappPendingCap limits unsold WhatsApp numbers per shift.
	WhatsappPendingCap int `yaml:"whatsapp_pending_cap" envconfig:"WHATSAPP_PENDING_CAP"`
	// PageSize is the number list page length.
	PageSize int `yaml:"page_size"`
}

// Config aggregates the core bot configuration with database and app settings.
type Config struct {
	Core     coreconfig.Config   `yaml:",inline"`
	Database coredatabase.Config `yaml:"database"`
	App      Settings            `yaml:"app"`
}

// CoreConfig exposes the embedded core configuration.
func (c *Config) CoreConfig() *coreconfig.Config {
	return &c.Core
}

// LeaseTTL returns the configured lease duration.
func (c *Config) LeaseTTL() time.Duration {
	return time.Duration(c.App.LeaseTTLSeconds) * time.Second
}

// Keywords resolves the purchase keyword map to typed services.
func (c *Config) Keywords() (map[string]domain.Service, error) {
	out := make(map[string]domain.Service, len(c.App.PurchaseKeywords))
	for kw, raw := range c.App.PurchaseKeywords {
		svc, err := domain.ParseService(raw)
		if err != nil {
			return nil, fmt.Errorf("purchase_keywords[%s]: %w", kw, err)
		}
		out[kw] = svc
	}
	return out, nil
}

// Load reads the YAML config, applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}
	if err := coreconfig.Normalize(&cfg.Core); err != nil {
		return nil, err
	}

	if cfg.App.LeaseTTLSeconds <= 0 {
		cfg.App.LeaseTTLSeconds = 600
	}
	if cfg.App.ResetCron == "" {
		cfg.App.ResetCron = reset.DefaultSpec
	}
	if len(cfg.App.PurchaseKeywords) == 0 {
		cfg.App.PurchaseKeywords = map[string]string{
			"wa": string(domain.ServiceWhatsapp),
			"tg": string(domain.ServiceTelegram),
		}
	}
	if cfg.App.WhatsappPendingCap <= 0 {
		cfg.App.WhatsappPendingCap = session.DefaultWhatsappCap
	}
	if cfg.App.PageSize <= 0 {
		cfg.App.PageSize = 4
	}
	if _, err := cfg.Keywords(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
