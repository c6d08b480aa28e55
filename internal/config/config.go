// Package config provides YAML-based configuration loading for gigi.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the top-level gigi configuration, loaded from gigi.yaml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Agent    AgentConfig    `yaml:"agent"`
	Forge    ForgeConfig    `yaml:"forge"`
	Notify   NotifyConfig   `yaml:"notify"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig selects and configures the relational store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`   // sqlite file path
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// WebhookConfig controls inbound webhook verification and deduplication.
type WebhookConfig struct {
	Secret          string        `yaml:"secret"`
	AllowUnsigned   bool          `yaml:"allow_unsigned"`
	DedupTTL        time.Duration `yaml:"dedup_ttl"`
	DedupMaxEntries int           `yaml:"dedup_max_entries"`
	SweepCron       string        `yaml:"sweep_cron"`
}

// AgentConfig describes the agent identity and how invocations are run.
type AgentConfig struct {
	Handle       string        `yaml:"handle"`  // mention handle without "@"
	Login        string        `yaml:"login"`   // forge account the agent comments as
	Backend      string        `yaml:"backend"` // "claude", "anthropic" or "none"
	Binary       string        `yaml:"binary"`
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"api_key"`
	WorkDir      string        `yaml:"work_dir"`
	SystemPrompt string        `yaml:"system_prompt"`
	Workers      int           `yaml:"workers"`
	MaxPerMinute int           `yaml:"max_per_minute"`
	Timeout      time.Duration `yaml:"timeout"`
	PostReplies  bool          `yaml:"post_replies"`
}

// ForgeConfig points at the forge REST API used to post agent replies.
type ForgeConfig struct {
	APIURL string `yaml:"api_url"`
	Token  string `yaml:"token"`
}

// NotifyConfig holds the optional chat notification sinks.
type NotifyConfig struct {
	Slack   ChatConfig `yaml:"slack"`
	Discord ChatConfig `yaml:"discord"`
}

// ChatConfig is a bot token plus the channel that receives notifications.
type ChatConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled reports whether both a token and a channel are configured.
func (c ChatConfig) Enabled() bool {
	return c.BotToken != "" && c.ChannelID != ""
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// envOverrides lists the secrets that may be supplied through GIGI_* variables
// instead of the config file.
type envOverrides struct {
	WebhookSecret    string `envconfig:"WEBHOOK_SECRET"`
	ForgeToken       string `envconfig:"FORGE_TOKEN"`
	AgentAPIKey      string `envconfig:"AGENT_API_KEY"`
	SlackBotToken    string `envconfig:"SLACK_BOT_TOKEN"`
	DiscordBotToken  string `envconfig:"DISCORD_BOT_TOKEN"`
	DatabasePassword string `envconfig:"DATABASE_PASSWORD"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes, overlays GIGI_* environment secrets and
// returns a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv copies non-empty GIGI_* secrets over the file values.
func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process("GIGI", &env); err != nil {
		return fmt.Errorf("config: env: %w", err)
	}
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&c.Webhook.Secret, env.WebhookSecret)
	override(&c.Forge.Token, env.ForgeToken)
	override(&c.Agent.APIKey, env.AgentAPIKey)
	override(&c.Notify.Slack.BotToken, env.SlackBotToken)
	override(&c.Notify.Discord.BotToken, env.DiscordBotToken)
	override(&c.Database.Password, env.DatabasePassword)
	return nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "gigi.db"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Database.Name == "" {
		c.Database.Name = "gigi"
	}
	if c.Webhook.DedupTTL == 0 {
		c.Webhook.DedupTTL = 5 * time.Minute
	}
	if c.Webhook.DedupMaxEntries == 0 {
		c.Webhook.DedupMaxEntries = 500
	}
	if c.Webhook.SweepCron == "" {
		c.Webhook.SweepCron = "* * * * *"
	}
	if c.Agent.Handle == "" {
		c.Agent.Handle = "gigi"
	}
	c.Agent.Handle = strings.TrimPrefix(c.Agent.Handle, "@")
	if c.Agent.Login == "" {
		c.Agent.Login = c.Agent.Handle
	}
	if c.Agent.Backend == "" {
		c.Agent.Backend = "claude"
	}
	if c.Agent.Binary == "" {
		c.Agent.Binary = "claude"
	}
	if c.Agent.Workers == 0 {
		c.Agent.Workers = 2
	}
	if c.Agent.Timeout == 0 {
		c.Agent.Timeout = 10 * time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}
	if c.Webhook.Secret == "" && !c.Webhook.AllowUnsigned {
		errs = append(errs, "webhook.secret is required (or set webhook.allow_unsigned)")
	}
	if c.Webhook.DedupTTL < 0 {
		errs = append(errs, "webhook.dedup_ttl must be positive")
	}
	if c.Webhook.DedupMaxEntries < 0 {
		errs = append(errs, "webhook.dedup_max_entries must be positive")
	}
	switch c.Agent.Backend {
	case "claude", "none":
	case "anthropic":
		if c.Agent.APIKey == "" {
			errs = append(errs, "agent.api_key is required for the anthropic backend")
		}
		if c.Agent.Model == "" {
			errs = append(errs, "agent.model is required for the anthropic backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("agent.backend %q must be claude, anthropic or none", c.Agent.Backend))
	}
	if c.Agent.Workers < 0 {
		errs = append(errs, "agent.workers must be positive")
	}
	if c.Agent.MaxPerMinute < 0 {
		errs = append(errs, "agent.max_per_minute must not be negative")
	}
	if c.Agent.PostReplies {
		if c.Forge.APIURL == "" {
			errs = append(errs, "forge.api_url is required when agent.post_replies is set")
		}
		if c.Forge.Token == "" {
			errs = append(errs, "forge.token is required when agent.post_replies is set")
		}
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be console or json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
