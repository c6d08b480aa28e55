package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullYAML = `
server:
  host: 0.0.0.0
  port: 9090

database:
  driver: mysql
  host: 10.0.0.5
  port: 3307
  user: gigi
  password: hunter2
  name: gigi_prod

webhook:
  secret: s3cret
  dedup_ttl: 2m
  dedup_max_entries: 100
  sweep_cron: "*/5 * * * *"

agent:
  handle: "@gigi"
  login: gigi-bot
  backend: anthropic
  model: claude-sonnet-4-5
  api_key: sk-test
  workers: 4
  max_per_minute: 30
  timeout: 90s

forge:
  api_url: https://git.example.com/api/v1/
  token: forge-token

notify:
  slack:
    bot_token: xoxb-1
    channel_id: C01
  discord:
    bot_token: discord-1

log:
  level: debug
  format: json
`

const minimalYAML = `
webhook:
  secret: abc
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Database.Driver != "mysql" {
		t.Errorf("Database.Driver = %q, want mysql", cfg.Database.Driver)
	}
	if cfg.Database.Port != 3307 {
		t.Errorf("Database.Port = %d, want 3307", cfg.Database.Port)
	}
	if cfg.Webhook.DedupTTL != 2*time.Minute {
		t.Errorf("Webhook.DedupTTL = %v, want 2m", cfg.Webhook.DedupTTL)
	}
	if cfg.Webhook.DedupMaxEntries != 100 {
		t.Errorf("Webhook.DedupMaxEntries = %d, want 100", cfg.Webhook.DedupMaxEntries)
	}
	if cfg.Agent.Handle != "gigi" {
		t.Errorf("Agent.Handle = %q, want %q (leading @ stripped)", cfg.Agent.Handle, "gigi")
	}
	if cfg.Agent.Login != "gigi-bot" {
		t.Errorf("Agent.Login = %q, want gigi-bot", cfg.Agent.Login)
	}
	if cfg.Agent.Timeout != 90*time.Second {
		t.Errorf("Agent.Timeout = %v, want 90s", cfg.Agent.Timeout)
	}
	if !cfg.Notify.Slack.Enabled() {
		t.Error("Notify.Slack should be enabled")
	}
	if cfg.Notify.Discord.Enabled() {
		t.Error("Notify.Discord without channel should not be enabled")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want json", cfg.Log.Format)
	}
}

func TestParse_MinimalConfig_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Database.Path != "gigi.db" {
		t.Errorf("Database.Path = %q, want gigi.db", cfg.Database.Path)
	}
	if cfg.Webhook.DedupTTL != 5*time.Minute {
		t.Errorf("Webhook.DedupTTL = %v, want 5m", cfg.Webhook.DedupTTL)
	}
	if cfg.Webhook.DedupMaxEntries != 500 {
		t.Errorf("Webhook.DedupMaxEntries = %d, want 500", cfg.Webhook.DedupMaxEntries)
	}
	if cfg.Webhook.SweepCron != "* * * * *" {
		t.Errorf("Webhook.SweepCron = %q, want every minute", cfg.Webhook.SweepCron)
	}
	if cfg.Agent.Handle != "gigi" || cfg.Agent.Login != "gigi" {
		t.Errorf("Agent handle/login = %q/%q, want gigi/gigi", cfg.Agent.Handle, cfg.Agent.Login)
	}
	if cfg.Agent.Backend != "claude" {
		t.Errorf("Agent.Backend = %q, want claude", cfg.Agent.Backend)
	}
	if cfg.Agent.Workers != 2 {
		t.Errorf("Agent.Workers = %d, want 2", cfg.Agent.Workers)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Errorf("Log = %+v, want info/console", cfg.Log)
	}
}

func TestParse_LoginDefaultsToHandle(t *testing.T) {
	cfg, err := Parse([]byte("webhook:\n  secret: x\nagent:\n  handle: robo\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Agent.Login != "robo" {
		t.Errorf("Agent.Login = %q, want robo", cfg.Agent.Login)
	}
}

func TestParse_MissingSecret(t *testing.T) {
	_, err := Parse([]byte("server:\n  port: 1\n"))
	if err == nil {
		t.Fatal("expected error for missing webhook secret")
	}
	if !strings.Contains(err.Error(), "webhook.secret is required") {
		t.Errorf("error = %q, want to mention webhook.secret", err.Error())
	}
}

func TestParse_AllowUnsigned(t *testing.T) {
	if _, err := Parse([]byte("webhook:\n  allow_unsigned: true\n")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParse_EnvOverridesSecrets(t *testing.T) {
	t.Setenv("GIGI_WEBHOOK_SECRET", "from-env")
	t.Setenv("GIGI_FORGE_TOKEN", "tok-env")
	t.Setenv("GIGI_DATABASE_PASSWORD", "pw-env")

	cfg, err := Parse([]byte("webhook:\n  secret: from-file\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Webhook.Secret != "from-env" {
		t.Errorf("Webhook.Secret = %q, want from-env", cfg.Webhook.Secret)
	}
	if cfg.Forge.Token != "tok-env" {
		t.Errorf("Forge.Token = %q, want tok-env", cfg.Forge.Token)
	}
	if cfg.Database.Password != "pw-env" {
		t.Errorf("Database.Password = %q, want pw-env", cfg.Database.Password)
	}
}

func TestParse_EnvSatisfiesRequiredSecret(t *testing.T) {
	t.Setenv("GIGI_WEBHOOK_SECRET", "from-env")
	if _, err := Parse([]byte("server:\n  port: 1\n")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad driver",
			yaml: "webhook:\n  secret: x\ndatabase:\n  driver: postgres\n",
			want: `database.driver "postgres"`,
		},
		{
			name: "bad backend",
			yaml: "webhook:\n  secret: x\nagent:\n  backend: gpt\n",
			want: `agent.backend "gpt"`,
		},
		{
			name: "anthropic without key",
			yaml: "webhook:\n  secret: x\nagent:\n  backend: anthropic\n  model: m\n",
			want: "agent.api_key is required",
		},
		{
			name: "anthropic without model",
			yaml: "webhook:\n  secret: x\nagent:\n  backend: anthropic\n  api_key: k\n",
			want: "agent.model is required",
		},
		{
			name: "post replies without forge",
			yaml: "webhook:\n  secret: x\nagent:\n  post_replies: true\n",
			want: "forge.api_url is required",
		},
		{
			name: "bad log format",
			yaml: "webhook:\n  secret: x\nlog:\n  format: xml\n",
			want: `log.format "xml"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), "config: validation failed:") {
				t.Errorf("error = %q, want validation prefix", err.Error())
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestParse_MultipleValidationErrors(t *testing.T) {
	_, err := Parse([]byte("database:\n  driver: oracle\nlog:\n  format: xml\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	for _, want := range []string{"database.driver", "webhook.secret", "log.format"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte(":::invalid"))
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "config: parse:") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: parse:")
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gigi.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Webhook.Secret != "abc" {
		t.Errorf("Webhook.Secret = %q, want abc", cfg.Webhook.Secret)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/gigi.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "config: read") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: read")
	}
}
