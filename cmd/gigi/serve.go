package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gigiforge/gigi/internal/agent"
	"github.com/gigiforge/gigi/internal/bus"
	"github.com/gigiforge/gigi/internal/config"
	"github.com/gigiforge/gigi/internal/forge"
	"github.com/gigiforge/gigi/internal/notify"
	"github.com/gigiforge/gigi/internal/notify/discord"
	"github.com/gigiforge/gigi/internal/notify/slack"
	"github.com/gigiforge/gigi/internal/server"
	"github.com/gigiforge/gigi/internal/store"
	"github.com/gigiforge/gigi/internal/webhook"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// shutdownGrace bounds how long running agent tasks may take after a signal.
const shutdownGrace = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver, thread API and agent dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	if err := webhook.ValidateSweepSchedule(cfg.Webhook.SweepCron); err != nil {
		return err
	}
	if _, err := agent.RecoverInterrupted(ctx, st); err != nil {
		return err
	}

	events := bus.New(0)
	dedup := webhook.NewDeduplicator(webhook.DedupOpts{
		TTL:        cfg.Webhook.DedupTTL,
		MaxEntries: cfg.Webhook.DedupMaxEntries,
	})
	gate, err := webhook.NewMentionGate(cfg.Agent.Handle, cfg.Agent.Login)
	if err != nil {
		return err
	}

	dispatcher, err := buildDispatcher(cfg, st, events)
	if err != nil {
		return err
	}
	routerOpts := webhook.RouterOpts{Store: st, Gate: gate, Dedup: dedup, Publisher: events}
	serverOpts := server.Opts{
		Store:         st,
		Bus:           events,
		Secret:        cfg.Webhook.Secret,
		AllowUnsigned: cfg.Webhook.AllowUnsigned,
	}
	if dispatcher != nil {
		routerOpts.Tasks = dispatcher
		serverOpts.Agent = dispatcher
	}
	router, err := webhook.NewRouter(routerOpts)
	if err != nil {
		return err
	}
	serverOpts.Router = router
	srv, err := server.New(serverOpts)
	if err != nil {
		return err
	}

	notifier, err := notify.New(notify.Opts{Bus: events, Threads: st, Senders: buildSenders(cfg.Notify)})
	if err != nil {
		return err
	}

	go func() {
		if err := webhook.RunSweeper(ctx, dedup, cfg.Webhook.SweepCron); err != nil {
			log.Error().Err(err).Msg("dedup sweeper stopped")
		}
	}()
	go func() {
		if err := notifier.Run(ctx); err != nil {
			log.Error().Err(err).Msg("notifier stopped")
		}
	}()

	log.Info().
		Str("handle", cfg.Agent.Handle).
		Str("backend", cfg.Agent.Backend).
		Str("database", cfg.Database.Driver).
		Msg("gigi starting")

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	serveErr := srv.Start(ctx, addr)

	if dispatcher != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := dispatcher.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("agent runs cancelled at shutdown")
		}
	}
	log.Info().Msg("gigi stopped")
	return serveErr
}

// buildRunner selects the agent backend. It returns nil for "none".
func buildRunner(cfg config.AgentConfig) (agent.Runner, error) {
	switch cfg.Backend {
	case "none":
		return nil, nil
	case "anthropic":
		return agent.NewAnthropicRunner(cfg.APIKey, cfg.Model, cfg.SystemPrompt)
	case "claude", "":
		return &agent.ClaudeRunner{
			Binary:       cfg.Binary,
			Model:        cfg.Model,
			SystemPrompt: cfg.SystemPrompt,
			WorkDir:      cfg.WorkDir,
		}, nil
	default:
		return nil, fmt.Errorf("unknown agent backend %q", cfg.Backend)
	}
}

func buildDispatcher(cfg *config.Config, st *store.Store, events *bus.Bus) (*agent.Dispatcher, error) {
	runner, err := buildRunner(cfg.Agent)
	if err != nil || runner == nil {
		return nil, err
	}
	opts := agent.DispatcherOpts{
		Runner:       runner,
		Store:        st,
		Publisher:    events,
		Workers:      cfg.Agent.Workers,
		MaxPerMinute: cfg.Agent.MaxPerMinute,
		Timeout:      cfg.Agent.Timeout,
	}
	if cfg.Agent.PostReplies {
		client, err := forge.NewClient(forge.ClientOpts{APIURL: cfg.Forge.APIURL, Token: cfg.Forge.Token})
		if err != nil {
			return nil, err
		}
		opts.Poster = client
	}
	return agent.NewDispatcher(opts)
}

// buildSenders creates a sender for every configured chat sink. Sinks that
// fail to initialize are logged and skipped.
func buildSenders(cfg config.NotifyConfig) []notify.Sender {
	var senders []notify.Sender
	if cfg.Slack.Enabled() {
		s, err := slack.New(slack.Opts{BotToken: cfg.Slack.BotToken, ChannelID: cfg.Slack.ChannelID})
		if err != nil {
			log.Warn().Err(err).Msg("slack notifications disabled")
		} else {
			senders = append(senders, s)
		}
	}
	if cfg.Discord.Enabled() {
		s, err := discord.New(discord.Opts{BotToken: cfg.Discord.BotToken, ChannelID: cfg.Discord.ChannelID})
		if err != nil {
			log.Warn().Err(err).Msg("discord notifications disabled")
		} else {
			senders = append(senders, s)
		}
	}
	return senders
}
