package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/gigiforge/gigi/internal/store"
	"github.com/gigiforge/gigi/internal/webhook"
	"github.com/spf13/cobra"
)

func newWebhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Webhook utilities",
	}
	cmd.AddCommand(newWebhookReplayCmd())
	return cmd
}

type replayOpts struct {
	event    string
	delivery string
	handle   string
	login    string
}

func newWebhookReplayCmd() *cobra.Command {
	var opts replayOpts
	cmd := &cobra.Command{
		Use:   "replay <payload.json|->",
		Short: "Route a saved webhook payload into the thread store",
		Long: "Routes a payload exactly as the server would, without signature checks. " +
			"Mentions are recorded but no agent is invoked.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if opts.handle == "" {
				opts.handle = cfg.Agent.Handle
			}
			if opts.login == "" {
				opts.login = cfg.Agent.Login
			}
			payload, err := readPayload(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			return runReplay(cmd.Context(), cmd.OutOrStdout(), st, opts, payload)
		},
	}
	cmd.Flags().StringVarP(&opts.event, "event", "e", "", "event type, e.g. issues or issue_comment (required)")
	cmd.Flags().StringVar(&opts.delivery, "delivery", "", "delivery id; reusing one is a no-op")
	cmd.Flags().StringVar(&opts.handle, "handle", "", "agent mention handle (defaults to config)")
	cmd.Flags().StringVar(&opts.login, "login", "", "agent forge login (defaults to config)")
	cmd.MarkFlagRequired("event")
	return cmd
}

func readPayload(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return data, nil
}

func runReplay(ctx context.Context, out io.Writer, st *store.Store, opts replayOpts, payload []byte) error {
	gate, err := webhook.NewMentionGate(opts.handle, opts.login)
	if err != nil {
		return err
	}
	router, err := webhook.NewRouter(webhook.RouterOpts{Store: st, Gate: gate})
	if err != nil {
		return err
	}
	res, err := router.Route(ctx, opts.event, payload, opts.delivery)
	if err != nil {
		return err
	}
	if res == nil {
		fmt.Fprintln(out, "Event not routed.")
		return nil
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
