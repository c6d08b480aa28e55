package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gigiforge/gigi/internal/models"
	"github.com/gigiforge/gigi/internal/store"
	"github.com/gigiforge/gigi/internal/thread"
	"github.com/spf13/cobra"
)

func newThreadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thread",
		Short: "Inspect and manage conversation threads",
	}
	cmd.AddCommand(newThreadListCmd())
	cmd.AddCommand(newThreadShowCmd())
	cmd.AddCommand(newThreadCreateCmd())
	cmd.AddCommand(newThreadLifecycleCmd("close", "Stop a thread", "stopped"))
	cmd.AddCommand(newThreadLifecycleCmd("archive", "Archive a stopped or paused thread", "archived"))
	cmd.AddCommand(newThreadLifecycleCmd("unarchive", "Return an archived thread to paused", "paused"))
	return cmd
}

// withStore loads config, opens the store and runs fn.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, st *store.Store) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	return fn(cmd.Context(), st)
}

func newThreadListCmd() *cobra.Command {
	var opts store.ListOpts
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List threads, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				return runThreadList(ctx, cmd.OutOrStdout(), st, opts)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by status")
	cmd.Flags().StringVar(&opts.Repo, "repo", "", "filter by repository")
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "filter by tag")
	cmd.Flags().BoolVarP(&opts.IncludeArchived, "all", "a", false, "include archived threads")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum threads to show")
	return cmd
}

func runThreadList(ctx context.Context, out io.Writer, st *store.Store, opts store.ListOpts) error {
	threads, err := st.ListConversations(ctx, opts)
	if err != nil {
		return err
	}
	if len(threads) == 0 {
		fmt.Fprintln(out, "No threads.")
		return nil
	}
	paint := statusPainter(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tCHANNEL\tTOPIC\tTAGS\tUPDATED")
	for i := range threads {
		t := &threads[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, paint(t.Status), t.OriginChannel, truncate(t.Topic, 40),
			truncate(joinTags(t), 40), t.UpdatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func newThreadShowCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a thread and its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				return runThreadShow(ctx, cmd.OutOrStdout(), st, args[0], limit)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "events", 0, "show only the first N events (0 shows all)")
	return cmd
}

func runThreadShow(ctx context.Context, out io.Writer, st *store.Store, id string, limit int) error {
	t, err := st.GetConversation(ctx, id)
	if err != nil {
		return fmt.Errorf("thread %s: %w", id, err)
	}
	events, err := st.ListMessages(ctx, id, store.MessageQuery{Limit: limit})
	if err != nil {
		return err
	}

	paint := statusPainter(out)
	fmt.Fprintf(out, "Thread:  %s\n", t.ID)
	fmt.Fprintf(out, "Topic:   %s\n", t.Topic)
	fmt.Fprintf(out, "Status:  %s\n", paint(t.Status))
	fmt.Fprintf(out, "Channel: %s\n", t.OriginChannel)
	if t.Repo != "" {
		fmt.Fprintf(out, "Repo:    %s\n", t.Repo)
	}
	fmt.Fprintf(out, "Tags:    %s\n", joinTags(t))
	fmt.Fprintf(out, "Created: %s\n", t.CreatedAt.Local().Format(time.DateTime))
	if t.ClosedAt != nil {
		fmt.Fprintf(out, "Closed:  %s\n", t.ClosedAt.Local().Format(time.DateTime))
	}

	fmt.Fprintf(out, "\nEvents (%d):\n", len(events))
	for _, e := range events {
		fmt.Fprintf(out, "  #%d %s [%s/%s] %s\n",
			e.Sequence, e.CreatedAt.Local().Format(time.TimeOnly), e.Role, e.MessageType, truncate(e.Content, 120))
	}
	return nil
}

func newThreadCreateCmd() *cobra.Command {
	var opts store.CreateOpts
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a thread, e.g. to pre-register a repository conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				t, err := st.CreateConversation(ctx, opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created thread %s\n", t.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Topic, "topic", "", "thread topic")
	cmd.Flags().StringVar(&opts.Repo, "repo", "", "repository (owner/name)")
	cmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "correlation tag (repeatable)")
	cmd.Flags().StringVar(&opts.Channel, "channel", thread.ChannelWeb, "origin channel")
	return cmd
}

func newThreadLifecycleCmd(use, short, result string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				return runThreadLifecycle(ctx, cmd.OutOrStdout(), st, use, args[0], result)
			})
		},
	}
}

func runThreadLifecycle(ctx context.Context, out io.Writer, st *store.Store, action, id, result string) error {
	var apply func(context.Context, string) (bool, error)
	switch action {
	case "close":
		apply = st.CloseConversation
	case "archive":
		apply = st.ArchiveConversation
	case "unarchive":
		apply = st.UnarchiveConversation
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	changed, err := apply(ctx, id)
	if err != nil {
		return fmt.Errorf("%s %s: %w", action, id, err)
	}
	if !changed {
		fmt.Fprintf(out, "Thread %s already %s\n", id, result)
		return nil
	}
	fmt.Fprintf(out, "Thread %s is now %s\n", id, result)
	return nil
}

func joinTags(t *models.Thread) string {
	names := t.TagNames()
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}
