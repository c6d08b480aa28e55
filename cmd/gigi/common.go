package main

import (
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/gigiforge/gigi/internal/config"
	"github.com/gigiforge/gigi/internal/db"
	"github.com/gigiforge/gigi/internal/logging"
	"github.com/gigiforge/gigi/internal/store"
	"github.com/gigiforge/gigi/internal/thread"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// loadConfig reads the file named by the persistent --config flag and sets
// up logging from it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore connects to the configured database and migrates it.
func openStore(cfg *config.Config) (*store.Store, error) {
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	return store.New(store.Opts{DB: gormDB})
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// statusPainter returns a function that colors thread statuses when out is
// a terminal.
func statusPainter(out io.Writer) func(string) string {
	if !isTerminal(out) {
		return func(s string) string { return s }
	}
	return func(s string) string {
		switch thread.Status(s) {
		case thread.StatusActive:
			return color.GreenString(s)
		case thread.StatusPaused, thread.StatusOpen:
			return color.CyanString(s)
		case thread.StatusStopped:
			return color.YellowString(s)
		default:
			return color.HiBlackString(s)
		}
	}
}

// truncate returns s truncated to maxLen with "..." appended if needed.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:runeCut(s, maxLen)]
	}
	return s[:runeCut(s, maxLen-3)] + "..."
}

// runeCut moves n back to the start of the rune containing s[n].
func runeCut(s string, n int) int {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}
