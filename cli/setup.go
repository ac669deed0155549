// Package cli implements the toolmux subcommands. Every command reads
// the root's persistent flags (--config, --verbose, --quiet,
// --no-color) and returns *ExitError to select the process exit code.
package cli

import (
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/toolmux/toolmux/manager"
)

// Version is stamped by main from its ldflags value.
var Version = "dev"

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "toolmux.yaml"

// loggerFromFlags builds the slog logger the commands and their
// clients share. Verbose wins over quiet.
func loggerFromFlags(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		level = slog.LevelError
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// applyColorFlag disables color output for --no-color or when stdout
// is not a terminal (the color package detects the latter itself).
func applyColorFlag(cmd *cobra.Command) {
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
		color.NoColor = true
	}
}

// configPath resolves the --config flag.
func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = DefaultConfigPath
	}
	return path
}

// newManager builds a manager from the configuration file named by
// --config. A missing file yields an empty manager, matching the
// loader's semantics.
func newManager(cmd *cobra.Command) (*manager.Manager, error) {
	applyColorFlag(cmd)
	path := configPath(cmd)
	m := manager.New(
		manager.WithLogger(loggerFromFlags(cmd)),
		manager.WithClientInfo("toolmux", Version),
	)
	if err := m.LoadConfiguration(path); err != nil {
		return nil, exitError(exitValidation, "loading %s: %v", path, err)
	}
	return m, nil
}

// fileExists reports whether path names an existing file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
