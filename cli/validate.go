package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/toolmux/toolmux/config"
)

// NewConfigCmd creates the "config" subcommand group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with the toolmux configuration file",
	}
	cmd.AddCommand(newConfigValidateCmd())
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate the configuration file",
		Args:  cobra.NoArgs,
		RunE:  runConfigValidate,
	}
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	applyColorFlag(cmd)
	path := configPath(cmd)
	out := cmd.OutOrStdout()

	if !fileExists(path) {
		return exitError(exitValidation, "config file not found: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return exitError(exitValidation, "reading %s: %v", path, err)
	}

	format := strings.TrimPrefix(filepath.Ext(path), ".")
	cfg, err := config.Parse(data, format)
	if err != nil {
		fmt.Fprintf(out, "%s %s\n", color.New(color.FgRed).Sprint("invalid:"), err)
		return exitError(exitValidation, "validation failed for %s", path)
	}

	fmt.Fprintf(out, "%s %s (%d servers)\n", color.New(color.FgGreen).Sprint("valid:"), path, len(cfg.Servers))
	for _, d := range cfg.Servers {
		enabled := ""
		if !d.IsEnabled() {
			enabled = " (disabled)"
		}
		fmt.Fprintf(out, "  %s: %s%s\n", d.Name, d.Transport, enabled)
	}
	return nil
}
