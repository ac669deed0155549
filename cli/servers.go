package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/toolmux/toolmux/manager"
)

// NewServersCmd creates the "servers" subcommand group.
func NewServersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Inspect the configured tool servers",
	}
	cmd.AddCommand(newServersStatusCmd())
	return cmd
}

func newServersStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Connect to every configured server and report its state",
		Args:  cobra.NoArgs,
		RunE:  runServersStatus,
	}
	cmd.Flags().Bool("probe", false, "Ping connected servers to catch wedged ones")
	return cmd
}

func runServersStatus(cmd *cobra.Command, args []string) error {
	m, err := newManager(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	connectErr := m.InitializeAll(cmd.Context())
	statuses := m.Statuses()
	if len(statuses) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no servers configured")
		return nil
	}

	probe, _ := cmd.Flags().GetBool("probe")
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVER\tSTATE\tTOOLS\tRESOURCES\tINFO")
	for _, st := range statuses {
		state := red.Sprint(st.State)
		if st.State == manager.StateConnected {
			state = green.Sprint(st.State)
			if probe && !pingServer(cmd.Context(), m, st.Name) {
				state = yellow.Sprint("unresponsive")
			}
		}
		info := ""
		if st.Info != nil {
			info = st.Info.Name + " " + st.Info.Version
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", st.Name, state, st.Tools, st.Resources, info)
	}
	tw.Flush()

	if connectErr != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "connect failures: %v\n", connectErr)
	}
	return nil
}

func pingServer(ctx context.Context, m *manager.Manager, name string) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.Ping(ctx, name) == nil
}
