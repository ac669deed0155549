package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/toolmux/toolmux/manager"
	"github.com/toolmux/toolmux/protocol"
)

// NewToolsCmd creates the "tools" subcommand group.
func NewToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List and invoke tools across configured servers",
	}
	cmd.AddCommand(newToolsListCmd())
	cmd.AddCommand(newToolsCallCmd())
	return cmd
}

func newToolsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Connect to every configured server and print the aggregate catalog",
		Args:  cobra.NoArgs,
		RunE:  runToolsList,
	}
	cmd.Flags().Bool("json", false, "Print the catalog as JSON")
	return cmd
}

func runToolsList(cmd *cobra.Command, args []string) error {
	m, err := newManager(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	// Connect failures are per server; the catalog shows what came up.
	if err := m.InitializeAll(cmd.Context()); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "some servers failed to connect: %v\n", err)
	}
	entries := m.GetAllTools()

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printToolsJSON(cmd.OutOrStdout(), entries)
	}
	printToolsTable(cmd.OutOrStdout(), entries)
	return nil
}

type toolJSON struct {
	Name        string                   `json:"name"`
	Server      string                   `json:"server"`
	Description string                   `json:"description,omitempty"`
	InputSchema protocol.ToolInputSchema `json:"inputSchema"`
}

func printToolsJSON(w io.Writer, entries []manager.CatalogEntry) error {
	out := make([]toolJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, toolJSON{
			Name:        e.Name,
			Server:      e.Server,
			Description: e.Tool.Description,
			InputSchema: e.Tool.InputSchema,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printToolsTable(w io.Writer, entries []manager.CatalogEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no tools available")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSERVER\tDESCRIPTION")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, e.Server, truncate(e.Tool.Description, 60))
	}
	tw.Flush()
}

func newToolsCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <namespaced-name>",
		Short: "Invoke one tool by its namespaced name",
		Long: `Invoke one tool by its namespaced name (for example mcp_git_status).
Only the server owning the tool is connected. Arguments are passed as a
JSON object via --args.`,
		Args: cobra.ExactArgs(1),
		RunE: runToolsCall,
	}
	cmd.Flags().String("args", "", "Tool arguments as a JSON object")
	return cmd
}

func runToolsCall(cmd *cobra.Command, args []string) error {
	fullName := args[0]
	server, _, err := manager.ParseNamespaced(manager.DefaultPrefix, fullName)
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}

	var toolArgs map[string]interface{}
	if rawArgs, _ := cmd.Flags().GetString("args"); rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &toolArgs); err != nil {
			return exitError(exitValidation, "--args must be a JSON object: %v", err)
		}
	}

	m, err := newManager(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	if err := m.ConnectServer(cmd.Context(), server); err != nil {
		if manager.IsUnknownServer(err) {
			return exitError(exitValidation, "%v", err)
		}
		return exitError(exitRuntime, "connecting %s: %v", server, err)
	}

	result, err := m.CallNamespacedTool(cmd.Context(), fullName, toolArgs)
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}

	printContent(cmd.OutOrStdout(), result.Content)
	if result.IsError {
		return exitError(exitRuntime, "tool %s reported an error", fullName)
	}
	return nil
}

// printContent renders content blocks: text verbatim, binary
// summarized.
func printContent(w io.Writer, blocks []protocol.Content) {
	for _, block := range blocks {
		switch c := block.(type) {
		case protocol.TextContent:
			fmt.Fprintln(w, c.Text)
		case protocol.ImageContent:
			fmt.Fprintf(w, "[image %s, %d base64 bytes]\n", c.MimeType, len(c.Data))
		case protocol.AudioContent:
			fmt.Fprintf(w, "[audio %s, %d base64 bytes]\n", c.MimeType, len(c.Data))
		case protocol.EmbeddedResourceContent:
			fmt.Fprintf(w, "[resource %s]\n", c.Resource.URI)
			if c.Resource.Text != "" {
				fmt.Fprintln(w, c.Resource.Text)
			}
		default:
			fmt.Fprintf(w, "[%s content]\n", color.New(color.FgYellow).Sprint(block.ContentType()))
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
