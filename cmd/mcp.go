package cmd

import (
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/callsage/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an MCP client generate and discuss call reviews natively.
Configure it with:

  {
    "mcpServers": {
      "callsage": { "command": "callsage", "args": ["mcp"] }
    }
  }

Available tools: callsage_generate_review, callsage_get_review,
callsage_list_reviews, callsage_chat, callsage_apply_amendment,
callsage_list_profiles`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getManager()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), interruptSignals()...)
		defer stop()

		appLog.Debug("mcp server listening on stdio")
		return mcp.NewServer(mgr, buildVersion).ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
