package cmd

import (
	"github.com/spf13/cobra"

	"github.com/dzianisv/opencode-plugins-sub001/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server exposing reflection history",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an agent query its own reflection history natively. Configure
with:

  {
    "mcpServers": {
      "ocp": { "command": "ocp", "args": ["mcp"] }
    }
  }

Available tools: ocp_reflection_history, ocp_last_verdict`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		srv := mcp.NewServer(s)
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
