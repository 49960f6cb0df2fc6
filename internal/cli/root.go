// Package cli implements the Ronin command-line interface using cobra.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "0.1.0-dev"

// Execute runs the root command.
func Execute() error {
	return rootCmd().Execute()
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ronin",
		Short: "Defense proxy for MCP tool calls",
		Long: `Ronin sits between an MCP client and an MCP server, screening every
tool call on the way in and every tool response on the way out.

Request side:
  alignment  - Block calls whose arguments don't match the tool's purpose
  sequence   - Block anomalous call sequences (read-then-send, bursts)

Response side:
  injection  - Detect and neutralize embedded instruction patterns
  sanitize   - Strip hidden HTML comments and base64 payloads
  framing    - Wrap suspicious content in safety framing, stamp everything

Quick start:
  ronin run --config ronin.yaml -- python mcp_server.py
  ronin run --upstream ws://localhost:8080/mcp
  ronin check --config ronin.yaml
  ronin scan suspicious_response.txt`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		runCmd(),
		scanCmd(),
		checkCmd(),
		logsCmd(),
	)

	return cmd
}
