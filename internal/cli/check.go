package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roninproxy/ronin/internal/config"
)

func checkCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a Ronin config file",
		Long: `Load and validate a config file, then print the effective settings.

Examples:
  ronin check --config ronin.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg *config.Config
			if configFile != "" {
				var err error
				cfg, err = config.Load(configFile)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Config validation FAILED: %v\n", err)
					return err
				}
				cmd.Println("Config validation: OK")
			} else {
				cfg = config.Defaults()
				cmd.Println("Using default config (no --config specified)")
			}

			cmd.Printf("  Mode:             %s\n", cfg.Mode)
			cmd.Printf("  Enforcing:        %v\n", cfg.EnforceEnabled())
			if u := describeUpstream(cfg); u != "" {
				cmd.Printf("  Upstream:         %s\n", u)
			}
			cmd.Printf("  Alignment:        %v (threshold %.2f)\n", cfg.Alignment.IsEnabled(), cfg.Alignment.Threshold)
			cmd.Printf("  Sequence:         %v (history %d, burst %s)\n", cfg.Sequence.IsEnabled(), cfg.Sequence.MaxHistory, cfg.Sequence.BurstWindow())
			patterns := "built-in library"
			if n := len(cfg.Injection.Patterns); n > 0 {
				patterns = fmt.Sprintf("%d custom patterns", n)
			}
			cmd.Printf("  Injection:        %v (%s)\n", cfg.Injection.IsEnabled(), patterns)
			cmd.Printf("  Sanitization:     %v\n", cfg.Sanitization.IsEnabled())
			cmd.Printf("  Framing:          %v (score threshold %.2f)\n", cfg.Framing.IsEnabled(), cfg.Framing.Threshold())
			if cfg.Metrics.Enabled {
				cmd.Printf("  Metrics:          %s\n", cfg.Metrics.Listen)
			}
			if cfg.Store.Enabled {
				cmd.Printf("  Decision store:   %s\n", cfg.Store.Path)
			}
			if cfg.Alerts.WebhookURL != "" {
				cmd.Printf("  Alert webhook:    %s\n", cfg.Alerts.WebhookURL)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path to validate")

	return cmd
}
