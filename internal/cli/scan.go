package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roninproxy/ronin/internal/audit"
	"github.com/roninproxy/ronin/internal/frame"
	"github.com/roninproxy/ronin/internal/pipeline"
	"github.com/roninproxy/ronin/internal/sanitize"
)

// ErrSuspiciousContent is returned when ronin scan detects injection patterns.
var ErrSuspiciousContent = errors.New("suspicious content detected")

func scanCmd() *cobra.Command {
	var configFile string
	var rewrite bool

	cmd := &cobra.Command{
		Use:   "scan [flags] [file]",
		Short: "Scan text through the response defenses",
		Long: `Run a piece of text through the response-side defenses offline:
injection detection, sanitization, and instruction scoring. Reads from
the given file, or stdin when no file is provided.

The verdict goes to stderr. With --rewrite, the neutralized, sanitized,
and framed text is printed to stdout, exactly as the proxy would emit it.

Examples:
  ronin scan response.txt
  cat response.txt | ronin scan
  ronin scan --rewrite response.txt > cleaned.txt`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}

			var data []byte
			if len(args) == 1 {
				data, err = os.ReadFile(args[0]) //nolint:gosec // G304: path from caller
				if err != nil {
					return fmt.Errorf("reading input: %w", err)
				}
			} else {
				data, err = io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
			}
			text := string(data)

			detector, err := pipeline.DetectorFromConfig(cfg)
			if err != nil {
				return err
			}

			suspicious, matched := detector.Detect(text)
			if suspicious {
				text = detector.Neutralize(text)
			}

			spans := 0
			sanitizer := sanitize.New(audit.NewNop(), func(string) { spans++ })
			text, _ = sanitizer.Sanitize(text, "scan")

			score := frame.InstructionScore(text)

			fmt.Fprintf(os.Stderr, "Injection patterns:  %d\n", len(matched))
			for _, id := range matched {
				fmt.Fprintf(os.Stderr, "  - %s\n", id)
			}
			fmt.Fprintf(os.Stderr, "Sanitized spans:     %d\n", spans)
			fmt.Fprintf(os.Stderr, "Instruction score:   %.2f\n", score)
			if suspicious {
				fmt.Fprintln(os.Stderr, "Verdict:             SUSPICIOUS")
			} else {
				fmt.Fprintln(os.Stderr, "Verdict:             CLEAN")
			}

			if rewrite {
				if cfg.Framing.IsEnabled() && (suspicious || score > cfg.Framing.Threshold()) {
					detail := fmt.Sprintf("Matched patterns: %d", len(matched))
					text = frame.Frame(text, "scan", true, detail)
				}
				fmt.Fprintln(cmd.OutOrStdout(), frame.Stamp(text))
			}

			if suspicious {
				return ErrSuspiciousContent
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file with custom injection patterns")
	cmd.Flags().BoolVar(&rewrite, "rewrite", false, "print the processed text to stdout")

	return cmd
}
