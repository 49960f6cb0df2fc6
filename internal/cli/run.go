package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roninproxy/ronin/internal/alert"
	"github.com/roninproxy/ronin/internal/audit"
	"github.com/roninproxy/ronin/internal/config"
	"github.com/roninproxy/ronin/internal/mcp"
	"github.com/roninproxy/ronin/internal/mcp/transport"
	"github.com/roninproxy/ronin/internal/metrics"
	"github.com/roninproxy/ronin/internal/pipeline"
	"github.com/roninproxy/ronin/internal/store"
)

func runCmd() *cobra.Command {
	var configFile string
	var mode string
	var upstreamURL string

	cmd := &cobra.Command{
		Use:   "run [flags] [-- <command> [args...]]",
		Short: "Start the Ronin proxy in front of an MCP server",
		Long: `Start the proxy. Ronin speaks MCP over stdio to the client (stdin/stdout)
and connects upstream either by spawning a stdio MCP server subprocess
(command after --) or over WebSocket (--upstream).

Audit logs go to stderr by default; stdout carries the JSON-RPC stream.

Examples:
  ronin run -- python mcp_server.py
  ronin run --config ronin.yaml -- ./my-server --port 0
  ronin run --upstream ws://localhost:8080/mcp
  ronin run --mode monitor --config ronin.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("mode") {
				cfg.Mode = mode
			}
			if upstreamURL != "" {
				cfg.Upstream.URL = upstreamURL
				cfg.Upstream.Command = nil
			}
			if dashIdx := cmd.ArgsLenAtDash(); dashIdx >= 0 && dashIdx < len(args) {
				cfg.Upstream.Command = args[dashIdx:]
				cfg.Upstream.URL = ""
			}
			cfg.ApplyDefaults()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger, err := audit.New(
				cfg.Logging.Format,
				cfg.Logging.Output,
				cfg.Logging.File,
				cfg.Logging.IncludeAllowed,
			)
			if err != nil {
				return fmt.Errorf("creating audit logger: %w", err)
			}
			defer logger.Close()

			ctx, cancel := signal.NotifyContext(
				context.Background(),
				syscall.SIGINT,
				syscall.SIGTERM,
			)
			defer cancel()

			m := metrics.New()
			if cfg.Metrics.Enabled {
				startMetricsServer(ctx, cfg.Metrics.Listen, m, logger)
			}

			var alerts *alert.Emitter
			if cfg.Alerts.WebhookURL != "" {
				sink := alert.NewWebhookSink(cfg.Alerts.WebhookURL,
					alert.WithBearerToken(cfg.Alerts.Token),
					alert.WithMinSeverity(alert.ParseSeverity(cfg.Alerts.MinSeverity)))
				alerts = alert.NewEmitter(alert.DefaultInstance(), sink)
				defer alerts.Close()
			}

			var db *store.DB
			if cfg.Store.Enabled {
				db, err = store.Open(ctx, cfg.Store.Path)
				if err != nil {
					return fmt.Errorf("opening decision store: %w", err)
				}
				defer db.Close()
			}

			reader, writer, wait, err := dialUpstream(ctx, cfg)
			if err != nil {
				return err
			}

			client := mcp.NewClient(reader, writer, logger)
			catalog := mcp.NewCatalog()

			pipe, err := pipeline.New(cfg, pipeline.Deps{
				Executor:  client,
				Describer: catalog,
				Audit:     logger,
				Metrics:   m,
				Store:     db,
				Alerts:    alerts,
			})
			if err != nil {
				return fmt.Errorf("building pipeline: %w", err)
			}

			// Best-effort catalog priming; the catalog also refreshes from
			// every tools/list response the client forwards.
			go primeCatalog(ctx, client, catalog)

			if configFile != "" {
				go watchConfig(ctx, configFile, cfg, pipe, logger)
			}

			upstreamDesc := describeUpstream(cfg)
			logger.LogStartup(upstreamDesc)
			fmt.Fprintf(os.Stderr, "Ronin v%s starting\n", Version)
			fmt.Fprintf(os.Stderr, "  Mode:     %s\n", cfg.Mode)
			fmt.Fprintf(os.Stderr, "  Upstream: %s\n", upstreamDesc)
			if cfg.Metrics.Enabled {
				fmt.Fprintf(os.Stderr, "  Metrics:  http://%s/metrics\n", cfg.Metrics.Listen)
				fmt.Fprintf(os.Stderr, "  Stats:    http://%s/stats\n", cfg.Metrics.Listen)
			}

			proxy := mcp.NewProxy(pipe, client, catalog,
				transport.NewStdioReader(os.Stdin),
				transport.NewStdioWriter(os.Stdout),
				logger)

			serveErr := proxy.Serve(ctx)

			logger.LogShutdown("client stream closed")
			if wait != nil {
				if err := wait(); err != nil && serveErr == nil {
					var exitErr *exec.ExitError
					if !errors.As(err, &exitErr) {
						serveErr = fmt.Errorf("upstream process: %w", err)
					}
				}
			}
			return serveErr
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	cmd.Flags().StringVarP(&mode, "mode", "m", config.ModeEnforce, "operating mode: enforce, monitor")
	cmd.Flags().StringVar(&upstreamURL, "upstream", "", "upstream WebSocket URL (ws:// or wss://)")

	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Defaults(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// dialUpstream connects to the configured upstream and returns its transport
// pair. For subprocess upstreams, wait reaps the child after the proxy stops.
func dialUpstream(ctx context.Context, cfg *config.Config) (transport.MessageReader, transport.MessageWriter, func() error, error) {
	if cfg.Upstream.URL != "" {
		ws, err := transport.NewWSClient(ctx, cfg.Upstream.URL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connecting to upstream %s: %w", cfg.Upstream.URL, err)
		}
		go func() {
			<-ctx.Done()
			_ = ws.Close()
		}()
		return ws, ws, nil, nil
	}

	argv := cfg.Upstream.Command
	child := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // G204: argv from operator config
	child.Stderr = os.Stderr

	stdin, err := child.StdinPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("upstream stdin pipe: %w", err)
	}
	stdout, err := child.StdoutPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("upstream stdout pipe: %w", err)
	}
	if err := child.Start(); err != nil {
		return nil, nil, nil, fmt.Errorf("starting upstream %q: %w", argv[0], err)
	}

	wait := func() error {
		_ = stdin.Close()
		return child.Wait()
	}
	return transport.NewStdioReader(stdout), transport.NewStdioWriter(stdin), wait, nil
}

func describeUpstream(cfg *config.Config) string {
	if cfg.Upstream.URL != "" {
		return cfg.Upstream.URL
	}
	return strings.Join(cfg.Upstream.Command, " ")
}

// primeCatalog fetches the upstream tool listing once so alignment scoring
// has descriptions from the first call onward.
func primeCatalog(ctx context.Context, client *mcp.Client, catalog *mcp.Catalog) {
	listCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, raw, err := client.ListTools(listCtx); err == nil {
		catalog.Observe(raw)
	}
}

// watchConfig applies hot reloads, logging any security downgrades.
func watchConfig(ctx context.Context, path string, initial *config.Config, pipe *pipeline.Pipeline, logger *audit.Logger) {
	r := config.NewReloader(path, logger)
	defer r.Close()
	go func() {
		if err := r.Start(ctx); err != nil {
			logger.LogConfigReload("failed", err.Error())
		}
	}()

	prev := initial
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-r.Changes():
			if !ok {
				return
			}
			for _, w := range config.ValidateReload(prev, next) {
				logger.LogConfigReload("warning", w.Field+": "+w.Message)
			}
			if err := pipe.SetConfig(next); err != nil {
				logger.LogConfigReload("failed", err.Error())
				continue
			}
			logger.LogConfigReload("applied", path)
			prev = next
		}
	}
}

func startMetricsServer(ctx context.Context, listen string, m *metrics.Metrics, logger *audit.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.PrometheusHandler())
	mux.HandleFunc("/stats", m.StatsHandler())

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.LogError("", "", fmt.Errorf("metrics server: %w", err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
}
