// Package cli builds the window-cap-mcp command.
package cli

import (
	"io"

	"github.com/ggoodman/window-cap-mcp/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// NewRootCommand returns the root command. Flag defaults come from the
// environment so that flags override WINDOWCAP_* variables.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cfg, loadErr := config.Load()
	if cfg == nil {
		cfg = &config.Config{}
	}

	cmd := &cobra.Command{
		Use:   "window-cap-mcp",
		Short: "MCP server for window and screen capture",
		Long: "Serves window and monitor listing, capture and close tools over MCP.\n" +
			"Without a transport flag the server speaks stdio.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if loadErr != nil {
				return loadErr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return Run(cmd.Context(), cfg, stdin, stdout, stderr)
		},
	}
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	bindFlags(cmd.Flags(), cfg)
	return cmd
}

func bindFlags(fs *pflag.FlagSet, cfg *config.Config) {
	fs.BoolVar(&cfg.SSE, "sse", cfg.SSE, "serve the HTTP+SSE transport (wins over --http)")
	fs.BoolVar(&cfg.HTTP, "http", cfg.HTTP, "serve the streaming HTTP transport")
	fs.Uint16Var(&cfg.Port, "port", cfg.Port, "port for the HTTP transports")
	fs.StringVar(&cfg.Host, "host", cfg.Host, "host for the HTTP transports")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "capture worker count (0 uses one per CPU)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for streaming HTTP sessions (empty keeps them in memory)")
	fs.DurationVar(&cfg.SessionTTL, "session-ttl", cfg.SessionTTL, "idle expiry of streaming HTTP sessions")
	fs.DurationVar(&cfg.Heartbeat, "heartbeat", cfg.Heartbeat, "interval between event-stream heartbeats")
	fs.BoolVar(&cfg.Metrics, "metrics", cfg.Metrics, "serve Prometheus metrics on /metrics")
}
