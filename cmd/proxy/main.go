package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codex-helper/proxy/internal/authresolve"
	"github.com/codex-helper/proxy/internal/config"
	"github.com/codex-helper/proxy/internal/filter"
	"github.com/codex-helper/proxy/internal/lb"
	"github.com/codex-helper/proxy/internal/logging"
	"github.com/codex-helper/proxy/internal/logsink"
	"github.com/codex-helper/proxy/internal/metrics"
	"github.com/codex-helper/proxy/internal/server"
	"github.com/codex-helper/proxy/internal/state"
	"github.com/codex-helper/proxy/internal/transport"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "proxy",
		Short: "Local reverse proxy fronting Codex/Claude CLI upstream providers",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the proxy's HTTP listener",
		RunE:  runServe,
	}
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	env := config.LoadEnv()

	level := slog.LevelInfo
	switch env.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logHandler := logging.New(env.LogFormat, level, env.RecentRingSize)
	slog.SetDefault(slog.New(logHandler))
	slog.Info("proxy starting", "version", version)

	if err := os.MkdirAll(filepath.Dir(env.ConfigPath), 0o755); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}
	if _, err := os.Stat(env.ConfigPath); os.IsNotExist(err) {
		if err := seedDefaultConfig(env.ConfigPath); err != nil {
			return fmt.Errorf("seed default config: %w", err)
		}
	}

	store, err := config.NewStore(env.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "path", env.ConfigPath)

	st := state.New(env.RecentRingSize, env.CwdCacheMaxEntries, nil)
	lbReg := lb.NewRegistry()
	filt := filter.New(env.FilterPath)
	auth := authresolve.New()
	tm := transport.NewManager(env.UpstreamRequestTimeout, env.UpstreamIdleTimeout)
	defer tm.Close()
	mx := metrics.New(lbReg, store)
	sink := logsink.New(env.LogPath)

	srv := server.New(env, store, st, lbReg, filt, auth, tm, mx, sink, logHandler, env.DebugHeaders)
	return srv.Run()
}

// seedDefaultConfig writes a minimal, disabled-by-default config so a fresh
// install starts cleanly instead of failing to find a config file.
func seedDefaultConfig(path string) error {
	const seed = `{
  "version": 1,
  "codex": {"active": "", "configs": {}},
  "claude": {"active": "", "configs": {}},
  "retry": {
    "max_attempts": 3,
    "backoff_ms": 250,
    "backoff_max_ms": 5000,
    "jitter_ms": 100,
    "on_status": ["502", "503", "429"],
    "on_class": ["cloudflare_challenge", "upstream_transport_error"],
    "cloudflare_challenge_cooldown_secs": 120,
    "cloudflare_timeout_cooldown_secs": 60,
    "transport_cooldown_secs": 30,
    "failure_threshold": 3,
    "cooldown_secs": 30
  }
}
`
	return os.WriteFile(path, []byte(seed), 0o644)
}
