package cmd

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/roombot/internal/config"
	"github.com/Iron-Ham/roombot/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control plane",
	Long: `Run the HTTP control plane.

Bots run on the backend named by backend.default. --local runs them as
subprocesses of this server; --remote runs them on remote machines, which
needs FLY_API_KEY and FLY_APP_NAME (or remote.api_token and
remote.app_name).

The config file is watched while the server runs. Changes to the prompt
catalog and the log level apply immediately; other settings need a
restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveLocal  bool
	serveRemote bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveLocal, "local", false, "run bots as local subprocesses")
	serveCmd.Flags().BoolVar(&serveRemote, "remote", false, "run bots on remote machines")
	serveCmd.MarkFlagsMutuallyExclusive("local", "remote")
	serveCmd.Flags().String("host", "", "listen host (default from server.host)")
	serveCmd.Flags().Int("port", 0, "listen port (default from server.port)")
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, args []string) error {
	switch {
	case serveLocal:
		viper.Set("backend.default", "local")
	case serveRemote:
		viper.Set("backend.default", "remote")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewFileLogger(cfg.Logging.File, cfg.Logging.Level, cfg.Rotation())
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logger.Close()

	a, err := newApp(cfg, os.Getenv, logger)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if viper.ConfigFileUsed() != "" {
		config.Watch(a.reload)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	fmt.Fprintf(cmd.ErrOrStderr(), "roombot listening on http://%s (backend: %s)\n", ln.Addr(), a.kind)
	return a.serve(ctx, ln)
}
