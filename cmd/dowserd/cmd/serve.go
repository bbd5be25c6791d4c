package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dowser/internal/config"
	internalhttp "dowser/internal/http"
	"dowser/internal/http/handlers"
	"dowser/internal/relay"
	"dowser/internal/version"
	"dowser/pkg/httpclient"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dowserd server",
	Long: `Start the dowserd HTTP server.

The server provides:
- /relay endpoint proxying upstream media with HLS playlist rewriting
- Health and version endpoints under /api/v1
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server flags
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")

	// Relay flags
	serveCmd.Flags().String("public-url", "", "Externally reachable base URL of the relay endpoint")
	serveCmd.Flags().Bool("relay", true, "Serve the /relay endpoint")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	logger := slog.Default()

	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	var relayFetcher *httpclient.Client
	if cfg.Relay.Enabled {
		relayFetcher = relay.NewFetcher(cfg.Relay, logger)
		relayHandler := relay.NewHandler(cfg.Relay, relayFetcher, logger)
		relayHandler.RegisterChiRoutes(server.Router())
	}

	healthHandler := handlers.NewHealthHandler(version.Version).
		WithRelayEnabled(cfg.Relay.Enabled)
	if relayFetcher != nil {
		healthHandler = healthHandler.WithBreakers(relayFetcher)
	}
	healthHandler.Register(server.API())

	versionHandler := handlers.NewVersionHandler()
	versionHandler.Register(server.API())

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting dowserd",
		slog.String("address", cfg.Server.Address()),
		slog.String("version", version.Version),
		slog.Bool("relay_enabled", cfg.Relay.Enabled),
	)
	if version.IsSnapshot() {
		logger.Debug("snapshot build", slog.String("version", version.Version))
	}

	return server.ListenAndServe(ctx)
}

// buildConfig assembles the effective configuration from viper and applies
// CLI flag overrides. Flags win over env and file values, but only when
// explicitly set.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg, config.DecodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("public-url") {
		cfg.Relay.PublicURL, _ = flags.GetString("public-url")
	}
	if flags.Changed("relay") {
		cfg.Relay.Enabled, _ = flags.GetBool("relay")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}
