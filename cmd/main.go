package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/deepgram/colloquy/internal/api/v1/routes"
	"github.com/deepgram/colloquy/internal/config"
	"github.com/deepgram/colloquy/internal/connections"
	"github.com/deepgram/colloquy/internal/services"
	"github.com/deepgram/colloquy/pkg/logger"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 30 * time.Second
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Load chat configuration from `FILE`",
		EnvVars: []string{"COLLOQUY_CONFIG"},
	}

	return &cli.App{
		Name:    "colloquy",
		Usage:   "Streaming chat service with provider failover and document retrieval",
		Version: version,
		Before: func(c *cli.Context) error {
			logger.Setup()
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start the HTTP and websocket server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "addr",
						Aliases: []string{"a"},
						Usage:   "Listen address",
						Value:   ":8080",
						EnvVars: []string{"COLLOQUY_ADDR"},
					},
					configFlag,
				},
				Action: func(c *cli.Context) error {
					return serve(c.Context, c.String("addr"), c.String("config"))
				},
			},
			{
				Name:  "config",
				Usage: "Print the resolved chat configuration",
				Flags: []cli.Flag{configFlag},
				Action: func(c *cli.Context) error {
					cfg, err := config.LoadChatConfig(c.String("config"))
					if err != nil {
						return err
					}
					return printConfig(c.App.Writer, cfg)
				},
			},
		},
	}
}

func setupRouter(svcs *services.Services, manager *connections.Manager) *mux.Router {
	return routes.NewRouter(svcs, manager)
}

func serve(ctx context.Context, addr, configPath string) error {
	cfg, err := config.LoadChatConfig(configPath)
	if err != nil {
		return err
	}

	svcs, err := services.InitializeServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svcs.Close()

	manager := connections.NewManager(connections.DefaultTimeouts)
	server := &http.Server{
		Addr:              addr,
		Handler:           setupRouter(svcs, manager),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return shutdown(shutdownCtx, svcs, manager, server)
}

// shutdown stops in-flight streams first so their placeholders are cleaned up,
// then drops websockets and finally drains plain HTTP requests.
func shutdown(ctx context.Context, svcs *services.Services, manager *connections.Manager, server *http.Server) error {
	streamErr := svcs.Shutdown(ctx)
	if streamErr != nil {
		log.Error().Err(streamErr).Msg("Streams did not finish before the shutdown deadline")
	}

	manager.CloseAll("server shutting down")

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}

	log.Info().Msg("Server stopped")
	return streamErr
}

func printConfig(w io.Writer, cfg *config.ChatConfig) error {
	redacted := *cfg
	if redacted.Primary.APIKey != "" {
		redacted.Primary.APIKey = "***"
	}
	if redacted.Fallback.APIKey != "" {
		redacted.Fallback.APIKey = "***"
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(redacted)
}
