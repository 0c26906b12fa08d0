package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"meli-manager/internal/account"
	"meli-manager/internal/config"
	"meli-manager/internal/oauth"
	"meli-manager/internal/server"
)

type serveRunner interface {
	Start() error
	Stop(ctx context.Context) error
}

type serveRefresher interface {
	Start()
	Stop()
}

var (
	serveHost string
	servePort int
)

var (
	newServeServer = func(cfg *config.Config) serveRunner {
		return server.New(cfg)
	}
	newServeRefresher = func(cfg *config.Config) serveRefresher {
		store := account.NewStore(cfg.DataDir, cfg.TokenTTL())
		return oauth.NewRefresher(store, cfg)
	}
	signalNotifyContext = signal.NotifyContext
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the seller integration server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen address (default: from MELI_HOST)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default: from MELI_PORT)")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if serveHost != "" {
		cfg.Host = serveHost
	}
	if servePort > 0 {
		cfg.Port = servePort
	}

	log.Logger = config.InitLogger(cfg.LogLevel)
	log.Info().
		Str("log_level", cfg.LogLevel).
		Msg("logger initialized")

	srv := newServeServer(cfg)

	refresher := newServeRefresher(cfg)
	refresher.Start()
	defer refresher.Stop()
	log.Info().Msg("token refresher attached to serve lifecycle")

	startErrCh := make(chan error, 1)
	go func() {
		startErrCh <- srv.Start()
	}()

	ctx, stop := signalNotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-startErrCh:
		if err != nil {
			log.Error().Err(err).Msg("serve exited with error")
		}
		return err
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Stop(shutdownCtx); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("serve shutdown failed")
			return err
		}

		select {
		case err := <-startErrCh:
			if err != nil {
				log.Error().Err(err).Msg("serve exited after shutdown with error")
			}
			return err
		case <-time.After(10 * time.Second):
			log.Error().Msg("serve shutdown timed out")
			return fmt.Errorf("shutdown timeout")
		}
	}
}
