package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/netlens/netlens/api"
	"github.com/netlens/netlens/internal/app"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API for capture control and live statistics",
	Long: `Start the HTTP server. Capture sessions are started and stopped over
the API; live statistics, session history, and Prometheus metrics are served
from the same listener.`,
	Example: `  sudo netlens serve
  sudo netlens serve --listen 0.0.0.0:8471
  curl -X POST localhost:8471/api/v1/capture/start -d '{"interface":"eth0"}'
  curl localhost:8471/api/v1/stats`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "listen", "",
		"Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.API.ListenAddr = serveAddr
	}

	analyzer, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	defer analyzer.Close()

	server := api.New(analyzer, analyzer.Engine(), analyzer.Store(), analyzer.Query(),
		analyzer.Metrics().Handler(), log)

	httpServer := &http.Server{
		Addr:         cfg.API.ListenAddr,
		Handler:      server.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.API.ListenAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		log.Info("shutting down", "signal", s.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}
