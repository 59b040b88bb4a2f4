package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/benaskins/herald/internal/api"
	"github.com/benaskins/herald/internal/config"
	"github.com/benaskins/herald/internal/diag"
	"github.com/benaskins/herald/internal/spec"
	"github.com/benaskins/herald/internal/supervisor"
)

var serveCmd = &cobra.Command{
	Use:   "serve <spec-file>",
	Short: "Launch a server and keep supervising it",
	Long: "Like up, but herald stays attached: it exposes a control API with status, " +
		"diagnostics, a stop endpoint, and Prometheus metrics, and tears the server " +
		"down when interrupted.",
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "TCP address for the control API (default 127.0.0.1:7070)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	specPath, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	sp, err := spec.Load(specPath)
	if err != nil {
		return err
	}

	addr := serveAddr
	if addr == "" {
		if cfg, err := config.Load(config.DefaultPath()); err == nil && cfg.MetricsAddr != "" {
			addr = cfg.MetricsAddr
		} else {
			addr = "127.0.0.1:7070"
		}
	}

	stateDir := defaultStateDir()
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	trans, err := diag.NewTranscript(filepath.Join(stateDir, sp.Server.Name+".transcript"))
	if err != nil {
		return err
	}
	defer trans.Close()

	slog.Info("herald serve starting", "server", sp.Server.Name, "spec", specPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	collector := supervisor.NewPrometheusCollector("herald")
	sup := supervisor.New(sp,
		supervisor.WithCollector(collector),
		supervisor.WithTranscript(trans),
	)

	if err := sup.Start(ctx); err != nil {
		return err
	}

	metrics := promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{})
	srv := api.NewServer(sup, metrics, ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenTCP(addr)
	}()

	slog.Info("herald serving", "server", sp.Server.Name, "port", sup.Port(), "api", addr)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil {
			slog.Error("API server error", "error", err)
		}
	}

	// Graceful shutdown
	cancel()
	sup.Stop(context.Background())
	srv.Shutdown(context.Background())
	if d := sup.ScratchDir(); d != "" {
		os.RemoveAll(d)
	}

	slog.Info("herald stopped", "server", sp.Server.Name)
	return nil
}
