package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/U1000000000000/Lila/internal/bootstrap"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := NewApp(os.Stdout)
	services, err := bootstrap.Build(ctx, app, logger)
	if err != nil {
		logger.Error("bootstrap failed", zap.Error(err))
		os.Exit(1)
	}
	app.Bind(services.Orchestrator, services.Backend, services.Auth)

	logger.Info("lila client starting",
		zap.String("server", services.Config.Server.BaseURL),
		zap.Bool("signed_in", services.Auth.SignedIn()),
	)

	if addr := services.Config.Metrics.ListenAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(services.Registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics listener starting", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Println(`type "help" for commands`)
	for {
		select {
		case sig := <-sigCh:
			logger.Info("shutting down", zap.String("signal", sig.String()))
			_ = services.Orchestrator.Stop()
			return
		case line, ok := <-lines:
			if !ok {
				_ = services.Orchestrator.Stop()
				return
			}
			if line == "quit" || line == "exit" {
				_ = services.Orchestrator.Stop()
				return
			}
			if err := app.Dispatch(ctx, line); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
		}
	}
}
