package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/hh-autofill/internal/server"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve field classification over HTTP",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("listen", "l", "", "listen address (default is server.listen from config)")
	viper.BindPFlag("server.listen", serveCmd.Flags().Lookup("listen"))
}

func serve() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, cfg := setup()

	c, closeStore, err := newCache(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("creating classification cache", zap.Error(err))
	}
	defer closeStore()

	engine, err := newEngine(ctx, cfg, c, logger)
	if err != nil {
		logger.Fatal("creating mapping engine", zap.Error(err))
	}

	if cfg.Cache.PruneInterval > 0 {
		c.StartJanitor(ctx, cfg.Cache.PruneInterval)
	}

	srv := server.New(cfg.Server.Listen, engine, c, logger)

	errs := make(chan error, 1)
	go func() {
		errs <- srv.Start()
	}()

	logger.Info("serving field classification",
		zap.String("version", version),
		zap.String("listen", cfg.Server.Listen),
		zap.String("cache_backend", cfg.Cache.Backend),
	)

	select {
	case err := <-errs:
		if err != nil {
			logger.Fatal("http server failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down", zap.String("reason", "signal received"))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("stopping http server", zap.Error(err))
	}
}
