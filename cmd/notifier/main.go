// cmd/notifier is the background delivery worker. The push relay POSTs each
// payload to /push and the worker shows a notification for it.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jmerrifield20/dlts/internal/notifier"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("notifier exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("notifier")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("notifier.port", 8090)
	viper.SetDefault("notifier.cors_origins", []string{})
	viper.SetDefault("notifier.rate_limit_rps", 20)
	viper.SetDefault("notifier.signing_secret", "")
	viper.SetDefault("notifier.display", "log")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Info("no config file found, using defaults and environment")
	}

	var displayer notifier.Displayer
	switch viper.GetString("notifier.display") {
	case "terminal":
		displayer = notifier.NewWriterDisplayer(os.Stdout)
	default:
		displayer = notifier.NewLogDisplayer(logger)
	}

	secret := viper.GetString("notifier.signing_secret")
	if secret == "" {
		logger.Warn("notifier.signing_secret is empty; push payloads are not authenticated")
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := notifier.NewHandler(displayer, secret, logger)
	router := notifier.NewRouter(ctx, notifier.RouterConfig{
		CORSOrigins:  viper.GetStringSlice("notifier.cors_origins"),
		RateLimitRPS: viper.GetInt("notifier.rate_limit_rps"),
	}, h, logger)

	port := viper.GetInt("notifier.port")
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("notifier listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("shutting down notifier...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	h.Wait()

	logger.Info("notifier stopped")
	return nil
}
