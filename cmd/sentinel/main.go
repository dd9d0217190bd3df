// Sentinel correlation and query engine core — provides event ingestion,
// rule-based correlation, and LQL query execution. No HTTP/REST API
// surface beyond a health endpoint; the ingestion, correlation, and query
// entry points are exposed for embedding, not as a public wire protocol.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codeready-toolchain/sentinel/internal/config"
	"github.com/codeready-toolchain/sentinel/internal/runtime"
	"github.com/gin-gonic/gin"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	httpAddr := flag.String("http-addr", getEnv("HTTP_ADDR", ":8090"), "address for the health/admin HTTP server")
	ginMode := flag.String("gin-mode", getEnv("GIN_MODE", "release"), "gin mode: debug, release, test")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Initialize(*configDir)
	if err != nil {
		slog.Error("failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.New(ctx, cfg, runtime.Options{
		CriticalEventIDs: []string{"4625", "4648", "4720", "ransomware_indicator"},
		HighEventIDs:     []string{"4624", "4688", "dns_tunneling"},
		NormalEventIDs:   []string{"4634", "4672"},
	})
	if err != nil {
		slog.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			slog.Error("error during shutdown", "error", err)
		}
	}()

	slog.Info("sentinel runtime initialized",
		"relational_dsn_set", cfg.Stores.RelationalDSN != "",
		"search_url_set", cfg.Stores.SearchURL != "",
		"correlation_concurrency", cfg.Correlation.Concurrency,
		"query_max_rows", cfg.Query.MaxRows,
	)

	gin.SetMode(*ginMode)
	router := gin.Default()
	router.GET("/health", func(c *gin.Context) {
		stats := rt.Resources.Stats()
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"correlation": gin.H{
				"throttled":       rt.Correlation.Throttled(),
				"buffered_events": rt.Buffer.Len(),
				"rule_version":    rt.RuleStore.Version(),
			},
			"resources": gin.H{
				"in_flight":      stats.InFlight,
				"used_memory":    stats.UsedMemory,
				"max_concurrent": stats.MaxConcurrent,
			},
			"websocket_connections": rt.Events.ActiveConnections(),
		})
	})

	srv := &http.Server{Addr: *httpAddr, Handler: router}
	go func() {
		slog.Info("health server listening", "addr", *httpAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health server failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("health server shutdown error", "error", err)
	}
}
