// Package main is the entry point for the Ankaios server: the cluster-wide
// authority holding desired and observed state, dispatching workloads to
// agents and fanning out state updates to commanders.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ankaios/ankaios/internal/common/config"
	"github.com/ankaios/ankaios/internal/common/logger"
	"github.com/ankaios/ankaios/internal/messaging/registry"
	"github.com/ankaios/ankaios/internal/messaging/tlsconfig"
	"github.com/ankaios/ankaios/internal/messaging/wsocket"
	"github.com/ankaios/ankaios/internal/server"
	"github.com/ankaios/ankaios/internal/server/eventbus"
	"github.com/ankaios/ankaios/internal/server/httpapi"
	"github.com/ankaios/ankaios/internal/statestore"
)

var configPathFlag = flag.String("config", "", "directory to search for config.yaml, in addition to the default locations")

func main() {
	flag.Parse()

	cfg, err := config.LoadWithPath(*configPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	log.Info("starting ankaios-server",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Int("httpPort", cfg.Server.HTTPPort),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := statestore.New()
	reg := registry.New(log)
	bus := eventbus.New(log)
	core := server.New(store, reg, bus, log)

	wsTransport := wsocket.NewServerTransport(log)
	listener := server.NewListener(wsTransport, reg, core, log)
	if err := listener.Start(ctx); err != nil {
		log.Fatal("failed to start listener", zap.Error(err))
	}

	tlsCfg, err := tlsconfig.Server(cfg.TLS)
	if err != nil {
		log.Fatal("failed to build server TLS configuration", zap.Error(err))
	}

	messagingAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	messagingMux := http.NewServeMux()
	messagingMux.HandleFunc("/", wsTransport.Handler)
	messagingServer := &http.Server{
		Addr:      messagingAddr,
		Handler:   messagingMux,
		TLSConfig: tlsCfg,
	}
	go func() {
		log.Info("messaging listener up", zap.String("addr", messagingAddr), zap.Bool("tls", tlsCfg != nil))
		var err error
		if tlsCfg != nil {
			err = messagingServer.ListenAndServeTLS("", "")
		} else {
			err = messagingServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatal("messaging listener failed", zap.Error(err))
		}
	}()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	httpRouter := httpapi.NewRouter(core, reg, log)
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      httpRouter,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("http surface up", zap.String("addr", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http surface failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down ankaios-server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := listener.Stop(); err != nil {
		log.Error("listener stop error", zap.Error(err))
	}
	if err := messagingServer.Shutdown(shutdownCtx); err != nil {
		log.Error("messaging server shutdown error", zap.Error(err))
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	log.Info("ankaios-server stopped")
}
