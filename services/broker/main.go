package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ssafy13th-common/glml-chat/internal/broker"
	"github.com/ssafy13th-common/glml-chat/internal/config"
	"github.com/ssafy13th-common/glml-chat/internal/logger"
	"github.com/ssafy13th-common/glml-chat/internal/storage"
	memorystore "github.com/ssafy13th-common/glml-chat/internal/storage/memory"
	redisstore "github.com/ssafy13th-common/glml-chat/internal/storage/redis"
)

func main() {
	logger.SetPrefix("broker")
	logger.Info("starting chat broker")
	cfg := config.Load()

	var store storage.HistoryStore
	if cfg.Broker.RedisURL != "" {
		connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		rs, err := redisstore.New(connectCtx, cfg.Broker.RedisURL)
		cancel()
		if err != nil {
			logger.Errorf("redis store: %v", err)
			os.Exit(1)
		}
		store = rs
		logger.Info("using redis history store")
	} else {
		store = memorystore.New()
		logger.Info("using in-memory history store")
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	metrics := broker.NewMetrics(reg)

	hub := broker.NewHub(store, metrics, cfg.Broker.MaxConnections)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	locations := broker.NewLocationHub(metrics, cfg.Broker.LateFeePerMinute)
	h := broker.NewHandler(hub, locations, store, cfg.Broker, reg)

	srv := &http.Server{
		Addr:         cfg.Broker.ServerAddr,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("broker listening on %s", cfg.Broker.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}
