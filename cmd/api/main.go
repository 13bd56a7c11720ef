package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"geiger/api/internal/app"
	"geiger/api/internal/config"
	"geiger/api/internal/realtime"
	"geiger/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	// Redis fans session events out across instances; without it the bus is
	// in-process and the deployment is single-node.
	var bus realtime.Bus
	var busPing func(context.Context) error
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for realtime fan-out")
		redisBus, err := realtime.NewRedisBus(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisBus.Close()
		bus = redisBus
		busPing = redisBus.Ping
	} else {
		log.Printf("Using in-process realtime fan-out (single node)")
		bus = realtime.NewMemoryBus()
	}

	dataStore := store.NewPostgresStore(db, bus)
	service := app.NewService(cfg, dataStore, bus)
	if busPing != nil {
		service.SetBusPing(busPing)
	}
	defer service.Close()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Geiger API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
