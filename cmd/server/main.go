package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"casechat/internal/chat"
	"casechat/internal/config"
	"casechat/internal/httpserver"
	"casechat/internal/identity"
	"casechat/internal/presence"
	redisstore "casechat/internal/store/redis"
	"casechat/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := redisstore.Open(ctx, cfg.RedisURL)
	cancel()
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ids := identity.NewProvider(cfg.JWTSecret, time.Duration(cfg.AccessTokenMinutes)*time.Minute)

	svc := chat.NewService(store, store, nil,
		cfg.InitialWindowSize, cfg.OlderPageSize, cfg.DedupeWindow)
	signaler := presence.NewSignaler(store, cfg.PresenceEnabled)

	hub := ws.NewHub()

	router := httpserver.NewRouter(cfg, svc, signaler, ids, hub)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting CaseChat server on %s (presence enabled: %v)\n", cfg.HTTPAddr(), cfg.PresenceEnabled)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
