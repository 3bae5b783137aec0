package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"loops-console/internal/api"
	"loops-console/internal/config"
	"loops-console/internal/loops"
	"loops-console/internal/ratelimit"
	"loops-console/internal/runner"
	"loops-console/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	accounts, err := store.NewAccountStore(cfg.AccountsFile)
	if err != nil {
		log.Fatalf("open accounts store: %v", err)
	}

	db, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer db.Close()
	if err := db.RunMigrations(ctx); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.SubmitRateCapacity, cfg.SubmitRateRefill, time.Hour)

	loopsClient := loops.NewClient(cfg.LoopsBaseURL, cfg.HTTPTimeout)

	jobs := store.NewMemoryStore()
	jobRunner := runner.New(jobs, loopsClient, db, runner.NewRegistry())

	server := api.New(cfg, accounts, jobs, db, loopsClient, jobRunner, limiter)

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  time.Minute,
	}

	go func() {
		log.Printf("console listening on :%s (env=%s)", cfg.HTTPPort, cfg.Env)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
