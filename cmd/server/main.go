package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/leadpilot/leadpilot/internal/api"
	"github.com/leadpilot/leadpilot/internal/classifier"
	"github.com/leadpilot/leadpilot/internal/config"
	"github.com/leadpilot/leadpilot/internal/followup"
	"github.com/leadpilot/leadpilot/internal/llm"
	"github.com/leadpilot/leadpilot/internal/pipeline"
	"github.com/leadpilot/leadpilot/internal/pkg/logger"
	"github.com/leadpilot/leadpilot/internal/sender"
	"github.com/leadpilot/leadpilot/internal/store"
)

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	if err := db.Ping(); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unreachable, runner locks fall back to postgres",
				"addr", cfg.Redis.Addr, "error", err.Error())
			redisClient = nil
		}
	}

	st := store.New(db)
	completer := llm.NewClient(cfg.LLM)

	qa := pipeline.NewQAEvaluator(st, completer, cfg.LLM, cfg.Pipeline)
	deps := api.Deps{
		Store:      st,
		DB:         db,
		Redis:      redisClient,
		Classifier: classifier.New(completer),
		Drafts:     pipeline.NewDraftGenerator(st, completer, cfg.Pipeline),
		QA:         qa,
		Rewrite:    pipeline.NewRewriteEngine(st, completer, cfg.LLM, cfg.Pipeline),
		Followups:  followup.NewScheduler(st, completer, qa, cfg.Followup),
	}

	if cfg.Sender.Enabled {
		var snd sender.Sender
		switch cfg.Sender.Provider {
		case "stub":
			snd = &sender.StubSender{}
		default:
			snd, err = sender.NewSESSender(context.Background(),
				cfg.Sender.AWSRegion, cfg.Sender.AWSAccessKey, cfg.Sender.AWSSecretKey)
			if err != nil {
				log.Fatalf("init ses sender: %v", err)
			}
		}
		deps.Dispatcher = sender.NewDispatcher(st, snd, cfg.Sender, cfg.Followup)
	}

	srv := api.NewServer(cfg.Server, deps)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown", "error", err.Error())
		}
	}
}
