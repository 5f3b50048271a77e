package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/valmeras/chat-gateway/internal/ai"
	"github.com/valmeras/chat-gateway/internal/catalog"
	"github.com/valmeras/chat-gateway/internal/chat"
	"github.com/valmeras/chat-gateway/internal/config"
	"github.com/valmeras/chat-gateway/internal/db"
	"github.com/valmeras/chat-gateway/internal/httpapi"
	"github.com/valmeras/chat-gateway/internal/store/rabbitmq"
	"github.com/valmeras/chat-gateway/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("[main] db connect failed: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		log.Fatalf("[main] db migrate failed: %v", err)
	}

	cat := catalog.Default()

	registry := ai.NewRegistry()
	registry.Register("huggingface", func(ctx context.Context, model string) (ai.Provider, error) {
		if cfg.HFAPIKey == "" {
			return nil, fmt.Errorf("HF_API_KEY is not configured")
		}
		return ai.NewHuggingFaceProvider(cfg.HFBaseURL, cfg.HFAPIKey, model), nil
	})
	registry.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, model), nil
	})

	moderator := ai.NewModerator(ai.NewHuggingFaceProvider(cfg.HFBaseURL, cfg.HFAPIKey, cfg.ModerationModel))
	titler := ai.NewTitler(ai.NewHuggingFaceProvider(cfg.HFBaseURL, cfg.HFAPIKey, cfg.TitleModel))

	var streams *redisstore.Store
	if cfg.RedisAddr != "" {
		streams = redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := streams.Ping(pingCtx); err != nil {
			log.Printf("[main] redis unreachable, resumable streaming disabled: %v", err)
			streams = nil
		}
		cancel()
	}

	var events chat.EventPublisher
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Printf("[main] rabbitmq unreachable, event publishing disabled: %v", err)
		} else {
			defer pub.Close()
			events = pub
		}
	}

	svc := chat.NewService(chat.NewRepo(gdb), registry, cat, moderator, titler, events,
		chat.ServiceConfig{
			ContextWindowSize: cfg.ChatContextWindowSize,
			Entitlements: chat.Entitlements{
				GuestMaxPerDay:   cfg.GuestDailyLimit,
				RegularMaxPerDay: cfg.RegularDailyLimit,
			},
		})

	router := httpapi.NewRouter(gdb, cfg, cat, svc, streams)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("[main] listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[main] server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[main] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] shutdown: %v", err)
	}
	if streams != nil {
		_ = streams.Close()
	}
}
