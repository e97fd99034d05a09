package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/gin-gonic/gin"

	"github.com/uma-arai/sbcntr-ticket/internal/broker"
	"github.com/uma-arai/sbcntr-ticket/internal/common/config"
	"github.com/uma-arai/sbcntr-ticket/internal/handler"
	"github.com/uma-arai/sbcntr-ticket/internal/repository"
	"github.com/uma-arai/sbcntr-ticket/internal/service/auth"
	"github.com/uma-arai/sbcntr-ticket/internal/service/ticket"
)

const (
	projectName     = "sbcntr-ticket"
	shutdownTimeout = 10 * time.Second
)

func main() {
	// 設定の読み込み。以降は環境変数を直接参照しない
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("Failed to load config: %v\nStack trace:\n%s", err, debug.Stack())
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// X-Ray設定
	if cfg.EnableTracing {
		if err := xray.Configure(xray.Config{
			DaemonAddr:     "127.0.0.1:2000", // X-Rayデーモンのアドレス
			ServiceVersion: "1.0.0",
		}); err != nil {
			log.Printf("Failed to configure X-Ray: %v", err)
			if configErr := xray.Configure(xray.Config{}); configErr != nil {
				log.Fatalf("Failed to configure default X-Ray settings: %v", configErr)
			}
		}
		os.Setenv("AWS_XRAY_CONTEXT_MISSING", "LOG_ERROR")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := repository.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open reservation store: %v\nStack trace:\n%s", err, debug.Stack())
	}
	defer store.Close()

	events, err := broker.New(cfg.RabbitMQURL, broker.DefaultExchange)
	if err != nil {
		log.Printf("Warning: Failed to create broker, ticket events will not be published: %v", err)
		events = broker.Noop{}
	}
	defer events.Close()

	signer, err := ticket.NewSigner(cfg.Ticket.SigningSecret)
	if err != nil {
		log.Fatalf("Failed to create signer: %v", err)
	}
	gate, err := auth.NewGate(cfg.Admin)
	if err != nil {
		log.Fatalf("Failed to create admin gate: %v", err)
	}

	svc := ticket.NewService(store.Reservations, signer, ticket.Options{
		MaxIDAttempts: cfg.Ticket.MaxIDAttempts,
		IDs:           ticket.RandomIDs(),
		Events:        events,
	})

	if os.Getenv("ENV") != "LOCAL" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	handler.SetupRoutes(r, svc, gate)

	var h http.Handler = r
	if cfg.EnableTracing {
		h = xray.Handler(xray.NewFixedSegmentNamer(projectName), r)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Printf("Ticket API listening on %s (store=%s)", cfg.HTTPAddr, cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		log.Println("Shutting down ticket API...")
	case err := <-errChan:
		if err != nil {
			log.Printf("Server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shut down server gracefully: %v", err)
	}
	log.Println("Ticket API stopped")
}
