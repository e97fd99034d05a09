package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"

	"github.com/uma-arai/sbcntr-ticket/internal/common/config"
	"github.com/uma-arai/sbcntr-ticket/internal/common/utils"
	"github.com/uma-arai/sbcntr-ticket/internal/service/batch"
)

const (
	projectName = "sbcntr-ticket-notification"
)

func main() {
	// コマンドライン引数のパース
	timeout := flag.Duration("timeout", 5*time.Minute, "バッチ処理のタイムアウト時間")
	flag.Parse()

	// 最後の引数として前段のバッチの出力が渡される
	taskInput := flag.Arg(len(flag.Args()) - 1)
	if taskInput == "" {
		if os.Getenv("ENV") != "LOCAL" {
			log.Fatalf("Task input is required")
		}
		taskInput = `{"notifications":[]}`
	}

	// 設定の読み込み
	cfg, err := config.LoadConfig(taskInput)
	if err != nil {
		log.Fatalf("Failed to load config: %v\nStack trace:\n%s", err, debug.Stack())
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

	notifications, err := batch.ParseNotifications(taskInput)
	if err != nil {
		log.Fatalf("Failed to generate notifications: %v", err)
	}

	// コンテキストを作成
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// X-Rayセグメントの作成
	if cfg.EnableTracing {
		var seg *xray.Segment
		ctx, seg = xray.BeginSegment(ctx, projectName)
		defer seg.Close(nil)

		if err := seg.AddMetadata("notification_count", len(notifications)); err != nil {
			log.Printf("Failed to add notification_count metadata: %v", err)
		}
		if err := seg.AddMetadata("timeout", timeout.String()); err != nil {
			log.Printf("Failed to add timeout metadata: %v", err)
		}
	}

	// 通知バッチサービスを作成
	service, err := batch.NewNotificationBatchService(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create notification batch service: %v", err)
	}
	defer service.Close()
	service.SetArgs(notifications)

	// シグナルハンドリング
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// バッチ処理の実行
	errChan := make(chan error, 1)
	go func() {
		errChan <- utils.RunWithTimeout(ctx, *timeout, service.Run)
	}()

	// シグナルを待機
	select {
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
		cancel()
	case err := <-errChan:
		if err != nil {
			log.Printf("Batch process failed: %v\nStack trace:\n%s", err, debug.Stack())
			service.Close()
			os.Exit(1)
		}
		log.Println("Batch process completed successfully")
	}
}
