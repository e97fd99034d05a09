package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-xray-sdk-go/xray"

	"github.com/uma-arai/sbcntr-ticket/internal/broker"
	"github.com/uma-arai/sbcntr-ticket/internal/common/config"
	"github.com/uma-arai/sbcntr-ticket/internal/common/utils"
	"github.com/uma-arai/sbcntr-ticket/internal/model"
	"github.com/uma-arai/sbcntr-ticket/internal/repository"
	"github.com/uma-arai/sbcntr-ticket/internal/service/ticket"
)

// SFNClient はStep Functionsへの結果通知に使うクライアントです
type SFNClient interface {
	SendTaskSuccess(ctx context.Context, params *sfn.SendTaskSuccessInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error)
	SendTaskFailure(ctx context.Context, params *sfn.SendTaskFailureInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskFailureOutput, error)
}

// ExpireBatchService は公演枠を過ぎても入場されなかった予約を expired にします
type ExpireBatchService struct {
	store           *repository.Store
	reservationRepo repository.ReservationRepository
	events          broker.Publisher
	sfnClient       SFNClient
	cfg             *config.Config
	now             func() time.Time
}

// NewExpireBatchService は新しいExpireBatchServiceを作成します
func NewExpireBatchService(ctx context.Context, cfg *config.Config, sfnClient SFNClient, events broker.Publisher) (*ExpireBatchService, error) {
	store, err := repository.OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open reservation store: %w", err)
	}
	if events == nil {
		events = broker.Noop{}
	}

	return &ExpireBatchService{
		store:           store,
		reservationRepo: store.Reservations,
		events:          events,
		sfnClient:       sfnClient,
		cfg:             cfg,
		now:             time.Now,
	}, nil
}

// Close は終了処理を行います
func (s *ExpireBatchService) Close() error {
	return s.store.Close()
}

// Run は期限切れの予約を処理し、結果をStep Functionsに通知します
func (s *ExpireBatchService) Run(ctx context.Context) error {
	// X-Rayセグメントの作成
	ctx, seg := xray.BeginSubsegment(ctx, "ExpireBatchService.Run")
	defer seg.Close(nil)

	startTime := time.Now()

	events, err := s.expireOverdueReservations(ctx)
	if err != nil {
		return utils.GetStackWithError(fmt.Errorf("failed to expire reservations: %w", err))
	}

	if err := s.sendTaskSuccess(ctx, events); err != nil {
		return utils.GetStackWithError(fmt.Errorf("failed to send task success: %w", err))
	}

	duration := time.Since(startTime)
	utils.AddMetadata(ctx, "duration", duration.String())
	utils.AddMetadata(ctx, "expired_count", len(events))

	log.Printf("Expire batch process completed successfully. Expired: %d, Duration: %v", len(events), duration)
	return nil
}

// expireOverdueReservations は公演開始から猶予時間を過ぎた issued の予約を expired にします
// 途中で入場やキャンセルされた予約は比較交換に失敗するためそのまま残ります
func (s *ExpireBatchService) expireOverdueReservations(ctx context.Context) ([]model.ReservationEvent, error) {
	reservations, err := s.reservationRepo.ListByStatus(ctx, model.StatusIssued)
	if err != nil {
		return nil, fmt.Errorf("failed to get reservations with status %s: %w", model.StatusIssued, err)
	}

	log.Printf("Found %d reservations with status %s", len(reservations), model.StatusIssued)

	now := s.now().UTC()
	var events []model.ReservationEvent
	for _, res := range reservations {
		slot, err := ticket.ParseSlotRef(res.SlotRef)
		if err != nil {
			log.Printf("Skipping reservation %s with unreadable slot: %v", res.ID, err)
			continue
		}
		if !slot.Add(s.cfg.Ticket.ExpiryGrace).Before(now) {
			continue
		}

		at := now.Truncate(time.Microsecond)
		ok, err := s.reservationRepo.CompareAndSetStatus(ctx, res.ID, model.StatusIssued, model.StatusExpired, at)
		if err != nil {
			if model.IsRetryable(err) {
				return events, err
			}
			log.Printf("Failed to expire reservation %s: %v", res.ID, err)
			continue
		}
		if !ok {
			log.Printf("Reservation %s changed before it could be expired", res.ID)
			continue
		}

		res.Status = model.StatusExpired
		res.UpdatedAt = at
		event := model.NewReservationEvent(res, at)
		if err := s.events.Publish(event, broker.KeyExpired); err != nil {
			log.Printf("Failed to publish %s for reservation %s: %v", broker.KeyExpired, res.ID, err)
		}
		events = append(events, event)
	}

	return events, nil
}

// sendTaskSuccess は、Step Functionsのタスク成功を通知し、後続の通知バッチへ渡すデータを返却します
func (s *ExpireBatchService) sendTaskSuccess(ctx context.Context, events []model.ReservationEvent) error {
	// ローカルの場合はStep Functionsの処理をスキップ
	if os.Getenv("ENV") == "LOCAL" || s.sfnClient == nil {
		log.Printf("Local environment detected. Skipping Step Functions task success notification")
		return nil
	}

	output, err := NotificationOutput(events)
	if err != nil {
		return err
	}

	taskToken := s.cfg.SFN.TaskToken
	if taskToken == "" {
		return fmt.Errorf("SFN_TASK_TOKEN is not set in config")
	}

	input := &sfn.SendTaskSuccessInput{
		TaskToken: aws.String(taskToken),
		Output:    aws.String(output),
	}
	if _, err := s.sfnClient.SendTaskSuccess(ctx, input); err != nil {
		return fmt.Errorf("failed to send task success: %w", err)
	}

	log.Printf("Successfully sent task success with notifications: %s", output)
	return nil
}

// NotificationOutput はイベントを通知バッチの入力となるJSONに変換します
func NotificationOutput(events []model.ReservationEvent) (string, error) {
	notifications := make([]model.Notification, len(events))
	for i, event := range events {
		notifications[i] = model.NewTicketNotification(event)
	}

	output, err := json.Marshal(map[string]any{
		"notifications": notifications,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal notifications: %w", err)
	}
	return string(output), nil
}

// SendTaskFailure はバッチの失敗をStep Functionsに通知します
func SendTaskFailure(ctx context.Context, client SFNClient, taskToken string, cause error) error {
	if client == nil {
		return nil
	}
	input := &sfn.SendTaskFailureInput{
		TaskToken: aws.String(taskToken),
		Error:     aws.String("Batch process failed"),
		Cause:     aws.String(cause.Error()),
	}
	if _, err := client.SendTaskFailure(ctx, input); err != nil {
		return fmt.Errorf("failed to send task failure: %w", err)
	}
	return nil
}
