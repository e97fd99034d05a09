package batch

import (
	"context"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"

	"github.com/uma-arai/sbcntr-ticket/internal/common/config"
	"github.com/uma-arai/sbcntr-ticket/internal/model"
	"github.com/uma-arai/sbcntr-ticket/internal/repository"
)

// NotificationBatchService は通知バッチ処理を担当します
type NotificationBatchService struct {
	args             []model.Notification
	store            *repository.Store
	notificationRepo repository.NotificationRepository
	reservationRepo  repository.ReservationRepository
	cfg              *config.Config
}

// NewNotificationBatchService は新しいNotificationBatchServiceを作成します
// 予約者の取得と通知の保存は、どちらも TICKET_STORE で選んだストアに対して行います
func NewNotificationBatchService(ctx context.Context, cfg *config.Config) (*NotificationBatchService, error) {
	store, err := repository.OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &NotificationBatchService{
		store:            store,
		notificationRepo: store.Notifications,
		reservationRepo:  store.Reservations,
		cfg:              cfg,
	}, nil
}

// Close は終了処理を行います
func (s *NotificationBatchService) Close() error {
	return s.store.Close()
}

// SetArgs は通知バッチ処理の引数を設定します
func (s *NotificationBatchService) SetArgs(args []model.Notification) {
	s.args = args
}

// Run は通知バッチ処理を実行します
func (s *NotificationBatchService) Run(ctx context.Context) error {
	// X-Rayセグメントの作成
	ctx, seg := xray.BeginSubsegment(ctx, "NotificationBatchService.Run")
	defer seg.Close(nil)

	notifications := s.args
	log.Printf("Starting notification batch process for %d notifications...", len(notifications))

	if seg != nil {
		if err := seg.AddMetadata("notification_count", len(notifications)); err != nil {
			log.Printf("Failed to add notification_count metadata: %v", err)
		}
	}

	startTime := time.Now()

	// 予約者を取得
	holders, err := s.getHolderMap(ctx, notifications)
	if err != nil {
		seg.Close(err)
		return err
	}

	// 通知をレコードに変換
	records := make([]model.NotificationRecord, len(notifications))
	for i, notification := range notifications {
		record, err := notification.ToNotificationRecord(holders)
		if err != nil {
			seg.Close(err)
			return err
		}
		records[i] = *record
	}

	// 通知レコードを作成
	if err := s.notificationRepo.CreateNotifications(ctx, records); err != nil {
		seg.Close(err)
		return fmt.Errorf("failed to create notifications: %w", err)
	}

	duration := time.Since(startTime)
	if seg != nil {
		if err := seg.AddMetadata("duration", duration.String()); err != nil {
			log.Printf("Failed to add duration metadata: %v", err)
		}
		if err := seg.AddMetadata("holder_count", len(holders)); err != nil {
			log.Printf("Failed to add holder_count metadata: %v", err)
		}
	}

	log.Printf("Notification batch process completed successfully. Duration: %v", duration)
	return nil
}

// 通知データに含まれる予約IDから予約者を取得する
// N+1とならないように先に重複がない予約IDを取得をしておく
// 1. 重複がない予約IDを取得
// 2. 予約IDから予約を取得してMapとして保持する
func (s *NotificationBatchService) getHolderMap(ctx context.Context, notifications []model.Notification) (map[string]model.Reservation, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "NotificationBatchService.getHolderMap")
	defer seg.Close(nil)

	reservationIDs := make([]string, 0)
	for _, notification := range notifications {
		data, ok := notification.Data.(map[string]interface{})
		if !ok {
			err := fmt.Errorf("invalid notification data format")
			seg.Close(err)
			return nil, err
		}

		reservationID, ok := data["reservation_id"].(string)
		if !ok {
			err := fmt.Errorf("reservation_id is not a string")
			seg.Close(err)
			return nil, err
		}

		if slices.Contains(reservationIDs, reservationID) {
			continue
		}
		reservationIDs = append(reservationIDs, reservationID)
	}

	if seg != nil {
		if err := seg.AddMetadata("unique_reservation_count", len(reservationIDs)); err != nil {
			log.Printf("Failed to add unique_reservation_count metadata: %v", err)
		}
	}

	holders := make(map[string]model.Reservation, len(reservationIDs))
	for _, id := range reservationIDs {
		res, err := s.reservationRepo.Get(ctx, id)
		if err != nil {
			seg.Close(err)
			return nil, err
		}
		holders[id] = *res
	}

	return holders, nil
}
