package model

import (
	"fmt"
	"time"
)

// NotificationType は通知の種類を表します
type NotificationType string

const (
	// NotificationTypeTicket はチケットの状態変化に関する通知を表します
	NotificationTypeTicket NotificationType = "ticket"
	// NotificationTypeCommon は共通の通知を表します
	NotificationTypeCommon NotificationType = "common"
)

// Notification はイベントIFを受け取るための定義です
// アプリケーションサービス層で利用されます
type Notification struct {
	Type      NotificationType `json:"type"`
	CreatedAt time.Time        `json:"created_at"`
	Data      interface{}      `json:"data"`
}

// NotificationRecord は通知のドメインモデルです
// Recipient には予約者の連絡先が入ります
type NotificationRecord struct {
	ID            int              `db:"id"`
	ReservationID string           `db:"reservation_id"`
	Recipient     string           `db:"recipient"`
	Title         string           `db:"title"`
	Message       string           `db:"message"`
	IsRead        bool             `db:"is_read"`
	Type          NotificationType `db:"type"`
	CreatedAt     time.Time        `db:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at"`
}

// ticketTitles はチケットの状態ごとの通知タイトルです
var ticketTitles = map[Status]string{
	StatusCheckedIn: "入場が確認されました",
	StatusCancelled: "予約がキャンセルされました",
	StatusExpired:   "予約の有効期限が切れました",
}

// ToNotificationRecord は通知を通知レコードに変換します
// holders は予約IDから予約者を引くためのMapです
func (n Notification) ToNotificationRecord(holders map[string]Reservation) (*NotificationRecord, error) {
	data, ok := n.Data.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid notification data format")
	}

	reservationID, ok := data["reservation_id"].(string)
	if !ok {
		return nil, fmt.Errorf("reservation_id is not a string")
	}
	holder, ok := holders[reservationID]
	if !ok {
		return nil, fmt.Errorf("reservation_id %s not found in holders", reservationID)
	}

	if n.Type != NotificationTypeTicket {
		return &NotificationRecord{
			ReservationID: reservationID,
			Recipient:     holder.HolderContact,
			Title:         "新しい通知が届きました。",
			Message:       "新しい通知です。",
			Type:          NotificationTypeCommon,
			CreatedAt:     n.CreatedAt,
			UpdatedAt:     n.CreatedAt,
		}, nil
	}

	rawStatus, _ := data["status"].(string)
	status, err := ParseStatus(rawStatus)
	if err != nil {
		return nil, err
	}
	title, ok := ticketTitles[status]
	if !ok {
		return nil, fmt.Errorf("no notification for status %s", status)
	}

	// date_timeフィールドの型をチェックして適切に処理
	var dateTime time.Time
	switch v := data["date_time"].(type) {
	case time.Time:
		dateTime = v
	case string:
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("invalid date_time format: %v", err)
		}
		dateTime = parsed
	default:
		return nil, fmt.Errorf("unexpected type for date_time: %T", v)
	}

	message := fmt.Sprintf(`%s様
%s
予約番号: %s
公演枠: %s
日時: %s`, holder.HolderName, title, reservationID, holder.SlotRef, dateTime.Format("2006-01-02 15:04"))

	return &NotificationRecord{
		ReservationID: reservationID,
		Recipient:     holder.HolderContact,
		Title:         title,
		Message:       message,
		IsRead:        false,
		Type:          NotificationTypeTicket,
		CreatedAt:     n.CreatedAt,
		UpdatedAt:     n.CreatedAt,
	}, nil
}

// NewTicketNotification は予約イベントから通知を作成します
func NewTicketNotification(event ReservationEvent) Notification {
	return Notification{
		Type:      NotificationTypeTicket,
		CreatedAt: event.DateTime,
		Data: map[string]interface{}{
			"reservation_id": event.ReservationID,
			"status":         string(event.Status),
			"date_time":      event.DateTime,
		},
	}
}
