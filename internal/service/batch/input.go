package batch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uma-arai/sbcntr-ticket/internal/model"
)

// ParseNotifications は前段のバッチが出力したJSONから通知データを生成します
func ParseNotifications(input string) ([]model.Notification, error) {
	var payload struct {
		Notifications []struct {
			Type      model.NotificationType `json:"type"`
			CreatedAt time.Time              `json:"created_at"`
			Data      struct {
				ReservationID string    `json:"reservation_id"`
				Status        string    `json:"status"`
				DateTime      time.Time `json:"date_time"`
			} `json:"data"`
		} `json:"notifications"`
	}

	if err := json.Unmarshal([]byte(input), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse notifications: %w", err)
	}

	notifications := make([]model.Notification, len(payload.Notifications))
	for i, n := range payload.Notifications {
		if n.Data.ReservationID == "" {
			return nil, fmt.Errorf("notification %d has no reservation_id", i)
		}
		status, err := model.ParseStatus(n.Data.Status)
		if err != nil {
			return nil, fmt.Errorf("notification %d: %w", i, err)
		}

		notification := model.NewTicketNotification(model.ReservationEvent{
			ReservationID: n.Data.ReservationID,
			Status:        status,
			DateTime:      n.Data.DateTime,
			CreatedAt:     n.CreatedAt,
		})
		if n.Type != "" {
			notification.Type = n.Type
		}
		notifications[i] = notification
	}

	return notifications, nil
}
