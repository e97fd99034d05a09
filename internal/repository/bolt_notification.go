package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "github.com/boltdb/bolt"
	"github.com/uma-arai/sbcntr-ticket/internal/model"
)

// BoltNotificationRepository はBoltDBを使ったNotificationRepositoryの実装です
// 予約と同じファイルの notifications バケットに、連番のキーで保存します
type BoltNotificationRepository struct {
	db *bolt.DB
}

// CreateNotifications は複数の通知レコードを1つのトランザクションで作成します
// PostgreSQLの外部キーと同じく、存在しない予約への通知は model.ErrNotFound になり、1件も保存されません
func (r *BoltNotificationRepository) CreateNotifications(ctx context.Context, records []model.NotificationRecord) error {
	if err := ctx.Err(); err != nil {
		return storeError("create notifications", err)
	}

	ids := make([]int, len(records))
	err := r.db.Update(func(tx *bolt.Tx) error {
		reservations := tx.Bucket([]byte(reservationBucket))
		b := tx.Bucket([]byte(notificationBucket))

		for i := range records {
			record := records[i]
			if reservations.Get([]byte(record.ReservationID)) == nil {
				return fmt.Errorf("reservation %s: %w", record.ReservationID, model.ErrNotFound)
			}

			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			record.ID = int(seq)

			data, err := json.Marshal(record)
			if err != nil {
				return err
			}
			if err := b.Put(sequenceKey(seq), data); err != nil {
				return err
			}
			ids[i] = record.ID
		}
		return nil
	})
	if err != nil {
		return storeError("create notifications", err)
	}

	for i := range records {
		records[i].ID = ids[i]
	}
	return nil
}

// ListByReservation は予約に宛てた通知を作成順に返します
func (r *BoltNotificationRepository) ListByReservation(ctx context.Context, reservationID string) ([]model.NotificationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("list notifications", err)
	}

	var records []model.NotificationRecord
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(notificationBucket)).ForEach(func(k, v []byte) error {
			var record model.NotificationRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			if record.ReservationID == reservationID {
				records = append(records, record)
			}
			return nil
		})
	})
	if err != nil {
		return nil, storeError("list notifications", err)
	}
	return records, nil
}

// sequenceKey はForEachで作成順に並ぶようにビッグエンディアンのキーを作ります
func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
