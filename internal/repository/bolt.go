package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/uma-arai/sbcntr-ticket/internal/model"
)

const (
	reservationBucket  = "reservations"
	notificationBucket = "notifications"
)

// BoltReservationRepository はBoltDBを使ったReservationRepositoryの実装です
// ローカル環境や単一ノード構成で外部DBなしに動かすために使います。
// BoltDBの書き込みトランザクションは常に1つだけなので、
// CompareAndSetStatus はトランザクション内の読み取りと書き込みで原子的になります。
type BoltReservationRepository struct {
	db *bolt.DB
}

// OpenBoltReservationRepository はBoltDBのファイルを開き、バケットを作成します
func OpenBoltReservationRepository(path string) (*BoltReservationRepository, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{reservationBucket, notificationBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltReservationRepository{db: db}, nil
}

// Notifications は同じデータベースファイルに通知を保存するリポジトリを返します
func (r *BoltReservationRepository) Notifications() *BoltNotificationRepository {
	return &BoltNotificationRepository{db: r.db}
}

// Close はデータベースファイルのロックを解放します
func (r *BoltReservationRepository) Close() error {
	return r.db.Close()
}

func (r *BoltReservationRepository) Create(ctx context.Context, res *model.Reservation) error {
	if err := ctx.Err(); err != nil {
		return storeError("create reservation", err)
	}

	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(reservationBucket))
		if b.Get([]byte(res.ID)) != nil {
			return fmt.Errorf("reservation %s: %w", res.ID, model.ErrDuplicateReservation)
		}

		data, err := json.Marshal(res)
		if err != nil {
			return err
		}
		return b.Put([]byte(res.ID), data)
	})
	return storeError("create reservation", err)
}

func (r *BoltReservationRepository) Get(ctx context.Context, id string) (*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("get reservation", err)
	}

	var res model.Reservation
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(reservationBucket)).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
		}
		return json.Unmarshal(v, &res)
	})
	if err != nil {
		return nil, storeError("get reservation", err)
	}

	return &res, nil
}

func (r *BoltReservationRepository) CompareAndSetStatus(ctx context.Context, id string, expected, next model.Status, at time.Time) (bool, error) {
	if !expected.CanTransitionTo(next) {
		return false, fmt.Errorf("%s -> %s: %w", expected, next, model.ErrInvalidTransition)
	}
	if err := ctx.Err(); err != nil {
		return false, storeError("update reservation status", err)
	}

	swapped := false
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(reservationBucket))
		v := b.Get([]byte(id))
		if v == nil {
			return fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
		}

		var res model.Reservation
		if err := json.Unmarshal(v, &res); err != nil {
			return err
		}
		if res.Status != expected {
			return nil
		}

		res.Status = next
		res.UpdatedAt = at
		if next == model.StatusCheckedIn {
			checkedInAt := at
			res.CheckedInAt = &checkedInAt
		}

		data, err := json.Marshal(res)
		if err != nil {
			return err
		}
		swapped = true
		return b.Put([]byte(id), data)
	})
	if err != nil {
		return false, storeError("update reservation status", err)
	}

	return swapped, nil
}

func (r *BoltReservationRepository) ListByStatus(ctx context.Context, status model.Status) ([]model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("list reservations", err)
	}

	var reservations []model.Reservation
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(reservationBucket)).ForEach(func(k, v []byte) error {
			var res model.Reservation
			if err := json.Unmarshal(v, &res); err != nil {
				return err
			}
			if res.Status == status {
				reservations = append(reservations, res)
			}
			return nil
		})
	})
	if err != nil {
		return nil, storeError("list reservations", err)
	}

	sort.Slice(reservations, func(i, j int) bool {
		return reservations[i].CreatedAt.Before(reservations[j].CreatedAt)
	})
	return reservations, nil
}

// storeError はドメインのエラーはそのまま返し、それ以外をストア障害として包みます
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, domainErr := range []error{model.ErrNotFound, model.ErrDuplicateReservation, model.ErrInvalidTransition} {
		if errors.Is(err, domainErr) {
			return err
		}
	}
	return fmt.Errorf("failed to %s: %w: %w", op, model.ErrStoreUnavailable, err)
}
