package repository

import (
	"context"
	"fmt"
	"log"

	"github.com/uma-arai/sbcntr-ticket/internal/common/config"
	"github.com/uma-arai/sbcntr-ticket/internal/common/database"
)

// Store は設定に応じて開いた予約ストアです
// 通知は予約と同じストアに保存します。DB はPostgreSQLを使う場合のみ設定されます
type Store struct {
	Reservations  ReservationRepository
	Notifications NotificationRepository
	DB            *DB

	closeFn func() error
}

// Close はストアの接続を閉じます
func (s *Store) Close() error {
	if s == nil || s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

// OpenStore は TICKET_STORE の設定に従って予約ストアを開きます
func OpenStore(ctx context.Context, cfg *config.Config) (*Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		return OpenPostgresStore(ctx, cfg.DB)
	case config.StoreBolt, "":
		repo, err := OpenBoltReservationRepository(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		log.Printf("Using BoltDB reservation store at %s", cfg.BoltPath)
		return &Store{Reservations: repo, Notifications: repo.Notifications(), closeFn: repo.Close}, nil
	}
	return nil, fmt.Errorf("unknown reservation store %q", cfg.Store)
}

// OpenPostgresStore はPostgreSQLに接続し、スキーマを適用します
func OpenPostgresStore(ctx context.Context, cfg database.Config) (*Store, error) {
	conn, err := database.NewDB(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	// database.DBをrepository.DBに変換
	db := &DB{DB: conn.DB}
	if err := db.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	log.Printf("Using PostgreSQL reservation store at %s:%d/%s", cfg.Host, cfg.Port, cfg.DBName)
	return &Store{
		Reservations:  NewReservationRepository(db),
		Notifications: NewNotificationRepository(db),
		DB:            db,
		closeFn:       conn.Close,
	}, nil
}
