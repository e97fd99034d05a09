package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/lib/pq"
	"github.com/uma-arai/sbcntr-ticket/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のエラーコードです
const uniqueViolation = "23505"

// ReservationRepository は予約の永続化を担当するインターフェースです
//
// CompareAndSetStatus は同時に呼び出されても原子的に動作しなければなりません。
// 期待する状態がすでに成り立たない場合はエラーではなく false を返します。
type ReservationRepository interface {
	Create(ctx context.Context, r *model.Reservation) error
	Get(ctx context.Context, id string) (*model.Reservation, error)
	CompareAndSetStatus(ctx context.Context, id string, expected, next model.Status, at time.Time) (bool, error)
	ListByStatus(ctx context.Context, status model.Status) ([]model.Reservation, error)
}

type ReservationRepositoryImpl struct {
	db *DB
}

func NewReservationRepository(db *DB) *ReservationRepositoryImpl {
	return &ReservationRepositoryImpl{db: db}
}

// Create は予約を作成します
// 同じIDの予約が存在する場合は model.ErrDuplicateReservation を返します
func (r *ReservationRepositoryImpl) Create(ctx context.Context, res *model.Reservation) error {
	ctx, seg := xray.BeginSubsegment(ctx, "ReservationRepository.Create")
	defer seg.Close(nil)

	query := `
		INSERT INTO reservations (
			id,
			holder_name,
			holder_contact,
			slot_ref,
			status,
			signature,
			created_at,
			checked_in_at,
			updated_at
		) VALUES (
			:id,
			:holder_name,
			:holder_contact,
			:slot_ref,
			:status,
			:signature,
			:created_at,
			:checked_in_at,
			:updated_at
		)
	`

	if _, err := r.db.NamedExecContext(ctx, query, res); err != nil {
		seg.Close(err)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("reservation %s: %w", res.ID, model.ErrDuplicateReservation)
		}
		return fmt.Errorf("failed to create reservation: %w: %w", model.ErrStoreUnavailable, err)
	}

	return nil
}

// Get は予約IDから予約を取得します
func (r *ReservationRepositoryImpl) Get(ctx context.Context, id string) (*model.Reservation, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "ReservationRepository.Get")
	defer seg.Close(nil)

	query := `
		SELECT
			id,
			holder_name,
			holder_contact,
			slot_ref,
			status,
			signature,
			created_at,
			checked_in_at,
			updated_at
		FROM reservations
		WHERE id = $1
	`

	var res model.Reservation
	if err := r.db.QueryRowxContext(ctx, query, id).StructScan(&res); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
		}
		seg.Close(err)
		return nil, fmt.Errorf("failed to get reservation: %w: %w", model.ErrStoreUnavailable, err)
	}

	return &res, nil
}

// CompareAndSetStatus は現在の状態が expected の場合に限り next へ更新します
// 条件付きの単一UPDATEで行うため、同時実行されても更新に成功するのは1件だけです
func (r *ReservationRepositoryImpl) CompareAndSetStatus(ctx context.Context, id string, expected, next model.Status, at time.Time) (bool, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "ReservationRepository.CompareAndSetStatus")
	defer seg.Close(nil)

	if !expected.CanTransitionTo(next) {
		return false, fmt.Errorf("%s -> %s: %w", expected, next, model.ErrInvalidTransition)
	}

	var checkedInAt *time.Time
	if next == model.StatusCheckedIn {
		checkedInAt = &at
	}

	query := `
		UPDATE reservations
		SET status = $1,
			updated_at = $2,
			checked_in_at = COALESCE($3, checked_in_at)
		WHERE id = $4
		AND status = $5
	`

	result, err := r.db.ExecContext(ctx, query, next, at, checkedInAt, id, expected)
	if err != nil {
		seg.Close(err)
		return false, fmt.Errorf("failed to update reservation status: %w: %w", model.ErrStoreUnavailable, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		seg.Close(err)
		return false, fmt.Errorf("failed to get rows affected: %w: %w", model.ErrStoreUnavailable, err)
	}
	if rowsAffected == 1 {
		return true, nil
	}

	// 更新されなかった場合は、競合に負けたのか予約が存在しないのかを区別する
	var exists bool
	if err := r.db.QueryRowxContext(ctx, `SELECT EXISTS (SELECT 1 FROM reservations WHERE id = $1)`, id).Scan(&exists); err != nil {
		seg.Close(err)
		return false, fmt.Errorf("failed to check reservation: %w: %w", model.ErrStoreUnavailable, err)
	}
	if !exists {
		return false, fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
	}

	return false, nil
}

// ListByStatus は、指定されたステータスの予約を作成日時順に取得します
func (r *ReservationRepositoryImpl) ListByStatus(ctx context.Context, status model.Status) ([]model.Reservation, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "ReservationRepository.ListByStatus")
	defer seg.Close(nil)

	query := `
		SELECT
			id,
			holder_name,
			holder_contact,
			slot_ref,
			status,
			signature,
			created_at,
			checked_in_at,
			updated_at
		FROM reservations
		WHERE status = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryxContext(ctx, query, status)
	if err != nil {
		seg.Close(err)
		return nil, fmt.Errorf("failed to query reservations with status %s: %w: %w", status, model.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	reservations, err := scanReservations(rows)
	if err != nil {
		seg.Close(err)
		return nil, err
	}

	return reservations, nil
}

// reservationRows は *sqlx.Rows のうち scanReservations が使う部分です
type reservationRows interface {
	Next() bool
	StructScan(dest interface{}) error
	Err() error
}

// scanReservations は行をすべて読み取ります
// 読み取りの失敗は、途中で接続が切れた場合も含めてストア障害として返します
func scanReservations(rows reservationRows) ([]model.Reservation, error) {
	var reservations []model.Reservation
	for rows.Next() {
		var res model.Reservation
		if err := rows.StructScan(&res); err != nil {
			return nil, fmt.Errorf("failed to scan reservation row: %w: %w", model.ErrStoreUnavailable, err)
		}
		reservations = append(reservations, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reservation rows: %w: %w", model.ErrStoreUnavailable, err)
	}
	return reservations, nil
}
