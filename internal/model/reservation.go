package model

import (
	"fmt"
	"time"
)

// Status は予約のライフサイクル上の状態です
type Status string

const (
	StatusIssued    Status = "issued"
	StatusCheckedIn Status = "checked_in"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Statuses はすべての状態を遷移の順に並べたものです
var Statuses = []Status{StatusIssued, StatusCheckedIn, StatusCancelled, StatusExpired}

// transitions は許可された状態遷移の一覧です
// issued 以外はすべて終端状態で、そこから先へは遷移しません
var transitions = map[Status][]Status{
	StatusIssued: {StatusCheckedIn, StatusCancelled, StatusExpired},
}

// ParseStatus は文字列を Status に変換します
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusIssued, StatusCheckedIn, StatusCancelled, StatusExpired:
		return st, nil
	}
	return "", fmt.Errorf("unknown reservation status %q", s)
}

// IsTerminal は終端状態かどうかを返します
func (s Status) IsTerminal() bool {
	return s == StatusCheckedIn || s == StatusCancelled || s == StatusExpired
}

// CanTransitionTo は s から next への遷移が許可されているかを返します
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TerminalError は終端状態を対応するエラーに変換します
// 終端状態でない場合は nil を返します
func (s Status) TerminalError() error {
	switch s {
	case StatusCheckedIn:
		return ErrAlreadyCheckedIn
	case StatusCancelled:
		return ErrCancelled
	case StatusExpired:
		return ErrExpired
	}
	return nil
}

// Reservation は予約レコードです
// 署名は ID と署名鍵から導出され、利用者から受け取ることはありません
type Reservation struct {
	ID            string     `json:"id" db:"id"`
	HolderName    string     `json:"holder_name" db:"holder_name"`
	HolderContact string     `json:"holder_contact" db:"holder_contact"`
	SlotRef       string     `json:"slot_ref" db:"slot_ref"`
	Status        Status     `json:"status" db:"status"`
	Signature     string     `json:"signature" db:"signature"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	CheckedInAt   *time.Time `json:"checked_in_at,omitempty" db:"checked_in_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// ReservationEvent は予約の状態が変化したときに発行されるイベントの構造体
type ReservationEvent struct {
	ReservationID string    `json:"reservation_id"`
	Status        Status    `json:"status"`
	SlotRef       string    `json:"slot_ref"`
	DateTime      time.Time `json:"date_time"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewReservationEvent は予約の現在の状態からイベントを作成します
func NewReservationEvent(r Reservation, at time.Time) ReservationEvent {
	return ReservationEvent{
		ReservationID: r.ID,
		Status:        r.Status,
		SlotRef:       r.SlotRef,
		DateTime:      at,
		CreatedAt:     r.CreatedAt,
	}
}
