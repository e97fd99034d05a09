package model

import "errors"

// チケットの発行と検証で返されるエラーです
// 検証系のエラーは確定的な結果であり、呼び出し側で再試行してはいけません
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrDuplicateReservation = errors.New("duplicate reservation")
	ErrMalformedPayload     = errors.New("malformed payload")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrNotFound             = errors.New("reservation not found")
	ErrAlreadyCheckedIn     = errors.New("reservation already checked in")
	ErrCancelled            = errors.New("reservation cancelled")
	ErrExpired              = errors.New("reservation expired")
	ErrAuthFailure          = errors.New("authentication failed")
	ErrStoreUnavailable     = errors.New("reservation store unavailable")
	ErrInvalidTransition    = errors.New("invalid status transition")
)

// IsRetryable は呼び出し側がバックオフ付きで再試行してよいエラーかを返します
// 再試行の対象はストアの一時的な障害のみです
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// Kind はエラーを API で返す識別子に変換します
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrDuplicateReservation):
		return "duplicate_reservation"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyCheckedIn):
		return "already_checked_in"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrAuthFailure):
		return "auth_failure"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	}
	return "internal"
}
