package ticket

import (
	"context"
	"fmt"
	"log"

	"github.com/uma-arai/sbcntr-ticket/internal/broker"
	"github.com/uma-arai/sbcntr-ticket/internal/common/utils"
	"github.com/uma-arai/sbcntr-ticket/internal/model"
	"github.com/uma-arai/sbcntr-ticket/internal/payload"
	"github.com/uma-arai/sbcntr-ticket/internal/repository"
)

// Outcome は検証に成功したときの結果です
type Outcome struct {
	Reservation model.Reservation `json:"reservation"`
	Status      model.Status      `json:"status"`
	Reason      string            `json:"reason"`
}

// Validator は提示されたペイロードを検証し、予約を入場済みにします
type Validator struct {
	repo   repository.ReservationRepository
	signer *Signer
	clock  *monotonicClock
	events broker.Publisher
}

func NewValidator(repo repository.ReservationRepository, signer *Signer, opts Options) *Validator {
	opts = opts.withDefaults()
	return &Validator{
		repo:   repo,
		signer: signer,
		clock:  newMonotonicClock(opts.Now),
		events: opts.Events,
	}
}

// Validate はペイロードを検証して issued から checked_in へ遷移させます
//
// 署名の確認は状態の確認より先に行うため、改ざんされたペイロードから
// 予約の状態を知ることはできません。署名部の文字種や長さが崩れている場合も
// model.ErrMalformedPayload ではなく署名の不一致として扱います。同時に同じペイロードが提示された場合、
// 成功するのは1件だけで、残りは model.ErrAlreadyCheckedIn になります。
func (v *Validator) Validate(ctx context.Context, raw string) (out *Outcome, err error) {
	ctx, end := utils.BeginSubsegment(ctx, "Validator.Validate")
	defer func() { end(err) }()

	id, signature, err := payload.Split(raw)
	if err != nil {
		return nil, err
	}

	res, err := v.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !v.signer.Verify(res.ID, signature) {
		return nil, fmt.Errorf("%w: reservation %s", model.ErrInvalidSignature, id)
	}

	if res.Status != model.StatusIssued {
		return nil, res.Status.TerminalError()
	}

	at := v.clock.Next()
	ok, err := v.repo.CompareAndSetStatus(ctx, id, model.StatusIssued, model.StatusCheckedIn, at)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, lostRace(ctx, v.repo, id)
	}

	res.Status = model.StatusCheckedIn
	res.CheckedInAt = &at
	res.UpdatedAt = at
	utils.AddMetadata(ctx, "reservation_id", id)
	log.Printf("Reservation %s checked in at %s", id, at.Format("2006-01-02T15:04:05.000000Z07:00"))
	publish(v.events, broker.KeyCheckedIn, *res, at)

	return &Outcome{
		Reservation: *res,
		Status:      model.StatusCheckedIn,
		Reason:      "checked in",
	}, nil
}

// lostRace は比較交換に負けた予約の現在の終端状態をエラーとして返します
func lostRace(ctx context.Context, repo repository.ReservationRepository, id string) error {
	current, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if terminal := current.Status.TerminalError(); terminal != nil {
		return terminal
	}
	return fmt.Errorf("%w: reservation %s is still %s after a failed transition", model.ErrInvalidTransition, id, current.Status)
}
