// Package ticket はチケットの発行、検証、キャンセルを行います。
package ticket

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/uma-arai/sbcntr-ticket/internal/broker"
	"github.com/uma-arai/sbcntr-ticket/internal/common/utils"
	"github.com/uma-arai/sbcntr-ticket/internal/model"
	"github.com/uma-arai/sbcntr-ticket/internal/repository"
)

// Service は Issuer と Validator をまとめ、管理者向けのキャンセルを提供します
type Service struct {
	*Issuer
	*Validator

	repo   repository.ReservationRepository
	clock  *monotonicClock
	events broker.Publisher
}

func NewService(repo repository.ReservationRepository, signer *Signer, opts Options) *Service {
	opts = opts.withDefaults()
	validator := NewValidator(repo, signer, opts)
	return &Service{
		Issuer:    NewIssuer(repo, signer, opts),
		Validator: validator,
		repo:      repo,
		clock:     validator.clock,
		events:    opts.Events,
	}
}

// Get は予約を取得します
func (s *Service) Get(ctx context.Context, id string) (*model.Reservation, error) {
	return s.repo.Get(ctx, id)
}

// Cancel は issued の予約を cancelled にします
// すでに終端状態の場合はその状態に対応するエラーを返します
func (s *Service) Cancel(ctx context.Context, id string) (res *model.Reservation, err error) {
	ctx, end := utils.BeginSubsegment(ctx, "Service.Cancel")
	defer func() { end(err) }()

	res, err = s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.Status != model.StatusIssued {
		return nil, res.Status.TerminalError()
	}

	at := s.clock.Next()
	ok, err := s.repo.CompareAndSetStatus(ctx, id, model.StatusIssued, model.StatusCancelled, at)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, lostRace(ctx, s.repo, id)
	}

	res.Status = model.StatusCancelled
	res.UpdatedAt = at
	log.Printf("Reservation %s cancelled", id)
	publish(s.events, broker.KeyCancelled, *res, at)
	return res, nil
}

// ListFilter は予約一覧の絞り込み条件です
// 空の項目では絞り込みません
type ListFilter struct {
	Status  model.Status
	SlotRef string
}

// List は条件に合う予約を作成日時順に返します
// 状態を指定しない場合はすべての状態の予約をまとめて返します
func (s *Service) List(ctx context.Context, filter ListFilter) (list []model.Reservation, err error) {
	ctx, end := utils.BeginSubsegment(ctx, "Service.List")
	defer func() { end(err) }()

	statuses := model.Statuses
	if filter.Status != "" {
		status, err := model.ParseStatus(string(filter.Status))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
		}
		statuses = []model.Status{status}
	}
	if filter.SlotRef != "" {
		if _, err := ParseSlotRef(filter.SlotRef); err != nil {
			return nil, err
		}
	}

	list = make([]model.Reservation, 0)
	for _, status := range statuses {
		reservations, err := s.repo.ListByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		for _, res := range reservations {
			if filter.SlotRef != "" && res.SlotRef != filter.SlotRef {
				continue
			}
			list = append(list, res)
		}
	}

	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	utils.AddMetadata(ctx, "reservation_count", len(list))
	return list, nil
}
