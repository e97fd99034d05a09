package ticket

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/uma-arai/sbcntr-ticket/internal/broker"
	"github.com/uma-arai/sbcntr-ticket/internal/common/utils"
	"github.com/uma-arai/sbcntr-ticket/internal/model"
	"github.com/uma-arai/sbcntr-ticket/internal/payload"
	"github.com/uma-arai/sbcntr-ticket/internal/repository"
)

const (
	maxHolderNameLength    = 100
	maxHolderContactLength = 254

	// SlotRefLayout は公演枠の参照文字列の書式です (例: 2024-10-01-1900)
	SlotRefLayout = "2006-01-02-1504"
)

var slotRefPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}-\d{4}$`)

// HolderInfo は予約者の情報です。中身はチケットの処理には使いません
type HolderInfo struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
}

// Options は Issuer と Validator の共通設定です
type Options struct {
	// MaxIDAttempts はIDが衝突したときに再試行する上限回数です
	MaxIDAttempts int
	IDs           IDGenerator
	Now           func() time.Time
	Events        broker.Publisher
}

func (o Options) withDefaults() Options {
	if o.MaxIDAttempts < 1 {
		o.MaxIDAttempts = 5
	}
	if o.IDs == nil {
		o.IDs = RandomIDs()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Events == nil {
		o.Events = broker.Noop{}
	}
	return o
}

// Issuer は予約を作成し、署名を付与します
type Issuer struct {
	repo   repository.ReservationRepository
	signer *Signer
	opts   Options
}

func NewIssuer(repo repository.ReservationRepository, signer *Signer, opts Options) *Issuer {
	return &Issuer{repo: repo, signer: signer, opts: opts.withDefaults()}
}

// ParseSlotRef は公演枠の参照文字列を時刻に変換します
func ParseSlotRef(slotRef string) (time.Time, error) {
	if !slotRefPattern.MatchString(slotRef) {
		return time.Time{}, fmt.Errorf("%w: slot %q must look like YYYY-MM-DD-HHMM", model.ErrInvalidInput, slotRef)
	}
	t, err := time.Parse(SlotRefLayout, slotRef)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: slot %q: %v", model.ErrInvalidInput, slotRef, err)
	}
	return t, nil
}

func validateHolder(holder HolderInfo) (HolderInfo, error) {
	holder.Name = strings.TrimSpace(holder.Name)
	holder.Contact = strings.TrimSpace(holder.Contact)

	if holder.Name == "" {
		return holder, fmt.Errorf("%w: holder name is required", model.ErrInvalidInput)
	}
	if utf8.RuneCountInString(holder.Name) > maxHolderNameLength {
		return holder, fmt.Errorf("%w: holder name is longer than %d characters", model.ErrInvalidInput, maxHolderNameLength)
	}
	if utf8.RuneCountInString(holder.Contact) > maxHolderContactLength {
		return holder, fmt.Errorf("%w: holder contact is longer than %d characters", model.ErrInvalidInput, maxHolderContactLength)
	}
	return holder, nil
}

// Create は予約を作成して保存します
// IDが衝突した場合は新しいIDで MaxIDAttempts 回まで再試行します。
// ペイロードの生成は payload.Encode で別に行います。
func (i *Issuer) Create(ctx context.Context, holder HolderInfo, slotRef string) (res *model.Reservation, err error) {
	ctx, end := utils.BeginSubsegment(ctx, "Issuer.Create")
	defer func() { end(err) }()

	holder, err = validateHolder(holder)
	if err != nil {
		return nil, err
	}
	slotRef = strings.TrimSpace(slotRef)
	if _, err = ParseSlotRef(slotRef); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= i.opts.MaxIDAttempts; attempt++ {
		id, err := i.opts.IDs()
		if err != nil {
			return nil, err
		}
		if !payload.ValidID(id) {
			return nil, fmt.Errorf("generated reservation id %q contains invalid characters", id)
		}

		now := i.opts.Now().UTC().Truncate(time.Microsecond)
		candidate := &model.Reservation{
			ID:            id,
			HolderName:    holder.Name,
			HolderContact: holder.Contact,
			SlotRef:       slotRef,
			Status:        model.StatusIssued,
			Signature:     i.signer.Sign(id),
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		err = i.repo.Create(ctx, candidate)
		if err == nil {
			log.Printf("Reservation %s issued for slot %s", id, slotRef)
			publish(i.opts.Events, broker.KeyIssued, *candidate, now)
			return candidate, nil
		}
		if !errors.Is(err, model.ErrDuplicateReservation) {
			return nil, err
		}
		log.Printf("Reservation id %s already exists, retrying (%d/%d)", id, attempt, i.opts.MaxIDAttempts)
	}

	return nil, fmt.Errorf("no unique reservation id after %d attempts: %w", i.opts.MaxIDAttempts, model.ErrDuplicateReservation)
}

// Payload は既存の予約からペイロードを再生成します
func (i *Issuer) Payload(ctx context.Context, id string) (string, *model.Reservation, error) {
	res, err := i.repo.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return payload.Encode(*res), res, nil
}

// publish はイベントを発行します。発行に失敗してもチケットの結果は変えません
func publish(events broker.Publisher, key string, res model.Reservation, at time.Time) {
	if err := events.Publish(model.NewReservationEvent(res, at), key); err != nil {
		log.Printf("Failed to publish %s for reservation %s: %v", key, res.ID, err)
	}
}
