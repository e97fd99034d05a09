// Package handler はチケットAPIのHTTPハンドラです。
package handler

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/uma-arai/sbcntr-ticket/internal/model"
	"github.com/uma-arai/sbcntr-ticket/internal/payload"
	"github.com/uma-arai/sbcntr-ticket/internal/service/ticket"
)

// TicketService はハンドラが利用するチケットの操作です
type TicketService interface {
	Create(ctx context.Context, holder ticket.HolderInfo, slotRef string) (*model.Reservation, error)
	Get(ctx context.Context, id string) (*model.Reservation, error)
	Payload(ctx context.Context, id string) (string, *model.Reservation, error)
	Cancel(ctx context.Context, id string) (*model.Reservation, error)
	Validate(ctx context.Context, raw string) (*ticket.Outcome, error)
	List(ctx context.Context, filter ticket.ListFilter) ([]model.Reservation, error)
}

type TicketHandler struct {
	svc TicketService
}

func NewTicketHandler(svc TicketService) *TicketHandler {
	return &TicketHandler{svc: svc}
}

type createRequest struct {
	HolderName    string `json:"holder_name" binding:"required"`
	HolderContact string `json:"holder_contact"`
	SlotRef       string `json:"slot_ref" binding:"required"`
}

type validateRequest struct {
	Payload string `json:"payload" binding:"required"`
}

type reservationResponse struct {
	ID          string             `json:"id"`
	Payload     string             `json:"payload"`
	Reservation *model.Reservation `json:"reservation"`
}

// CreateReservation は予約を作成し、QRコードに埋め込むペイロードを返します
func (h *TicketHandler) CreateReservation(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": model.Kind(model.ErrInvalidInput), "reason": err.Error()})
		return
	}

	res, err := h.svc.Create(c.Request.Context(), ticket.HolderInfo{Name: req.HolderName, Contact: req.HolderContact}, req.SlotRef)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, reservationResponse{ID: res.ID, Payload: payload.Encode(*res), Reservation: res})
}

func (h *TicketHandler) GetReservation(c *gin.Context) {
	res, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetPayload は既存の予約のペイロードを再発行します
func (h *TicketHandler) GetPayload(c *gin.Context) {
	raw, res, err := h.svc.Payload(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservationResponse{ID: res.ID, Payload: raw, Reservation: res})
}

func (h *TicketHandler) CancelReservation(c *gin.Context) {
	res, err := h.svc.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": res.Status, "reason": "cancelled", "reservation": res})
}

// Validate は入場ゲートで読み取ったペイロードを検証します
// 読み取り端末は管理者ではないため認証は不要です
func (h *TicketHandler) Validate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": model.Kind(model.ErrMalformedPayload), "reason": err.Error()})
		return
	}

	out, err := h.svc.Validate(c.Request.Context(), req.Payload)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type listResponse struct {
	Total        int                  `json:"total"`
	Counts       map[model.Status]int `json:"counts"`
	Reservations []model.Reservation  `json:"reservations"`
}

// ListReservations は予約の一覧と状態ごとの件数を返します
// format=csv の場合は同じ一覧をCSVとして返します
func (h *TicketHandler) ListReservations(c *gin.Context) {
	filter := ticket.ListFilter{
		Status:  model.Status(c.Query("status")),
		SlotRef: c.Query("slot"),
	}

	list, err := h.svc.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	switch c.DefaultQuery("format", "json") {
	case "json":
		counts := make(map[model.Status]int, len(model.Statuses))
		for _, status := range model.Statuses {
			counts[status] = 0
		}
		for _, res := range list {
			counts[res.Status]++
		}
		c.JSON(http.StatusOK, listResponse{Total: len(list), Counts: counts, Reservations: list})
	case "csv":
		writeReservationsCSV(c, list)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": model.Kind(model.ErrInvalidInput), "reason": "format must be json or csv"})
	}
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError はエラーの種類に応じたステータスコードで応答します
func respondError(c *gin.Context, err error) {
	kind := model.Kind(err)
	status := statusFor(kind)

	body := gin.H{"error": kind, "reason": err.Error()}
	switch {
	case model.IsRetryable(err):
		body["retryable"] = true
		log.Printf("Store unavailable on %s %s: %v", c.Request.Method, c.FullPath(), err)
	case status == http.StatusInternalServerError:
		log.Printf("Unexpected error on %s %s: %v", c.Request.Method, c.FullPath(), err)
		body["reason"] = "internal error"
	}
	c.JSON(status, body)
}

func statusFor(kind string) int {
	switch kind {
	case "invalid_input", "malformed_payload":
		return http.StatusBadRequest
	case "auth_failure":
		return http.StatusUnauthorized
	case "invalid_signature":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "already_checked_in", "cancelled", "expired", "duplicate_reservation", "invalid_transition":
		return http.StatusConflict
	case "store_unavailable":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
