package handler

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/uma-arai/sbcntr-ticket/internal/common/config"
	"github.com/uma-arai/sbcntr-ticket/internal/model"
	"github.com/uma-arai/sbcntr-ticket/internal/repository"
	"github.com/uma-arai/sbcntr-ticket/internal/service/auth"
	"github.com/uma-arai/sbcntr-ticket/internal/service/ticket"
)

// MockTicketService mocks the ticket service
type MockTicketService struct {
	mock.Mock
}

func (m *MockTicketService) Create(ctx context.Context, holder ticket.HolderInfo, slotRef string) (*model.Reservation, error) {
	args := m.Called(holder, slotRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Reservation), args.Error(1)
}

func (m *MockTicketService) Get(ctx context.Context, id string) (*model.Reservation, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Reservation), args.Error(1)
}

func (m *MockTicketService) Payload(ctx context.Context, id string) (string, *model.Reservation, error) {
	args := m.Called(id)
	if args.Get(1) == nil {
		return "", nil, args.Error(2)
	}
	return args.String(0), args.Get(1).(*model.Reservation), args.Error(2)
}

func (m *MockTicketService) Cancel(ctx context.Context, id string) (*model.Reservation, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Reservation), args.Error(1)
}

func (m *MockTicketService) Validate(ctx context.Context, raw string) (*ticket.Outcome, error) {
	args := m.Called(raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ticket.Outcome), args.Error(1)
}

func (m *MockTicketService) List(ctx context.Context, filter ticket.ListFilter) ([]model.Reservation, error) {
	args := m.Called(filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Reservation), args.Error(1)
}

type staticGate struct{ username, password string }

func (g staticGate) Authenticate(username, password string) bool {
	return username == g.username && password == g.password
}

func setupRouter(svc TicketService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	SetupRoutes(r, svc, staticGate{username: "admin", password: "secret"})
	return r
}

func doRequest(r *gin.Engine, method, path string, body interface{}, admin bool) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.SetBasicAuth("admin", "secret")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestCreateReservation(t *testing.T) {
	svc := new(MockTicketService)
	r := setupRouter(svc)

	res := &model.Reservation{ID: "R-1001", HolderName: "A. Lin", SlotRef: "2024-10-01-1900", Status: model.StatusIssued, Signature: "9f8a21"}
	svc.On("Create", ticket.HolderInfo{Name: "A. Lin", Contact: "lin@example.com"}, "2024-10-01-1900").Return(res, nil)

	w := doRequest(r, http.MethodPost, "/v1/reservations", map[string]string{
		"holder_name":    "A. Lin",
		"holder_contact": "lin@example.com",
		"slot_ref":       "2024-10-01-1900",
	}, true)

	assert.Equal(t, http.StatusCreated, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "R-1001", body["id"])
	assert.Equal(t, "R-1001.9f8a21", body["payload"])
	svc.AssertExpectations(t)
}

func TestCreateReservation_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		serviceErr error
		admin      bool
		wantStatus int
		wantKind   string
	}{
		{
			name:       "認証なし",
			body:       map[string]string{"holder_name": "A. Lin", "slot_ref": "2024-10-01-1900"},
			wantStatus: http.StatusUnauthorized,
			wantKind:   "auth_failure",
		},
		{
			name:       "必須項目なし",
			body:       map[string]string{"holder_contact": "lin@example.com"},
			admin:      true,
			wantStatus: http.StatusBadRequest,
			wantKind:   "invalid_input",
		},
		{
			name:       "入力値が不正",
			body:       map[string]string{"holder_name": "A. Lin", "slot_ref": "tomorrow"},
			serviceErr: fmt.Errorf("%w: slot", model.ErrInvalidInput),
			admin:      true,
			wantStatus: http.StatusBadRequest,
			wantKind:   "invalid_input",
		},
		{
			name:       "IDの再試行が尽きた",
			body:       map[string]string{"holder_name": "A. Lin", "slot_ref": "2024-10-01-1900"},
			serviceErr: model.ErrDuplicateReservation,
			admin:      true,
			wantStatus: http.StatusConflict,
			wantKind:   "duplicate_reservation",
		},
		{
			name:       "ストア障害",
			body:       map[string]string{"holder_name": "A. Lin", "slot_ref": "2024-10-01-1900"},
			serviceErr: fmt.Errorf("create: %w", model.ErrStoreUnavailable),
			admin:      true,
			wantStatus: http.StatusServiceUnavailable,
			wantKind:   "store_unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockTicketService)
			if tt.serviceErr != nil {
				svc.On("Create", mock.Anything, mock.Anything).Return(nil, tt.serviceErr)
			}
			r := setupRouter(svc)

			w := doRequest(r, http.MethodPost, "/v1/reservations", tt.body, tt.admin)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantKind, decodeBody(t, w)["error"])
			if tt.serviceErr == nil {
				svc.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestAdminAuth_UniformFailure(t *testing.T) {
	svc := new(MockTicketService)
	r := setupRouter(svc)

	bodies := make([]string, 0, 2)
	for _, creds := range [][2]string{{"admin", "wrong"}, {"wrong", "secret"}} {
		req := httptest.NewRequest(http.MethodGet, "/v1/reservations/R-1001", nil)
		req.SetBasicAuth(creds[0], creds[1])
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
		bodies = append(bodies, w.Body.String())
	}
	assert.Equal(t, bodies[0], bodies[1])
	svc.AssertNotCalled(t, "Get", mock.Anything)
}

func TestValidate(t *testing.T) {
	now := time.Date(2024, 10, 1, 18, 55, 0, 0, time.UTC)
	tests := []struct {
		name       string
		outcome    *ticket.Outcome
		serviceErr error
		wantStatus int
		wantKind   string
	}{
		{
			name: "入場成功",
			outcome: &ticket.Outcome{
				Reservation: model.Reservation{ID: "R-1001", Status: model.StatusCheckedIn, CheckedInAt: &now},
				Status:      model.StatusCheckedIn,
				Reason:      "checked in",
			},
			wantStatus: http.StatusOK,
		},
		{name: "形式が不正", serviceErr: model.ErrMalformedPayload, wantStatus: http.StatusBadRequest, wantKind: "malformed_payload"},
		{name: "署名が不正", serviceErr: model.ErrInvalidSignature, wantStatus: http.StatusForbidden, wantKind: "invalid_signature"},
		{name: "予約なし", serviceErr: model.ErrNotFound, wantStatus: http.StatusNotFound, wantKind: "not_found"},
		{name: "入場済み", serviceErr: model.ErrAlreadyCheckedIn, wantStatus: http.StatusConflict, wantKind: "already_checked_in"},
		{name: "キャンセル済み", serviceErr: model.ErrCancelled, wantStatus: http.StatusConflict, wantKind: "cancelled"},
		{name: "期限切れ", serviceErr: model.ErrExpired, wantStatus: http.StatusConflict, wantKind: "expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockTicketService)
			if tt.outcome != nil {
				svc.On("Validate", "R-1001.9f8a21").Return(tt.outcome, nil)
			} else {
				svc.On("Validate", "R-1001.9f8a21").Return(nil, tt.serviceErr)
			}
			r := setupRouter(svc)

			// 検証は管理者認証なしで呼び出せる
			w := doRequest(r, http.MethodPost, "/v1/validate", map[string]string{"payload": "R-1001.9f8a21"}, false)
			assert.Equal(t, tt.wantStatus, w.Code)
			body := decodeBody(t, w)
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, body["error"])
				assert.Nil(t, body["retryable"])
			} else {
				assert.Equal(t, string(model.StatusCheckedIn), body["status"])
			}
		})
	}
}

func TestValidate_StoreUnavailableIsRetryable(t *testing.T) {
	svc := new(MockTicketService)
	svc.On("Validate", "R-1001.9f8a21").Return(nil, fmt.Errorf("get: %w", model.ErrStoreUnavailable))
	r := setupRouter(svc)

	w := doRequest(r, http.MethodPost, "/v1/validate", map[string]string{"payload": "R-1001.9f8a21"}, false)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["retryable"])
}

func TestValidate_MissingPayload(t *testing.T) {
	svc := new(MockTicketService)
	r := setupRouter(svc)

	w := doRequest(r, http.MethodPost, "/v1/validate", map[string]string{}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "malformed_payload", decodeBody(t, w)["error"])
	svc.AssertNotCalled(t, "Validate", mock.Anything)
}

func TestCancelAndGet(t *testing.T) {
	svc := new(MockTicketService)
	r := setupRouter(svc)

	res := &model.Reservation{ID: "R-1001", Status: model.StatusCancelled, Signature: "9f8a21"}
	svc.On("Cancel", "R-1001").Return(res, nil)
	svc.On("Cancel", "R-1002").Return(nil, model.ErrAlreadyCheckedIn)
	svc.On("Get", "R-1001").Return(res, nil)
	svc.On("Get", "R-9999").Return(nil, model.ErrNotFound)
	svc.On("Payload", "R-1001").Return("R-1001.9f8a21", res, nil)

	w := doRequest(r, http.MethodPost, "/v1/reservations/R-1001/cancel", nil, true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", decodeBody(t, w)["status"])

	w = doRequest(r, http.MethodPost, "/v1/reservations/R-1002/cancel", nil, true)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(r, http.MethodGet, "/v1/reservations/R-1001", nil, true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "R-1001", decodeBody(t, w)["id"])

	w = doRequest(r, http.MethodGet, "/v1/reservations/R-9999", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(r, http.MethodGet, "/v1/reservations/R-1001/payload", nil, true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "R-1001.9f8a21", decodeBody(t, w)["payload"])

	svc.AssertExpectations(t)
}

func TestUnexpectedErrorIsHidden(t *testing.T) {
	svc := new(MockTicketService)
	svc.On("Get", "R-1001").Return(nil, fmt.Errorf("boom"))
	r := setupRouter(svc)

	w := doRequest(r, http.MethodGet, "/v1/reservations/R-1001", nil, true)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "internal", body["error"])
	assert.Equal(t, "internal error", body["reason"])
}

func TestListReservations(t *testing.T) {
	created := time.Date(2024, 9, 30, 10, 0, 0, 0, time.UTC)
	checkedIn := time.Date(2024, 10, 1, 18, 55, 0, 0, time.UTC)
	list := []model.Reservation{
		{ID: "R-1001", HolderName: "A. Lin", SlotRef: "2024-10-01-1900", Status: model.StatusCheckedIn, Signature: "9f8a21", CreatedAt: created, CheckedInAt: &checkedIn, UpdatedAt: checkedIn},
		{ID: "R-1002", HolderName: "B. Kim", SlotRef: "2024-10-01-1900", Status: model.StatusIssued, Signature: "8a21ff", CreatedAt: created, UpdatedAt: created},
	}

	tests := []struct {
		name       string
		path       string
		filter     ticket.ListFilter
		result     []model.Reservation
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "全件",
			path:       "/v1/reservations",
			filter:     ticket.ListFilter{},
			result:     list,
			wantStatus: http.StatusOK,
		},
		{
			name:       "状態と公演枠で絞り込む",
			path:       "/v1/reservations?status=issued&slot=2024-10-01-1900",
			filter:     ticket.ListFilter{Status: model.StatusIssued, SlotRef: "2024-10-01-1900"},
			result:     list[1:],
			wantStatus: http.StatusOK,
		},
		{
			name:       "不正な状態",
			path:       "/v1/reservations?status=unknown",
			filter:     ticket.ListFilter{Status: "unknown"},
			err:        fmt.Errorf("%w: unknown reservation status", model.ErrInvalidInput),
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_input",
		},
		{
			name:       "ストア障害",
			path:       "/v1/reservations",
			filter:     ticket.ListFilter{},
			err:        fmt.Errorf("list: %w", model.ErrStoreUnavailable),
			wantStatus: http.StatusServiceUnavailable,
			wantError:  "store_unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockTicketService)
			if tt.err != nil {
				svc.On("List", tt.filter).Return(nil, tt.err)
			} else {
				svc.On("List", tt.filter).Return(tt.result, nil)
			}
			r := setupRouter(svc)

			w := doRequest(r, http.MethodGet, tt.path, nil, true)
			assert.Equal(t, tt.wantStatus, w.Code)
			body := decodeBody(t, w)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body["error"])
				return
			}

			assert.Equal(t, float64(len(tt.result)), body["total"])
			counts := body["counts"].(map[string]interface{})
			assert.Len(t, counts, 4)
			want := map[string]float64{}
			for _, res := range tt.result {
				want[string(res.Status)]++
			}
			for status, n := range want {
				assert.Equal(t, n, counts[status], status)
			}
			assert.Len(t, body["reservations"], len(tt.result))
			svc.AssertExpectations(t)
		})
	}
}

func TestListReservations_RequiresAdmin(t *testing.T) {
	svc := new(MockTicketService)
	r := setupRouter(svc)

	w := doRequest(r, http.MethodGet, "/v1/reservations", nil, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	svc.AssertNotCalled(t, "List", mock.Anything)
}

func TestListReservations_CSV(t *testing.T) {
	checkedIn := time.Date(2024, 10, 1, 18, 55, 0, 123456000, time.UTC)
	created := time.Date(2024, 9, 30, 10, 0, 0, 0, time.UTC)
	svc := new(MockTicketService)
	svc.On("List", ticket.ListFilter{SlotRef: "2024-10-01-1900"}).Return([]model.Reservation{
		{ID: "R-1001", HolderName: "Lin, A.", HolderContact: "lin@example.com", SlotRef: "2024-10-01-1900", Status: model.StatusCheckedIn, Signature: "9f8a21", CreatedAt: created, CheckedInAt: &checkedIn, UpdatedAt: checkedIn},
		{ID: "R-1002", HolderName: "B. Kim", SlotRef: "2024-10-01-1900", Status: model.StatusIssued, Signature: "8a21ff", CreatedAt: created, UpdatedAt: created},
	}, nil)
	r := setupRouter(svc)

	w := doRequest(r, http.MethodGet, "/v1/reservations?slot=2024-10-01-1900&format=csv", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "reservations.csv")
	assert.NotContains(t, w.Body.String(), "9f8a21")

	records, err := csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, []string{"R-1001", "Lin, A.", "lin@example.com", "2024-10-01-1900", "checked_in", "2024-09-30T10:00:00Z", "2024-10-01T18:55:00.123456Z", "2024-10-01T18:55:00.123456Z"}, records[1])
	assert.Equal(t, "", records[2][6])
}

func TestListReservations_UnknownFormat(t *testing.T) {
	svc := new(MockTicketService)
	svc.On("List", ticket.ListFilter{}).Return([]model.Reservation{}, nil)
	r := setupRouter(svc)

	w := doRequest(r, http.MethodGet, "/v1/reservations?format=xml", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_input", decodeBody(t, w)["error"])
}

func TestHealthCheck(t *testing.T) {
	r := setupRouter(new(MockTicketService))
	w := doRequest(r, http.MethodGet, "/healthcheck", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestEndToEnd は実際のサービスとBoltDBを使って発行から入場までを確認します
func TestEndToEnd(t *testing.T) {
	repo, err := repository.OpenBoltReservationRepository(filepath.Join(t.TempDir(), "e2e.db"))
	require.NoError(t, err)
	defer repo.Close()

	signer, err := ticket.NewSigner([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	gate, err := auth.NewGate(config.AdminConfig{Username: "admin", Password: "secret"})
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	SetupRoutes(r, ticket.NewService(repo, signer, ticket.Options{IDs: ticket.SequentialIDs(1001)}), gate)

	w := doRequest(r, http.MethodPost, "/v1/reservations", map[string]string{
		"holder_name": "A. Lin",
		"slot_ref":    "2024-10-01-1900",
	}, true)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeBody(t, w)
	assert.Equal(t, "R-1001", created["id"])
	raw := created["payload"].(string)

	w = doRequest(r, http.MethodPost, "/v1/validate", map[string]string{"payload": raw}, false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "checked_in", decodeBody(t, w)["status"])

	w = doRequest(r, http.MethodPost, "/v1/validate", map[string]string{"payload": raw}, false)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_checked_in", decodeBody(t, w)["error"])

	w = doRequest(r, http.MethodGet, "/v1/reservations?slot=2024-10-01-1900", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decodeBody(t, w)
	assert.Equal(t, float64(1), listed["total"])
	assert.Equal(t, float64(1), listed["counts"].(map[string]interface{})["checked_in"])
}
