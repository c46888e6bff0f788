package booking

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/massage-booking/internal/middleware"
	"github.com/jwalitptl/massage-booking/internal/model"
	"github.com/jwalitptl/massage-booking/pkg/auth"
	apperrors "github.com/jwalitptl/massage-booking/pkg/errors"
	"github.com/jwalitptl/massage-booking/pkg/httputil"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Create(ctx context.Context, req *model.CreateBookingRequest) (*model.CreatedBooking, error) {
	args := m.Called(ctx, req)
	if v := args.Get(0); v != nil {
		return v.(*model.CreatedBooking), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockService) booking(args mock.Arguments) (*model.Booking, error) {
	if v := args.Get(0); v != nil {
		return v.(*model.Booking), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockService) cancellation(args mock.Arguments) (*model.CancellationOutcome, error) {
	if v := args.Get(0); v != nil {
		return v.(*model.CancellationOutcome), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockService) reschedule(args mock.Arguments) (*model.RescheduleOutcome, error) {
	if v := args.Get(0); v != nil {
		return v.(*model.RescheduleOutcome), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockService) Get(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	return m.booking(m.Called(ctx, id))
}

func (m *MockService) GetByCode(ctx context.Context, code string) (*model.Booking, error) {
	return m.booking(m.Called(ctx, code))
}

func (m *MockService) List(ctx context.Context, filter *model.BookingFilter) ([]*model.Booking, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]*model.Booking), args.Error(1)
}

func (m *MockService) History(ctx context.Context, id uuid.UUID) ([]*model.StatusHistoryEntry, error) {
	args := m.Called(ctx, id)
	return args.Get(0).([]*model.StatusHistoryEntry), args.Error(1)
}

func (m *MockService) Accept(ctx context.Context, id, therapistID uuid.UUID) (*model.Booking, error) {
	return m.booking(m.Called(ctx, id, therapistID))
}

func (m *MockService) Decline(ctx context.Context, id, therapistID uuid.UUID, seekAlternate bool, reason string) (*model.Booking, error) {
	return m.booking(m.Called(ctx, id, therapistID, seekAlternate, reason))
}

func (m *MockService) Reassign(ctx context.Context, id, therapistID uuid.UUID, changedBy string) (*model.Booking, error) {
	return m.booking(m.Called(ctx, id, therapistID, changedBy))
}

func (m *MockService) Start(ctx context.Context, id uuid.UUID, changedBy string) (*model.Booking, error) {
	return m.booking(m.Called(ctx, id, changedBy))
}

func (m *MockService) Complete(ctx context.Context, id uuid.UUID, changedBy string) (*model.Booking, error) {
	return m.booking(m.Called(ctx, id, changedBy))
}

func (m *MockService) CancelByAdmin(ctx context.Context, id uuid.UUID, reason, changedBy string) (*model.CancellationOutcome, error) {
	return m.cancellation(m.Called(ctx, id, reason, changedBy))
}

func (m *MockService) RevertReschedule(ctx context.Context, id uuid.UUID, changedBy string) (*model.Booking, error) {
	return m.booking(m.Called(ctx, id, changedBy))
}

func (m *MockService) QuoteCancellation(ctx context.Context, token string) (*model.CancellationOutcome, error) {
	return m.cancellation(m.Called(ctx, token))
}

func (m *MockService) CancelByToken(ctx context.Context, token string) (*model.CancellationOutcome, error) {
	return m.cancellation(m.Called(ctx, token))
}

func (m *MockService) QuoteReschedule(ctx context.Context, token string, req *model.RescheduleRequest) (*model.RescheduleOutcome, error) {
	return m.reschedule(m.Called(ctx, token, req))
}

func (m *MockService) RescheduleByToken(ctx context.Context, token string, req *model.RescheduleRequest) (*model.RescheduleOutcome, error) {
	return m.reschedule(m.Called(ctx, token, req))
}

type stubTokens map[string]*auth.Claims

func (s stubTokens) ValidateToken(token string) (*auth.Claims, error) {
	if claims, ok := s[token]; ok {
		return claims, nil
	}
	return nil, auth.ErrInvalidToken
}

var therapistID = uuid.New()

func setupRouter(svc Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	middleware.RegisterBindingValidators()

	tokens := stubTokens{
		"admin":     {Role: auth.RoleAdmin},
		"therapist": {Role: auth.RoleTherapist},
	}
	tokens["admin"].Subject = "ops@example.com"
	tokens["therapist"].Subject = therapistID.String()
	authMW := middleware.NewAuthMiddleware(tokens)

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.ErrorHandler())
	h := NewHandler(svc)
	api := r.Group("/api/v1")
	h.RegisterPublicRoutes(api)
	h.RegisterRoutes(api.Group("", authMW.Authenticate()), authMW)
	return r
}

func do(r http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) httputil.Response {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCreateBooking(t *testing.T) {
	svc := new(MockService)
	r := setupRouter(svc)

	created := &model.CreatedBooking{
		Booking:     &model.Booking{BookingCode: "RB2510001", Status: model.BookingStatusRequested},
		CancelToken: "tok",
	}
	svc.On("Create", mock.Anything, mock.MatchedBy(func(req *model.CreateBookingRequest) bool {
		return req.CustomerEmail == "sam@example.com" && req.DurationMinutes == 90
	})).Return(created, nil)

	body := `{
		"customer_id": "` + uuid.NewString() + `",
		"customer_name": "Sam",
		"customer_email": "sam@example.com",
		"service_id": "` + uuid.NewString() + `",
		"booking_time": "2025-10-18T10:00:00+10:00",
		"duration_minutes": 90
	}`
	w := do(r, http.MethodPost, "/api/v1/bookings", "", body)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "success", decode(t, w).Status)
	svc.AssertExpectations(t)
}

func TestCreateBookingValidation(t *testing.T) {
	svc := new(MockService)
	r := setupRouter(svc)

	w := do(r, http.MethodPost, "/api/v1/bookings", "", `{"customer_name": "Sam", "customer_email": "not-an-email"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "validation_error", resp.Code)
	assert.Contains(t, resp.Details, "customer_email")
	svc.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCancelLinkPolicyViolation(t *testing.T) {
	svc := new(MockService)
	r := setupRouter(svc)

	svc.On("CancelByToken", mock.Anything, "late").
		Return(nil, apperrors.NewPolicyViolation(apperrors.ReasonCancellationWindowClosed, "cancellation is no longer possible"))

	w := do(r, http.MethodPost, "/api/v1/links/cancel/late", "", "")

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "policy_violation", resp.Code)
	assert.Equal(t, apperrors.ReasonCancellationWindowClosed, resp.Reason)
}

func TestQuoteCancellationLink(t *testing.T) {
	svc := new(MockService)
	r := setupRouter(svc)

	svc.On("QuoteCancellation", mock.Anything, "tok").Return(&model.CancellationOutcome{
		BookingCode:     "RB2510001",
		RefundPercent:   50,
		RefundAmount:    decimal.NewFromInt(75),
		CancellationFee: decimal.NewFromInt(75),
	}, nil)

	w := do(r, http.MethodGet, "/api/v1/links/cancel/tok", "", "")

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertNotCalled(t, "CancelByToken", mock.Anything, mock.Anything)
}

func TestQuoteRescheduleLink(t *testing.T) {
	svc := new(MockService)
	r := setupRouter(svc)

	want := time.Date(2025, 10, 20, 9, 0, 0, 0, time.FixedZone("", 10*3600))
	svc.On("QuoteReschedule", mock.Anything, "tok", mock.MatchedBy(func(req *model.RescheduleRequest) bool {
		return req.NewBookingTime.Equal(want) && req.NewTherapistID == nil
	})).Return(&model.RescheduleOutcome{BookingCode: "RB2510001"}, nil)

	w := do(r, http.MethodGet, "/api/v1/links/reschedule/tok?new_booking_time=2025-10-20T09:00:00%2B10:00", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/api/v1/links/reschedule/tok?new_booking_time=monday", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNumberOfCalls(t, "QuoteReschedule", 1)
}

func TestBackOfficeRequiresToken(t *testing.T) {
	svc := new(MockService)
	r := setupRouter(svc)

	w := do(r, http.MethodGet, "/api/v1/bookings", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodGet, "/api/v1/bookings", "forged", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTherapistListIsScopedToSelf(t *testing.T) {
	svc := new(MockService)
	r := setupRouter(svc)

	svc.On("List", mock.Anything, mock.MatchedBy(func(f *model.BookingFilter) bool {
		return f.TherapistID != nil && *f.TherapistID == therapistID && f.Status == model.BookingStatusConfirmed
	})).Return([]*model.Booking{}, nil)

	other := uuid.NewString()
	w := do(r, http.MethodGet, "/api/v1/bookings?status=confirmed&therapist_id="+other, "therapist", "")

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestTherapistAcceptUsesTokenIdentity(t *testing.T) {
	svc := new(MockService)
	r := setupRouter(svc)

	id := uuid.New()
	svc.On("Accept", mock.Anything, id, therapistID).
		Return(&model.Booking{Status: model.BookingStatusConfirmed}, nil)

	w := do(r, http.MethodPost, "/api/v1/bookings/"+id.String()+"/accept", "therapist", "")

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestAdminAcceptNeedsTherapist(t *testing.T) {
	svc := new(MockService)
	r := setupRouter(svc)

	w := do(r, http.MethodPost, "/api/v1/bookings/"+uuid.NewString()+"/accept", "admin", "{}")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeclinePassesReason(t *testing.T) {
	svc := new(MockService)
	r := setupRouter(svc)

	id := uuid.New()
	svc.On("Decline", mock.Anything, id, therapistID, true, "double booked").
		Return(&model.Booking{Status: model.BookingStatusRequested}, nil)

	w := do(r, http.MethodPost, "/api/v1/bookings/"+id.String()+"/decline", "therapist",
		`{"seek_alternate": true, "reason": "double booked"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestReassignIsAdminOnly(t *testing.T) {
	svc := new(MockService)
	r := setupRouter(svc)

	id := uuid.New()
	target := uuid.New()
	body := `{"therapist_id": "` + target.String() + `"}`

	w := do(r, http.MethodPost, "/api/v1/bookings/"+id.String()+"/reassign", "therapist", body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	svc.On("Reassign", mock.Anything, id, target, "ops@example.com").
		Return(&model.Booking{Status: model.BookingStatusRequested}, nil)
	w = do(r, http.MethodPost, "/api/v1/bookings/"+id.String()+"/reassign", "admin", body)
	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestTherapistCannotSeeOthersBooking(t *testing.T) {
	svc := new(MockService)
	r := setupRouter(svc)

	id := uuid.New()
	someoneElse := uuid.New()
	svc.On("Get", mock.Anything, id).Return(&model.Booking{TherapistID: &someoneElse}, nil)

	w := do(r, http.MethodGet, "/api/v1/bookings/"+id.String(), "therapist", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/api/v1/bookings/"+id.String()+"/complete", "therapist", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	svc.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetBookingByCode(t *testing.T) {
	svc := new(MockService)
	r := setupRouter(svc)

	svc.On("GetByCode", mock.Anything, "RB2510001").Return(&model.Booking{BookingCode: "RB2510001"}, nil)

	w := do(r, http.MethodGet, "/api/v1/bookings/RB2510001", "admin", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCompleteGatewayFailure(t *testing.T) {
	svc := new(MockService)
	r := setupRouter(svc)

	id := uuid.New()
	svc.On("Complete", mock.Anything, id, "ops@example.com").
		Return(nil, apperrors.NewGateway(apperrors.ReasonCaptureFailed, assert.AnError))

	w := do(r, http.MethodPost, "/api/v1/bookings/"+id.String()+"/complete", "admin", "")

	assert.Equal(t, http.StatusBadGateway, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "payment gateway error", resp.Message)
	assert.Equal(t, apperrors.ReasonCaptureFailed, resp.Reason)
}
