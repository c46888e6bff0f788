package payroll

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
	apperrors "github.com/jwalitptl/massage-booking/pkg/errors"
)

var brisbane = time.FixedZone("AEST", 10*3600)

type MockService struct {
	mock.Mock
}

func (m *MockService) ParseWeekStart(value string) (time.Time, error) {
	args := m.Called(value)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockService) GenerateForTherapistWeek(ctx context.Context, therapistID uuid.UUID, weekStart, weekEnd time.Time) (*uuid.UUID, error) {
	args := m.Called(ctx, therapistID, weekStart, weekEnd)
	id, _ := args.Get(0).(*uuid.UUID)
	return id, args.Error(1)
}

func (m *MockService) MarkPaid(ctx context.Context, id uuid.UUID, amount decimal.Decimal, paidAt time.Time, reference string) (*model.WeeklyPayment, error) {
	args := m.Called(ctx, id, amount, paidAt, reference)
	p, _ := args.Get(0).(*model.WeeklyPayment)
	return p, args.Error(1)
}

func (m *MockService) Get(ctx context.Context, id uuid.UUID) (*model.WeeklyPayment, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*model.WeeklyPayment)
	return p, args.Error(1)
}

func (m *MockService) ListByTherapist(ctx context.Context, therapistID uuid.UUID, page model.Pagination) ([]*model.WeeklyPayment, error) {
	args := m.Called(ctx, therapistID, page)
	return args.Get(0).([]*model.WeeklyPayment), args.Error(1)
}

func setup(svc Service, now time.Time) *gin.Engine {
	gin.SetMode(gin.TestMode)
	middleware.RegisterBindingValidators()
	h := NewHandler(svc)
	h.now = func() time.Time { return now }

	r := gin.New()
	r.Use(middleware.ErrorHandler())
	h.RegisterRoutes(&r.RouterGroup)
	return r
}

func request(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGenerate(t *testing.T) {
	svc := new(MockService)
	r := setup(svc, time.Now())

	therapistID := uuid.New()
	paymentID := uuid.New()
	monday := time.Date(2025, 10, 6, 0, 0, 0, 0, brisbane)
	sunday := time.Date(2025, 10, 12, 0, 0, 0, 0, brisbane)

	svc.On("ParseWeekStart", "2025-10-08").Return(monday, nil)
	svc.On("GenerateForTherapistWeek", mock.Anything, therapistID, monday, sunday).Return(&paymentID, nil)

	w := request(r, http.MethodPost, "/weekly-payments/generate",
		`{"therapist_id": "`+therapistID.String()+`", "week_start": "2025-10-08"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data generateResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, &paymentID, resp.Data.WeeklyPaymentID)
	assert.Equal(t, "2025-10-06", resp.Data.WeekStart)
	assert.Equal(t, "2025-10-12", resp.Data.WeekEnd)
	svc.AssertExpectations(t)
}

func TestGenerateNothingToPay(t *testing.T) {
	svc := new(MockService)
	r := setup(svc, time.Now())

	monday := time.Date(2025, 10, 6, 0, 0, 0, 0, brisbane)
	svc.On("ParseWeekStart", "2025-10-06").Return(monday, nil)
	svc.On("GenerateForTherapistWeek", mock.Anything, mock.Anything, monday, mock.Anything).Return(nil, nil)

	w := request(r, http.MethodPost, "/weekly-payments/generate",
		`{"therapist_id": "`+uuid.NewString()+`", "week_start": "2025-10-06"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"weekly_payment_id":null`)
}

func TestMarkPaidDefaultsPaidAt(t *testing.T) {
	svc := new(MockService)
	now := time.Date(2025, 10, 13, 9, 0, 0, 0, brisbane)
	r := setup(svc, now)

	id := uuid.New()
	amount := decimal.RequireFromString("412.50")
	svc.On("MarkPaid", mock.Anything, id, mock.MatchedBy(amount.Equal), now, "EFT-991").
		Return(&model.WeeklyPayment{PaymentStatus: model.WeeklyPaymentPaid}, nil)

	w := request(r, http.MethodPost, "/weekly-payments/"+id.String()+"/mark-paid",
		`{"amount": "412.50", "reference": "EFT-991"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestMarkPaidAlreadyPaid(t *testing.T) {
	svc := new(MockService)
	r := setup(svc, time.Now())

	id := uuid.New()
	svc.On("MarkPaid", mock.Anything, id, mock.Anything, mock.Anything, "EFT-1").
		Return(nil, apperrors.NewPolicyViolation(apperrors.ReasonAlreadyPaid, "weekly payment already paid"))

	w := request(r, http.MethodPost, "/weekly-payments/"+id.String()+"/mark-paid",
		`{"amount": 10, "reference": "EFT-1"}`)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestMarkPaidRejectsNonPositive(t *testing.T) {
	svc := new(MockService)
	r := setup(svc, time.Now())

	w := request(r, http.MethodPost, "/weekly-payments/"+uuid.NewString()+"/mark-paid",
		`{"amount": "-5", "reference": "EFT-1"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "MarkPaid", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestListRequiresTherapist(t *testing.T) {
	svc := new(MockService)
	r := setup(svc, time.Now())

	w := request(r, http.MethodGet, "/weekly-payments", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	therapistID := uuid.New()
	svc.On("ListByTherapist", mock.Anything, therapistID, model.Pagination{Page: 2, PageSize: 10}).
		Return([]*model.WeeklyPayment{}, nil)
	w = request(r, http.MethodGet, "/weekly-payments?therapist_id="+therapistID.String()+"&page=2&page_size=10", "")
	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}
