package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jwalitptl/massage-booking/internal/model"
	"github.com/jwalitptl/massage-booking/internal/payment"
	"github.com/jwalitptl/massage-booking/internal/repository"
	"github.com/jwalitptl/massage-booking/internal/service/pricing"
	apperrors "github.com/jwalitptl/massage-booking/pkg/errors"
	"github.com/jwalitptl/massage-booking/pkg/logger"
	"github.com/jwalitptl/massage-booking/pkg/metrics"
	"github.com/jwalitptl/massage-booking/pkg/token"
	"github.com/jwalitptl/massage-booking/pkg/validator"
)

const (
	changedByCustomer = "customer"
	changedBySystem   = "system"

	staleSweepLimit = 100
)

type PriceCalculator interface {
	ComputePrice(ctx context.Context, in pricing.PriceInput) (*model.PriceBreakdown, error)
	UpliftFor(ctx context.Context, t time.Time) (decimal.Decimal, error)
}

type FeeCalculator interface {
	ComputeFee(ctx context.Context, therapistID, serviceID uuid.UUID, bookingTime time.Time, durationMinutes int) (*model.FeeBreakdown, error)
}

type Config struct {
	Location   *time.Location
	CodePrefix string
	// ResponseWindow is how long a therapist has to accept a pending booking.
	ResponseWindow time.Duration
}

type Option func(*Service)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

type Service struct {
	bookings   repository.BookingRepository
	services   repository.ServiceRepository
	therapists repository.TherapistRepository
	pricing    PriceCalculator
	fees       FeeCalculator
	gateway    payment.Gateway
	notifier   Notifier
	validate   validator.Validator
	cfg        Config
	logger     *logger.Logger
	tracer     trace.Tracer
	now        func() time.Time
	pending    conc.WaitGroup
}

func NewService(
	bookings repository.BookingRepository,
	services repository.ServiceRepository,
	therapists repository.TherapistRepository,
	prices PriceCalculator,
	fees FeeCalculator,
	gateway payment.Gateway,
	notifier Notifier,
	cfg Config,
	log *logger.Logger,
	opts ...Option,
) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.CodePrefix == "" {
		cfg.CodePrefix = "RB"
	}
	if cfg.ResponseWindow <= 0 {
		cfg.ResponseWindow = 2 * time.Hour
	}

	s := &Service{
		bookings:   bookings,
		services:   services,
		therapists: therapists,
		pricing:    prices,
		fees:       fees,
		gateway:    gateway,
		notifier:   notifier,
		validate:   validator.New(),
		cfg:        cfg,
		logger:     log,
		tracer:     otel.Tracer("github.com/jwalitptl/massage-booking/internal/service/booking"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Create(ctx context.Context, req *model.CreateBookingRequest) (_ *model.CreatedBooking, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Create")
	defer func() { endSpan(span, err) }()

	if err := s.validate.Validate(req); err != nil {
		return nil, err
	}
	now := s.now()
	if !req.BookingTime.After(now) {
		return nil, apperrors.NewBadRequest("booking time must be in the future", nil)
	}

	svc, err := s.loadService(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}
	if req.DurationMinutes < svc.MinDurationMinutes {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("%s requires at least %d minutes", svc.Name, svc.MinDurationMinutes), nil).
			WithDetails(map[string]interface{}{"minimum_minutes": svc.MinDurationMinutes})
	}

	price, err := s.pricing.ComputePrice(ctx, pricing.PriceInput{
		BasePrice:       svc.BasePrice,
		DurationMinutes: req.DurationMinutes,
		BookingTime:     req.BookingTime,
		DiscountPercent: decimal.NewFromFloat(req.DiscountPercent),
		Urgency:         model.UrgencyStandard,
	})
	if err != nil {
		return nil, err
	}

	b := &model.Booking{
		Base:            model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		CustomerID:      req.CustomerID,
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		ServiceID:       req.ServiceID,
		BookingTime:     req.BookingTime,
		Timezone:        s.cfg.Location.String(),
		DurationMinutes: req.DurationMinutes,
		Address:         req.Address,
		Notes:           req.Notes,
		Status:          model.BookingStatusRequested,
		Price:           price.Total,
		TherapistFee:    decimal.Zero,
		DiscountAmount:  price.Discount,
		TaxAmount:       price.GST,
		PaymentStatus:   model.PaymentStatusPending,
	}

	if req.TherapistID != nil {
		if _, err := s.loadTherapist(ctx, *req.TherapistID); err != nil {
			return nil, err
		}
		fee, err := s.fees.ComputeFee(ctx, *req.TherapistID, req.ServiceID, req.BookingTime, req.DurationMinutes)
		if err != nil {
			return nil, err
		}
		therapistID := *req.TherapistID
		b.TherapistID = &therapistID
		b.TherapistFee = fee.Fee
		b.Status = model.BookingStatusPending
	}

	if req.PaymentIntentID != "" {
		intentID := req.PaymentIntentID
		b.PaymentIntentID = &intentID
		b.PaymentStatus = model.PaymentStatusAuthorized
	}

	code, err := s.bookings.NextBookingCode(ctx, s.cfg.CodePrefix, now.In(s.cfg.Location))
	if err != nil {
		return nil, fmt.Errorf("failed to allocate booking code: %w", err)
	}
	b.BookingCode = code

	tokens, err := token.NewPair()
	if err != nil {
		return nil, fmt.Errorf("failed to issue link tokens: %w", err)
	}
	b.CancelTokenHash = token.Hash(tokens.Cancel)
	b.RescheduleTokenHash = token.Hash(tokens.Reschedule)

	entry := &model.StatusHistoryEntry{
		ID:        uuid.New(),
		BookingID: b.ID,
		Status:    b.Status,
		ChangedBy: changedByCustomer,
		ChangedAt: now,
		Notes:     "booking created",
	}
	if err := s.bookings.Create(ctx, b, entry); err != nil {
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}
	metrics.BookingTransitions.WithLabelValues("new", string(b.Status)).Inc()
	span.SetAttributes(attribute.String("booking.code", b.BookingCode))

	s.logger.Info("Booking created",
		"booking_id", b.BookingCode,
		"status", string(b.Status),
		"price", b.Price.StringFixed(2))

	notes := []notification{{
		event:   model.EventBookingCreated,
		booking: *b,
		extra: func(p *model.NotificationPayload) {
			p.CancelToken = tokens.Cancel
			p.RescheduleToken = tokens.Reschedule
		},
	}}
	if b.TherapistID != nil {
		notes = append(notes, notification{event: model.EventTherapistRequest, booking: *b})
	}
	s.notifyAsync(ctx, notes...)

	return &model.CreatedBooking{
		Booking:         b,
		CancelToken:     tokens.Cancel,
		RescheduleToken: tokens.Reschedule,
	}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	b, err := s.bookings.Get(ctx, id)
	if err != nil {
		return nil, notFound(err, "failed to get booking")
	}
	return b, nil
}

func (s *Service) GetByCode(ctx context.Context, code string) (*model.Booking, error) {
	b, err := s.bookings.GetByCode(ctx, code)
	if err != nil {
		return nil, notFound(err, "failed to get booking")
	}
	return b, nil
}

func (s *Service) List(ctx context.Context, filter *model.BookingFilter) ([]*model.Booking, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown status %q", filter.Status), nil)
	}
	bookings, err := s.bookings.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}

func (s *Service) History(ctx context.Context, id uuid.UUID) ([]*model.StatusHistoryEntry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	entries, err := s.bookings.History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking history: %w", err)
	}
	return entries, nil
}

// Accept confirms a pending booking on behalf of its assigned therapist.
func (s *Service) Accept(ctx context.Context, id, therapistID uuid.UUID) (_ *model.Booking, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Accept")
	defer func() { endSpan(span, err) }()

	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard("accept", b, model.BookingStatusConfirmed); err != nil {
		return nil, err
	}
	if err := assignedTo(b, therapistID); err != nil {
		return nil, err
	}

	expected := b.Status
	b.Status = model.BookingStatusConfirmed
	if err := s.commit(ctx, "accept", b, expected, therapistID.String(), "accepted by therapist", nil); err != nil {
		return nil, err
	}

	s.notifyAsync(ctx, notification{event: model.EventBookingConfirmed, booking: *b})
	return b, nil
}

// Decline hands a pending booking back. With seekAlternate the booking stays
// open without a therapist; otherwise it is closed and any hold released.
func (s *Service) Decline(ctx context.Context, id, therapistID uuid.UUID, seekAlternate bool, reason string) (_ *model.Booking, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Decline")
	defer func() { endSpan(span, err) }()

	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	target := model.BookingStatusDeclined
	if seekAlternate {
		target = model.BookingStatusSeekingAlternate
	}
	if err := s.guard("decline", b, target); err != nil {
		return nil, err
	}
	if b.Status != model.BookingStatusPending {
		return nil, s.reject("decline", ErrInvalidTransition)
	}
	if err := assignedTo(b, therapistID); err != nil {
		return nil, err
	}

	expected := b.Status
	if seekAlternate {
		b.TherapistID = nil
		b.TherapistFee = decimal.Zero
	} else {
		steps := settlementPlan(b, decimal.Zero)
		if err := s.executePlan(ctx, b, steps); err != nil {
			return nil, s.reject("decline", ErrReleaseFailed.Wrap(err))
		}
		b.PaymentStatus = paymentStatusAfter(b, steps, decimal.Zero)
	}
	b.Status = target

	if err := s.commit(ctx, "decline", b, expected, therapistID.String(), reason, nil); err != nil {
		return nil, err
	}

	s.notifyAsync(ctx, notification{event: model.EventBookingDeclined, booking: *b, extra: withReason(reason)})
	return b, nil
}

// Reassign offers an unconfirmed booking to another therapist.
func (s *Service) Reassign(ctx context.Context, id, therapistID uuid.UUID, changedBy string) (_ *model.Booking, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Reassign")
	defer func() { endSpan(span, err) }()

	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard("reassign", b, model.BookingStatusPending); err != nil {
		return nil, err
	}
	switch b.Status {
	case model.BookingStatusRequested, model.BookingStatusPending,
		model.BookingStatusSeekingAlternate, model.BookingStatusTimeoutReassigned:
	default:
		return nil, s.reject("reassign", ErrInvalidTransition)
	}

	if _, err := s.loadTherapist(ctx, therapistID); err != nil {
		return nil, err
	}
	fee, err := s.fees.ComputeFee(ctx, therapistID, b.ServiceID, b.BookingTime, b.DurationMinutes)
	if err != nil {
		return nil, err
	}

	expected := b.Status
	b.TherapistID = &therapistID
	b.TherapistFee = fee.Fee
	b.Status = model.BookingStatusPending
	if err := s.commit(ctx, "reassign", b, expected, changedBy, "offered to therapist "+therapistID.String(), nil); err != nil {
		return nil, err
	}

	s.notifyAsync(ctx, notification{event: model.EventTherapistRequest, booking: *b})
	return b, nil
}

// ExpireUnanswered moves pending bookings nobody accepted within the
// response window to timeout_reassigned. It returns how many moved.
func (s *Service) ExpireUnanswered(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.ResponseWindow)
	stale, err := s.bookings.ListStalePending(ctx, cutoff, staleSweepLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale bookings: %w", err)
	}

	var errs []error
	moved := 0
	for _, b := range stale {
		expected := b.Status
		b.Status = model.BookingStatusTimeoutReassigned
		err := s.commit(ctx, "expire", b, expected, changedBySystem, "therapist did not respond", nil)
		switch {
		case err == nil:
			moved++
		case errors.Is(err, ErrAlreadyClosed):
			// accepted or cancelled since the sweep read it
		default:
			errs = append(errs, fmt.Errorf("booking %s: %w", b.BookingCode, err))
		}
	}
	if moved > 0 {
		s.logger.Info("Expired unanswered bookings", "count", moved)
	}
	return moved, errors.Join(errs...)
}

func (s *Service) Start(ctx context.Context, id uuid.UUID, changedBy string) (_ *model.Booking, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Start")
	defer func() { endSpan(span, err) }()

	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard("start", b, model.BookingStatusInProgress); err != nil {
		return nil, err
	}

	expected := b.Status
	b.Status = model.BookingStatusInProgress
	if err := s.commit(ctx, "start", b, expected, changedBy, "session started", nil); err != nil {
		return nil, err
	}
	return b, nil
}

// Complete closes the booking, captures the held payment and records the
// therapist assignment used by weekly payroll.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, changedBy string) (_ *model.Booking, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Complete")
	defer func() { endSpan(span, err) }()

	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard("complete", b, model.BookingStatusCompleted); err != nil {
		return nil, err
	}
	if b.TherapistID == nil {
		return nil, apperrors.NewBadRequest("booking has no therapist assigned", nil)
	}

	if b.HasPaymentIntent() && b.PaymentStatus == model.PaymentStatusAuthorized {
		if amount := b.PrimaryAmount(); amount.IsPositive() {
			if err := s.gateway.CapturePartial(ctx, *b.PaymentIntentID, amount); err != nil {
				return nil, s.reject("complete", ErrCaptureFailed.Wrap(err))
			}
		}
		b.PaymentStatus = model.PaymentStatusPaid
	}

	now := s.now()
	expected := b.Status
	b.Status = model.BookingStatusCompleted
	assignment := &model.Assignment{
		ID:           uuid.New(),
		BookingID:    b.ID,
		TherapistID:  *b.TherapistID,
		HoursWorked:  HoursWorked(b.DurationMinutes),
		TherapistFee: b.TherapistFee,
		CompletedAt:  now,
	}
	if err := s.commit(ctx, "complete", b, expected, changedBy, "session completed", assignment); err != nil {
		return nil, err
	}
	return b, nil
}

// guard rejects terminal bookings and edges missing from the transition table.
func (s *Service) guard(op string, b *model.Booking, to model.BookingStatus) error {
	if b.Status.IsTerminal() {
		return s.reject(op, ErrAlreadyClosed.WithDetails(map[string]interface{}{"status": b.Status}))
	}
	if !model.CanTransition(b.Status, to) {
		return s.reject(op, ErrInvalidTransition.WithDetails(map[string]interface{}{
			"from": b.Status,
			"to":   to,
		}))
	}
	return nil
}

// commit persists b conditionally on the stored row still having status
// expected and the version b was read at. A lost race, including a
// pending -> pending write by someone else, reports AlreadyClosed.
func (s *Service) commit(ctx context.Context, op string, b *model.Booking, expected model.BookingStatus, changedBy, notes string, assignment *model.Assignment) error {
	if !model.CanTransition(expected, b.Status) {
		return s.reject(op, ErrInvalidTransition)
	}

	now := s.now()
	readVersion := b.Version
	b.Version = readVersion + 1
	b.UpdatedAt = now
	write := &repository.TransitionWrite{
		Booking:         b,
		Expected:        expected,
		ExpectedVersion: readVersion,
		Entry: &model.StatusHistoryEntry{
			ID:         uuid.New(),
			BookingID:  b.ID,
			FromStatus: expected,
			Status:     b.Status,
			ChangedBy:  changedBy,
			ChangedAt:  now,
			Notes:      notes,
		},
		Assignment: assignment,
	}

	if err := s.bookings.Transition(ctx, write); err != nil {
		b.Version = readVersion
		if errors.Is(err, repository.ErrStaleStatus) {
			return s.reject(op, ErrAlreadyClosed)
		}
		return fmt.Errorf("failed to %s booking: %w", op, err)
	}

	metrics.BookingTransitions.WithLabelValues(string(expected), string(b.Status)).Inc()
	s.logger.Info("Booking transitioned",
		"booking_id", b.BookingCode,
		"operation", op,
		"from", string(expected),
		"to", string(b.Status),
		"changed_by", changedBy)
	return nil
}

func (s *Service) executePlan(ctx context.Context, b *model.Booking, steps []paymentStep) error {
	for _, st := range steps {
		var err error
		switch st.kind {
		case stepRelease:
			err = s.gateway.CancelAuthorization(ctx, st.intentID)
		case stepCapture:
			err = s.gateway.CapturePartial(ctx, st.intentID, st.amount)
		case stepRefund:
			err = s.gateway.Refund(ctx, st.intentID, st.amount)
		}
		if err != nil {
			s.logger.Error(err, "Payment step failed",
				"booking_id", b.BookingCode,
				"step", string(st.kind),
				"amount", st.amount.StringFixed(2))
			return fmt.Errorf("%s %s: %w", st.kind, st.amount.StringFixed(2), err)
		}
	}
	return nil
}

func (s *Service) reject(op string, err error) error {
	reason := "unknown"
	if appErr, ok := apperrors.As(err); ok && appErr.Reason != "" {
		reason = appErr.Reason
	}
	metrics.PolicyRejections.WithLabelValues(op, reason).Inc()
	return err
}

func (s *Service) loadService(ctx context.Context, id uuid.UUID) (*model.Service, error) {
	svc, err := s.services.Get(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, "service", "failed to get service")
	}
	if !svc.Active {
		return nil, apperrors.NewBadRequest("service is not available", nil)
	}
	return svc, nil
}

func (s *Service) loadTherapist(ctx context.Context, id uuid.UUID) (*model.Therapist, error) {
	th, err := s.therapists.Get(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, "therapist", "failed to get therapist")
	}
	if !th.Active {
		return nil, apperrors.NewBadRequest("therapist is not available", nil)
	}
	return th, nil
}

func assignedTo(b *model.Booking, therapistID uuid.UUID) error {
	if b.TherapistID == nil || *b.TherapistID != therapistID {
		return apperrors.Forbidden("booking is assigned to another therapist")
	}
	return nil
}

func notFound(err error, msg string) error {
	return notFoundAs(err, "booking", msg)
}

func notFoundAs(err error, resource, msg string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound(resource, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
