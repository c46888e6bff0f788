package booking

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/jwalitptl/massage-booking/internal/model"
	"github.com/jwalitptl/massage-booking/pkg/metrics"
)

const localTimeLayout = "Monday 2 January 2006, 3:04 PM"

// Notifier hands a fully formed event to the delivery pipeline. Rendering
// and channel selection happen on the other side.
type Notifier interface {
	Notify(ctx context.Context, eventType model.NotificationEventType, payload *model.NotificationPayload) error
}

// notification is one event queued after a committed transition.
type notification struct {
	event   model.NotificationEventType
	booking model.Booking
	extra   func(p *model.NotificationPayload)
}

func withRefund(refund, fee decimal.Decimal) func(*model.NotificationPayload) {
	return func(p *model.NotificationPayload) {
		p.RefundAmount = &refund
		p.CancellationFee = &fee
	}
}

func withReason(reason string) func(*model.NotificationPayload) {
	return func(p *model.NotificationPayload) {
		p.Reason = reason
	}
}

// notifyAsync never blocks the caller and never reports failure upward.
// Delivery uses a context detached from the request so it outlives it.
func (s *Service) notifyAsync(ctx context.Context, notes ...notification) {
	if s.notifier == nil || len(notes) == 0 {
		return
	}
	detached := context.WithoutCancel(ctx)

	s.pending.Go(func() {
		for _, n := range notes {
			payload := s.buildPayload(detached, &n.booking)
			if n.extra != nil {
				n.extra(payload)
			}
			if err := s.notifier.Notify(detached, n.event, payload); err != nil {
				metrics.NotificationEmitFailures.WithLabelValues(string(n.event)).Inc()
				s.logger.Error(err, "Failed to queue notification",
					"event_type", string(n.event),
					"booking_id", n.booking.BookingCode)
			}
		}
	})
}

// Wait blocks until queued notifications have been handed to the notifier.
func (s *Service) Wait() {
	s.pending.Wait()
}

func (s *Service) buildPayload(ctx context.Context, b *model.Booking) *model.NotificationPayload {
	p := &model.NotificationPayload{
		BookingID:       b.ID,
		BookingCode:     b.BookingCode,
		BookingTime:     b.BookingTime,
		LocalTime:       b.BookingTime.In(s.cfg.Location).Format(localTimeLayout),
		DurationMinutes: b.DurationMinutes,
		CustomerName:    b.CustomerName,
		CustomerEmail:   b.CustomerEmail,
		CustomerPhone:   b.CustomerPhone,
		Price:           b.Price,
		TherapistFee:    b.TherapistFee,
	}

	if svc, err := s.services.Get(ctx, b.ServiceID); err == nil {
		p.ServiceName = svc.Name
	} else {
		s.logger.Warn("Notification without service name", "booking_id", b.BookingCode, "error", err.Error())
	}

	if b.TherapistID != nil {
		if th, err := s.therapists.Get(ctx, *b.TherapistID); err == nil {
			p.TherapistName = th.FullName()
			p.TherapistEmail = th.Email
			p.TherapistPhone = th.Phone
		} else {
			s.logger.Warn("Notification without therapist details", "booking_id", b.BookingCode, "error", err.Error())
		}
	}

	if b.OriginalBookingTime != nil && b.RescheduleCount > 0 {
		p.PreviousTime = b.OriginalBookingTime.In(s.cfg.Location).Format(localTimeLayout)
	}
	return p
}
