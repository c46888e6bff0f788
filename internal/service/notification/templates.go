package notification

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/jwalitptl/massage-booking/internal/model"
)

type Recipient string

const (
	RecipientCustomer  Recipient = "customer"
	RecipientTherapist Recipient = "therapist"
	RecipientAdmin     Recipient = "admin"
)

type messageTemplate struct {
	subject *template.Template
	body    *template.Template
	// sms is nil when the recipient gets no text message for the event.
	sms *template.Template
}

type templateKey struct {
	event     model.NotificationEventType
	recipient Recipient
}

// view is what templates render against.
type view struct {
	model.NotificationPayload
	CancelURL     string
	RescheduleURL string
}

func mustTemplate(key templateKey, subject, body, sms string) messageTemplate {
	name := fmt.Sprintf("%s/%s", key.event, key.recipient)
	t := messageTemplate{
		subject: template.Must(template.New(name + "/subject").Parse(subject)),
		body:    template.Must(template.New(name + "/body").Parse(body)),
	}
	if sms != "" {
		t.sms = template.Must(template.New(name + "/sms").Parse(sms))
	}
	return t
}

const signature = `
The bookings team`

var templates = func() map[templateKey]messageTemplate {
	defs := []struct {
		key                 templateKey
		subject, body, text string
	}{
		{
			templateKey{model.EventBookingCreated, RecipientCustomer},
			`Booking request {{.BookingCode}} received`,
			`Hi {{.CustomerName}},

We have received your booking request for {{.ServiceName}} on {{.LocalTime}} ({{.DurationMinutes}} minutes).
Total: ${{.Price.StringFixed 2}}

We will confirm once your therapist accepts.
{{if .CancelURL}}Cancel: {{.CancelURL}}
{{end}}{{if .RescheduleURL}}Reschedule: {{.RescheduleURL}}
{{end}}` + signature,
			`Booking {{.BookingCode}} received for {{.LocalTime}}. We'll confirm once your therapist accepts.`,
		},
		{
			templateKey{model.EventBookingCreated, RecipientAdmin},
			`New booking {{.BookingCode}}`,
			`{{.CustomerName}} booked {{.ServiceName}} on {{.LocalTime}} ({{.DurationMinutes}} minutes) for ${{.Price.StringFixed 2}}.
{{if .TherapistName}}Requested therapist: {{.TherapistName}}{{else}}No therapist selected yet.{{end}}`,
			``,
		},
		{
			templateKey{model.EventTherapistRequest, RecipientTherapist},
			`New job request {{.BookingCode}}`,
			`Hi {{.TherapistName}},

You have a new job request: {{.ServiceName}} on {{.LocalTime}} ({{.DurationMinutes}} minutes).
Your fee: ${{.TherapistFee.StringFixed 2}}

Please accept or decline in the therapist app.` + signature,
			`New job {{.BookingCode}}: {{.ServiceName}} {{.LocalTime}}, fee ${{.TherapistFee.StringFixed 2}}. Please respond in the app.`,
		},
		{
			templateKey{model.EventBookingConfirmed, RecipientCustomer},
			`Booking {{.BookingCode}} confirmed`,
			`Hi {{.CustomerName}},

Your booking for {{.ServiceName}} on {{.LocalTime}} is confirmed{{if .TherapistName}} with {{.TherapistName}}{{end}}.
{{if .CancelURL}}Cancel: {{.CancelURL}}
{{end}}{{if .RescheduleURL}}Reschedule: {{.RescheduleURL}}
{{end}}` + signature,
			`Booking {{.BookingCode}} confirmed for {{.LocalTime}}{{if .TherapistName}} with {{.TherapistName}}{{end}}.`,
		},
		{
			templateKey{model.EventBookingDeclined, RecipientCustomer},
			`Booking {{.BookingCode}} could not be accepted`,
			`Hi {{.CustomerName}},

Unfortunately your booking for {{.LocalTime}} could not be accepted.{{if .Reason}} Reason: {{.Reason}}.{{end}}
Any payment authorization has been released.` + signature,
			`Booking {{.BookingCode}} for {{.LocalTime}} could not be accepted. Your payment hold has been released.`,
		},
		{
			templateKey{model.EventBookingDeclined, RecipientAdmin},
			`Booking {{.BookingCode}} declined`,
			`Booking {{.BookingCode}} for {{.CustomerName}} on {{.LocalTime}} was declined.{{if .Reason}} Reason: {{.Reason}}.{{end}}`,
			``,
		},
		{
			templateKey{model.EventBookingCancelled, RecipientCustomer},
			`Booking {{.BookingCode}} cancelled`,
			`Hi {{.CustomerName}},

Your booking for {{.LocalTime}} has been cancelled.
{{if .RefundAmount}}Refund: ${{.RefundAmount.StringFixed 2}}
{{end}}{{if .CancellationFee}}Cancellation fee: ${{.CancellationFee.StringFixed 2}}
{{end}}` + signature,
			`Booking {{.BookingCode}} cancelled.{{if .RefundAmount}} Refund ${{.RefundAmount.StringFixed 2}}.{{end}}`,
		},
		{
			templateKey{model.EventBookingCancelled, RecipientTherapist},
			`Job {{.BookingCode}} cancelled`,
			`Hi {{.TherapistName}},

The job on {{.LocalTime}} for {{.CustomerName}} has been cancelled.` + signature,
			`Job {{.BookingCode}} on {{.LocalTime}} was cancelled.`,
		},
		{
			templateKey{model.EventBookingCancelled, RecipientAdmin},
			`Booking {{.BookingCode}} cancelled`,
			`Booking {{.BookingCode}} for {{.CustomerName}} on {{.LocalTime}} was cancelled.
{{if .RefundAmount}}Refund: ${{.RefundAmount.StringFixed 2}}
{{end}}{{if .CancellationFee}}Retained: ${{.CancellationFee.StringFixed 2}}
{{end}}{{if .Reason}}Reason: {{.Reason}}{{end}}`,
			``,
		},
		{
			templateKey{model.EventRescheduleRequested, RecipientCustomer},
			`Booking {{.BookingCode}} rescheduled`,
			`Hi {{.CustomerName}},

Your booking has moved{{if .PreviousTime}} from {{.PreviousTime}}{{end}} to {{.LocalTime}}.
{{if .PriceDifference}}Additional charge: ${{.PriceDifference.StringFixed 2}}
{{end}}We will confirm once your therapist accepts the new time.` + signature,
			`Booking {{.BookingCode}} moved to {{.LocalTime}}. We'll confirm once your therapist accepts.`,
		},
		{
			templateKey{model.EventRescheduleRequested, RecipientTherapist},
			`Reschedule request {{.BookingCode}}`,
			`Hi {{.TherapistName}},

Booking {{.BookingCode}} for {{.CustomerName}} has been rescheduled{{if .PreviousTime}} from {{.PreviousTime}}{{end}} to {{.LocalTime}}.
Your fee: ${{.TherapistFee.StringFixed 2}}

Please accept or decline in the therapist app.` + signature,
			`Booking {{.BookingCode}} moved to {{.LocalTime}}. Please respond in the app.`,
		},
	}

	out := make(map[templateKey]messageTemplate, len(defs))
	for _, d := range defs {
		out[d.key] = mustTemplate(d.key, d.subject, d.body, d.text)
	}
	return out
}()

type rendered struct {
	Subject string
	Body    string
	SMS     string
}

func render(event model.NotificationEventType, recipient Recipient, v *view) (*rendered, bool, error) {
	t, ok := templates[templateKey{event, recipient}]
	if !ok {
		return nil, false, nil
	}
	var out rendered
	var err error
	if out.Subject, err = execute(t.subject, v); err != nil {
		return nil, true, err
	}
	if out.Body, err = execute(t.body, v); err != nil {
		return nil, true, err
	}
	if t.sms != nil {
		if out.SMS, err = execute(t.sms, v); err != nil {
			return nil, true, err
		}
	}
	return &out, true, nil
}

func execute(t *template.Template, v *view) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
