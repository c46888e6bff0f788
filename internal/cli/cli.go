// Package cli holds the bookingctl commands. Each command is a kong struct
// whose Run method receives the shared *Context.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/massage-booking/internal/app"
	"github.com/jwalitptl/massage-booking/internal/config"
	"github.com/jwalitptl/massage-booking/internal/model"
	"github.com/jwalitptl/massage-booking/pkg/auth"
	"github.com/jwalitptl/massage-booking/pkg/logger"
)

type Context struct {
	Ctx    context.Context
	Config *config.Config
	Logger *logger.Logger
	Out    io.Writer

	MigrationsSource string

	app *app.App
}

// App connects to the database on first use; migrate and token never need it.
func (c *Context) App() (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	a, err := app.New(c.Ctx, c.Config, c.Logger)
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

func (c *Context) Close() error {
	if c.app == nil {
		return nil
	}
	return c.app.Close()
}

func (c *Context) print(v interface{}) error {
	enc := json.NewEncoder(c.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type QuoteCmd struct {
	Service  uuid.UUID     `help:"Service id." required:""`
	At       time.Time     `help:"Booking start (RFC3339)." required:""`
	Duration int           `help:"Duration in minutes." default:"60"`
	Discount float64       `help:"Discount percent."`
	Sessions int           `help:"Number of sessions in a package." default:"1"`
	Urgency  string        `help:"flexible, within_3_days or 24_hours. Empty means standard."`
}

func (cmd *QuoteCmd) Run(c *Context) error {
	urgency, err := ParseUrgency(cmd.Urgency)
	if err != nil {
		return err
	}
	a, err := c.App()
	if err != nil {
		return err
	}
	breakdown, err := a.Pricing.Quote(c.Ctx, &model.QuoteRequest{
		ServiceID:       cmd.Service,
		BookingTime:     cmd.At,
		DurationMinutes: cmd.Duration,
		SessionCount:    cmd.Sessions,
		DiscountPercent: cmd.Discount,
		Urgency:         urgency,
	})
	if err != nil {
		return err
	}
	return c.print(breakdown)
}

func ParseUrgency(value string) (model.Urgency, error) {
	switch u := model.Urgency(value); u {
	case model.UrgencyStandard, model.UrgencyFlexible, model.UrgencyWithin3Days, model.Urgency24Hours:
		return u, nil
	}
	return "", fmt.Errorf("unknown urgency %q", value)
}

type FeeCmd struct {
	Therapist uuid.UUID `help:"Therapist id." required:""`
	Service   uuid.UUID `help:"Service id." required:""`
	At        time.Time `help:"Booking start (RFC3339)." required:""`
	Duration  int       `help:"Duration in minutes." default:"60"`
}

func (cmd *FeeCmd) Run(c *Context) error {
	a, err := c.App()
	if err != nil {
		return err
	}
	fee, err := a.Fees.ComputeFee(c.Ctx, cmd.Therapist, cmd.Service, cmd.At, cmd.Duration)
	if err != nil {
		return err
	}
	return c.print(fee)
}

type PayrollCmd struct {
	Generate PayrollGenerateCmd `cmd:"" help:"Generate one therapist's weekly payment."`
	Run      PayrollRunCmd      `cmd:"" help:"Generate weekly payments for every therapist with unpaid work."`
}

type PayrollGenerateCmd struct {
	Therapist uuid.UUID `help:"Therapist id." required:""`
	Week      string    `help:"Any date in the week, YYYY-MM-DD." required:""`
}

func (cmd *PayrollGenerateCmd) Run(c *Context) error {
	a, err := c.App()
	if err != nil {
		return err
	}
	start, err := a.Payroll.ParseWeekStart(cmd.Week)
	if err != nil {
		return err
	}
	id, err := a.Payroll.GenerateForTherapistWeek(c.Ctx, cmd.Therapist, start, start.AddDate(0, 0, 6))
	if err != nil {
		return err
	}
	if id == nil {
		fmt.Fprintln(c.Out, "no unpaid completed work for that week")
		return nil
	}
	return c.print(map[string]interface{}{"weekly_payment_id": id, "week_start": start.Format(time.DateOnly)})
}

type PayrollRunCmd struct {
	Week string `help:"Any date in the week, YYYY-MM-DD. Defaults to last week."`
}

func (cmd *PayrollRunCmd) Run(c *Context) error {
	a, err := c.App()
	if err != nil {
		return err
	}
	start, _ := a.Payroll.LastWeek()
	if cmd.Week != "" {
		if start, err = a.Payroll.ParseWeekStart(cmd.Week); err != nil {
			return err
		}
	}
	ids, err := a.Payroll.GenerateForWeek(c.Ctx, start)
	if printErr := c.print(map[string]interface{}{
		"week_start":         start.Format(time.DateOnly),
		"weekly_payment_ids": ids,
	}); printErr != nil {
		return printErr
	}
	return err
}

type SweepCmd struct{}

func (cmd *SweepCmd) Run(c *Context) error {
	a, err := c.App()
	if err != nil {
		return err
	}
	n, err := a.Bookings.ExpireUnanswered(c.Ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "expired %d unanswered booking requests\n", n)
	return nil
}

type TokenCmd struct {
	Subject string        `help:"Admin email or therapist id." required:""`
	Role    string        `help:"admin or therapist." enum:"admin,therapist" default:"admin"`
	Email   string        `help:"Email claim."`
	TTL     time.Duration `help:"Token lifetime." default:"12h"`
}

func (cmd *TokenCmd) Run(c *Context) error {
	if cmd.Role == auth.RoleTherapist {
		if _, err := uuid.Parse(cmd.Subject); err != nil {
			return fmt.Errorf("therapist tokens need the therapist id as subject: %w", err)
		}
	}
	svc, err := auth.NewJWTService(c.Config.JWT.Secret, c.Config.JWT.Issuer)
	if err != nil {
		return err
	}
	token, err := svc.GenerateAccessToken(cmd.Subject, cmd.Role, cmd.Email, cmd.TTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.Out, token)
	return nil
}
