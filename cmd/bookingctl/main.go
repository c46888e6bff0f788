package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/jwalitptl/massage-booking/internal/app"
	"github.com/jwalitptl/massage-booking/internal/cli"
	"github.com/jwalitptl/massage-booking/internal/config"
)

var CLI struct {
	Version    kong.VersionFlag
	Migrations string `help:"Migration source URL." default:"file://migrations"`

	Quote   cli.QuoteCmd   `cmd:"" help:"Quote a client price."`
	Fee     cli.FeeCmd     `cmd:"" help:"Compute a therapist fee."`
	Payroll cli.PayrollCmd `cmd:"" help:"Weekly therapist payments."`
	Sweep   cli.SweepCmd   `cmd:"" help:"Expire booking requests no therapist answered in time."`
	Token   cli.TokenCmd   `cmd:"" help:"Mint an API access token."`
	Migrate cli.MigrateCmd `cmd:"" help:"Manage the database schema."`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("bookingctl"),
		kong.Description("Operator tool for the massage booking service"),
		kong.UsageOnError(),
		kong.Vars{"version": "v0.1.0"},
	)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appCtx := &cli.Context{
		Ctx:              runCtx,
		Config:           cfg,
		Logger:           app.NewLogger(cfg, "bookingctl"),
		Out:              os.Stdout,
		MigrationsSource: CLI.Migrations,
	}

	err = ctx.Run(appCtx)
	if closeErr := appCtx.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
