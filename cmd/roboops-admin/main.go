// roboops-admin is the operator CLI: migrations, dev seeding, and quick
// inspection of runs, invoices, and the live event stream.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/telbill/robo-ops/config"
	"github.com/telbill/robo-ops/internal/bootstrap"
	"github.com/telbill/robo-ops/internal/data"
	"github.com/telbill/robo-ops/internal/devseed"
	"github.com/telbill/robo-ops/internal/domain/event"
	"github.com/telbill/robo-ops/internal/stream"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

const defaultMigrationTimeout = 5 * time.Minute

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrate,
		},
		"db-seed": {
			name:        "db-seed",
			description: "Run database migrations and seed development contracts",
			run:         runDBSeed,
		},
		"list-runs": {
			name:        "list-runs",
			description: "List active job runs",
			run:         runListRuns,
		},
		"list-invoices": {
			name:        "list-invoices",
			description: "List pending invoices awaiting approval",
			run:         runListInvoices,
		},
		"watch": {
			name:        "watch",
			description: "Tail the live event stream until interrupted",
			run:         runWatch,
		},
	}
}

func printUsage() error {
	if err := writef(os.Stdout, "Usage: roboops-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Available commands:\n"); err != nil {
		return err
	}
	for _, c := range commands() {
		if err := writef(os.Stdout, "  %-16s %s\n", c.name, c.description); err != nil {
			return err
		}
	}
	return nil
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func connectDB(cmdCtx *commandContext) (*sql.DB, error) {
	return bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig:    cmdCtx.Config.Postgres,
		RedisConfig: cmdCtx.Config.Redis,
		Logger:      cmdCtx.Logger,
	})
}

func closeDB(logger *slog.Logger, db *sql.DB) {
	if err := db.Close(); err != nil {
		logger.Warn("db close failed", "error", err)
	}
}

func runMigrate(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	timeout := fs.Duration("timeout", defaultMigrationTimeout, "migration timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, *timeout)
	defer cancel()

	db, err := connectDB(cmdCtx)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx.Logger, db)

	if err := data.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	cmdCtx.Logger.InfoContext(ctx, "migrations applied")
	return nil
}

func runDBSeed(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("db-seed", flag.ContinueOnError)
	timeout := fs.Duration("timeout", defaultMigrationTimeout, "seed timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, *timeout)
	defer cancel()

	db, err := connectDB(cmdCtx)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx.Logger, db)

	if err := data.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if err := devseed.Run(ctx, db, cmdCtx.Logger); err != nil {
		return fmt.Errorf("seed contracts: %w", err)
	}
	return nil
}

func runListRuns(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("list-runs", flag.ContinueOnError)
	limit := fs.Int("limit", 50, "maximum rows to print (0 for all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, time.Minute)
	defer cancel()

	db, err := connectDB(cmdCtx)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx.Logger, db)

	runs, err := data.NewRunRepo(db).ListActive(ctx, *limit)
	if err != nil {
		return fmt.Errorf("list active runs: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writef(tw, "ID\tCONTRACT\tSTATE\tATTEMPT\tSTARTED\n"); err != nil {
		return err
	}
	for _, r := range runs {
		started := "-"
		if r.StartedAt != nil {
			started = r.StartedAt.Format(time.RFC3339)
		}
		if err := writef(tw, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.ContractID, r.State, r.AttemptCount, started); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func runListInvoices(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("list-invoices", flag.ContinueOnError)
	limit := fs.Int("limit", 50, "maximum rows to print (0 for all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, time.Minute)
	defer cancel()

	db, err := connectDB(cmdCtx)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx.Logger, db)

	invoices, err := data.NewInvoiceRepo(db).ListPending(ctx, *limit)
	if err != nil {
		return fmt.Errorf("list pending invoices: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writef(tw, "ID\tCLIENT\tCARRIER\tAMOUNT\tDUE\tRUN\n"); err != nil {
		return err
	}
	for _, inv := range invoices {
		runID := "-"
		if inv.RunID != nil {
			runID = *inv.RunID
		}
		if err := writef(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			inv.ID, inv.ClientID, inv.CarrierID, formatCents(inv.AmountCents),
			inv.DueDate.Format("2006-01-02"), runID); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

func runWatch(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	endpoint := fs.String("endpoint", "", "stream endpoint (defaults to APP_BASE_URL + /api/stream)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	target := *endpoint
	if target == "" {
		derived, err := streamURL(cmdCtx.Config.HTTP.BaseURL)
		if err != nil {
			return err
		}
		target = derived
	}

	ctx, cancel := signal.NotifyContext(cmdCtx.Ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := stream.NewClient(stream.ClientOptions{
		Dialer: stream.WebsocketDialer{URL: target, Origin: cmdCtx.Config.HTTP.BaseURL},
		OnEvent: func(env event.Envelope) {
			printEnvelope(cmdCtx.Logger, env)
		},
		OnState: func(state stream.SessionState) {
			cmdCtx.Logger.Info("session state", "state", state)
		},
		Logger:            cmdCtx.Logger,
		BaseDelay:         cmdCtx.Config.Stream.ReconnectBaseDelay,
		MaxAttempts:       cmdCtx.Config.Stream.ReconnectMaxAttempts,
		HeartbeatInterval: cmdCtx.Config.Stream.HeartbeatInterval,
	})
	if err != nil {
		return err
	}

	cmdCtx.Logger.InfoContext(ctx, "watching event stream", "endpoint", target)
	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// streamURL rewrites the HTTP base URL into the websocket stream endpoint.
func streamURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base URL %q: %w", base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/stream"
	return u.String(), nil
}

func printEnvelope(logger *slog.Logger, env event.Envelope) {
	payload, known, err := event.ParsePayload(env)
	if err != nil || !known {
		return
	}

	switch p := payload.(type) {
	case event.RunCreated:
		logger.Info("event", "kind", env.Kind, "run", p.Run.ID, "contract", p.Run.ContractID, "state", p.Run.State)
	case event.RunUpdated:
		logger.Info("event", "kind", env.Kind, "run", p.Run.ID, "contract", p.Run.ContractID, "state", p.Run.State)
	case event.InvoiceCreated:
		logger.Info("event", "kind", env.Kind, "invoice", p.Invoice.ID, "client", p.Invoice.ClientID, "amount", formatCents(p.Invoice.AmountCents))
	case event.InvoiceApproved:
		logger.Info("event", "kind", env.Kind, "invoice", p.Invoice.ID, "state", p.Invoice.State)
	case event.InvoiceRejected:
		logger.Info("event", "kind", env.Kind, "invoice", p.Invoice.ID, "state", p.Invoice.State)
	case event.SystemStatus:
		logger.Info("snapshot", "active_runs", len(p.ActiveRuns), "pending_invoices", len(p.PendingInvoices))
	default:
		logger.Info("event", "kind", env.Kind)
	}
}
