// Command email-worker is the seeker asynchronous email dispatch worker.
//
// Subcommands:
//
//	worker   — run the dispatch loop (recovery sweep + LISTEN consumer)
//	migrate  — run pending database migrations and exit
//	enqueue  — insert a job into the email queue (local testing)
//	jobs     — list queue rows with optional filters
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	// Embeds the IANA timezone database in the binary so that
	// time.LoadLocation works inside distroless containers that have no
	// /usr/share/zoneinfo.
	_ "time/tzdata"

	// Automatically sets GOMEMLIMIT from the cgroup memory limit so that
	// the Go GC triggers before the OOM killer fires in containers.
	_ "github.com/KimMachineGun/automemlimit"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rrbarrero/seeker/internal/config"
	"github.com/rrbarrero/seeker/internal/listen"
	"github.com/rrbarrero/seeker/internal/mail"
	"github.com/rrbarrero/seeker/internal/ops"
	"github.com/rrbarrero/seeker/internal/store"
	"github.com/rrbarrero/seeker/internal/telemetry"
	"github.com/rrbarrero/seeker/internal/worker"
	"github.com/rrbarrero/seeker/migrations"
)

func main() {
	// Local development convenience; a missing .env file is not an error.
	_ = godotenv.Load() //nolint:errcheck

	root := &cobra.Command{
		Use:   "email-worker",
		Short: "seeker — asynchronous email dispatch worker",
		// Silence default error printing; we print it ourselves with slog.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(
		workerCmd(),
		migrateCmd(),
		enqueueCmd(),
		jobsCmd(),
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// ── worker ────────────────────────────────────────────────────────────────────

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the email dispatch loop",
		RunE:  runWorker,
	}
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	// Observability is best-effort: a bad OTLP endpoint degrades to
	// local-only logging, never to a startup failure.
	shutdownTracing, err := telemetry.Init(cmd.Context(), cfg.ObsEnabled, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		slog.Warn("observability disabled", "error", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("trace flush failed", "error", err)
		}
	}()

	// The initial database connection is the one fatal startup dependency.
	db, err := newPool(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if cfg.OpsAddr != "" {
		srv := &http.Server{ //nolint:exhaustruct
			Addr:              cfg.OpsAddr,
			Handler:           ops.NewRouter(db),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("ops server started", "addr", cfg.OpsAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				slog.Error("ops server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()
	}

	w := worker.New(
		store.New(db, cfg.ClaimTimeout),
		newSender(cfg),
		listen.New(cfg.DatabaseURL, cfg.NotifyChannel),
		worker.Config{
			ReconnectDelay: cfg.ReconnectDelay,
			SweepInterval:  cfg.SweepInterval,
		},
	)

	slog.Info("email worker started", "channel", cfg.NotifyChannel)
	return w.Run(ctx) // blocks until SIGTERM/SIGINT, then returns nil
}

// newSender selects the delivery transport: SMTP when a host is configured,
// stdout otherwise.
func newSender(cfg *config.Config) mail.Sender {
	if cfg.SMTPHost == "" {
		slog.Info("SMTP not configured, using stdout sender")
		return mail.NewStdoutSender()
	}
	return mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		From:     cfg.SMTPFrom,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		TLS:      cfg.SMTPTLS,
	})
}

// ── migrate ───────────────────────────────────────────────────────────────────

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run pending database migrations and exit",
		RunE:  runMigrate,
	}
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.Info("running migrations")

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	// golang-migrate requires a *sql.DB. Use pgx's stdlib adapter so the
	// same driver is used project-wide. No pooling needed for a one-shot run.
	connCfg, err := pgx.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse db url: %w", err)
	}
	connCfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	db := stdlib.OpenDB(*connCfg)
	defer db.Close() //nolint:errcheck

	driver, err := migratepg.WithInstance(db, &migratepg.Config{MultiStatementEnabled: true})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	version, _, _ := m.Version() //nolint:errcheck
	slog.Info("migrations complete", "version", version)
	return nil
}

// ── enqueue ───────────────────────────────────────────────────────────────────

func enqueueCmd() *cobra.Command {
	var to, subject, body, user string
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Insert a job into the email queue (local testing)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			db, err := newPool(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("database: %w", err)
			}
			defer db.Close()

			params := store.EnqueueParams{To: to, Subject: subject, Body: body}
			if user != "" {
				uid, err := uuid.Parse(user)
				if err != nil {
					return fmt.Errorf("parse --user: %w", err)
				}
				params.UserID = &uid
			}

			id, err := store.New(db, cfg.ClaimTimeout).Enqueue(cmd.Context(), params)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient address")
	cmd.Flags().StringVar(&subject, "subject", "", "email subject")
	cmd.Flags().StringVar(&body, "body", "", "email body")
	cmd.Flags().StringVar(&user, "user", "", "originating user id (optional)")
	_ = cmd.MarkFlagRequired("to") //nolint:errcheck
	return cmd
}

// ── jobs ──────────────────────────────────────────────────────────────────────

func jobsCmd() *cobra.Command {
	var pending, processed bool
	var user string
	var limit uint64
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List email queue rows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			db, err := newPool(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("database: %w", err)
			}
			defer db.Close()

			filter := store.ListJobsFilter{Limit: limit}
			if pending {
				f := false
				filter.Processed = &f
			}
			if processed {
				tr := true
				filter.Processed = &tr
			}
			if user != "" {
				uid, err := uuid.Parse(user)
				if err != nil {
					return fmt.Errorf("parse --user: %w", err)
				}
				filter.UserID = &uid
			}

			rows, err := store.New(db, cfg.ClaimTimeout).ListJobs(cmd.Context(), filter)
			if err != nil {
				return err
			}
			for _, j := range rows {
				state := "pending"
				at := "-"
				if j.Processed {
					state = "processed"
					if j.ProcessedAt != nil {
						at = j.ProcessedAt.Format(time.RFC3339)
					}
				}
				userCol := "-"
				if j.UserID != nil {
					userCol = j.UserID.String()
				}
				fmt.Printf("%s  %-9s  %-20s  %s\n", j.ID, state, at, userCol)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "only unprocessed jobs")
	cmd.Flags().BoolVar(&processed, "processed", false, "only processed jobs")
	cmd.Flags().StringVar(&user, "user", "", "filter by originating user id")
	cmd.Flags().Uint64Var(&limit, "limit", 0, "maximum rows to return (0 = all)")
	cmd.MarkFlagsMutuallyExclusive("pending", "processed")
	return cmd
}

// ── helpers ───────────────────────────────────────────────────────────────────

// newPool creates and validates a pgxpool with a statement timeout and pool
// sizing from config.
//
// Retries up to 10 times with linear backoff to handle the Docker Compose
// startup race where Postgres is not immediately ready. Exhausting the
// retries is the one fatal startup error the worker has.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Global per-query statement timeout prevents runaway queries from
	// holding connections indefinitely.
	poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.Itoa(cfg.DBStatementTimeoutMS)

	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MaxConnIdleTime = cfg.DBMaxConnIdleTime

	var (
		db      *pgxpool.Pool
		connErr error
	)
	for attempt := 1; attempt <= 10; attempt++ {
		db, connErr = pgxpool.NewWithConfig(ctx, poolCfg)
		if connErr == nil {
			if connErr = db.Ping(ctx); connErr == nil {
				break
			}
			db.Close()
		}
		slog.Warn("database not ready, retrying",
			"attempt", attempt,
			"error", connErr,
		)
		// time.NewTimer (not time.After) to avoid leaking the timer if ctx
		// is cancelled before the timer fires.
		timer := time.NewTimer(time.Duration(attempt) * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if connErr != nil {
		return nil, fmt.Errorf("database unavailable after retries: %w", connErr)
	}

	return db, nil
}

// newLogger creates a slog.Logger based on the configured log level and format.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" || cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
