// Package worker bootstraps the River job queue that delivers e-mail and
// prunes the refresh-token ledger.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/d9705996/perseo/internal/notify"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

// TokenRetention is how long expired or revoked refresh tokens are kept.
const TokenRetention = 24 * time.Hour

// EmailArgs carries one account e-mail.
type EmailArgs struct {
	Message notify.Message `json:"message"`
}

// Kind returns the unique job type identifier for e-mail jobs.
func (EmailArgs) Kind() string { return "email_dispatch" }

// InsertOpts retries delivery a handful of times.
func (EmailArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 5}
}

type emailWorker struct {
	river.WorkerDefaults[EmailArgs]
	mailer notify.Mailer
}

func (w *emailWorker) Work(ctx context.Context, job *river.Job[EmailArgs]) error {
	return w.mailer.Send(ctx, job.Args.Message)
}

// TokenCleanupArgs triggers deletion of stale refresh tokens.
type TokenCleanupArgs struct{}

// Kind returns the unique job type identifier for token cleanup jobs.
func (TokenCleanupArgs) Kind() string { return "refresh_token_cleanup" }

// Cleaner deletes stale refresh tokens.
type Cleaner interface {
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

type tokenCleanupWorker struct {
	river.WorkerDefaults[TokenCleanupArgs]
	cleaner Cleaner
	log     *slog.Logger
}

func (w *tokenCleanupWorker) Work(ctx context.Context, _ *river.Job[TokenCleanupArgs]) error {
	return runCleanup(ctx, w.cleaner, w.log)
}

func runCleanup(ctx context.Context, c Cleaner, log *slog.Logger) error {
	n, err := c.Cleanup(ctx, TokenRetention)
	if err != nil {
		return err
	}
	log.InfoContext(ctx, "refresh tokens pruned", "deleted", n)
	return nil
}

// Queue is the interface exposed by both the real River client and noopQueue.
type Queue interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Enqueue(ctx context.Context, args river.JobArgs) error
}

// Client wraps river.Client and exposes a Start/Stop lifecycle.
type Client struct {
	client *river.Client[pgx.Tx]
	log    *slog.Logger
}

// Start begins processing queued jobs.
func (c *Client) Start(ctx context.Context) error { return c.client.Start(ctx) }

// Stop gracefully shuts down the worker client.
func (c *Client) Stop(ctx context.Context) error { return c.client.Stop(ctx) }

// Enqueue inserts one job.
func (c *Client) Enqueue(ctx context.Context, args river.JobArgs) error {
	if _, err := c.client.Insert(ctx, args, nil); err != nil {
		return fmt.Errorf("insert %s job: %w", args.Kind(), err)
	}
	return nil
}

// noopQueue is used when River is unavailable (DB_DRIVER=sqlite). Jobs run
// inline on the calling goroutine.
type noopQueue struct {
	deps Deps
	stop context.CancelFunc
}

func (n *noopQueue) Start(ctx context.Context) error {
	n.deps.Log.Info("worker queue disabled (sqlite driver, River requires postgres); running jobs inline")
	if n.deps.Cleaner == nil || n.deps.CleanupInterval <= 0 {
		return nil
	}
	ctx, n.stop = context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		t := time.NewTicker(n.deps.CleanupInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := runCleanup(ctx, n.deps.Cleaner, n.deps.Log); err != nil {
					n.deps.Log.Error("refresh token cleanup failed", "error", err)
				}
			}
		}
	}()
	return nil
}

func (n *noopQueue) Stop(_ context.Context) error {
	if n.stop != nil {
		n.stop()
	}
	return nil
}

func (n *noopQueue) Enqueue(ctx context.Context, args river.JobArgs) error {
	switch a := args.(type) {
	case EmailArgs:
		return n.deps.Mailer.Send(ctx, a.Message)
	case TokenCleanupArgs:
		if n.deps.Cleaner == nil {
			return nil
		}
		return runCleanup(ctx, n.deps.Cleaner, n.deps.Log)
	default:
		return fmt.Errorf("no inline handler for job kind %q", args.Kind())
	}
}

// Deps bundles what the workers need. Pool may be nil when Driver is not
// "postgres".
type Deps struct {
	Pool            *pgxpool.Pool
	Driver          string
	Concurrency     int
	CleanupInterval time.Duration
	Mailer          notify.Mailer
	Cleaner         Cleaner
	Log             *slog.Logger
}

// New creates a queue implementation appropriate for the given driver.
//   - "postgres": returns a fully-functional River client backed by pool.
//   - anything else: returns a queue that runs jobs inline.
func New(d Deps) (Queue, error) {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Mailer == nil {
		d.Mailer = notify.LogMailer{Log: d.Log}
	}
	if d.Driver != "postgres" {
		return &noopQueue{deps: d}, nil
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &emailWorker{mailer: d.Mailer})
	var periodic []*river.PeriodicJob
	if d.Cleaner != nil {
		river.AddWorker(workers, &tokenCleanupWorker{cleaner: d.Cleaner, log: d.Log})
		if d.CleanupInterval > 0 {
			periodic = append(periodic, river.NewPeriodicJob(
				river.PeriodicInterval(d.CleanupInterval),
				func() (river.JobArgs, *river.InsertOpts) { return TokenCleanupArgs{}, nil },
				&river.PeriodicJobOpts{RunOnStart: true},
			))
		}
	}

	client, err := river.NewClient(riverpgxv5.New(d.Pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: d.Concurrency},
		},
		Workers:      workers,
		PeriodicJobs: periodic,
		Logger:       d.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return &Client{client: client, log: d.Log}, nil
}

// MigrateRiver runs River's built-in schema migrations against the given pool.
// Only call this when DB_DRIVER=postgres.
func MigrateRiver(ctx context.Context, db *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(db), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("run river migrations: %w", err)
	}
	return nil
}

// Notifier turns account notifications into e-mail jobs.
type Notifier struct {
	Queue Queue
}

func (n Notifier) SendVerification(ctx context.Context, to, name, token string) error {
	return n.Queue.Enqueue(ctx, EmailArgs{Message: notify.Message{
		Template: notify.TemplateVerification, To: to, Name: name, Token: token,
	}})
}

func (n Notifier) SendPasswordReset(ctx context.Context, to, name, token string) error {
	return n.Queue.Enqueue(ctx, EmailArgs{Message: notify.Message{
		Template: notify.TemplatePasswordReset, To: to, Name: name, Token: token,
	}})
}
