// Package notify delivers issued licenses to purchasers through a River job
// queue. Delivery is decoupled from issuance: the license is the
// authoritative grant, and a bounced email is retried here without ever
// touching the pipeline's transaction.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/rescuepc/licensing/internal/license"
)

// DeliveryJobArgs carries everything the welcome email needs, so the worker
// never reads the license store.
type DeliveryJobArgs struct {
	LicenseKey string    `json:"license_key"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Tier       string    `json:"tier"`
	ExpiresAt  time.Time `json:"expires_at"`
	MaxDevices int       `json:"max_devices"`
}

func (DeliveryJobArgs) Kind() string { return "license_delivery" }

func (DeliveryJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 8,
		UniqueOpts: river.UniqueOpts{
			ByArgs: true, // one delivery per license, even if enqueued twice
		},
	}
}

// DeliveryWorker sends the license email. Outbound sends are paced so a
// burst of issuances cannot trip the SMTP relay's own limits.
type DeliveryWorker struct {
	river.WorkerDefaults[DeliveryJobArgs]
	mailer Mailer
	pace   *rate.Limiter
}

func (w *DeliveryWorker) Work(ctx context.Context, job *river.Job[DeliveryJobArgs]) error {
	if err := w.pace.Wait(ctx); err != nil {
		return err
	}
	msg := composeWelcome(job.Args)
	if err := w.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send license delivery: %w", err)
	}
	log.Info().Str("key", job.Args.LicenseKey).Str("email", job.Args.Email).
		Msg("license delivered")
	return nil
}

// Service owns the queue client and exposes enqueueing to the pipeline.
type Service struct {
	client *river.Client[pgx.Tx]
}

// NewService builds the queue client over the shared pgx pool and registers
// the delivery worker. Call Start to begin working jobs.
func NewService(pool *pgxpool.Pool, mailer Mailer, sendsPerSecond float64) (*Service, error) {
	workers := river.NewWorkers()
	river.AddWorker(workers, &DeliveryWorker{
		mailer: mailer,
		pace:   rate.NewLimiter(rate.Limit(sendsPerSecond), 1),
	})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 4},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("create queue client: %w", err)
	}
	return &Service{client: client}, nil
}

func (s *Service) Start(ctx context.Context) error { return s.client.Start(ctx) }
func (s *Service) Stop(ctx context.Context) error  { return s.client.Stop(ctx) }

// EnqueueLicenseDelivery queues the welcome email for an issued license.
func (s *Service) EnqueueLicenseDelivery(ctx context.Context, l *license.License) error {
	_, err := s.client.Insert(ctx, DeliveryJobArgs{
		LicenseKey: l.Key,
		Email:      l.Customer.Email,
		Name:       l.Customer.Name,
		Tier:       string(l.Tier),
		ExpiresAt:  l.ExpiresAt,
		MaxDevices: l.MaxDevices,
	}, nil)
	if err != nil {
		return fmt.Errorf("enqueue delivery: %w", err)
	}
	return nil
}
