package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/rescuepc/licensing/internal/api"
	"github.com/rescuepc/licensing/internal/botgate"
	"github.com/rescuepc/licensing/internal/config"
	"github.com/rescuepc/licensing/internal/database"
	"github.com/rescuepc/licensing/internal/license"
	"github.com/rescuepc/licensing/internal/logging"
	"github.com/rescuepc/licensing/internal/notify"
	"github.com/rescuepc/licensing/internal/ratelimit"
	"github.com/rescuepc/licensing/internal/retry"
	"github.com/rescuepc/licensing/internal/webhook"
)

func main() {
	app := &cli.App{
		Name:  "licensed",
		Usage: "RescuePC Repairs license issuance and validation service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to TOML config file",
				EnvVars: []string{"RESCUEPC_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the licensing API server",
				Action: runServe,
			},
			{
				Name:      "inspect",
				Usage:     "verify an exported license token offline",
				ArgsUsage: "<token>",
				Action:    runInspect,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	logging.Setup(cfg.Server.LogLevel, cfg.Server.Pretty)

	ctx := c.Context

	var store *license.Storage
	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		db, dbErr := database.NewDB(cfg.Database.URL)
		if dbErr != nil {
			return dbErr
		}
		store = license.NewStorage(db)
		return nil
	}, nil)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	pool, err := database.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect queue pool: %w", err)
	}
	defer pool.Close()

	mailer := &notify.SMTPMailer{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}
	notifier, err := notify.NewService(pool, mailer, cfg.SMTP.SendsPerSecond)
	if err != nil {
		return err
	}
	if err := notifier.Start(ctx); err != nil {
		return fmt.Errorf("start delivery queue: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := notifier.Stop(stopCtx); err != nil {
			log.Error().Err(err).Msg("delivery queue did not stop cleanly")
		}
	}()

	engine := license.NewEngine(store, license.NewGenerator([]byte(cfg.Secrets.Keygen)),
		[]byte(cfg.Secrets.Integrity))
	validator := license.NewValidator(store, []byte(cfg.Secrets.Integrity))
	hook := webhook.NewHandler([]byte(cfg.Secrets.WebhookSigning), store, engine, notifier)

	gate := botgate.New()
	general, suspect, webhookLimiter := buildLimiters(cfg)

	server := api.NewServer(api.Options{
		Port:         cfg.Server.Port,
		Engine:       engine,
		Validator:    validator,
		Webhook:      hook,
		Notifier:     notifier,
		ExportSecret: []byte(cfg.Secrets.ExportSigning),
		GeneralLimit: ratelimit.MiddlewareConfig{
			Standard:         general,
			Suspect:          suspect,
			Scorer:           gate,
			SuspectThreshold: cfg.RateLimit.BotScoreCutoff,
		},
		// No scorer on the webhook path: the provider's requests always
		// pass the gate regardless of heuristics.
		WebhookLimit: ratelimit.MiddlewareConfig{Standard: webhookLimiter},
	})

	log.Info().Int("port", cfg.Server.Port).Msg("licensing service starting")
	return server.Start()
}

// buildLimiters prefers the shared Redis window so concurrent instances see
// one consistent count; without Redis configured it falls back to
// per-process limiting.
func buildLimiters(cfg *config.Config) (general, suspect, hook ratelimit.Limiter) {
	rl := cfg.RateLimit
	if cfg.Redis.Addr == "" {
		log.Warn().Msg("no redis configured, rate limits are per-process")
		return ratelimit.NewMemoryLimiter(rl.GeneralLimit, rl.GeneralWindow),
			ratelimit.NewMemoryLimiter(rl.SuspectLimit, rl.GeneralWindow),
			ratelimit.NewMemoryLimiter(rl.WebhookLimit, rl.WebhookWindow)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return ratelimit.NewRedisLimiter(client, "rl:general:", rl.GeneralLimit, rl.GeneralWindow),
		ratelimit.NewRedisLimiter(client, "rl:suspect:", rl.SuspectLimit, rl.GeneralWindow),
		ratelimit.NewRedisLimiter(client, "rl:webhook:", rl.WebhookLimit, rl.WebhookWindow)
}

func runInspect(c *cli.Context) error {
	token := c.Args().First()
	if token == "" {
		return fmt.Errorf("usage: licensed inspect <token>")
	}
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	claims, err := license.ParseExportToken(token, []byte(cfg.Secrets.ExportSigning))
	if err != nil {
		return fmt.Errorf("token rejected: %w", err)
	}
	for _, field := range []string{"key", "tier", "sub", "max_devices", "payment_id"} {
		fmt.Printf("%-12s %v\n", field, claims[field])
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		fmt.Printf("%-12s %s\n", "expires", exp.Time.Format(time.RFC3339))
	}
	return nil
}
