// ticket-admin runs one-off maintenance against the credential store:
// re-issuing missing tickets, bulk cancellation, the expiry sweep and
// schema migrations.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ms-credentials/internal/config"
	"ms-credentials/internal/database"
	"ms-credentials/internal/database/migrations"
	"ms-credentials/internal/directory"
	"ms-credentials/internal/kafka"
	"ms-credentials/internal/logger"
	ticket_db "ms-credentials/internal/tickets/db"
	"ms-credentials/internal/tickets/lock"
	"ms-credentials/internal/tickets/qrcode"
	tickets "ms-credentials/internal/tickets/service"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/uptrace/bun"
)

const usage = `usage: ticket-admin <command> [flags]

commands:
  repair [--event ID | --purchase ID] issue credentials missing from completed purchases
  cancel-event --event ID             cancel every active credential of an event
  cancel-purchase --purchase ID       cancel every active credential of a purchase
  expire                              expire active credentials past the grace period
  migrate up|down|version             manage the database schema
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		fmt.Print(usage)
		return nil
	}
	command, rest := args[0], args[1:]

	var eventID, purchaseID string
	flagSet := pflag.NewFlagSet("ticket-admin "+command, pflag.ContinueOnError)
	flagSet.StringVar(&eventID, "event", "", "event ID")
	flagSet.StringVar(&purchaseID, "purchase", "", "purchase ID")
	if err := flagSet.Parse(rest); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			fmt.Print(usage)
			return nil
		}
		return err
	}

	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer bunDB.Close()

	if command == "migrate" {
		return runMigrate(bunDB, cfg.Database, flagSet.Args(), log)
	}

	svc, cleanup, err := newService(ctx, cfg, bunDB, log)
	if err != nil {
		return err
	}
	defer cleanup()

	switch command {
	case "repair":
		return runRepair(ctx, svc, eventID, purchaseID)
	case "cancel-event":
		if eventID == "" {
			return errors.New("--event is required")
		}
		n, err := svc.CancelEventTickets(ctx, eventID)
		if err != nil {
			return err
		}
		fmt.Printf("cancelled %d credentials for event %s\n", n, eventID)
	case "cancel-purchase":
		if purchaseID == "" {
			return errors.New("--purchase is required")
		}
		n, err := svc.CancelPurchaseTickets(ctx, purchaseID)
		if err != nil {
			return err
		}
		fmt.Printf("cancelled %d credentials for purchase %s\n", n, purchaseID)
	case "expire":
		n, err := svc.ExpireStaleTickets(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("expired %d credentials\n", n)
	default:
		return fmt.Errorf("unknown command %q\n\n%s", command, usage)
	}
	return nil
}

func newService(ctx context.Context, cfg *config.Config, bunDB *bun.DB, log *logger.Logger) (*tickets.TicketService, func(), error) {
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, nil, fmt.Errorf("redis connection error: %w", err)
	}
	cleanup := func() { redisClient.Close() }

	var publisher tickets.Publisher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics, log)
		publisher = producer
		cleanup = func() {
			producer.Close()
			redisClient.Close()
		}
	}

	dir := &directory.DB{Bun: bunDB}
	svc := tickets.NewTicketService(
		&ticket_db.DB{Bun: bunDB},
		directory.NewEventCache(redisClient, dir, cfg.Redis.EventCacheTTL, log),
		dir,
		lock.NewIssuanceLock(redisClient, cfg.Redis.LockTTL),
		qrcode.NewGenerator(cfg.Tickets.CodeSecret, cfg.Tickets.PublicBaseURL),
		publisher,
		log,
		tickets.Options{
			MaxCodeAttempts:     cfg.Tickets.MaxCodeAttempts,
			IssuanceConcurrency: cfg.Tickets.IssuanceConcurrency,
			ExpiryGrace:         cfg.Tickets.ExpiryGrace,
		},
	)
	return svc, cleanup, nil
}

func runRepair(ctx context.Context, svc *tickets.TicketService, eventID, purchaseID string) error {
	switch {
	case purchaseID != "":
		res, err := svc.TopUpTickets(ctx, purchaseID)
		if res != nil {
			fmt.Printf("purchase %s: issued %d credentials\n", purchaseID, len(res.Credentials))
		}
		return err
	default:
		reports, err := svc.RepairPurchases(ctx, eventID)
		if err != nil {
			return err
		}
		failed := 0
		for _, r := range reports {
			status := "ok"
			if r.Error != "" {
				status = r.Error
				failed++
			}
			fmt.Printf("purchase %s: quantity=%d existing=%d issued=%d %s\n", r.PurchaseID, r.Quantity, r.Existing, r.Issued, status)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d purchases could not be repaired", failed, len(reports))
		}
		return nil
	}
}

func runMigrate(bunDB *bun.DB, cfg config.DatabaseConfig, args []string, log *logger.Logger) error {
	if len(args) != 1 {
		return errors.New("migrate needs one of: up, down, version")
	}
	runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{MigrationsDir: cfg.MigrationsDir}, log)
	defer runner.Close()

	switch args[0] {
	case "up":
		return runner.RunMigrations()
	case "down":
		return runner.MigrateDown()
	case "version":
		version, dirty, err := runner.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version %d (dirty: %t)\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown migrate action %q", args[0])
	}
}
