package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/messmate/messmate/pkg/analytics"
	"github.com/messmate/messmate/pkg/audit"
	"github.com/messmate/messmate/pkg/billing"
	"github.com/messmate/messmate/pkg/catalog"
	"github.com/messmate/messmate/pkg/config"
	"github.com/messmate/messmate/pkg/ledger"
	"github.com/messmate/messmate/pkg/messes"
	"github.com/messmate/messmate/pkg/observability"
	"github.com/messmate/messmate/pkg/payments"
	"github.com/messmate/messmate/pkg/pricing"
	"github.com/messmate/messmate/pkg/storage/postgres"
)

var (
	billingSchedule = flag.String("billing-schedule", "30 0 * * *", "Cron schedule for bill generation (default: 00:30 UTC)")
	overdueSchedule = flag.String("overdue-schedule", "45 0 * * *", "Cron schedule for overdue marking (default: 00:45 UTC)")
	dailySchedule   = flag.String("daily-schedule", "5 0 * * *", "Cron schedule for daily usage aggregation (default: 00:05 UTC)")
	expirySchedule  = flag.String("expiry-schedule", "*/10 * * * *", "Cron schedule for payment order expiry (default: every 10 minutes)")
	alertSchedule   = flag.String("alert-schedule", "0 */6 * * *", "Cron schedule for balance alert checks (default: every 6 hours)")
	runOnce         = flag.Bool("run-once", false, "Run all jobs once and exit (for testing)")
	aggregationDate = flag.String("date", "", "Date to aggregate (YYYY-MM-DD format). If empty, aggregates yesterday. Only used with --run-once")
	backfillFrom    = flag.String("backfill-from", "", "Start date (YYYY-MM-DD) for usage backfill. Requires --backfill-to")
	backfillTo      = flag.String("backfill-to", "", "End date (YYYY-MM-DD) for usage backfill, inclusive")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	db, err := postgres.Connect(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	proofs, err := postgres.NewProofStore(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize proof store: %v", err)
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	auditor := audit.NewDBLogger(db, logger)

	ledgerSvc := ledger.NewPostgresService(db, logger, metrics)
	pricingSvc := pricing.NewPostgresService(db, logger, metrics, 5*time.Minute)
	catalogSvc := catalog.NewPostgresService(db, nil, logger, metrics)
	messSvc := messes.NewPostgresService(db, logger)
	billingSvc := billing.NewPostgresService(db, ledgerSvc, pricingSvc, messSvc,
		logger, metrics, cfg.Billing.BillDueDays)
	paymentSvc := payments.NewPostgresService(db, ledgerSvc, catalogSvc, proofs,
		auditor, logger, metrics, cfg.Gateway.WebhookSecret, cfg.Gateway.OrderExpiry)

	aggregator := analytics.NewAggregator(db, logger)
	alerter := analytics.NewAlerter(db, logger, metrics, auditor)

	// Backfill mode
	if *backfillFrom != "" || *backfillTo != "" {
		from, err := time.Parse("2006-01-02", *backfillFrom)
		if err != nil {
			log.Fatalf("Invalid --backfill-from: %v", err)
		}
		to, err := time.Parse("2006-01-02", *backfillTo)
		if err != nil {
			log.Fatalf("Invalid --backfill-to: %v", err)
		}

		log.Printf("Backfilling usage from %s to %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
		if err := aggregator.Backfill(context.Background(), from, to); err != nil {
			log.Fatalf("Backfill failed: %v", err)
		}
		log.Println("Backfill completed successfully")
		return
	}

	// Run once mode (for testing or manual runs)
	if *runOnce {
		var date time.Time
		if *aggregationDate != "" {
			date, err = time.Parse("2006-01-02", *aggregationDate)
			if err != nil {
				log.Fatalf("Invalid date format: %v", err)
			}
		} else {
			// Default to yesterday
			date = time.Now().UTC().AddDate(0, 0, -1)
		}

		log.Printf("Running all jobs once for date: %s", date.Format("2006-01-02"))
		if err := runAllJobs(billingSvc, paymentSvc, aggregator, alerter, date); err != nil {
			log.Fatalf("Run failed: %v", err)
		}

		log.Println("All jobs completed successfully")
		return
	}

	// Scheduled mode
	c := cron.New()

	// Generate due bills for messes whose cycle has rolled over
	_, err = c.AddFunc(*billingSchedule, func() {
		ctx := context.Background()
		generated, err := billingSvc.GenerateDue(ctx, time.Now().UTC())
		if err != nil {
			log.Printf("Bill generation failed: %v", err)
		} else {
			log.Printf("Bill generation completed, %d bills generated", generated)
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule bill generation: %v", err)
	}

	// Mark unpaid bills past their due date as overdue
	_, err = c.AddFunc(*overdueSchedule, func() {
		ctx := context.Background()
		marked, err := billingSvc.MarkOverdue(ctx, time.Now().UTC())
		if err != nil {
			log.Printf("Overdue marking failed: %v", err)
		} else {
			log.Printf("Overdue marking completed, %d bills marked", marked)
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule overdue marking: %v", err)
	}

	// Daily usage aggregation (aggregates yesterday's data)
	_, err = c.AddFunc(*dailySchedule, func() {
		yesterday := time.Now().UTC().AddDate(0, 0, -1)
		log.Printf("Starting daily aggregation for %s", yesterday.Format("2006-01-02"))

		if err := aggregator.AggregateDaily(context.Background(), yesterday); err != nil {
			log.Printf("Daily aggregation failed: %v", err)
		} else {
			log.Println("Daily aggregation completed successfully")
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule daily aggregation: %v", err)
	}

	// Expire payment orders that never received a webhook
	_, err = c.AddFunc(*expirySchedule, func() {
		ctx := context.Background()
		expired, err := paymentSvc.ExpireOrders(ctx, time.Now().UTC())
		if err != nil {
			log.Printf("Order expiry failed: %v", err)
		} else if expired > 0 {
			log.Printf("Order expiry completed, %d orders expired", expired)
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule order expiry: %v", err)
	}

	// Low balance alerts and ledger consistency checks
	_, err = c.AddFunc(*alertSchedule, func() {
		log.Println("Running balance alert checks")
		alerter.RunChecks(context.Background())
	})
	if err != nil {
		log.Fatalf("Failed to schedule alert checks: %v", err)
	}

	// Start the cron scheduler
	c.Start()
	log.Println("Messmate Scheduler started")
	log.Printf("Bill generation schedule: %s", *billingSchedule)
	log.Printf("Overdue marking schedule: %s", *overdueSchedule)
	log.Printf("Daily aggregation schedule: %s", *dailySchedule)
	log.Printf("Order expiry schedule: %s", *expirySchedule)
	log.Printf("Alert check schedule: %s", *alertSchedule)

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutting down gracefully...")

	// Stop the cron scheduler and let in-flight jobs drain
	ctx := c.Stop()
	<-ctx.Done()

	log.Println("Scheduler stopped")
}

func runAllJobs(billingSvc *billing.PostgresService, paymentSvc *payments.PostgresService,
	aggregator *analytics.Aggregator, alerter *analytics.Alerter, date time.Time) error {
	ctx := context.Background()
	now := time.Now().UTC()

	generated, err := billingSvc.GenerateDue(ctx, now)
	if err != nil {
		log.Printf("Bill generation failed: %v", err)
		return err
	}
	log.Printf("✓ %d bills generated", generated)

	marked, err := billingSvc.MarkOverdue(ctx, now)
	if err != nil {
		log.Printf("Overdue marking failed: %v", err)
		return err
	}
	log.Printf("✓ %d bills marked overdue", marked)

	expired, err := paymentSvc.ExpireOrders(ctx, now)
	if err != nil {
		log.Printf("Order expiry failed: %v", err)
		return err
	}
	log.Printf("✓ %d payment orders expired", expired)

	if err := aggregator.AggregateDaily(ctx, date); err != nil {
		log.Printf("Usage aggregation failed: %v", err)
		return err
	}
	log.Println("✓ Daily usage aggregated")

	alerter.RunChecks(ctx)
	log.Println("✓ Alert checks completed")

	return nil
}
