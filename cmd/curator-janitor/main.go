package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/curatorhq/curator/pkg/kv"
	"github.com/curatorhq/curator/pkg/observability"
	"github.com/curatorhq/curator/pkg/rbac"
)

// Config holds the janitor service configuration
type Config struct {
	StoreURL       string
	StorePassword  string
	KeyPrefix      string
	SweepSchedule  string
	ReportSchedule string
	RunOnce        bool
	LogLevel       string
}

// Janitor periodically repairs the role directory and reports per-tenant usage
func main() {
	config := parseFlags()

	logger := setupLogger(config.LogLevel)
	logger.Info("Starting curator janitor")

	// Components log through the shared structured logger; logrus stays
	// the janitor's own operator-facing voice.
	obsLogger := observability.NewLogger(observability.ParseLevel(config.LogLevel), os.Stdout)

	storeCfg := kv.DefaultConfig()
	storeCfg.URL = config.StoreURL
	storeCfg.Password = config.StorePassword
	storeCfg.KeyPrefix = config.KeyPrefix

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The janitor repairs the authoritative store. Sweeping the empty
	// in-memory fallback would report a healthy directory that nobody
	// is actually serving, so a failed dial is fatal here.
	mgr := kv.NewConnManager(storeCfg, obsLogger, nil)
	if err := mgr.Connect(ctx); err != nil {
		logger.Fatalf("Failed to connect to store: %v", err)
	}
	defer mgr.Close()

	store := kv.NewStore(mgr)
	svc := rbac.NewService(store, obsLogger, nil)
	sweeper := rbac.NewSweeper(svc, obsLogger, nil)

	// Run once mode (for cron-less deployments and manual repairs)
	if config.RunOnce {
		if err := runSweep(ctx, sweeper, logger); err != nil {
			logger.Fatalf("Sweep failed: %v", err)
		}
		logger.Info("Sweep completed successfully")
		return
	}

	// Scheduled mode
	c := cron.New()

	_, err := c.AddFunc(config.SweepSchedule, func() {
		if err := runSweep(ctx, sweeper, logger); err != nil {
			logger.Errorf("Scheduled sweep failed: %v", err)
		}
	})
	if err != nil {
		logger.Fatalf("Failed to schedule integrity sweep: %v", err)
	}

	_, err = c.AddFunc(config.ReportSchedule, func() {
		if err := runUsageReport(ctx, svc, logger); err != nil {
			logger.Errorf("Usage report failed: %v", err)
		}
	})
	if err != nil {
		logger.Fatalf("Failed to schedule usage report: %v", err)
	}

	c.Start()
	logger.Info("Curator janitor started")
	logger.Infof("Integrity sweep schedule: %s", config.SweepSchedule)
	logger.Infof("Usage report schedule: %s", config.ReportSchedule)

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down gracefully...")

	// Stop the cron scheduler and let running jobs finish
	stopCtx := c.Stop()
	<-stopCtx.Done()

	logger.Info("Janitor stopped")
}

func runSweep(ctx context.Context, sweeper *rbac.Sweeper, logger *logrus.Logger) error {
	report, err := sweeper.Sweep(ctx)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"tenants":            report.Tenants,
		"roles":              report.Roles,
		"assignments":        report.Assignments,
		"membership_repairs": report.MembershipRepairs,
		"dangling_pruned":    report.DanglingRolesPruned,
		"duration":           report.Duration.String(),
	}).Info("Integrity sweep completed")
	return nil
}

func runUsageReport(ctx context.Context, svc *rbac.Service, logger *logrus.Logger) error {
	tenants, err := svc.ListTenants(ctx)
	if err != nil {
		return err
	}

	for _, tenant := range tenants {
		roles, err := svc.GetRolesByTenant(ctx, tenant)
		if err != nil {
			logger.Errorf("Failed to list roles for tenant %s: %v", tenant, err)
			continue
		}
		users, err := svc.GetTenantUsers(ctx, tenant)
		if err != nil {
			logger.Errorf("Failed to list users for tenant %s: %v", tenant, err)
			continue
		}

		logger.WithFields(logrus.Fields{
			"tenant": tenant,
			"roles":  len(roles),
			"users":  len(users),
		}).Info("Tenant usage")
	}

	logger.Infof("Usage report covered %d tenants", len(tenants))
	return nil
}

func parseFlags() *Config {
	config := &Config{}

	flag.StringVar(&config.StoreURL, "store-url", getEnv("CURATOR_STORE_URL", "redis://localhost:6379/0"), "Store connection URL")
	flag.StringVar(&config.StorePassword, "store-password", getEnv("CURATOR_STORE_PASSWORD", ""), "Store password")
	flag.StringVar(&config.KeyPrefix, "key-prefix", getEnv("CURATOR_STORE_KEY_PREFIX", "curator:"), "Prefix for every store key")
	flag.StringVar(&config.SweepSchedule, "sweep-schedule", "0 * * * *", "Cron schedule for integrity sweeps (default: hourly)")
	flag.StringVar(&config.ReportSchedule, "report-schedule", "15 0 * * *", "Cron schedule for the usage report (default: 00:15 UTC)")
	flag.BoolVar(&config.RunOnce, "run-once", false, "Run one integrity sweep and exit")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	flag.Parse()

	return config
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
