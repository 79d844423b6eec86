package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"spendlog/internal/config"
	"spendlog/internal/connectivity"
	"spendlog/internal/core"
	"spendlog/internal/gateway"
	applog "spendlog/internal/log"
	"spendlog/internal/offline"
	"spendlog/internal/state"
	"spendlog/internal/storage"
	appsync "spendlog/internal/sync"
)

const usage = `Usage: spendlog <command> [flags]

Commands:
  add        Record an expense (works offline)
  list       Show expenses
  breakdown  Category breakdown
  insights   Month-over-month insights
  sync       Reconcile offline mutations with the backend
  watch      Run resident: reconcile whenever connectivity returns
`

func main() {
	// Optional; absence is not an error.
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", applog.FieldError, err)
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	app, cleanup, err := buildApp(cfg, logger)
	if err != nil {
		logger.Error("Startup failed", applog.FieldError, err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, app, os.Args[1], os.Args[2:]); err != nil {
		logger.Error("Command failed", applog.FieldOperation, os.Args[1], applog.FieldError, err)
		os.Exit(1)
	}
}

type app struct {
	cfg       *config.Config
	log       *applog.Logger
	gw        *gateway.Client
	container *state.Container
}

func buildApp(cfg *config.Config, logger *applog.Logger) (*app, func(), error) {
	store, err := storage.NewSQLiteStore(cfg.SQLiteDBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open local store: %w", err)
	}

	gw := gateway.NewClient(gateway.Config{
		BaseURL: cfg.APIBaseURL,
		Token:   func() string { return cfg.APIToken },
		Timeout: cfg.HTTPTimeout,
	})

	mutations := offline.NewMutationStore(store, cfg.User, logger.WithComponent(applog.ComponentOffline))
	rec := appsync.NewReconciler(gw, mutations, logger.WithComponent(applog.ComponentSync))
	container := state.NewContainer(gw, mutations, rec,
		state.Config{MonthlyBudget: cfg.MonthlyBudget},
		logger.WithComponent(applog.ComponentState))

	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Warn("Closing local store", applog.FieldError, err)
		}
	}
	return &app{cfg: cfg, log: logger, gw: gw, container: container}, cleanup, nil
}

func run(ctx context.Context, a *app, command string, args []string) error {
	switch command {
	case "add":
		return cmdAdd(ctx, a, args)
	case "list":
		return cmdList(ctx, a, args)
	case "breakdown":
		return cmdBreakdown(ctx, a, args)
	case "insights":
		return cmdInsights(ctx, a)
	case "sync":
		return cmdSync(ctx, a)
	case "watch":
		return cmdWatch(ctx, a)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func cmdAdd(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	amount := fs.Float64("amount", 0, "expense amount")
	category := fs.String("category", string(core.OtherCategory), "category")
	method := fs.String("method", string(core.Cash), "payment method")
	description := fs.String("desc", "", "description")
	date := fs.String("date", "", "date (RFC 3339, default now)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e := core.Expense{
		Amount:        *amount,
		Category:      core.Category(*category),
		PaymentMethod: core.PaymentMethod(*method),
		Description:   *description,
	}
	if *date != "" {
		t, err := time.Parse(time.RFC3339, *date)
		if err != nil {
			return fmt.Errorf("parse date: %w", err)
		}
		e.Date = t
	}

	created, err := a.container.CreateExpense(ctx, e)
	if err != nil {
		return err
	}
	if created.IsLocal() {
		fmt.Printf("Saved offline as %s (will sync when the backend is reachable)\n", created.ID)
		return nil
	}
	fmt.Printf("Created %s\n", created.ID)
	return nil
}

func cmdList(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	category := fs.String("category", "", "filter by category")
	view := fs.String("view", "", "daily or monthly")
	if err := fs.Parse(args); err != nil {
		return err
	}

	expenses, err := a.container.GetExpenses(ctx, gateway.ListParams{
		Category: core.Category(*category),
		View:     *view,
	})
	if err != nil {
		return err
	}

	for _, e := range expenses {
		marker := " "
		if !e.Synced {
			marker = "*"
		}
		fmt.Printf("%s %-12s %8.2f  %-15s %s\n",
			marker, e.Date.Format("2006-01-02"), e.Amount, e.Category, e.Description)
	}
	fmt.Printf("%d expenses\n", len(expenses))
	return nil
}

func cmdBreakdown(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("breakdown", flag.ContinueOnError)
	start := fs.String("start", "", "range start (RFC 3339)")
	end := fs.String("end", "", "range end (RFC 3339)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var from, to *time.Time
	if *start != "" {
		t, err := time.Parse(time.RFC3339, *start)
		if err != nil {
			return fmt.Errorf("parse start: %w", err)
		}
		from = &t
	}
	if *end != "" {
		t, err := time.Parse(time.RFC3339, *end)
		if err != nil {
			return fmt.Errorf("parse end: %w", err)
		}
		to = &t
	}

	result, err := a.container.GetCategoryBreakdown(ctx, from, to)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(result)
}

func cmdInsights(ctx context.Context, a *app) error {
	result, err := a.container.GetInsights(ctx)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(result)
}

func cmdSync(ctx context.Context, a *app) error {
	res, err := a.container.SyncOfflineExpenses(ctx)
	if err != nil {
		return err
	}
	if res.DrainErr != nil {
		a.log.Warn("Server rejected offline expenses", applog.FieldError, res.DrainErr)
	}
	fmt.Printf("Synced %d expenses, replayed %d operations, %d still pending\n",
		len(res.Promoted), res.Replayed, res.Kept)
	return nil
}

// cmdWatch runs until interrupted, reconciling on every connectivity
// transition.
func cmdWatch(ctx context.Context, a *app) error {
	var watcher connectivity.Watcher
	switch a.cfg.WatchMode {
	case config.WatchModeSignal:
		watcher = connectivity.NewSignalWatcher(a.log.WithComponent(applog.ComponentConnectivity))
	default:
		watcher = connectivity.NewPollWatcher(a.gw, a.cfg.ProbeInterval,
			a.log.WithComponent(applog.ComponentConnectivity))
	}

	a.log.Info("Watching for connectivity",
		"mode", a.cfg.WatchMode,
		"interval", a.cfg.ProbeInterval.String())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(ctx)
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-watcher.Events():
				res, err := a.container.SyncOfflineExpenses(ctx)
				if err != nil {
					a.log.Warn("Reconciliation failed", applog.FieldError, err)
					continue
				}
				a.log.Info("Reconciliation complete",
					applog.FieldSyncedCount, len(res.Promoted),
					applog.FieldQueueLen, res.Kept,
					applog.FieldTrigger, "connectivity")
			}
		}
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	a.log.Info("Watch stopped")
	return nil
}
