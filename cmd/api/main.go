package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/flowsentry/flowsentry/internal/advisor"
	"github.com/flowsentry/flowsentry/internal/classify"
	classifyStore "github.com/flowsentry/flowsentry/internal/classify/store"
	"github.com/flowsentry/flowsentry/internal/config"
	"github.com/flowsentry/flowsentry/internal/database"
	"github.com/flowsentry/flowsentry/internal/execute"
	"github.com/flowsentry/flowsentry/internal/forecast"
	flowHttp "github.com/flowsentry/flowsentry/internal/http"
	actionHandler "github.com/flowsentry/flowsentry/internal/http/action"
	advisoryHandler "github.com/flowsentry/flowsentry/internal/http/advisory"
	classifyHandler "github.com/flowsentry/flowsentry/internal/http/classify"
	importHandler "github.com/flowsentry/flowsentry/internal/http/importcsv"
	recordHandler "github.com/flowsentry/flowsentry/internal/http/record"
	tenantHandler "github.com/flowsentry/flowsentry/internal/http/tenant"
	webhookHandler "github.com/flowsentry/flowsentry/internal/http/webhook"
	"github.com/flowsentry/flowsentry/internal/impact"
	"github.com/flowsentry/flowsentry/internal/importer"
	"github.com/flowsentry/flowsentry/internal/notify"
	"github.com/flowsentry/flowsentry/internal/proposal"
	"github.com/flowsentry/flowsentry/internal/record"
	recordStore "github.com/flowsentry/flowsentry/internal/record/store"
	"github.com/flowsentry/flowsentry/internal/report"
	"github.com/flowsentry/flowsentry/internal/risk"
	riskStore "github.com/flowsentry/flowsentry/internal/risk/store"
	"github.com/flowsentry/flowsentry/internal/schedule"
	scheduleStore "github.com/flowsentry/flowsentry/internal/schedule/store"
	"github.com/flowsentry/flowsentry/internal/task"
	taskStore "github.com/flowsentry/flowsentry/internal/task/store"
	"github.com/flowsentry/flowsentry/internal/tenant"
	tenantStore "github.com/flowsentry/flowsentry/internal/tenant/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, cfg.ConnectionString())
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var (
		tenantService   = tenant.NewService(tenantStore.New(db))
		recordService   = record.NewService(recordStore.New(db))
		classifyService = classify.NewService(classifyStore.New(db))
		importService   = importer.NewService()
	)

	var gateway notify.Gateway
	if cfg.Notifier.URL != "" {
		gateway = notify.NewHTTPGateway(cfg.Notifier.URL, cfg.Notifier.Token, cfg.Notifier.Timeout)
	} else {
		slog.Warn("no notifier url configured, outbound messages go to the log")
		gateway = notify.NewLogGateway()
	}

	registry := task.NewRegistry()
	registry.Register(execute.NewPayment(tenantService, gateway))
	registry.Register(execute.NewReminder(tenantService, gateway))
	registry.Register(execute.NewReorder(tenantService, gateway))

	orchestrator := task.NewOrchestrator(task.OrchestratorParams{
		Repo:                taskStore.New(db),
		Tenants:             tenantService,
		Gateway:             gateway,
		Registry:            registry,
		TTL:                 cfg.Tasks.TTL,
		MaxDeliveryAttempts: cfg.Tasks.MaxDeliveryAttempts,
	})

	rules, stopRules, err := rulesSource(cfg)
	if err != nil {
		slog.Error("failed to load proposal rules", "error", err)
		os.Exit(1)
	}
	defer stopRules()

	riskRepo := riskStore.New(db)

	advisorService := advisor.New(advisor.Params{
		Forecaster:   forecast.NewProjector(recordService, cfg.Forecast.LookbackDays, cfg.Forecast.MinHistoryDays, cfg.Forecast.HorizonDays),
		Records:      recordService,
		Detector:     risk.NewDetector(riskRepo, cfg.Risk.DipThreshold),
		Engine:       proposal.NewEngine(rules, orchestrator, riskRepo),
		Simulator:    impact.NewSimulator(cfg.Simulation.HorizonDays),
		Tasks:        orchestrator,
		LookbackDays: cfg.Forecast.LookbackDays,
		StepTimeout:  cfg.Scheduler.StepTimeout,
	})

	reportService := report.NewService(recordService, orchestrator, gateway)

	scheduler := schedule.New(schedule.Params{
		Tenants:          tenantService,
		Advisor:          advisorService,
		Reports:          reportService,
		Runs:             scheduleStore.New(db),
		Tick:             cfg.Scheduler.Tick,
		AdvisoryInterval: cfg.Scheduler.AdvisoryInterval,
		CatchUpWindow:    cfg.Scheduler.CatchUpWindow,
		Workers:          cfg.Scheduler.Workers,
	})

	scheduler.Start(ctx)

	var (
		recordH   = recordHandler.NewHandler(recordService)
		importH   = importHandler.NewHandler(importService, recordService, classifyService)
		actionH   = actionHandler.NewHandler(orchestrator)
		advisoryH = advisoryHandler.NewHandler(scheduler)
		tenantH   = tenantHandler.NewHandler(tenantService)
		classifyH = classifyHandler.NewHandler(classifyService)
		webhookH  = webhookHandler.NewHandler(orchestrator, recordService, classifyService)
	)

	router := flowHttp.New(cfg.Auth.JWTSecret, recordH, importH, actionH, advisoryH, tenantH, classifyH, webhookH)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	errCh := make(chan error, 1)

	go func() {
		slog.Info("starting server", "port", cfg.App.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		slog.Error("server failed", "error", err)
		os.Exit(1)
	case <-ctx.Done():
	}

	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.Timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down server", "error", err)
	}

	scheduler.Stop()
}

// rulesSource builds the proposal rule table. A configured path is loaded
// and watched so rule edits land without a restart; otherwise the built-in
// defaults apply, capped at the configured proposal count.
func rulesSource(cfg *config.Config) (proposal.Source, func(), error) {
	if cfg.Tasks.RulesPath == "" {
		return proposal.NewStatic(&proposal.Rules{MaxCandidates: cfg.Tasks.MaxProposals}), func() {}, nil
	}

	loader, err := proposal.NewLoader(cfg.Tasks.RulesPath)
	if err != nil {
		return nil, nil, err
	}

	stopWatch, err := loader.Watch()
	if err != nil {
		return nil, nil, err
	}

	return loader, stopWatch, nil
}
