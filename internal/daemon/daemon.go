package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hydroloop/gateway/internal/api"
	"github.com/hydroloop/gateway/internal/domain"
	"github.com/hydroloop/gateway/internal/harvest"
	"github.com/hydroloop/gateway/internal/infra/analytics"
	"github.com/hydroloop/gateway/internal/infra/cache"
	"github.com/hydroloop/gateway/internal/infra/commandqueue"
	"github.com/hydroloop/gateway/internal/infra/cooldown"
	"github.com/hydroloop/gateway/internal/infra/drift"
	"github.com/hydroloop/gateway/internal/infra/escalation"
	"github.com/hydroloop/gateway/internal/infra/hvac"
	"github.com/hydroloop/gateway/internal/infra/notify"
	"github.com/hydroloop/gateway/internal/infra/relstore"
	"github.com/hydroloop/gateway/internal/infra/tsdb"
	"github.com/hydroloop/gateway/internal/ingest"
	"github.com/hydroloop/gateway/internal/rules"
	"github.com/hydroloop/gateway/internal/stageoverlay"
)

// Daemon is the gateway runtime: it wires C1 through C14 together and
// owns their lifecycle.
type Daemon struct {
	Config Config

	RelStore  *relstore.DB
	TSDB      *tsdb.Writer
	Cache     *cache.Cache
	Commands  *commandqueue.Queue
	Ledger    *cooldown.Ledger
	Escalator *escalation.Manager
	Dispatch  *notify.Dispatcher
	Analytics *analytics.Engine
	Drift     *drift.Detector
	Rules     *rules.Engine
	Overlay   *stageoverlay.Overlay
	HVAC      *hvac.Driver
	Harvest   *harvest.Store
	Harvester *harvest.Harvester
	Ingest    *ingest.Orchestrator
	Server    *api.Server

	logger *log.Logger
	cancel context.CancelFunc
}

// New creates and wires a Daemon from the loaded configuration.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates and wires a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	if err := os.MkdirAll(cfg.Storage.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	logFile, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logger := log.New(logFile, "gateway: ", log.LstdFlags|log.Lmicroseconds)

	relStore, err := relstore.Open(cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("open relational store: %w", err)
	}

	tsWriter, err := tsdb.Open(cfg.Storage.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("open time-series writer: %w", err)
	}

	cacheS := cache.New(cache.DefaultTTL)
	commands := commandqueue.New()
	ledger := cooldown.New(cfg.Notifications.CooldownSeconds, cfg.Notifications.HistoryCap)

	channels := buildChannels(cfg, logger)

	// The dispatcher and escalation manager reference each other; the
	// manager is built first with a nil notifier and wired after the
	// dispatcher exists.
	escalator := escalation.New(nil)
	dispatcher := notify.NewDispatcher(channels, ledger, escalator, logger)
	escalator.SetNotifier(dispatcher)

	analyticsEngine := analytics.New(analytics.DefaultConfig())
	driftDetector := drift.New(drift.DefaultFieldConfigs())

	hvacDriver := hvac.New(cfg.HVAC.BaseURL, dispatcher)

	varieties, err := loadVarieties(cfg.Crops.VarietiesFile)
	if err != nil {
		return nil, fmt.Errorf("load varieties: %w", err)
	}
	overlay := stageoverlay.New(varieties, relStore)

	rulesEngine, err := rules.New(cfg.Storage.RulesFile, dispatcher, commands, hvacDriver, logger)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	harvestSources, err := harvest.BuildConfiguredSources(cfg.Harvest.Enabled)
	if err != nil {
		return nil, fmt.Errorf("configure harvest sources: %w", err)
	}
	harvestStore := harvest.NewStore()
	harvester := harvest.New(harvestStore, tsWriter, logger, harvestSources)

	orchestrator := ingest.New(cfg.Ingest.Workers, tsWriter, cacheS, analyticsEngine, driftDetector, rulesEngine, overlay, harvestStore, logger)

	srv := api.NewServer(api.Config{
		APIKey:     cfg.API.APIKey,
		Ingest:     orchestrator,
		Rules:      rulesEngine,
		Cache:      cacheS,
		Commands:   commands,
		Dispatcher: dispatcher,
		Ledger:     ledger,
		HVAC:       hvacDriver,
		Overlay:    overlay,
		RelStore:   relStore,
	})
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	return &Daemon{
		Config:    cfg,
		RelStore:  relStore,
		TSDB:      tsWriter,
		Cache:     cacheS,
		Commands:  commands,
		Ledger:    ledger,
		Escalator: escalator,
		Dispatch:  dispatcher,
		Analytics: analyticsEngine,
		Drift:     driftDetector,
		Rules:     rulesEngine,
		Overlay:   overlay,
		HVAC:      hvacDriver,
		Harvest:   harvestStore,
		Harvester: harvester,
		Ingest:    orchestrator,
		Server:    srv,
		logger:    logger,
	}, nil
}

// buildChannels constructs the notification channel set. A channel's
// IsAvailable reports false (and is skipped by the dispatcher) whenever
// its credential set is incomplete, so every channel is always
// constructed and handed to the dispatcher regardless of configuration.
func buildChannels(cfg Config, logger *log.Logger) []domain.NotificationChannel {
	return []domain.NotificationChannel{
		notify.NewConsoleChannel(logger),
		notify.NewPushChannel(cfg.Notifications.NTFY.URL, cfg.Notifications.NTFY.Topic),
		notify.NewEmailChannel(
			cfg.Notifications.SMTP.Host, smtpPort(cfg.Notifications.SMTP.Port),
			cfg.Notifications.SMTP.User, cfg.Notifications.SMTP.Pass,
			cfg.Notifications.SMTP.From, cfg.Notifications.AlertEmailTo,
		),
		notify.NewSMSChannel(
			cfg.Notifications.Twilio.AccountSID, cfg.Notifications.Twilio.AuthToken,
			cfg.Notifications.Twilio.FromSMS, cfg.Notifications.Twilio.To,
		),
		notify.NewWhatsAppChannel(
			cfg.Notifications.Twilio.AccountSID, cfg.Notifications.Twilio.AuthToken,
			cfg.Notifications.Twilio.FromWhatsApp, cfg.Notifications.Twilio.To,
		),
	}
}

// loadVarieties reads the `[crops] varieties_file` JSON document (a
// map[string]domain.VarietyConfig, the shape domain.DefaultVarieties
// returns) when configured, falling back to the built-in variety set
// when the path is unset or the file does not yet exist, so the stage
// overlay always has at least one variety to synthesize rules from.
func loadVarieties(path string) (map[string]domain.VarietyConfig, error) {
	if path == "" {
		return domain.DefaultVarieties(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.DefaultVarieties(), nil
		}
		return nil, fmt.Errorf("read varieties file: %w", err)
	}
	var varieties map[string]domain.VarietyConfig
	if err := json.Unmarshal(data, &varieties); err != nil {
		return nil, fmt.Errorf("parse varieties file: %w", err)
	}
	if len(varieties) == 0 {
		return domain.DefaultVarieties(), nil
	}
	return varieties, nil
}

// smtpPort renders the configured SMTP port, defaulting to 587
// (STARTTLS submission) when unset.
func smtpPort(p int) string {
	if p == 0 {
		return "587"
	}
	return fmt.Sprintf("%d", p)
}

// Serve starts the HTTP server and every background loop, and blocks
// until the process receives SIGINT/SIGTERM or ctx is cancelled.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Escalator.Run(ctx)
	go d.Harvester.Run(ctx)
	go d.advanceStagesLoop(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		// Escalation ticker stops first so no new re-notify fires while
		// the remaining queues drain.
		cancel()

		_ = httpServer.Shutdown(shutdownCtx)
		_ = d.TSDB.Flush(shutdownCtx)
		_ = d.TSDB.Close()
		_ = d.RelStore.Close()
	}()

	fmt.Printf("hydroloop gateway serving on http://%s\n", addr)
	if d.Config.Telemetry.Prometheus {
		fmt.Printf("  metrics: http://%s/metrics\n", addr)
	}

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// advanceStagesLoop sweeps crop stage transitions once an hour — stage
// durations are measured in days, so sub-hour precision buys nothing.
func (d *Daemon) advanceStagesLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Overlay.AutoAdvance(time.Now()); err != nil {
				d.logger.Printf("daemon: stage auto-advance failed: %v", err)
			}
		}
	}
}

// Close releases every daemon resource; safe to call without Serve
// having run.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.TSDB != nil {
		_ = d.TSDB.Close()
	}
	if d.RelStore != nil {
		_ = d.RelStore.Close()
	}
}
