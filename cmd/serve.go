package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rashmirrout/pilotdesk/internal/approval"
	"github.com/rashmirrout/pilotdesk/internal/bus"
	"github.com/rashmirrout/pilotdesk/internal/config"
	"github.com/rashmirrout/pilotdesk/internal/copilot"
	"github.com/rashmirrout/pilotdesk/internal/cost"
	"github.com/rashmirrout/pilotdesk/internal/gateway"
	"github.com/rashmirrout/pilotdesk/internal/office"
	"github.com/rashmirrout/pilotdesk/internal/panel"
	"github.com/rashmirrout/pilotdesk/internal/schedule"
	"github.com/rashmirrout/pilotdesk/internal/store"
	filestore "github.com/rashmirrout/pilotdesk/internal/store/file"
	sqlitestore "github.com/rashmirrout/pilotdesk/internal/store/sqlite"
	"github.com/rashmirrout/pilotdesk/internal/telemetry"
	"github.com/rashmirrout/pilotdesk/pkg/protocol"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration runtime and gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("load settings", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry init", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTelemetry(shutdownCtx)
	}()

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("open state store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	events := bus.NewMessageBus()

	client := copilot.NewHTTPClient(cfg.ChatAPI)
	client.Tracer = tracer
	tracker := cost.NewTracker(events)
	client.OnUsage = tracker.Record

	broker := approval.NewBroker(st, events, cfg.Approval.UIMode)

	// Autonomous sessions bypass tool approval for their lifetime; the flag
	// and any session-scoped rules are dropped on termination.
	client.OnSessionCreated = func(sessionID string, opts copilot.SessionOptions) {
		if opts.Autonomous {
			broker.SetAutonomous(sessionID, true)
		}
	}
	client.OnSessionTerminated = func(sessionID string) {
		broker.SetAutonomous(sessionID, false)
		broker.Rules().DropSession(sessionID)
	}

	officeMgr := office.NewManager(client, st, func(ev office.Event) {
		events.Broadcast(bus.Event{Name: protocol.EventOffice, Payload: ev})
	})
	panelOrc := panel.NewOrchestrator(client, st, cfg.Panel, func(ev panel.Event) {
		events.Broadcast(bus.Event{Name: protocol.EventPanel, Payload: ev})
	})

	watcher := panel.NewWatcher(panelOrc, 0, time.Duration(cfg.Panel.MaxDurationMinutes)*time.Minute)
	go watcher.Run(ctx)

	if len(cfg.CronInjections) > 0 {
		cron := schedule.NewCronInjector(cfg.CronInjections, officeMgr.InjectInstruction)
		go cron.Run(ctx)
	}

	// Settings hot reload: approval UI mode takes effect immediately.
	go func() {
		if err := config.Watch(ctx, cfgPath, func(updated *config.Settings) {
			broker.SetUIMode(updated.Approval.UIMode)
			slog.Info("settings reloaded", "path", cfgPath)
		}); err != nil {
			slog.Warn("settings watch unavailable", "error", err)
		}
	}()

	dispatcher := gateway.NewDispatcher(cfg, officeMgr, panelOrc, broker)
	srv := gateway.NewServer(cfg.Gateway, events, dispatcher)

	if err := srv.Start(ctx); err != nil {
		slog.Error("gateway", "error", err)
	}

	// Graceful teardown: stop both runs so no session leaks.
	events.Broadcast(bus.Event{Name: protocol.EventShutdown, Payload: nil})
	officeMgr.Stop()
	panelOrc.Stop()
	slog.Info("shutdown complete", "usage", tracker.Snapshot())
}

func openStore(cfg *config.Settings) (store.StateStore, error) {
	if cfg.Storage == "sqlite" {
		return sqlitestore.New(filepath.Join(cfg.StateDir, "state.db"))
	}
	return filestore.New(cfg.StateDir)
}
