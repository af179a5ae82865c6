// Package main is the entry point for the COA simulation server.
// It only handles dependency injection and server initialization.
// NO business logic belongs here.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/coasim/coasim/internal/agents"
	"github.com/coasim/coasim/internal/engine"
	"github.com/coasim/coasim/internal/events"
	"github.com/coasim/coasim/internal/harness"
	"github.com/coasim/coasim/internal/infra/replay"
	"github.com/coasim/coasim/internal/infra/storage"
	"github.com/coasim/coasim/internal/network"
	"github.com/coasim/coasim/internal/platform/config"
	"github.com/coasim/coasim/internal/platform/logger"
	"github.com/coasim/coasim/internal/platform/metrics"
	"github.com/coasim/coasim/internal/scenario"
)

func main() {
	log.Println("[COA-SERVER] Initializing simulation server...")

	cfg, err := config.FromArgs("coa-server", os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	appLogger := logger.NewLogger()
	m := metrics.Get()

	scn, err := scenario.Load(cfg.Scenario)
	if err != nil {
		appLogger.Error("Failed to load scenario: " + err.Error())
		os.Exit(1)
	}

	appLogger.Infof("Initializing SQLite database '%s'...", cfg.DBPath)
	db, err := storage.InitSQLite(cfg.DBPath)
	if err != nil {
		appLogger.Error("Failed to initialize SQLite: " + err.Error())
		os.Exit(1)
	}
	defer db.Close()

	eventRepo := storage.NewSQLiteEventRepository(db)
	snapRepo := storage.NewSQLiteSnapshotRepository(db)
	runRepo := storage.NewSQLiteRunRepository(db)
	reconstructor := storage.NewReconstructor(eventRepo, runRepo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runID := cfg.Resume
	if runID == "" {
		runID = uuid.NewString()
	}
	dbPersister := storage.NewEventPersister(eventRepo, runID, m)
	var restore *harness.Restore
	if cfg.Resume == "" {
		err = runRepo.Create(ctx, storage.Run{ID: runID, Scenario: scn.Name, Map: scn.Grid().String(), StartedAt: time.Now()})
	} else {
		restore, err = resumeRun(ctx, runID, scn, eventRepo, runRepo, reconstructor, dbPersister)
	}
	if err != nil {
		appLogger.Error("Failed to prepare run: " + err.Error())
		os.Exit(1)
	}
	appLogger.Infof("Run %s: scenario %s", runID, scn.Name)

	persisters := events.MultiPersister{dbPersister}
	var replayLog *replay.Writer
	if cfg.ReplayDir != "" {
		replayLog, err = openReplay(cfg.ReplayDir, runID, scn, restore)
		if err != nil {
			appLogger.Error("Failed to open replay log: " + err.Error())
			os.Exit(1)
		}
		persisters = append(persisters, replayLog)
		appLogger.Info("Writing replay log " + replayLog.Path())
	}

	appLogger.Info("Bootstrapping Engine and Commander...")
	sim, err := harness.Build(scn, appLogger, harness.Options{
		Persister:    persisters,
		Metrics:      m,
		Agents:       agents.Config{MaxWaits: cfg.MaxWaits, MaxExpansions: cfg.MaxExpansions},
		TickInterval: cfg.TickInterval,
		Restore:      restore,
	})
	if err != nil {
		appLogger.Error("Failed to build simulation: " + err.Error())
		os.Exit(1)
	}
	sim.EventLog.OnPersistError(func(e events.SimEvent, err error) {
		appLogger.Errorf("persist %s %s: %v", e.Type, e.ID, err)
	})

	appLogger.Info("Bootstrapping WebSocket Hub...")
	ops := network.NewOperator(sim.Engine, sim.Commander, appLogger)
	hub := network.NewHub(appLogger, m, ops)
	hub.Tune(cfg.Tuning.BroadcastBuffer, cfg.Tuning.ClientSendBuffer)
	hub.SetCommandInterval(cfg.CommandInterval)
	go hub.Run(ctx)
	hub.StartEventPoller(ctx, sim.EventLog, cfg.PollInterval)

	var finishOnce sync.Once
	sim.Engine.OnTick(hub.BroadcastState)
	sim.Engine.OnTick(func(snap engine.Snapshot) {
		if !snap.Complete && snap.Tick < scn.MaxTicks {
			return
		}
		finishOnce.Do(func() {
			appLogger.Infof("Run %s finished at tick %d (complete=%v)", runID, snap.Tick, snap.Complete)
			sim.Engine.Stop()
			saveSnapshots(ctx, snapRepo, runID, snap, appLogger)
			if err := runRepo.Finish(ctx, runID, snap.Tick, snap.Complete); err != nil {
				appLogger.Error("Failed to record run end: " + err.Error())
			}
		})
	})

	sim.Engine.Start(ctx)

	// Periodic unit snapshots
	go func() {
		backupTicker := time.NewTicker(cfg.SnapshotInterval)
		defer backupTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-backupTicker.C:
				saveSnapshots(ctx, snapRepo, runID, sim.Engine.Snapshot(), appLogger)
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	network.NewOpsAPI(ops, appLogger).RegisterRoutes(mux)
	network.NewReplayHandler(sim.EventLog, appLogger).WithRecap(reconstructor, runID).RegisterRoutes(mux)
	mux.HandleFunc("/metrics", m.Handler())
	mux.HandleFunc("/metrics/prometheus", m.PrometheusHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}
	go func() {
		log.Printf("[COA-SERVER] HTTP API & WS Server listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	log.Println("[COA-SERVER] Server running. Press Ctrl+C to exit.")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[COA-SERVER] Shutting down...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP shutdown: " + err.Error())
	}
	cancel()

	final := sim.Engine.Snapshot()
	sim.EventLog.Close()
	saveSnapshots(shutdownCtx, snapRepo, runID, final, appLogger)
	if replayLog != nil {
		if err := replayLog.Close(); err != nil {
			appLogger.Error("Failed to close replay log: " + err.Error())
		}
	}
	for _, note := range config.Analyze(m.Snapshot()).Notes {
		appLogger.Warn("tuning: " + note)
	}
}

// resumeRun rebuilds a stored run so the engine can continue it.
func resumeRun(ctx context.Context, runID string, scn *scenario.Scenario, eventRepo storage.EventRepository,
	runRepo storage.RunRepository, rec *storage.Reconstructor, p *storage.EventPersister) (*harness.Restore, error) {
	run, err := runRepo.Get(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", runID, err)
	}
	if run.Scenario != scn.Name {
		return nil, fmt.Errorf("resume %s: run is scenario %q, loaded %q", runID, run.Scenario, scn.Name)
	}
	state, err := rec.RebuildRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	records, err := eventRepo.GetByRunID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		p.ContinueFrom(records[len(records)-1].Seq)
	}
	snap := state.Snapshot()
	return &harness.Restore{Grid: snap.Grid, Units: snap.Units, Tick: snap.Tick}, nil
}

// openReplay creates the run's replay file. A resumed run gets a new file
// per session, starting from the restored terrain.
func openReplay(dir, runID string, scn *scenario.Scenario, restore *harness.Restore) (*replay.Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	name, terrain := runID, scn.Grid().String()
	if restore != nil {
		name = fmt.Sprintf("%s-%d", runID, restore.Tick)
		terrain = restore.Grid.String()
	}
	return replay.Create(filepath.Join(dir, name+replay.Extension), replay.Header{
		RunID:     runID,
		Scenario:  scn.Name,
		Map:       terrain,
		StartedAt: time.Now(),
	})
}

func saveSnapshots(ctx context.Context, repo storage.SnapshotRepository, runID string, snap engine.Snapshot, log *logger.Logger) {
	for _, u := range snap.Units {
		if err := repo.Upsert(ctx, storage.SnapshotOf(runID, snap.Tick, u)); err != nil {
			log.Errorf("snapshot %s: %v", u.ID, err)
		}
	}
}
