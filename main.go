package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"nt-bridge/internal/api"
	"nt-bridge/internal/backend/sim"
	"nt-bridge/internal/dispatch"
	"nt-bridge/internal/events"
	"nt-bridge/internal/monitor"
	"nt-bridge/internal/protection"
	"nt-bridge/internal/registry"
	"nt-bridge/internal/transport"
	"nt-bridge/pkg/config"
	"nt-bridge/pkg/db"
)

const buildVersion = "0.3.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: config load failed: %v", err)
	}
	log.Printf("main: starting nt-bridge %s (dry_run=%v, account=%s)", buildVersion, cfg.DryRun, cfg.DefaultAccount)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()

	// Order journal is optional. When enabled every registry snapshot refresh
	// is persisted, giving an audit trail that survives restarts.
	var database *db.Database
	if cfg.EnableJournal {
		database, err = db.New(cfg.JournalPath)
		if err != nil {
			log.Fatalf("main: journal init failed: %v", err)
		}
		defer database.Close()
		if err := db.ApplyMigrations(database); err != nil {
			log.Fatalf("main: journal migrations failed: %v", err)
		}
		startJournal(ctx, bus, database)
	}

	// Terminal backend. Only the simulated backend ships today; a live
	// terminal adapter plugs in behind the same interface.
	if !cfg.DryRun {
		log.Printf("main: no live terminal adapter configured, using simulated backend")
	}
	adapter := sim.New([]string{cfg.DefaultAccount})
	adapter.NativeDelay = cfg.SimNativeDelay
	adapter.StartPrice = cfg.SimStartPrice
	adapter.TickStep = cfg.SimTickStep
	adapter.Bus = bus
	adapter.StartFeed(ctx, 500*time.Millisecond)

	reg := registry.New(adapter, bus)
	defer reg.Close()

	// Pump backend order events into the registry.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-adapter.Events():
				if !ok {
					return
				}
				reg.UpdateFromEvent(u)
			}
		}
	}()

	machine := &protection.Machine{Adapter: adapter, Registry: reg, Bus: bus}
	protMgr := protection.NewManager(machine)

	var profiles map[string]protection.Profile
	if cfg.ProfilePath != "" {
		profiles, err = protection.LoadProfiles(cfg.ProfilePath)
		if err != nil {
			log.Printf("main: breakeven profiles not loaded: %v", err)
		} else {
			log.Printf("main: loaded %d breakeven profiles from %s", len(profiles), cfg.ProfilePath)
		}
	}

	disp := dispatch.NewDispatcher()
	handlers := &dispatch.Handlers{
		Adapter:        adapter,
		Registry:       reg,
		Protection:     protMgr,
		Profiles:       profiles,
		ResolvePoll:    cfg.ResolvePoll,
		ResolveTimeout: cfg.ResolveTimeout,
	}
	handlers.SetAccount(cfg.DefaultAccount)
	handlers.RegisterAll(disp)

	loop := &monitor.Loop{
		Adapter:  adapter,
		Configs:  protMgr,
		Bus:      bus,
		Interval: cfg.MonitorInterval,
		Account:  handlers.Account,
	}
	loop.Start(ctx)

	// Registry housekeeping: drop terminal orders after the retention window.
	go func() {
		t := time.NewTicker(cfg.PruneInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := reg.Prune(time.Now(), cfg.PruneAfter); n > 0 {
					log.Printf("main: pruned %d terminal orders", n)
				}
			}
		}
	}()

	if cfg.EnableFileTransport {
		fw := &transport.FileWatcher{
			Dispatcher: disp,
			InboxDir:   cfg.FileInboxDir,
			OutboxDir:  cfg.FileOutboxDir,
			Interval:   cfg.FilePollInterval,
		}
		if err := fw.Start(ctx); err != nil {
			log.Fatalf("main: file transport failed: %v", err)
		}
		log.Printf("main: file transport watching %s", cfg.FileInboxDir)
	}

	if cfg.EnableTCPTransport {
		srv := &transport.TCPServer{Dispatcher: disp, Addr: cfg.TCPAddr}
		if err := srv.Start(ctx); err != nil {
			log.Fatalf("main: tcp transport failed: %v", err)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	server := api.NewServer(bus, disp, reg, protMgr, loop, database,
		api.SystemMeta{
			DryRun:  cfg.DryRun,
			Account: cfg.DefaultAccount,
			Version: buildVersion,
		},
		cfg.JWTSecret,
	)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("main: api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("main: shutting down")
}

// startJournal persists every order snapshot refresh published on the bus.
func startJournal(ctx context.Context, bus *events.Bus, database *db.Database) {
	stream, unsub := bus.Subscribe(events.EventOrderUpdate, 256)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				rec, ok := msg.(registry.Record)
				if !ok {
					continue
				}
				err := database.RecordOrder(ctx, db.Order{
					ClientID:   rec.ClientID,
					NativeID:   rec.NativeID,
					Instrument: rec.Instrument,
					Side:       string(rec.Side),
					Type:       string(rec.Type),
					Qty:        rec.Qty,
					LimitPrice: rec.LimitPrice,
					StopPrice:  rec.StopPrice,
					State:      string(rec.State),
					Filled:     rec.Filled,
					AvgPrice:   rec.AvgPrice,
					Tag:        rec.Tag,
					UpdatedAt:  rec.LastUpdate,
				})
				if err != nil {
					log.Printf("main: journal write failed for %s: %v", rec.ClientID, err)
				}
			}
		}
	}()
}
