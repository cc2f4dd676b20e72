package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/profile"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/l1jgo/worldsync/internal/codec"
	"github.com/l1jgo/worldsync/internal/config"
	"github.com/l1jgo/worldsync/internal/core/event"
	coresys "github.com/l1jgo/worldsync/internal/core/system"
	"github.com/l1jgo/worldsync/internal/data"
	"github.com/l1jgo/worldsync/internal/encoder"
	gonet "github.com/l1jgo/worldsync/internal/net"
	"github.com/l1jgo/worldsync/internal/net/ws"
	"github.com/l1jgo/worldsync/internal/persist"
	"github.com/l1jgo/worldsync/internal/protocol"
	"github.com/l1jgo/worldsync/internal/replication"
	"github.com/l1jgo/worldsync/internal/scripting"
	"github.com/l1jgo/worldsync/internal/system"
	"github.com/l1jgo/worldsync/internal/visibility"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	defaultPath := "config/server.toml"
	if p := os.Getenv("WORLDSYNC_CONFIG"); p != "" {
		defaultPath = p
	}
	cfgPath := flag.String("config", defaultPath, "path to the TOML config")
	profMode := flag.String("profile", "", "write a cpu or mem profile to the working directory")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*cfgPath)
	missing := errors.Is(err, os.ErrNotExist)
	switch {
	case missing:
		cfg = config.Default()
	case err != nil:
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()
	if missing {
		log.Warn("config file not found, using defaults", zap.String("path", *cfgPath))
	}

	switch *profMode {
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfileAllocs, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "":
	default:
		return fmt.Errorf("unknown -profile mode %q", *profMode)
	}

	// 3. World schema and initial population
	schema := data.NewSchema()
	state := schema.NewState()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var source data.SpawnSource = data.YAMLSpawns{Path: cfg.Data.SpawnFile}
	if cfg.Data.Source == "postgres" {
		db, err := persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		version, err := persist.RunMigrations(ctx, db.Pool, log)
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		log.Info("database schema ready", zap.Int64("version", version))
		source = persist.NewSpawnRepo(db)
	}
	spawns, err := source.LoadSpawns(ctx)
	if err != nil {
		return fmt.Errorf("load spawns: %w", err)
	}
	count, err := data.Populate(state, spawns)
	if err != nil {
		return fmt.Errorf("populate world: %w", err)
	}
	log.Info("world populated", zap.String("source", cfg.Data.Source), zap.Int("entities", count))

	// 4. Scripting
	var lua *scripting.Engine
	if cfg.Scripting.Enabled {
		lua, err = scripting.NewEngine(cfg.Scripting.Dir, log)
		if err != nil {
			return fmt.Errorf("scripting: %w", err)
		}
		defer lua.Close()
	}

	// 5. Visibility and encoding
	rc := cfg.Replication
	private := make([]visibility.PrivateRule, 0, len(rc.Private))
	for _, p := range rc.Private {
		private = append(private, visibility.PrivateRule{Collection: p.Collection, OwnerField: p.OwnerField})
	}
	policy := visibility.NewTilePolicy(visibility.TileConfig{
		Actors:   rc.Actors,
		Position: rc.Position,
		Radius:   rc.ViewRadius,
		Spatial:  rc.Spatial,
		Globals:  rc.Globals,
		Private:  private,
	})
	if lua != nil {
		if hook := lua.RadiusHook(state, rc.Actors); hook != nil {
			policy.WithRadius(hook)
		}
	}

	var enc encoder.Encoder = encoder.Inline{}
	if rc.Encoder == "pool" {
		enc = encoder.NewPool(rc.EncodeWorkers, rc.EncodeQueue, log)
	}

	// 6. Transports
	nc := cfg.Network
	hub := gonet.NewHub(nc.MaxConnections, log)
	tcp, err := gonet.NewServer(nc.BindAddress, hub, gonet.SessionOptions{
		OutQueueSize: nc.OutQueueSize,
		MaxFrameSize: nc.MaxFrameSize,
		ReadTimeout:  nc.ReadTimeout,
		WriteTimeout: nc.WriteTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("tcp listener: %w", err)
	}
	go tcp.AcceptLoop()

	var httpSrv *nethttp.Server
	if nc.WebSocketAddress != "" {
		mux := nethttp.NewServeMux()
		mux.Handle(nc.WebSocketPath, ws.NewHandler(hub, ws.Options{
			OutQueueSize: nc.OutQueueSize,
			MaxFrameSize: nc.MaxFrameSize,
			WriteTimeout: nc.WriteTimeout,
		}, log))
		httpSrv = &nethttp.Server{Addr: nc.WebSocketAddress, Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
				log.Error("websocket listener failed", zap.Error(err))
			}
		}()
	}

	// 7. Replication and systems
	server := replication.NewServer(state, replication.Options{
		Policy:    policy,
		Encoder:   enc,
		Transport: hub,
		Hello:     protocol.EncodeHello(schema.Registry.Fingerprint()),
		Log:       log.Named("replication"),
	})

	sim := cfg.Simulation
	bus := event.NewBus()
	system.NewSessions(bus, server, state.Collection(rc.Actors), func(id string) codec.Fields {
		return schema.NewActor(id, sim.SpawnX, sim.SpawnY, sim.SpawnArea)
	}, log).WithNotices(schema.Notice)

	seed := sim.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	runner := coresys.NewRunner(nc.TickRate, log)
	runner.Register(system.NewInputSystem(hub, bus, log))
	runner.Register(system.NewEventDispatchSystem(bus))
	runner.Register(system.NewWanderSystem(state.Collection(data.Npcs), state.Collection(data.Areas), rc.Position, sim.WanderEvery, lua, seed))
	runner.Register(system.NewReplicationSystem(server))
	output := system.NewOutputSystem(server, log)
	runner.Register(output)

	// 8. Game loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(nc.TickRate)
	defer ticker.Stop()
	statsTicker := time.NewTicker(30 * time.Second)
	defer statsTicker.Stop()

	log.Info("server ready",
		zap.String("name", cfg.Server.Name),
		zap.String("tcp", tcp.Addr().String()),
		zap.String("websocket", nc.WebSocketAddress),
		zap.Duration("tick", nc.TickRate),
		zap.String("encoder", rc.Encoder),
		zap.Int("schemas", schema.Registry.Len()),
	)

	for {
		select {
		case <-ticker.C:
			runner.Tick(nc.TickRate)
		case <-statsTicker.C:
			sent, bytes, dropped := output.Totals()
			ticks, panics, slow := runner.Stats()
			log.Info("replication stats",
				zap.Uint64("ticks", ticks),
				zap.Int("panics", panics),
				zap.Int("slow_ticks", slow),
				zap.Int("observers", server.Observers()),
				zap.Int("sent", sent),
				zap.Int("bytes", bytes),
				zap.Int("dropped", dropped),
			)
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			return shutdown(server, tcp, httpSrv, hub, rc.ShutdownGrace, log)
		}
	}
}

// shutdown stops accepting clients, flushes in-flight patches, then lets
// every connection write out its queue before closing it.
func shutdown(server *replication.Server, tcp *gonet.Server, httpSrv *nethttp.Server, hub *gonet.Hub, grace time.Duration, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	var err error
	err = multierr.Append(err, tcp.Shutdown())
	if httpSrv != nil {
		err = multierr.Append(err, httpSrv.Shutdown(ctx))
	}
	err = multierr.Append(err, server.Stop(ctx))
	if derr := hub.DrainAll(ctx); derr != nil {
		hub.CloseAll()
		err = multierr.Append(err, derr)
	}
	if err != nil {
		log.Warn("shutdown finished with errors", zap.Error(err))
		return err
	}
	log.Info("server stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
