// Moongate - Ultima Online shard protocol engine.
//
// Moongate accepts client connections, negotiates the login encryption,
// decodes the framed packet stream and dispatches packets to handlers. It
// exposes a REST API and an interactive console for operators and can
// publish session telemetry via MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/moongate-community/moongate/internal/api"
	"github.com/moongate-community/moongate/internal/cli"
	"github.com/moongate-community/moongate/internal/config"
	"github.com/moongate-community/moongate/internal/db"
	"github.com/moongate-community/moongate/internal/dispatch"
	"github.com/moongate-community/moongate/internal/events"
	"github.com/moongate-community/moongate/internal/handlers"
	"github.com/moongate-community/moongate/internal/health"
	"github.com/moongate-community/moongate/internal/network"
	"github.com/moongate-community/moongate/internal/protocol"
	"github.com/moongate-community/moongate/internal/scheduler"
	"github.com/moongate-community/moongate/internal/telemetry"
	"github.com/moongate-community/moongate/internal/util"
)

const Banner = `
  __  __                                  _
 |  \/  | ___   ___  _ __   __ _  __ _| |_ ___
 | |\/| |/ _ \ / _ \| '_ \ / _' |/ _' | __/ _ \
 | |  | | (_) | (_) | | | | (_| | (_| | ||  __/
 |_|  |_|\___/ \___/|_| |_|\__, |\__,_|\__\___|
                           |___/  v%s
 Ultima Online shard protocol engine
`

const (
	bindRetryWindow = 45 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	configDir := flag.String("config", config.DefaultConfigDir, "configuration directory")
	setup := flag.Bool("setup", false, "run the interactive setup wizard before starting")
	noConsole := flag.Bool("no-console", false, "disable the interactive operator console")
	flag.Parse()

	fmt.Printf(Banner, api.Version)
	fmt.Println()

	// Defaults first; reconfigured once the config is loaded.
	logFile, err := util.InitLogger(util.DefaultLogConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", api.Version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting Moongate")

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *setup {
		if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("setup wizard failed")
		}
	}

	appData := cfg.GetApplicationData()
	logCfg := util.LogConfig{
		Level:      appData.Logging.Level,
		Directory:  appData.Logging.Directory,
		MaxBackups: appData.Logging.MaxBackups,
		Console:    true,
	}
	if newFile, err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	} else {
		logFile.Close()
		logFile = newFile
	}
	defer logFile.Close()

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, fix the errors above or run with -setup")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	if err := run(cfg, !*noConsole); err != nil {
		log.Error().Err(err).Msg("Moongate stopped with error")
		logFile.Close()
		os.Exit(1)
	}
	log.Info().Msg("Moongate stopped")
}

func run(cfg *config.Config, console bool) error {
	serverData := cfg.GetServerData()
	appData := cfg.GetApplicationData()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Packet model
	packets := protocol.NewRegistry()
	registered := protocol.RegisterDefaults(packets)
	factories := protocol.NewFactoryTable(packets)
	protocol.BindDefaults(factories)
	decoder := protocol.NewFrameDecoder(packets, factories)
	log.Info().Int("definitions", registered).Int("bound", factories.Count()).Msg("packet registry loaded")

	handshake, err := network.NewHandshakeConfig(serverData.Crypto)
	if err != nil {
		return fmt.Errorf("invalid crypto configuration: %w", err)
	}

	// The scheduler outlives the listener so units queued by closing
	// connections still drain.
	schedCtx, stopSched := context.WithCancel(context.Background())
	defer stopSched()
	sched := scheduler.NewLaneScheduler(scheduler.Config{
		Lanes:     serverData.Scheduler.Lanes,
		QueueSize: serverData.Scheduler.QueueSize,
	})
	sched.Start(schedCtx)

	eventBus := events.NewEventBus()
	connections := network.NewConnectionRegistry(eventBus)
	outbound := network.NewOutbound(connections, sched, eventBus, packets)
	dispatcher := dispatch.NewDispatcher(sched, eventBus, packets)

	accounts, err := db.OpenAccountStore(appData.Database.Path, appData.Database.AutoCreateAccount)
	if err != nil {
		return fmt.Errorf("failed to open account store: %w", err)
	}
	defer accounts.Close()

	h := handlers.New(handlers.Deps{
		Connections: connections,
		Sender:      outbound,
		Scheduler:   sched,
		Credentials: accounts,
		History:     accounts,
	})
	if err := h.Register(dispatcher); err != nil {
		return fmt.Errorf("failed to register packet handlers: %w", err)
	}

	gameServer := network.NewServer(serverData.Network, handshake, connections, decoder, dispatcher)
	apiServer := api.NewServer(cfg, api.Deps{
		Connections: connections,
		Outbound:    outbound,
		Packets:     packets,
		Accounts:    accounts,
		EventBus:    eventBus,
	})
	healthMgr := health.NewManager(health.OptionsFromConfig(cfg), connections, accounts, eventBus)

	var mqttHandler *telemetry.MQTTHandler
	if appData.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(appData.MQTT, eventBus, api.Version)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	// The console's quit command asks for shutdown through the bus.
	quit := make(chan struct{})
	var quitOnce sync.Once
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(_ context.Context, e events.Event) error {
		if e.Source != "main" {
			quitOnce.Do(func() { close(quit) })
		}
		return nil
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Strs("addresses", serverData.Network.ListenAddresses).Msg("starting game listener")
		if err := startWithRetry(ctx, "game listener", gameServer.Start, bindRetryWindow); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("game listener: %w", err)
		}
	}()

	if appData.API.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", appData.API.Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, bindRetryWindow); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	if console {
		// Not tracked by wg: a blocked stdin read cannot be interrupted.
		operator := cli.NewCLI(cli.Deps{
			Connections: connections,
			Outbound:    outbound,
			Packets:     packets,
			Accounts:    accounts,
			EventBus:    eventBus,
		}, os.Stdin, os.Stdout)
		go operator.Start(ctx)
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case <-quit:
		log.Info().Msg("shutdown requested from console")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")
	eventBus.EmitSync(context.Background(), events.Event{Type: events.EventShutdown, Source: "main"})
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(shutdownTimeout):
		log.Warn().Dur("timeout", shutdownTimeout).Msg("shutdown timed out, forcing exit")
		if n := connections.CloseAll(context.Background(), errors.New("shutdown timeout")); n > 0 {
			log.Warn().Int("closed", n).Msg("force-closed remaining sessions")
		}
	}

	sched.Stop()
	eventBus.Stop()
	return runErr
}
