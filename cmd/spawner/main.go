package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"voxspawn/internal/adapter/platform"
	"voxspawn/internal/domain"
	"voxspawn/internal/infra/config"
	"voxspawn/internal/infra/logger"
	"voxspawn/internal/infra/tracer"
	"voxspawn/internal/usecase/eventbus"
	"voxspawn/internal/usecase/factory"
	"voxspawn/internal/usecase/lifecycle"
	"voxspawn/internal/usecase/pool"
	"voxspawn/internal/usecase/router"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		case "seed":
			if err := runSeed(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "seed: %v\n", err)
				os.Exit(1)
			}
			return
		case "agents":
			if err := runAgents(); err != nil {
				fmt.Fprintf(os.Stderr, "agents: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`voxspawn - session dispatcher for voice conversation agents

USAGE:
    spawner [COMMAND] [FLAGS]

COMMANDS:
    seed        Load agent descriptors into the sqlite store
                Usage: spawner seed <descriptors.json>
    agents      List active agents in the configured store

    (no command) - Run the worker pool with existing config

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml
    Environment: VOXSPAWN_* variables override config`)
}

func configPath() string {
	for i := 1; i < len(os.Args); i++ {
		switch {
		case os.Args[i] == "--config" && i+1 < len(os.Args):
			return os.Args[i+1]
		case strings.HasPrefix(os.Args[i], "--config="):
			return strings.TrimPrefix(os.Args[i], "--config=")
		}
	}
	return "config.yaml"
}

func run() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Pool.ID == "" {
		cfg.Pool.ID = "pool-" + uuid.NewString()[:8]
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	bus := eventbus.New(logger.ForComponent(log, "eventbus"))
	defer bus.Close()
	subscribeAudit(bus, logger.ForComponent(log, "audit"))

	agentStore, storeCleanup, err := buildStore(cfg, bus, logger.ForComponent(log, "store"))
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer storeCleanup()

	cache, cacheCleanup, err := buildCache(ctx, cfg, agentStore, logger.ForComponent(log, "cache"))
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cacheCleanup()

	registry := buildCapabilities(logger.ForComponent(log, "capability"))
	fac := factory.New(registry, logger.ForComponent(log, "factory"))
	mat := lifecycle.MaterializerFunc(
		func(ctx context.Context, desc *domain.AgentDescriptor) (lifecycle.Agent, error) {
			return fac.Materialize(ctx, desc)
		})

	rt, err := router.New(cfg.Pool.ID, cfg.Pool.Pattern, cfg.Pool.DefaultAgentID,
		logger.ForComponent(log, "router"))
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}

	feed, err := platform.Dial(ctx, cfg.Platform.URL, cfg.Platform.APIKey,
		cfg.Platform.DialTimeout, logger.ForComponent(log, "platform"))
	if err != nil {
		return fmt.Errorf("platform: %w", err)
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.Platform.ClaimRate), cfg.Platform.ClaimBurst)
	sup := pool.New(cfg.Pool, cfg.Lifecycle, rt, feed, cache, mat, bus, limiter,
		logger.ForComponent(log, "pool"))

	maintenance, err := startMaintenance(cfg.Maintenance, sup, cache, bus,
		logger.ForComponent(log, "maintenance"))
	if err != nil {
		return fmt.Errorf("maintenance: %w", err)
	}
	defer maintenance()

	go func() {
		<-ctx.Done()
		log.Info("shutdown signal received")
		sup.Stop()
	}()

	return sup.Run(ctx)
}
