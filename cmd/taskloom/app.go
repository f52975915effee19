package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ShayCichocki/taskloom/internal/config"
	"github.com/ShayCichocki/taskloom/internal/events"
	"github.com/ShayCichocki/taskloom/internal/exec"
	"github.com/ShayCichocki/taskloom/internal/orchestrator"
	"github.com/ShayCichocki/taskloom/internal/planner"
	"github.com/ShayCichocki/taskloom/internal/session"
	"github.com/ShayCichocki/taskloom/internal/state"
	"github.com/ShayCichocki/taskloom/internal/tools"
)

// openAIPlannerTimeout bounds one planning request to an OpenAI-compatible server.
const openAIPlannerTimeout = 2 * time.Minute

// app wires config, persistence, tools and the engine for one command.
type app struct {
	cfg      *config.Config
	db       *state.DB
	store    *session.MemoryStore
	registry *tools.Registry
	engine   *orchestrator.Engine
	emitter  *orchestrator.EventEmitter
	logger   *orchestrator.DebugLogger
	sinks    []events.Sink

	forwardDone chan struct{}
}

// appOptions selects the optional parts of the wiring.
type appOptions struct {
	// planner wires the configured planner for Run.
	planner bool
	// printEvents shows progress lines on stderr.
	printEvents bool
}

func loadConfig() (*config.Config, error) {
	if flagConfig != "" {
		return config.LoadFromPath(flagConfig)
	}
	return config.Load()
}

// openStore opens the state database and the session store backed by it.
func openStore(cfg *config.Config) (*state.DB, *session.MemoryStore, error) {
	db, err := state.Open(cfg.State.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open state database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate state database: %w", err)
	}
	store := session.NewMemoryStore(
		session.WithTTL(cfg.Session.TTL),
		session.WithPersister(db),
	)
	return db, store, nil
}

// loadRegistry builds the tool registry from the configured catalog.
func loadRegistry(cfg *config.Config) (*tools.Registry, error) {
	catalog, err := tools.LoadCatalog(cfg.Tools.Catalog)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no tool catalog at %s (set tools.catalog)", cfg.Tools.Catalog)
		}
		return nil, err
	}
	return tools.Build(catalog, exec.NewRunner())
}

func newPlanner(cfg *config.Config) (planner.Planner, error) {
	switch cfg.Planner.Provider {
	case config.ProviderFile:
		return planner.NewFilePlanner(cfg.Planner.PlanFile), nil

	case config.ProviderOpenAI:
		// Local OpenAI-compatible servers often need no key.
		key, _ := config.GetAPIKey(cfg)
		return planner.NewOpenAIPlanner(planner.OpenAIConfig{
			BaseURL: cfg.OpenAI.BaseURL,
			APIKey:  key,
			Model:   cfg.Planner.Model,
			Timeout: openAIPlannerTimeout,
		})

	default:
		claudeCfg := planner.ClaudeConfig{
			Model:         cfg.Planner.Model,
			UseAWSBedrock: cfg.Planner.UseBedrock,
			AWSRegion:     cfg.Planner.AWSRegion,
			AWSProfile:    cfg.Planner.AWSProfile,
		}
		if !claudeCfg.UseAWSBedrock {
			key, err := config.GetAPIKey(cfg)
			if err != nil {
				return nil, fmt.Errorf("anthropic planner: %w (set ANTHROPIC_API_KEY)", err)
			}
			claudeCfg.APIKey = key
		}
		return planner.NewClaudePlanner(claudeCfg)
	}
}

func newLogger(cfg *config.Config) *orchestrator.DebugLogger {
	if cfg.Log.Path != "" {
		logger, err := orchestrator.NewDebugLogger(cfg.Log.Path)
		if err == nil {
			return logger
		}
		log.Printf("[taskloom] WARNING: cannot open debug log %s: %v", cfg.Log.Path, err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return orchestrator.NopLogger()
	}
	return orchestrator.NewDebugLoggerForDir(cwd)
}

// openSinks connects the configured event sinks. A sink that cannot be
// reached is reported and skipped.
func openSinks(cfg *config.Config, printEvents bool) []events.Sink {
	var sinks []events.Sink
	if printEvents {
		sinks = append(sinks, newEventPrinter(os.Stderr))
	}
	if cfg.Events.JSONLPath != "" {
		s, err := events.OpenJSONL(cfg.Events.JSONLPath)
		if err != nil {
			log.Printf("[taskloom] WARNING: event log disabled: %v", err)
		} else {
			sinks = append(sinks, s)
		}
	}
	if cfg.Events.NATSURL != "" {
		s, err := events.NewNATSSink(cfg.Events.NATSURL, cfg.Events.NATSSubject)
		if err != nil {
			log.Printf("[taskloom] WARNING: nats events disabled: %v", err)
		} else {
			sinks = append(sinks, s)
		}
	}
	return sinks
}

func newApp(opts appOptions) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	registry, err := loadRegistry(cfg)
	if err != nil {
		return nil, err
	}

	var p planner.Planner
	if opts.planner {
		if p, err = newPlanner(cfg); err != nil {
			return nil, err
		}
	}

	db, store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		db:       db,
		store:    store,
		registry: registry,
		emitter:  orchestrator.NewEventEmitter(orchestrator.DefaultEventBufferSize),
		logger:   newLogger(cfg),
		sinks:    openSinks(cfg, opts.printEvents && flagFormat != formatJSON),
	}

	engineOpts := []orchestrator.Option{
		orchestrator.WithEventEmitter(a.emitter),
		orchestrator.WithLogger(a.logger),
		orchestrator.WithToolTimeout(cfg.Executor.ToolTimeout),
		orchestrator.WithConfirmationTimeout(cfg.Confirmation.Timeout),
		orchestrator.WithMaxConcurrency(cfg.Executor.MaxConcurrency),
		orchestrator.WithHistorySize(cfg.Session.HistorySize),
	}
	if p != nil {
		engineOpts = append(engineOpts, orchestrator.WithPlanner(p))
	}
	a.engine = orchestrator.New(orchestrator.RequiredConfig{Tools: registry, Sessions: store}, engineOpts...)

	a.forwardDone = make(chan struct{})
	go func() {
		defer close(a.forwardDone)
		events.Forward(context.Background(), a.emitter.Events(), a.sinks...)
	}()
	return a, nil
}

// Close flushes events and releases resources. Call it once the engine is idle.
func (a *app) Close() error {
	a.emitter.Close()
	<-a.forwardDone

	var errs []error
	if err := events.CloseAll(a.sinks...); err != nil {
		errs = append(errs, err)
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.logger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
