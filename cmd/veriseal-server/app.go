package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/veriseal/server/internal/config"
	"github.com/veriseal/server/internal/db"
	"github.com/veriseal/server/internal/veriseal/audit"
	"github.com/veriseal/server/internal/veriseal/service"
	"github.com/veriseal/server/internal/veriseal/store"
	"github.com/veriseal/server/internal/veriseal/store/memory"
	"github.com/veriseal/server/internal/veriseal/store/sqlstore"
)

// app is the wired object graph shared by the subcommands.
type app struct {
	logger   *log.Logger
	registry *prometheus.Registry

	handle *db.Handle // nil with the memory store
	writer *db.Worker
	sink   *audit.RedisStream
	// auditLog serves GET /v1/audit: the Redis stream when configured,
	// otherwise a bounded in-process log.
	auditLog audit.Reader

	dispatcher *service.AuditDispatcher
	packages   *service.PackageService
	ledger     *service.TamperLedger
	gate       *service.VerificationGate
}

func dbConfig(cfg config.Config) db.Config {
	return db.Config{
		Driver: cfg.DBDriver,
		Path:   cfg.DBPath,
		URL:    cfg.DBURL,
		Env:    cfg.Env,
	}
}

func buildApp(ctx context.Context, cfg config.Config, logger *log.Logger) (_ *app, err error) {
	a := &app{logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var st store.PackageStore
	switch cfg.Store {
	case "memory":
		st = memory.NewPackageStore()
	default:
		a.handle, err = db.Open(ctx, dbConfig(cfg))
		if err != nil {
			return nil, err
		}
		a.writer = db.NewWorker(a.handle.DB, a.handle.Lanes())
		st = sqlstore.NewPackageStore(a.handle.DB, a.handle.Dialect, a.writer)
	}

	registry := service.DefaultCheckpointRegistry()
	if cfg.RegistryPath != "" {
		registry, err = service.LoadCheckpointRegistry(cfg.RegistryPath)
		if err != nil {
			return nil, err
		}
	}

	metrics := service.NewMetrics(a.registry)

	var sink audit.Sink
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.sink = audit.NewRedisStream(client, cfg.AuditStream, cfg.AuditStreamMax)
		sink, a.auditLog = a.sink, a.sink
	} else {
		mem := audit.NewMemoryLog(cfg.AuditMemoryEntries)
		sink, a.auditLog = mem, mem
	}

	chain, err := resumeChain(ctx, a.auditLog, logger)
	if err != nil {
		return nil, err
	}
	a.dispatcher = service.NewAuditDispatcher(chain, []audit.Sink{sink},
		service.AuditConfig{QueueSize: cfg.AuditQueueSize}, logger, metrics)

	deps := service.Deps{
		Store:    st,
		Registry: registry,
		Audit:    a.dispatcher,
		Notifier: service.NewLogNotifier(logger),
		Metrics:  metrics,
		Logger:   logger,
	}
	a.packages = service.NewPackageService(deps, service.PackageConfig{BcryptCost: cfg.BcryptCost})
	a.ledger = service.NewTamperLedger(deps)
	a.gate, err = service.NewVerificationGate(deps, cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("verification gate: %w", err)
	}
	return a, nil
}

// resumeChain continues the chain from the newest entry the log holds. An
// unreachable log starts a fresh chain; a resume point that fails its own
// hash check stops startup.
func resumeChain(ctx context.Context, r audit.Reader, logger *log.Logger) (*audit.Chain, error) {
	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	last, ok, err := audit.Last(readCtx, r)
	if err != nil {
		logger.Printf("audit log unreachable at startup, starting a new chain: %v", err)
		return audit.NewChain(), nil
	}
	if !ok {
		return audit.NewChain(), nil
	}
	chain, err := audit.ResumeChain(last)
	if err != nil {
		return nil, fmt.Errorf("resume audit chain: %w", err)
	}
	logger.Printf("audit chain resumed at seq %d", last.Seq)
	return chain, nil
}

// Ready reports whether the backing database answers.
func (a *app) Ready(ctx context.Context) error {
	if a.handle == nil {
		return nil
	}
	return a.handle.DB.PingContext(ctx)
}

func (a *app) Close() {
	if a.writer != nil {
		a.writer.Close()
	}
	if a.handle != nil {
		_ = a.handle.DB.Close()
	}
	if a.sink != nil {
		_ = a.sink.Close()
	}
}
