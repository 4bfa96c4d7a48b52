package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/warp/resource-scheduler/api"
	"github.com/warp/resource-scheduler/config"
	"github.com/warp/resource-scheduler/logger"
	"github.com/warp/resource-scheduler/metrics"
	"github.com/warp/resource-scheduler/scheduling"
	"github.com/warp/resource-scheduler/store/cache"
	"github.com/warp/resource-scheduler/store/sqlite"
)

// app holds the wired dependencies shared by every command.
type app struct {
	store   *sqlite.Store
	redis   *redis.Client
	handler *api.Handler
	metrics http.Handler
	log     logger.Logger
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger.Configure(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	log := logger.New("main")

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a := &app{store: store, log: log}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sink, err := metrics.NewPromSinkWithRegistry(reg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	a.metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	engine := scheduling.NewEngine(store, sink, logger.New("scheduling"))
	engine.AutoAssigner.SearchWindowDays = cfg.Search.SearchWindowDays

	h := api.NewHandler(store, engine)
	h.Search = scheduling.PeriodSearch{
		MaxAlternatives:  cfg.Search.MaxAlternatives,
		SearchWindowDays: cfg.Search.SearchWindowDays,
	}

	if cfg.Redis.Enabled() {
		client, err := cache.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.redis = client
		h.Cache = cache.NewUtilization(client, cfg.Redis.UtilizationTTL)
		h.Lock = cache.NewRunLock(client, cfg.Redis.LockTTL)
		log.Infof("redis enabled at %s", cfg.Redis.Addr)
	}
	a.handler = h
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warnf("redis close: %v", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warnf("database close: %v", err)
	}
}
