package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vilhelmsaro/car-seeder/internal/breaker"
	"github.com/vilhelmsaro/car-seeder/internal/config"
	"github.com/vilhelmsaro/car-seeder/internal/durable"
	"github.com/vilhelmsaro/car-seeder/internal/generator"
	"github.com/vilhelmsaro/car-seeder/internal/httpapi"
	"github.com/vilhelmsaro/car-seeder/internal/logging"
	"github.com/vilhelmsaro/car-seeder/internal/metrics"
	"github.com/vilhelmsaro/car-seeder/internal/model"
	"github.com/vilhelmsaro/car-seeder/internal/queue"
	"github.com/vilhelmsaro/car-seeder/internal/recovery"
	"github.com/vilhelmsaro/car-seeder/internal/state"
	"github.com/vilhelmsaro/car-seeder/internal/writer"
)

var version = "dev"

func main() {
	logCfg := logging.DefaultConfig()
	logCfg.Level = env("LOG_LEVEL", logCfg.Level)
	logCfg.Format = env("LOG_FORMAT", logCfg.Format)
	root := logging.Init(logCfg)
	log := logging.Component(root, "main")

	log.Info().Str("version", version).Msg("car-seeder starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ids := model.NewIDGenerator()

	ds, err := durable.Open(cfg.SQLiteDBPath, ids, logging.Component(root, "durable_store"))
	if err != nil {
		log.Fatal().Err(err).Msg("durable store")
	}
	defer ds.Close()

	eventWriter, err := metrics.NewEventWriter(cfg.MetricsLogDir)
	if err != nil {
		log.Fatal().Err(err).Msg("metrics event log")
	}
	defer eventWriter.Close()

	mt := metrics.New(eventWriter, logging.Component(root, "metrics"))
	st := state.New(logging.Component(root, "state_manager"))
	br := breaker.New(cfg.CircuitBreakerFailureThreshold, cfg.CircuitBreakerCooldown, logging.Component(root, "circuit_breaker"))

	recoveryLog := logging.Component(root, "recovery_manager")
	var rm *recovery.Manager

	qCfg := queue.Config{
		UseSentinel:        cfg.RedisUseSentinel,
		SentinelHosts:      cfg.RedisSentinelHosts,
		SentinelMasterName: cfg.RedisSentinelMasterName,
		Host:               cfg.RedisHost,
		Port:               cfg.RedisPort,
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), 35*time.Second)
	qc, err := queue.Connect(connectCtx, qCfg, func() {
		if rm != nil {
			rm.OnReady()
		}
	}, logging.Component(root, "queue_client"))
	connectCancel()
	if err != nil {
		log.Fatal().Err(err).Msg("queue connect")
	}
	defer qc.Close()

	rm = recovery.New(st, br, qc, ds, mt, ids.Instance(), cfg.RecoveryChunkSize, cfg.RecoveryCheckInterval, cfg.RecoveryCooldown, recoveryLog)

	var sub *queue.EventSubscriber
	if cfg.RedisUseSentinel && len(cfg.RedisSentinelHosts) > 0 {
		sub = queue.NewEventSubscriber(cfg.RedisSentinelHosts[0], rm.EventHandler(cfg.RedisSentinelMasterName), logging.Component(root, "event_subscriber"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rm.Bootstrap(ctx); err != nil {
		log.Fatal().Err(err).Msg("recovery bootstrap")
	}

	if sub != nil {
		go sub.Run(ctx)
		defer sub.Close()
	}
	go rm.RunHealthProbe(ctx)

	wh := writer.New(st, br, qc, ds, mt, logging.Component(root, "write_handler"))

	gen := generator.New(cfg.CarGenerationInterval, wh.WriteCar, logging.Component(root, "generator"))
	gen.Start(ctx)

	mux := httpapi.New(httpapi.Deps{
		State:       st,
		Breaker:     br,
		Durable:     ds,
		SessionOpen: mt.IsSessionActive,
	})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: mux}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Int("port", cfg.Port).Msg("health endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-sigCh
	log.Info().Msg("shutting down")

	gen.Stop()
	cancel()

	if err := ds.FlushPendingWrites(); err != nil {
		log.Error().Err(err).Msg("final flush failed")
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
