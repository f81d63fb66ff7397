// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

// Command server runs the Veloroute engine: the activity sync manager, the
// route matching processor and the local HTTP control surface, all under a
// suture supervision tree.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/veloroute/veloroute/internal/config"
	"github.com/veloroute/veloroute/internal/events"
	"github.com/veloroute/veloroute/internal/geokit"
	"github.com/veloroute/veloroute/internal/httpapi"
	"github.com/veloroute/veloroute/internal/logging"
	"github.com/veloroute/veloroute/internal/routeproc"
	"github.com/veloroute/veloroute/internal/spatial"
	"github.com/veloroute/veloroute/internal/store"
	"github.com/veloroute/veloroute/internal/supervisor"
	"github.com/veloroute/veloroute/internal/syncmgr"
	"github.com/veloroute/veloroute/internal/trainingapi"
)

const eventBufferSize = 256

// spatialCellSizeKm is the grid cell size of the in-memory activity index.
const spatialCellSizeKm = 25

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("storage_path", cfg.Storage.Path).
		Str("api_base_url", cfg.API.BaseURL).
		Msg("Starting Veloroute")

	db, err := store.Open(cfg.Storage.Path, cfg.Storage.InMemory)
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Storage.Path).Msg("Failed to open storage")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Storage close failed")
		}
	}()

	bus := events.NewBus(eventBufferSize)
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Event bus close failed")
		}
	}()

	boundsStore := store.NewBadgerBoundsStore(db)
	routeStore := store.NewBadgerRouteCacheStore(db)
	index := spatial.NewIndex(spatialCellSizeKm)
	apiClient := trainingapi.NewClient(cfg.API)

	manager := syncmgr.New(cfg.Sync, apiClient, boundsStore, index, bus)

	kernel := geokit.NewKernel(geokit.Options{
		SimplifyToleranceM:       cfg.Route.SimplifyToleranceM,
		MaxSignaturePoints:       cfg.Route.MaxSignaturePoints,
		LoopThresholdM:           cfg.Route.LoopThresholdM,
		ProximityThresholdM:      cfg.Route.ProximityThresholdM,
		DistanceTolerancePercent: cfg.Route.DistanceTolerancePercent,
	})
	processor := routeproc.New(cfg.Route, routeStore, boundsStore, kernel, bus)

	hub := httpapi.NewHub(manager, processor)
	handler := httpapi.NewHandler(manager, processor, index, hub)
	router := httpapi.NewRouter(cfg.Server, handler)
	server := httpapi.NewServer(cfg.Server, router.Setup())

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddPipelineService(supervisor.NewSyncService(manager))
	tree.AddPipelineService(supervisor.NewRouteService(processor))
	tree.AddAPIService(supervisor.NewAPIService(server))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	hub.Shutdown(context.Background())

	if unstopped, err := tree.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
		}
	}

	logging.Info().Msg("Veloroute stopped")
}
