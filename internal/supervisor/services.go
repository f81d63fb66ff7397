// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package supervisor

import (
	"context"

	"github.com/veloroute/veloroute/internal/httpapi"
	"github.com/veloroute/veloroute/internal/logging"
	"github.com/veloroute/veloroute/internal/routeproc"
	"github.com/veloroute/veloroute/internal/syncmgr"
)

// SyncService runs the sync manager as a suture service: initialize, then
// hold until shutdown. A failed initialization returns the error so the
// supervisor restarts the service; the manager's error state is
// recoverable, so the retry goes through the normal transition table.
type SyncService struct {
	manager *syncmgr.Manager
}

// NewSyncService wraps a sync manager.
func NewSyncService(manager *syncmgr.Manager) *SyncService {
	return &SyncService{manager: manager}
}

// Serve implements suture.Service.
func (s *SyncService) Serve(ctx context.Context) error {
	// On a restart after a clean run the manager is already past
	// initialization; re-running it would be rejected by the state
	// machine.
	if st := s.manager.State(); st == syncmgr.StateUninitialized || st == syncmgr.StateError {
		logging.Info().Str("state", string(st)).Msg("Sync service initializing")
		if err := s.manager.Initialize(ctx); err != nil {
			return err
		}
	}

	<-ctx.Done()
	s.manager.Shutdown()
	return ctx.Err()
}

// RouteService runs the route processor: attach to the sync signals, then
// hold. The subscriptions are bound to ctx and detach on shutdown.
type RouteService struct {
	processor *routeproc.Processor
}

// NewRouteService wraps a route processor.
func NewRouteService(processor *routeproc.Processor) *RouteService {
	return &RouteService{processor: processor}
}

// Serve implements suture.Service.
func (s *RouteService) Serve(ctx context.Context) error {
	if err := s.processor.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	s.processor.Cancel()
	return ctx.Err()
}

// APIService runs the HTTP server under supervision.
type APIService struct {
	server *httpapi.Server
}

// NewAPIService wraps an HTTP server.
func NewAPIService(server *httpapi.Server) *APIService {
	return &APIService{server: server}
}

// Serve implements suture.Service.
func (s *APIService) Serve(ctx context.Context) error {
	return s.server.Serve(ctx)
}
