// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestDefaultThresholdSeparation(t *testing.T) {
	cfg := defaultConfig()
	assert.Less(t, cfg.Route.MinMatchPercent, cfg.Route.MinGroupingPercent,
		"display-match threshold must stay below the grouping threshold")
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	cfg := defaultConfig()
	cfg.Route.MinMatchPercent = 80
	cfg.Route.MinGroupingPercent = 40
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsInvertedSectionLengths(t *testing.T) {
	cfg := defaultConfig()
	cfg.Route.MinSectionLengthM = 5000
	cfg.Route.MaxSectionLengthM = 400
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadLevel(t *testing.T) {
	cfg := defaultConfig()
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("VELOROUTE_SYNC__BATCH_SIZE", "7")
	t.Setenv("VELOROUTE_LOGGING__LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Sync.BatchSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
}
