// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.hjson"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 4317, cfg.Port)
	assert.Equal(t, 300*time.Millisecond, cfg.WatchDebounce)
	assert.Equal(t, 30*time.Minute, cfg.AutoAbortThreshold)
}

func TestLoadHjsonOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.hjson")
	require.NoError(t, os.WriteFile(path, []byte(`{
		port: 9000
		host: "0.0.0.0"
		watchDebounce: "500ms"
	}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 500*time.Millisecond, cfg.WatchDebounce)
	// untouched fields keep their defaults
	assert.Equal(t, 30*time.Minute, cfg.AutoAbortThreshold)
}

func TestApplyOverridesOnlyNonZeroFields(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Apply(Overrides{Port: 8080})
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "127.0.0.1", cfg.Host) // untouched
}
