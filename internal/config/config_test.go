package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrpdiag/internal/diag"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.DBMigrate)
	assert.Equal(t, "dev", cfg.Auth.Mode)
	assert.Equal(t, 10, cfg.Webhook.MaxAttempts)
	assert.True(t, cfg.Diag.UseSearchEvidence)

	o := cfg.DiagOptions()
	assert.Equal(t, diag.Exhaustive, o.Mode)
	assert.Equal(t, diag.NearestMiss, o.TieBreak)
	assert.Positive(t, o.Workers)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vrpdiag.yaml")
	body := "port: \"9000\"\ndiag:\n  mode: best-effort\n  tie_break: fleet-order\n  workers: 3\ncache:\n  ttl_sec: 60\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("DIAG_WORKERS", "7")
	t.Setenv("DIAG_INCLUDE_DETAILS", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 60, cfg.Cache.TTLSec)
	assert.Equal(t, 7, cfg.Diag.Workers)

	o := cfg.DiagOptions()
	assert.Equal(t, diag.BestEffort, o.Mode)
	assert.Equal(t, diag.FleetOrder, o.TieBreak)
	assert.True(t, o.IncludeDetails)
	assert.Equal(t, 7, o.Workers)
}

func TestLoad_RejectsUnknownPolicy(t *testing.T) {
	t.Setenv("DIAG_TIE_BREAK", "coin-flip")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoad_RejectsNonPositiveCacheTTL(t *testing.T) {
	t.Setenv("CACHE_TTL_SEC", "0")
	_, err := Load("")
	require.ErrorContains(t, err, "cache.ttl_sec")
}
