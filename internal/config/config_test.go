package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault_MatchesSpecDefaults(t *testing.T) {
	cfg := Default("tenantX")
	require.Equal(t, "tenantX", cfg.TenantID)
	require.Equal(t, 10, cfg.Algorithm.MaxDepth)
	require.InDelta(t, 0.6, cfg.Algorithm.MinEfficiency, 1e-9)
	require.Equal(t, 100, cfg.Algorithm.ExpansionThreshold)
	require.Equal(t, 1000, cfg.Algorithm.PartitionThreshold)
	require.True(t, cfg.Algorithm.EnableCanonicalDiscovery)
	require.True(t, cfg.Algorithm.EnableCollectionExpansion)
}

func TestLoad_OverridesDefaultsFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tenant.yaml")
	content := []byte("tenant_id: acme\nalgorithm:\n  max_depth: 5\n  min_efficiency: 0.75\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "acme", cfg.TenantID)
	require.Equal(t, 5, cfg.Algorithm.MaxDepth)
	require.InDelta(t, 0.75, cfg.Algorithm.MinEfficiency, 1e-9)
	// Fields absent from the override file keep the Default() baseline.
	require.Equal(t, 100, cfg.Algorithm.ExpansionThreshold)
}

func TestLoadAll_KeyedByTenantID(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("tenant_id: a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("tenant_id: b\n"), 0o644))

	all, err := LoadAll(dir)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "a", all["a"].TenantID)
	require.Equal(t, "b", all["b"].TenantID)
}

func TestScoringOptions_AppliesWeightsAndMinEfficiency(t *testing.T) {
	cfg := Default("t")
	cfg.Scoring.WeightEfficiency = 0.5
	cfg.Scoring.WeightSize = 0.3
	cfg.Scoring.WeightFairness = 0.2
	cfg.Algorithm.MinEfficiency = 0.8

	opts := cfg.ScoringOptions()
	require.InDelta(t, 0.5, opts.Weights.Efficiency.InexactFloat64(), 1e-9)
	require.InDelta(t, 0.8, opts.MinEfficiency, 1e-9)
}
