// Package config loads per-tenant algorithm and scoring settings.
// Every tenant owns its own TenantConfig; there is
// no global default that silently applies across tenants, only the
// Default() constructor a caller can start from.
package config

import (
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/outblock/swaps-core/internal/scoring"
)

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// AlgorithmConfig controls discovery cost and quality tradeoffs.
type AlgorithmConfig struct {
	MaxDepth                  int     `yaml:"max_depth"`
	MinEfficiency             float64 `yaml:"min_efficiency"`
	MaxResults                int     `yaml:"max_results"`
	TimeoutMs                 int     `yaml:"timeout_ms"`
	EnableCanonicalDiscovery  bool    `yaml:"enable_canonical_discovery"`
	EnableCollectionExpansion bool    `yaml:"enable_collection_expansion"`
	PartitionThreshold        int     `yaml:"partition_threshold"`
	ExpansionThreshold        int     `yaml:"expansion_threshold"`
	IncrementalScopeHops      int     `yaml:"incremental_scope_hops"`
}

// ScoringConfig controls how loops are weighed once found.
type ScoringConfig struct {
	WeightEfficiency float64 `yaml:"weight_efficiency"`
	WeightSize       float64 `yaml:"weight_size"`
	WeightFairness   float64 `yaml:"weight_fairness"`
}

// TenantConfig is one tenant's full settings.
type TenantConfig struct {
	TenantID  string          `yaml:"tenant_id"`
	Algorithm AlgorithmConfig `yaml:"algorithm"`
	Scoring   ScoringConfig   `yaml:"scoring"`
}

// Default returns the documented per-tenant defaults.
func Default(tenantID string) TenantConfig {
	return TenantConfig{
		TenantID: tenantID,
		Algorithm: AlgorithmConfig{
			MaxDepth:                  10,
			MinEfficiency:             0.6,
			MaxResults:                100,
			TimeoutMs:                 30000,
			EnableCanonicalDiscovery:  true,
			EnableCollectionExpansion: true,
			PartitionThreshold:        1000,
			ExpansionThreshold:        100,
			IncrementalScopeHops:      2,
		},
		Scoring: ScoringConfig{
			WeightEfficiency: 0.6,
			WeightSize:       0.2,
			WeightFairness:   0.2,
		},
	}
}

// ScoringOptions adapts ScoringConfig into the scoring package's
// Options, filling in the parts that are internal algorithm detail
// rather than tenant-configurable (fairness threshold, size bonus cap,
// neutral efficiency).
func (c TenantConfig) ScoringOptions() scoring.Options {
	opts := scoring.DefaultOptions()
	opts.Weights = scoring.Weights{
		Efficiency: decimalFromFloat(c.Scoring.WeightEfficiency),
		Size:       decimalFromFloat(c.Scoring.WeightSize),
		Fairness:   decimalFromFloat(c.Scoring.WeightFairness),
	}
	opts.MinEfficiency = c.Algorithm.MinEfficiency
	return opts
}

// Load reads a single tenant's YAML config file.
func Load(path string) (*TenantConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default("")
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadAll reads a directory of per-tenant YAML config files, one file
// per tenant, keyed by each file's tenant_id field.
func LoadAll(dir string) (map[string]*TenantConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*TenantConfig, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		cfg, err := Load(dir + "/" + e.Name())
		if err != nil {
			return nil, err
		}
		out[cfg.TenantID] = cfg
	}
	return out, nil
}
