// Package config loads the pipeline configuration: defaults, then the YAML
// file named by ATLAS_CONFIG, then environment overrides. Invalid
// configuration is rejected before any phase touches persisted state.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/atlaskb/atlas-backend/internal/domain/builderr"
	"github.com/atlaskb/atlas-backend/internal/modules/assoc"
	"github.com/atlaskb/atlas-backend/internal/modules/hierarchy"
	"github.com/atlaskb/atlas-backend/internal/modules/identity"
	"github.com/atlaskb/atlas-backend/internal/platform/envutil"
)

// Seed names one root topic, by source page id or by label.
type Seed struct {
	PageID int64  `yaml:"page_id"`
	Label  string `yaml:"label"`
}

type HierarchyConfig struct {
	Seeds                []Seed   `yaml:"seeds"`
	MaxLevel             int      `yaml:"max_level"`
	BatchSizeHint        int      `yaml:"batch_size_hint"`
	MinBatch             int      `yaml:"min_batch"`
	MaxBatch             int      `yaml:"max_batch"`
	TargetRowsPerSec     float64  `yaml:"target_rows_per_sec"`
	Workers              int      `yaml:"workers"`
	MaxRetries           int      `yaml:"max_retries"`
	KeepDiscardedParents bool     `yaml:"keep_discarded_parents"`
	PinnedRoots          []int64  `yaml:"pinned_roots"`
	ExcludePrefixes      []string `yaml:"exclude_category_prefixes"`
	CycleScan            bool     `yaml:"cycle_scan"`
	CycleHopLimit        int      `yaml:"cycle_hop_limit"`
}

type IdentityConfig struct {
	ScanWindow int64 `yaml:"scan_window"`
	BatchSize  int   `yaml:"batch_size"`
	MaxRetries int   `yaml:"max_retries"`
}

type MergeConfig struct {
	WindowSize int64 `yaml:"window_size"`
	BatchSize  int   `yaml:"batch_size"`
	Workers    int   `yaml:"workers"`
	MaxRetries int   `yaml:"max_retries"`
	// PreFilter restricts raw edges to endpoints already in the resolved
	// node universe before endpoint resolution.
	PreFilter   bool `yaml:"pre_filter"`
	Diagnostics bool `yaml:"diagnostics"`
}

type Config struct {
	Hierarchy HierarchyConfig `yaml:"hierarchy"`
	Identity  IdentityConfig  `yaml:"identity"`
	Merge     MergeConfig     `yaml:"merge"`
}

func defaults() Config {
	return Config{
		Hierarchy: HierarchyConfig{
			MaxLevel:         12,
			BatchSizeHint:    2000,
			MinBatch:         200,
			MaxBatch:         20000,
			TargetRowsPerSec: 5000,
			Workers:          4,
			MaxRetries:       3,
			CycleHopLimit:    64,
		},
		Identity: IdentityConfig{
			ScanWindow: 100000,
			BatchSize:  5000,
			MaxRetries: 3,
		},
		Merge: MergeConfig{
			WindowSize: 100000,
			BatchSize:  5000,
			Workers:    4,
			MaxRetries: 3,
			PreFilter:  true,
		},
	}
}

// Load reads the configuration. The YAML file is optional; a set
// ATLAS_CONFIG that cannot be read or parsed is an error rather than a
// silent fallback.
func Load() (Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("ATLAS_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, builderr.Wrap(builderr.CodeValidation, "config.Load", fmt.Errorf("read %s: %w", path, err))
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, builderr.Wrap(builderr.CodeValidation, "config.Load", fmt.Errorf("parse %s: %w", path, err))
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Hierarchy.MaxLevel = envutil.Int("ATLAS_HIERARCHY_MAX_LEVEL", cfg.Hierarchy.MaxLevel)
	cfg.Hierarchy.BatchSizeHint = envutil.Int("ATLAS_HIERARCHY_BATCH_HINT", cfg.Hierarchy.BatchSizeHint)
	cfg.Hierarchy.Workers = envutil.Int("ATLAS_HIERARCHY_WORKERS", cfg.Hierarchy.Workers)
	cfg.Hierarchy.KeepDiscardedParents = envutil.Bool("ATLAS_KEEP_DISCARDED_PARENTS", cfg.Hierarchy.KeepDiscardedParents)
	cfg.Hierarchy.CycleScan = envutil.Bool("ATLAS_CYCLE_SCAN", cfg.Hierarchy.CycleScan)
	cfg.Identity.ScanWindow = envutil.Int64("ATLAS_IDENTITY_SCAN_WINDOW", cfg.Identity.ScanWindow)
	cfg.Identity.BatchSize = envutil.Int("ATLAS_IDENTITY_BATCH_SIZE", cfg.Identity.BatchSize)
	cfg.Merge.WindowSize = envutil.Int64("ATLAS_MERGE_WINDOW_SIZE", cfg.Merge.WindowSize)
	cfg.Merge.BatchSize = envutil.Int("ATLAS_MERGE_BATCH_SIZE", cfg.Merge.BatchSize)
	cfg.Merge.Workers = envutil.Int("ATLAS_MERGE_WORKERS", cfg.Merge.Workers)
	cfg.Merge.PreFilter = envutil.Bool("ATLAS_MERGE_PRE_FILTER", cfg.Merge.PreFilter)
	cfg.Merge.Diagnostics = envutil.Bool("ATLAS_MERGE_DIAGNOSTICS", cfg.Merge.Diagnostics)
}

func (c Config) Validate() error {
	fail := func(msg string) error {
		return builderr.New(builderr.CodeValidation, "config.Validate", msg, nil)
	}
	if c.Hierarchy.MaxLevel <= 0 {
		return fail("hierarchy.max_level must be positive")
	}
	if c.Hierarchy.MinBatch <= 0 || c.Hierarchy.MaxBatch < c.Hierarchy.MinBatch {
		return fail("hierarchy batch bounds invalid")
	}
	if c.Hierarchy.BatchSizeHint <= 0 {
		return fail("hierarchy.batch_size_hint must be positive")
	}
	if c.Hierarchy.Workers <= 0 {
		return fail("hierarchy.workers must be positive")
	}
	for _, s := range c.Hierarchy.Seeds {
		if s.PageID == 0 && strings.TrimSpace(s.Label) == "" {
			return fail("hierarchy seed needs page_id or label")
		}
	}
	if c.Identity.ScanWindow <= 0 {
		return fail("identity.scan_window must be positive")
	}
	if c.Identity.BatchSize <= 0 {
		return fail("identity.batch_size must be positive")
	}
	if c.Merge.WindowSize <= 0 {
		return fail("merge.window_size must be positive")
	}
	if c.Merge.BatchSize <= 0 {
		return fail("merge.batch_size must be positive")
	}
	if c.Merge.Workers <= 0 {
		return fail("merge.workers must be positive")
	}
	return nil
}

// SeedRefs converts configured seeds to builder refs.
func (c HierarchyConfig) SeedRefs() []hierarchy.NodeRef {
	out := make([]hierarchy.NodeRef, 0, len(c.Seeds))
	for _, s := range c.Seeds {
		out = append(out, hierarchy.NodeRef{PageID: s.PageID, Label: s.Label})
	}
	return out
}

// BuildOptions maps the section onto builder options, including the
// category exclusion predicate derived from configured label prefixes.
func (c HierarchyConfig) BuildOptions() hierarchy.Options {
	pinned := make(map[int64]bool, len(c.PinnedRoots))
	for _, id := range c.PinnedRoots {
		pinned[id] = true
	}
	opts := hierarchy.Options{
		MaxLevel:             c.MaxLevel,
		BatchSizeHint:        c.BatchSizeHint,
		MinBatch:             c.MinBatch,
		MaxBatch:             c.MaxBatch,
		TargetRowsPerSec:     c.TargetRowsPerSec,
		MaxRetries:           c.MaxRetries,
		Workers:              c.Workers,
		KeepDiscardedParents: c.KeepDiscardedParents,
		PinnedRoots:          pinned,
	}
	if len(c.ExcludePrefixes) > 0 {
		prefixes := make([]string, len(c.ExcludePrefixes))
		for i, p := range c.ExcludePrefixes {
			prefixes[i] = strings.ToLower(strings.TrimSpace(p))
		}
		opts.ExcludeCategory = func(label string) bool {
			l := strings.ToLower(label)
			for _, p := range prefixes {
				if p != "" && strings.HasPrefix(l, p) {
					return true
				}
			}
			return false
		}
	}
	return opts
}

func (c IdentityConfig) ResolveOptions() identity.Options {
	return identity.Options{
		ScanWindow: c.ScanWindow,
		BatchSize:  c.BatchSize,
		MaxRetries: c.MaxRetries,
	}
}

func (c MergeConfig) MergeOptions() assoc.Options {
	return assoc.Options{
		WindowSize:       c.WindowSize,
		BatchSize:        c.BatchSize,
		Workers:          c.Workers,
		MaxRetries:       c.MaxRetries,
		FilterToUniverse: c.PreFilter,
		Diagnostics:      c.Diagnostics,
	}
}
