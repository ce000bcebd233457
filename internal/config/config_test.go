package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/atlaskb/atlas-backend/internal/domain/builderr"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ATLAS_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Hierarchy.MaxLevel != 12 || cfg.Hierarchy.MinBatch != 200 {
		t.Fatalf("hierarchy defaults = %+v", cfg.Hierarchy)
	}
	if cfg.Identity.ScanWindow != 100000 {
		t.Fatalf("identity defaults = %+v", cfg.Identity)
	}
	if cfg.Merge.WindowSize != 100000 || cfg.Merge.Diagnostics || !cfg.Merge.PreFilter {
		t.Fatalf("merge defaults = %+v", cfg.Merge)
	}
	if !cfg.Merge.MergeOptions().FilterToUniverse {
		t.Fatal("pre-filter default not mapped onto merge options")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "atlas.yaml")
	raw := []byte(`
hierarchy:
  seeds:
    - label: Science
    - page_id: 42
  max_level: 6
  keep_discarded_parents: true
  exclude_category_prefixes: ["maintenance:", "stub "]
merge:
  diagnostics: true
  window_size: 500
  pre_filter: false
`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ATLAS_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Hierarchy.MaxLevel != 6 || !cfg.Hierarchy.KeepDiscardedParents {
		t.Fatalf("hierarchy = %+v", cfg.Hierarchy)
	}
	if len(cfg.Hierarchy.Seeds) != 2 || cfg.Hierarchy.Seeds[0].Label != "Science" || cfg.Hierarchy.Seeds[1].PageID != 42 {
		t.Fatalf("seeds = %+v", cfg.Hierarchy.Seeds)
	}
	// File values merge over defaults, untouched sections keep theirs.
	if cfg.Hierarchy.BatchSizeHint != 2000 {
		t.Fatalf("batch hint = %d, want default", cfg.Hierarchy.BatchSizeHint)
	}
	if cfg.Merge.WindowSize != 500 || !cfg.Merge.Diagnostics || cfg.Merge.PreFilter {
		t.Fatalf("merge = %+v", cfg.Merge)
	}
	if cfg.Merge.MergeOptions().FilterToUniverse {
		t.Fatal("disabled pre-filter leaked into merge options")
	}

	refs := cfg.Hierarchy.SeedRefs()
	if len(refs) != 2 || refs[0].Label != "Science" || refs[1].PageID != 42 {
		t.Fatalf("seed refs = %+v", refs)
	}
	opts := cfg.Hierarchy.BuildOptions()
	if opts.ExcludeCategory == nil {
		t.Fatal("exclude predicate not built")
	}
	if !opts.ExcludeCategory("Maintenance: cleanup") || opts.ExcludeCategory("Mathematics") {
		t.Fatal("exclude predicate misclassifies labels")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ATLAS_CONFIG", "")
	t.Setenv("ATLAS_HIERARCHY_MAX_LEVEL", "3")
	t.Setenv("ATLAS_MERGE_DIAGNOSTICS", "true")
	t.Setenv("ATLAS_MERGE_PRE_FILTER", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Hierarchy.MaxLevel != 3 {
		t.Fatalf("max level = %d, want env override", cfg.Hierarchy.MaxLevel)
	}
	if !cfg.Merge.Diagnostics {
		t.Fatal("diagnostics env override not applied")
	}
	if cfg.Merge.PreFilter {
		t.Fatal("pre-filter env override not applied")
	}
}

func TestLoadRejectsBadFile(t *testing.T) {
	t.Setenv("ATLAS_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); !builderr.IsCode(err, builderr.CodeValidation) {
		t.Fatalf("missing file err = %v, want validation", err)
	}
}

func TestValidateBounds(t *testing.T) {
	cfg := defaults()
	cfg.Hierarchy.MaxLevel = 0
	if err := cfg.Validate(); !builderr.IsCode(err, builderr.CodeValidation) {
		t.Fatalf("err = %v, want validation", err)
	}

	cfg = defaults()
	cfg.Merge.WindowSize = -1
	if err := cfg.Validate(); !builderr.IsCode(err, builderr.CodeValidation) {
		t.Fatalf("err = %v, want validation", err)
	}

	cfg = defaults()
	cfg.Hierarchy.Seeds = []Seed{{}}
	if err := cfg.Validate(); !builderr.IsCode(err, builderr.CodeValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}
