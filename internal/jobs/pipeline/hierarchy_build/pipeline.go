package hierarchy_build

import (
	"fmt"

	jobrt "github.com/atlaskb/atlas-backend/internal/jobs/runtime"
	"github.com/atlaskb/atlas-backend/internal/modules/hierarchy"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Run == nil {
		return nil
	}
	if p == nil || p.db == nil || p.log == nil || p.txr == nil || p.src == nil || p.nodes == nil || p.checkpoints == nil {
		jc.Fail("validate", fmt.Errorf("hierarchy_build: pipeline not configured"))
		return nil
	}

	seeds := p.cfg.SeedRefs()
	if len(seeds) == 0 {
		jc.Fail("validate", fmt.Errorf("hierarchy_build: no seeds configured"))
		return nil
	}
	opts := p.cfg.BuildOptions()
	if lvl, ok := jc.PayloadInt64("max_level"); ok && lvl > 0 {
		opts.MaxLevel = int(lvl)
	}

	jc.Progress("build", 5, "Expanding seed hierarchy")

	builder := hierarchy.NewBuilder(p.txr, p.log, p.src, p.nodes, p.checkpoints, p.discarded)
	res, err := builder.Build(jc.Ctx, seeds, opts)
	if err != nil {
		jc.Fail("build", err)
		return nil
	}

	cycles := 0
	if p.cfg.CycleScan && p.reports != nil {
		jc.Progress("cycle_scan", 90, "Scanning parent chains")
		scanner := hierarchy.NewCycleScanner(p.log, p.nodes, p.reports)
		cycles, err = scanner.Scan(jc.Ctx, p.cfg.CycleHopLimit)
		if err != nil {
			// The scan is diagnostic; a failure is recorded, not terminal.
			p.log.Warn("Cycle scan failed", "error", err)
		}
	}

	jc.Succeed("done", map[string]any{
		"start_level":   res.StartLevel,
		"levels_built":  res.LevelsBuilt,
		"nodes_created": res.NodesCreated,
		"cycles_found":  cycles,
	})
	return nil
}
