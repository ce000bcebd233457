package assoc_merge

import (
	"fmt"

	jobrt "github.com/atlaskb/atlas-backend/internal/jobs/runtime"
	"github.com/atlaskb/atlas-backend/internal/modules/assoc"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Run == nil {
		return nil
	}
	if p == nil || p.db == nil || p.log == nil || p.txr == nil || p.src == nil || p.aliases == nil || p.staged == nil || p.assocLinks == nil || p.checkpoints == nil {
		jc.Fail("validate", fmt.Errorf("assoc_merge: pipeline not configured"))
		return nil
	}

	jc.Progress("merge", 5, "Merging associative edge sources")

	merger := assoc.NewMerger(p.txr, p.log, p.aliases, p.staged, p.assocLinks, p.diags, p.checkpoints)
	res, err := merger.Merge(jc.Ctx,
		assoc.NewPageLinkStream(p.src),
		assoc.NewCrossLinkStream(p.src),
		p.cfg.MergeOptions(),
	)
	if err != nil {
		jc.Fail("merge", err)
		return nil
	}

	jc.Succeed("done", map[string]any{
		"raw_edges":  res.RawEdges,
		"filtered":   res.Filtered,
		"self_loops": res.SelfLoops,
		"staged":     res.Staged,
		"collapsed":  res.Collapsed,
		"pairs":      res.Pairs,
	})
	return nil
}
