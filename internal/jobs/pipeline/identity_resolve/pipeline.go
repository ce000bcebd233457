package identity_resolve

import (
	"fmt"

	jobrt "github.com/atlaskb/atlas-backend/internal/jobs/runtime"
	"github.com/atlaskb/atlas-backend/internal/modules/identity"
	"github.com/atlaskb/atlas-backend/internal/normalization"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Run == nil {
		return nil
	}
	if p == nil || p.db == nil || p.log == nil || p.txr == nil || p.nodes == nil || p.aliases == nil || p.canonical == nil || p.checkpoints == nil {
		jc.Fail("validate", fmt.Errorf("identity_resolve: pipeline not configured"))
		return nil
	}

	jc.Progress("resolve", 5, "Clustering nodes by normalized label")

	resolver := identity.NewResolver(p.txr, p.log, p.nodes, p.aliases, p.canonical, p.checkpoints)
	res, err := resolver.ResolveWithOptions(jc.Ctx, normalization.NormalizeLabel, nil, p.cfg.ResolveOptions())
	if err != nil {
		jc.Fail("resolve", err)
		return nil
	}

	jc.Succeed("done", map[string]any{
		"nodes":           res.Nodes,
		"clusters":        res.Clusters,
		"representatives": res.Representatives,
		"collapsed":       res.Collapsed,
	})
	return nil
}
