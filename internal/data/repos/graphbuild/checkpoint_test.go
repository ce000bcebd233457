package graphbuild_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/atlaskb/atlas-backend/internal/data/repos/graphbuild"
	"github.com/atlaskb/atlas-backend/internal/data/repos/testutil"
	"github.com/atlaskb/atlas-backend/internal/platform/dbctx"
)

func TestCheckpointLifecycle(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	repo := graphbuild.NewCheckpointRepo(db, log)
	const phase = "test_phase"

	cp, err := repo.Get(dbc, phase)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cp != nil {
		t.Fatalf("fresh phase checkpoint = %+v, want nil", cp)
	}

	type cursor struct {
		Level int `json:"level"`
	}
	if err := repo.Advance(dbc, phase, cursor{Level: 3}, 3); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	cp, err = repo.Get(dbc, phase)
	if err != nil || cp == nil {
		t.Fatalf("Get after advance = %+v, err %v", cp, err)
	}
	if cp.LastCommittedUnit != 3 || cp.Done {
		t.Fatalf("checkpoint = %+v", cp)
	}
	var cur cursor
	if err := json.Unmarshal(cp.Cursor, &cur); err != nil || cur.Level != 3 {
		t.Fatalf("cursor = %s, err %v", cp.Cursor, err)
	}

	// Advance is an upsert, replacing the prior unit.
	if err := repo.Advance(dbc, phase, cursor{Level: 4}, 4); err != nil {
		t.Fatalf("second Advance: %v", err)
	}
	cp, _ = repo.Get(dbc, phase)
	if cp == nil || cp.LastCommittedUnit != 4 {
		t.Fatalf("checkpoint after upsert = %+v", cp)
	}

	if err := repo.MarkDone(dbc, phase); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	cp, _ = repo.Get(dbc, phase)
	if cp == nil || !cp.Done || cp.LastCommittedUnit != 4 {
		t.Fatalf("checkpoint after done = %+v", cp)
	}

	if err := repo.Reset(dbc, phase); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	cp, _ = repo.Get(dbc, phase)
	if cp != nil {
		t.Fatalf("checkpoint after reset = %+v, want nil", cp)
	}
}

func TestCheckpointPhasesAreIndependent(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	repo := graphbuild.NewCheckpointRepo(db, log)

	if err := repo.Advance(dbc, "phase_a", nil, 1); err != nil {
		t.Fatalf("Advance a: %v", err)
	}
	if err := repo.Advance(dbc, "phase_b", nil, 7); err != nil {
		t.Fatalf("Advance b: %v", err)
	}
	if err := repo.MarkDone(dbc, "phase_a"); err != nil {
		t.Fatalf("MarkDone a: %v", err)
	}

	cpA, _ := repo.Get(dbc, "phase_a")
	cpB, _ := repo.Get(dbc, "phase_b")
	if cpA == nil || !cpA.Done {
		t.Fatalf("phase_a = %+v", cpA)
	}
	if cpB == nil || cpB.Done || cpB.LastCommittedUnit != 7 {
		t.Fatalf("phase_b = %+v", cpB)
	}
}
