package tx

import (
	"context"

	"gorm.io/gorm"

	"github.com/atlaskb/atlas-backend/internal/domain/builderr"
	"github.com/atlaskb/atlas-backend/internal/platform/dbctx"
)

// Runner provides the shared atomic-batch boundary: all rows written inside
// fn commit together or not at all.
type Runner interface {
	InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error
}

type gormRunner struct {
	db *gorm.DB
}

// NewGormRunner returns a transaction runner backed by GORM transactions.
func NewGormRunner(db *gorm.DB) Runner {
	return &gormRunner{db: db}
}

func (r *gormRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	if fn == nil {
		return nil
	}
	if r == nil || r.db == nil {
		return builderr.New(builderr.CodeInternal, "tx.InTx", "transaction runner has nil db", nil)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbctx.Context{Ctx: ctx, Tx: tx})
	})
}
