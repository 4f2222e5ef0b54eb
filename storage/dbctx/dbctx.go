package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bündelt den Request-Kontext mit einer optionalen GORM-Transaktion.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// New liefert einen Context ohne Transaktion.
func New(ctx context.Context) Context {
	return Context{Ctx: ctx}
}

// WithTx liefert einen an tx gebundenen Context.
func WithTx(ctx context.Context, tx *gorm.DB) Context {
	return Context{Ctx: ctx, Tx: tx}
}
