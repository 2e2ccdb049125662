package services

import (
	"context"

	"github.com/firelater/firelater/pkg/composables"
)

// TxRunner wraps a unit of work in a transaction. The production runner rides
// composables' context-carried pool with tenant RLS applied; tests substitute
// a runner that emulates row-lock scoping without a database.
type TxRunner interface {
	InTx(ctx context.Context, fn func(context.Context) error) error
}

type pgTxRunner struct{}

// NewPgTxRunner returns the production runner backed by composables.InTenantTx.
func NewPgTxRunner() TxRunner {
	return pgTxRunner{}
}

func (pgTxRunner) InTx(ctx context.Context, fn func(context.Context) error) error {
	return composables.InTenantTx(ctx, fn)
}

func inTxResult[T any](ctx context.Context, runner TxRunner, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := runner.InTx(ctx, func(txCtx context.Context) error {
		var innerErr error
		out, innerErr = fn(txCtx)
		return innerErr
	})
	return out, err
}
