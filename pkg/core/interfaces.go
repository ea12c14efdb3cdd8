package core

import "context"

// BlockHandler is called after a block tuple has been applied to the projection
type BlockHandler func(ctx context.Context, block BlockTuple) error

// ReorgHandler is called when a chain reorganization has been reconciled
type ReorgHandler func(ctx context.Context, event ReorgEvent) error

// OutcomeHandler is called after a transaction outcome has been recorded
type OutcomeHandler func(ctx context.Context, sender Address, outcome TransactionOutcome) error
