package spi

import (
	"context"

	"github.com/username/betflow/pkg/core"
)

// LogFilter selects contract logs over an inclusive block range
type LogFilter struct {
	FromBlock uint64
	ToBlock   uint64
	Address   core.Address
	// Topics follows eth_getLogs positional semantics; nil matches everything
	Topics [][]core.Hash
}

// Node defines the RPC surface of the blockchain node
type Node interface {
	// BlockNumber returns the current chain head
	BlockNumber(ctx context.Context) (uint64, error)

	// GetLogs returns the logs matching the filter
	GetLogs(ctx context.Context, filter LogFilter) ([]core.Log, error)

	// SendSignedTransaction submits a signed transaction
	SendSignedTransaction(ctx context.Context, raw core.RawTransaction) (core.ReceiptHandle, error)

	// GetTransactionReceipt returns the receipt, or nil if the transaction is not mined yet
	GetTransactionReceipt(ctx context.Context, handle core.ReceiptHandle) (*core.Receipt, error)

	// GetNonce returns the next nonce of the account
	GetNonce(ctx context.Context, address core.Address) (uint64, error)
}

// BlockJournal persists projected block history outside the process
type BlockJournal interface {
	// SaveBlock records an applied block tuple
	SaveBlock(ctx context.Context, block core.BlockTuple) error

	// GetLastBlock returns the last recorded tuple, or nil if none
	GetLastBlock(ctx context.Context) (*core.BlockTuple, error)

	// Rewind deletes all tuples with number > height
	Rewind(ctx context.Context, height uint64) error
}

// OutcomeJournal persists transaction outcomes outside the process
type OutcomeJournal interface {
	SaveOutcome(ctx context.Context, sender core.Address, outcome core.TransactionOutcome) error
}

// Journal is a store that can persist both blocks and outcomes
type Journal interface {
	BlockJournal
	OutcomeJournal
	Close() error
}
