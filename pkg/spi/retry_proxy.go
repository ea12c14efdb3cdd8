package spi

import (
	"context"

	"github.com/username/betflow/pkg/core"
	"github.com/username/betflow/pkg/util"
	"go.uber.org/zap"
)

// RetryingReceipts wraps receipt retrieval with a fixed-delay retry policy
type RetryingReceipts struct {
	inner  Node
	policy util.RetryPolicy
	logger *zap.Logger
}

// NewRetryingReceipts creates a new RetryingReceipts
func NewRetryingReceipts(inner Node, policy util.RetryPolicy) *RetryingReceipts {
	return &RetryingReceipts{
		inner:  inner,
		policy: policy,
		logger: zap.NewNop(),
	}
}

// WithLogger sets the logger used for failed attempts
func (r *RetryingReceipts) WithLogger(logger *zap.Logger) *RetryingReceipts {
	r.logger = logger
	return r
}

// Inner returns the underlying Node
func (r *RetryingReceipts) Inner() Node {
	return r.inner
}

// Receipt fetches the receipt, retrying while the node errors or has none.
// A nil result means the budget was exhausted.
func (r *RetryingReceipts) Receipt(ctx context.Context, handle core.ReceiptHandle) *core.Receipt {
	return util.Retry(ctx, r.policy,
		func(ctx context.Context) (*core.Receipt, error) {
			receipt, err := r.inner.GetTransactionReceipt(ctx, handle)
			if err != nil {
				r.logger.Debug("receipt fetch failed",
					zap.String("tx_hash", string(handle.TxHash)),
					zap.Error(err),
				)
			}
			return receipt, err
		},
		func(receipt *core.Receipt) bool {
			return receipt == nil
		},
	)
}
