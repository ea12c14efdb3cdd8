package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/username/betflow/pkg/core"
	"github.com/username/betflow/pkg/metrics"
	"github.com/username/betflow/pkg/populator"
	"github.com/username/betflow/pkg/spi"
	"github.com/username/betflow/pkg/state"
	"go.uber.org/zap"
)

// ReceiptCollector resolves submitted transactions once they are deep enough
// and records their outcome per sender.
//
// The confirmation depth is its only protection against reorgs; it does not
// coordinate with the event listener. A reorg deeper than the depth can still
// invalidate a recorded outcome.
type ReceiptCollector struct {
	receipts *spi.RetryingReceipts
	heads    HeadSource
	pending  *Queue[core.PendingReceipt]
	users    *state.UserState

	depth     uint64
	pollDelay time.Duration

	journal   spi.OutcomeJournal
	onOutcome core.OutcomeHandler
	logger    *zap.Logger
}

// ReceiptOption configures a ReceiptCollector
type ReceiptOption func(*ReceiptCollector)

// WithOutcomeJournal mirrors recorded outcomes into j
func WithOutcomeJournal(j spi.OutcomeJournal) ReceiptOption {
	return func(c *ReceiptCollector) { c.journal = j }
}

// WithOutcomeHandler registers a handler called after each recorded outcome
func WithOutcomeHandler(h core.OutcomeHandler) ReceiptOption {
	return func(c *ReceiptCollector) { c.onOutcome = h }
}

// WithReceiptLogger sets the logger
func WithReceiptLogger(logger *zap.Logger) ReceiptOption {
	return func(c *ReceiptCollector) { c.logger = logger.Named("receipts") }
}

// WithPollDelay sets how often the head is re-checked while waiting for depth
func WithPollDelay(d time.Duration) ReceiptOption {
	return func(c *ReceiptCollector) { c.pollDelay = d }
}

// NewReceiptCollector creates a collector draining pending into users
func NewReceiptCollector(receipts *spi.RetryingReceipts, heads HeadSource, pending *Queue[core.PendingReceipt], users *state.UserState, depth uint64, opts ...ReceiptOption) *ReceiptCollector {
	c := &ReceiptCollector{
		receipts:  receipts,
		heads:     heads,
		pending:   pending,
		users:     users,
		depth:     depth,
		pollDelay: 500 * time.Millisecond,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run collects receipts until ctx is cancelled
func (c *ReceiptCollector) Run(ctx context.Context) error {
	c.logger.Info("starting receipt collector",
		zap.Uint64("confirmation_depth", c.depth),
		zap.Int("pending_capacity", c.pending.Cap()),
	)

	for {
		next, err := c.pending.Peek(ctx)
		if err != nil {
			return nil
		}

		target := next.SubmittedAt + c.depth
		if _, err := waitForHead(ctx, c.heads, c.pollDelay, func(head uint64) bool { return head >= target }); err != nil {
			return nil
		}

		// single consumer: the peeked entry is still the head
		if _, ok := c.pending.Pop(); !ok {
			return fmt.Errorf("confirmation queue emptied under its only consumer")
		}
		metrics.QueueDepth.WithLabelValues("pending").Set(float64(c.pending.Len()))

		if err := c.collect(ctx, next); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("receipt collector failed", zap.Error(err))
			return err
		}
	}
}

func (c *ReceiptCollector) collect(ctx context.Context, p core.PendingReceipt) error {
	receipt := c.receipts.Receipt(ctx, p.Handle)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	sender := p.Handle.Sender
	outcome := core.TransactionOutcome{
		Result: core.OutcomeUnsealed,
		TxHash: p.Handle.TxHash,
	}
	if receipt != nil {
		if receipt.Sender != "" {
			sender = receipt.Sender
		}
		outcome.Result = core.OutcomeOnChainFailure
		if receipt.Success {
			outcome.Result = core.OutcomeSuccess
		}
		outcome.BlockNumber = receipt.BlockNumber
		outcome.EventType = populator.InferEventType(receipt.Logs)
		if receipt.TxHash != "" {
			outcome.TxHash = receipt.TxHash
		}
	} else {
		c.logger.Warn("receipt unavailable after retries, recording unsealed",
			zap.String("tx_hash", string(p.Handle.TxHash)),
			zap.Uint64("submitted_at", p.SubmittedAt),
		)
	}

	c.users.Append(sender, outcome)
	metrics.Outcomes.WithLabelValues(string(outcome.Result)).Inc()
	c.logger.Info("recorded transaction outcome",
		zap.String("sender", string(sender)),
		zap.String("tx_hash", string(outcome.TxHash)),
		zap.String("result", string(outcome.Result)),
		zap.String("event", string(outcome.EventType)),
	)

	if c.journal != nil {
		if err := c.journal.SaveOutcome(ctx, sender, outcome); err != nil {
			return fmt.Errorf("failed to journal outcome of %s: %w", outcome.TxHash, err)
		}
	}
	if c.onOutcome != nil {
		return c.onOutcome(ctx, sender, outcome)
	}
	return nil
}
