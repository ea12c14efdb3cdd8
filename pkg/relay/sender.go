package relay

import (
	"context"
	"time"

	"github.com/username/betflow/pkg/core"
	"github.com/username/betflow/pkg/metrics"
	"github.com/username/betflow/pkg/spi"
	"go.uber.org/zap"
)

// TransactionSender drains the raw transaction queue into the node and hands
// each accepted submission to the confirmation queue.
//
// It only dequeues while the confirmation queue has a free slot, so a slow
// confirmation stage pushes back all the way to Enqueue callers. Failed
// submissions are dropped, never retried; nonces are the signer's business.
type TransactionSender struct {
	node    spi.Node
	heads   HeadSource
	raw     *Queue[core.RawTransaction]
	pending *Queue[core.PendingReceipt]

	idleDelay time.Duration
	logger    *zap.Logger
}

// NewTransactionSender creates a sender between the two queues
func NewTransactionSender(node spi.Node, heads HeadSource, raw *Queue[core.RawTransaction], pending *Queue[core.PendingReceipt], idleDelay time.Duration, logger *zap.Logger) *TransactionSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if idleDelay <= 0 {
		idleDelay = 100 * time.Millisecond
	}
	return &TransactionSender{
		node:      node,
		heads:     heads,
		raw:       raw,
		pending:   pending,
		idleDelay: idleDelay,
		logger:    logger.Named("sender"),
	}
}

// Enqueue adds a signed transaction, blocking while the queue is full
func (s *TransactionSender) Enqueue(ctx context.Context, tx core.RawTransaction) error {
	if err := s.raw.Put(ctx, tx); err != nil {
		return err
	}
	metrics.QueueDepth.WithLabelValues("raw").Set(float64(s.raw.Len()))
	return nil
}

// Run sends transactions until ctx is cancelled
func (s *TransactionSender) Run(ctx context.Context) error {
	s.logger.Info("starting transaction sender",
		zap.Int("raw_capacity", s.raw.Cap()),
		zap.Int("pending_capacity", s.pending.Cap()),
	)

	for {
		if ctx.Err() != nil {
			return nil
		}

		if s.pending.Remaining() == 0 {
			if !sleep(ctx, s.idleDelay) {
				return nil
			}
			continue
		}

		tx, err := s.raw.Take(ctx)
		if err != nil {
			return nil
		}
		metrics.QueueDepth.WithLabelValues("raw").Set(float64(s.raw.Len()))

		head, err := waitForHead(ctx, s.heads, s.idleDelay, func(uint64) bool { return true })
		if err != nil {
			return nil
		}

		handle, err := s.node.SendSignedTransaction(ctx, tx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			metrics.Submissions.WithLabelValues("failed").Inc()
			s.logger.Warn("dropping transaction after failed submission",
				zap.Error(err),
				zap.Int("size", len(tx)),
			)
			continue
		}
		metrics.Submissions.WithLabelValues("accepted").Inc()
		s.logger.Debug("transaction submitted",
			zap.String("tx_hash", string(handle.TxHash)),
			zap.String("sender", string(handle.Sender)),
			zap.Uint64("head", head),
		)

		if err := s.pending.Put(ctx, core.PendingReceipt{Handle: handle, SubmittedAt: head}); err != nil {
			return nil
		}
		metrics.QueueDepth.WithLabelValues("pending").Set(float64(s.pending.Len()))
	}
}

// sleep waits for d and reports false if ctx ended first
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
