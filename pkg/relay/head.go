package relay

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/username/betflow/pkg/core"
	"github.com/username/betflow/pkg/metrics"
	"github.com/username/betflow/pkg/spi"
	"go.uber.org/zap"
)

// HeadSource reports the last known chain head
type HeadSource interface {
	// Head returns the head and whether one has been observed yet
	Head() (uint64, bool)
}

// BlockNumberCollector polls the node for the chain head and publishes it to
// the relay loops, so they do not each call the node. It is independent of the
// event listener's own view of the chain.
type BlockNumberCollector struct {
	node        spi.Node
	interval    time.Duration
	maxFailures int
	logger      *zap.Logger

	// head holds head+1 so that zero means nothing observed yet
	head atomic.Uint64
}

var _ HeadSource = (*BlockNumberCollector)(nil)

// NewBlockNumberCollector creates a collector. More than maxFailures
// consecutive failures stop it with core.ErrHeadUnavailable.
func NewBlockNumberCollector(node spi.Node, interval time.Duration, maxFailures int, logger *zap.Logger) *BlockNumberCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &BlockNumberCollector{
		node:        node,
		interval:    interval,
		maxFailures: maxFailures,
		logger:      logger.Named("head"),
	}
}

// Head returns the last published head without blocking
func (c *BlockNumberCollector) Head() (uint64, bool) {
	v := c.head.Load()
	if v == 0 {
		return 0, false
	}
	return v - 1, true
}

// Run polls until ctx is cancelled or the failure budget is exhausted
func (c *BlockNumberCollector) Run(ctx context.Context) error {
	c.logger.Info("starting block number collector",
		zap.Duration("interval", c.interval),
		zap.Int("max_failures", c.maxFailures),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	failures := 0
	for {
		number, err := c.node.BlockNumber(ctx)
		switch {
		case err == nil:
			failures = 0
			c.head.Store(number + 1)
			metrics.ChainHead.Set(float64(number))
		case ctx.Err() != nil:
			return nil
		default:
			failures++
			metrics.HeadFailures.Inc()
			c.logger.Warn("failed to read chain head",
				zap.Error(err),
				zap.Int("consecutive_failures", failures),
			)
			if failures > c.maxFailures {
				err = fmt.Errorf("%w: %d consecutive failures, last: %v", core.ErrHeadUnavailable, failures, err)
				c.logger.Error("block number collector giving up", zap.Error(err))
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// waitForHead blocks until src reports a head satisfying ok, polling every interval
func waitForHead(ctx context.Context, src HeadSource, interval time.Duration, ok func(uint64) bool) (uint64, error) {
	for {
		if head, known := src.Head(); known && ok(head) {
			return head, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(interval):
		}
	}
}
