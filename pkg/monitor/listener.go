package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/username/betflow/pkg/core"
	"github.com/username/betflow/pkg/metrics"
	"github.com/username/betflow/pkg/populator"
	"github.com/username/betflow/pkg/spi"
	"github.com/username/betflow/pkg/state"
	"go.uber.org/zap"
)

// DefaultLookbackRange is the step by which the deployment search widens
const DefaultLookbackRange = 1000

// Config configures the EventListener
type Config struct {
	ContractAddress core.Address
	// StartBlock is the first height scanned while the history is empty
	StartBlock      uint64
	PollingInterval time.Duration
	LookbackRange   uint64
	// Topics is passed to every log query; nil keeps data-only notifications visible
	Topics [][]core.Hash
}

// EventListener follows the chain, projects contract logs and reconciles reorgs.
//
// Each poll re-reads the anchor height (the tail of the history). If its hash
// is unchanged the logs above it are applied. Otherwise the history is walked
// back, reverting each tuple, until a height whose hash still matches. The
// deployment tuple bounds the walk; if it moved too, the whole projection is
// rebuilt from the deployment's new height.
type EventListener struct {
	node      spi.Node
	populator *populator.Populator
	state     *state.ProjectedState
	cfg       Config

	journal spi.BlockJournal
	onBlock core.BlockHandler
	onReorg core.ReorgHandler
	logger  *zap.Logger
	now     func() time.Time

	// startBlock is where an empty history starts; relocation moves it
	startBlock uint64
}

// Option configures an EventListener
type Option func(*EventListener)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(l *EventListener) { l.logger = logger.Named("listener") }
}

// WithJournal mirrors applied and reverted blocks into j
func WithJournal(j spi.BlockJournal) Option {
	return func(l *EventListener) { l.journal = j }
}

// WithBlockHandler registers a handler called after each applied block
func WithBlockHandler(h core.BlockHandler) Option {
	return func(l *EventListener) { l.onBlock = h }
}

// WithReorgHandler registers a handler called after each reconciled reorg
func WithReorgHandler(h core.ReorgHandler) Option {
	return func(l *EventListener) { l.onReorg = h }
}

// WithClock sets the clock used to timestamp reorg events
func WithClock(now func() time.Time) Option {
	return func(l *EventListener) { l.now = now }
}

// NewEventListener creates a listener projecting into p's state
func NewEventListener(node spi.Node, p *populator.Populator, cfg Config, opts ...Option) *EventListener {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 2 * time.Second
	}
	if cfg.LookbackRange == 0 {
		cfg.LookbackRange = DefaultLookbackRange
	}
	l := &EventListener{
		node:       node,
		populator:  p,
		state:      p.State(),
		cfg:        cfg,
		logger:     zap.NewNop(),
		now:        time.Now,
		startBlock: cfg.StartBlock,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run polls until ctx is cancelled. Any error is fatal: a partially reconciled
// projection cannot be trusted, so the listener stops instead of retrying.
func (l *EventListener) Run(ctx context.Context) error {
	l.logger.Info("starting event listener",
		zap.String("contract", string(l.cfg.ContractAddress)),
		zap.Uint64("start_block", l.startBlock),
		zap.Duration("polling_interval", l.cfg.PollingInterval),
	)

	ticker := time.NewTicker(l.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		if err := l.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Error("event listener failed", zap.Error(err))
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// LastConfirmed returns the anchor: the tail of the history, or the start
// block with an empty hash while nothing has been applied.
func (l *EventListener) LastConfirmed() (uint64, core.Hash) {
	if tail, ok := l.state.Tail(); ok {
		return tail.Number, tail.Hash
	}
	return l.startBlock, ""
}

// Poll runs one iteration of the follower
func (l *EventListener) Poll(ctx context.Context) error {
	latest, err := l.node.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to read chain head: %w", err)
	}
	return l.advance(ctx, latest, true)
}

func (l *EventListener) advance(ctx context.Context, latest uint64, allowReconcile bool) error {
	tail, ok := l.state.Tail()
	if !ok {
		return l.bootstrap(ctx, latest)
	}

	// the anchor height is always queried, even if the head moved below it
	logs, err := l.fetch(ctx, tail.Number, max(latest, tail.Number))
	if err != nil {
		return err
	}

	if anchorMatches(logs, tail) {
		return l.apply(ctx, above(logs, tail.Number))
	}
	if !allowReconcile {
		l.logger.Warn("anchor changed again during reconciliation, deferring to next poll",
			zap.Uint64("anchor", tail.Number),
		)
		return nil
	}
	return l.reconcile(ctx, latest)
}

func (l *EventListener) bootstrap(ctx context.Context, latest uint64) error {
	if latest < l.startBlock {
		return nil
	}
	logs, err := l.fetch(ctx, l.startBlock, latest)
	if err != nil {
		return err
	}
	return l.apply(ctx, logs)
}

// reconcile is entered with a tail whose hash no longer matches the node.
func (l *EventListener) reconcile(ctx context.Context, latest uint64) error {
	event := core.ReorgEvent{DetectedAt: l.now()}
	lowerBound := l.lowerBound()

	for {
		tail, ok := l.state.Tail()
		if !ok || tail.Number <= lowerBound {
			// the lower bound itself is gone: the deployment moved
			return l.relocate(ctx, latest, event, lowerBound)
		}

		reverted, err := l.revertTail(ctx)
		if err != nil {
			return err
		}
		event.Reverted = append(event.Reverted, reverted)

		next, ok := l.state.Tail()
		if !ok {
			return l.relocate(ctx, latest, event, lowerBound)
		}
		fresh, err := l.fetch(ctx, next.Number, next.Number)
		if err != nil {
			return err
		}
		if anchorMatches(fresh, next) {
			event.ForkBlock = &next
			break
		}
	}

	l.logger.Warn("reorg reconciled",
		zap.Uint64("fork_block", event.ForkBlock.Number),
		zap.String("fork_hash", string(event.ForkBlock.Hash)),
		zap.Int("reverted_blocks", len(event.Reverted)),
	)
	if err := l.notifyReorg(ctx, event); err != nil {
		return err
	}

	// revert fully, then reapply from the new anchor with fresh ids
	return l.advance(ctx, latest, false)
}

// relocate discards the whole projection and rebuilds it from wherever the
// deployment event now lives.
func (l *EventListener) relocate(ctx context.Context, latest uint64, event core.ReorgEvent, lowerBound uint64) error {
	for {
		if _, ok := l.state.Tail(); !ok {
			break
		}
		reverted, err := l.revertTail(ctx)
		if err != nil {
			return err
		}
		event.Reverted = append(event.Reverted, reverted)
	}

	height, err := l.findDeployment(ctx, lowerBound, latest)
	switch {
	case errors.Is(err, core.ErrDeploymentNotFound):
		l.logger.Warn("deployment event not found, rebuilding from start block",
			zap.Uint64("start_block", l.cfg.StartBlock),
			zap.Uint64("previous_lower_bound", lowerBound),
		)
		l.startBlock = l.cfg.StartBlock
	case err != nil:
		return err
	default:
		l.logger.Warn("contract deployment relocated",
			zap.Uint64("previous_height", lowerBound),
			zap.Uint64("new_height", height),
		)
		l.startBlock = height
	}

	if err := l.notifyReorg(ctx, event); err != nil {
		return err
	}
	return l.bootstrap(ctx, latest)
}

// findDeployment scans backward from the old lower bound in windows of
// LookbackRange blocks. The first window also covers everything up to latest,
// so a deployment moved to a later height is found as well.
func (l *EventListener) findDeployment(ctx context.Context, from, latest uint64) (uint64, error) {
	step := l.cfg.LookbackRange
	to := max(latest, from)
	for {
		lo := uint64(0)
		if from > step {
			lo = from - step
		}
		logs, err := l.fetch(ctx, lo, to)
		if err != nil {
			return 0, err
		}
		core.SortLogs(logs)
		for _, lg := range logs {
			if populator.IsDeployment(lg) {
				return lg.BlockNumber, nil
			}
		}
		if lo == 0 {
			return 0, fmt.Errorf("%w: searched [0, %d]", core.ErrDeploymentNotFound, max(latest, from))
		}
		l.logger.Debug("deployment not in window, widening",
			zap.Uint64("from", lo),
			zap.Uint64("to", to),
		)
		to = lo - 1
		from = lo
	}
}

// lowerBound is the height no ordinary walk-back may revert
func (l *EventListener) lowerBound() uint64 {
	if d, ok := l.state.Deployment(); ok {
		return d.Number
	}
	if h := l.state.History(); len(h) > 0 {
		return h[0].Number
	}
	return l.startBlock
}

func (l *EventListener) revertTail(ctx context.Context) (core.BlockTuple, error) {
	reverted, ok := l.state.RevertTail()
	if !ok {
		return core.BlockTuple{}, fmt.Errorf("%w: revert on empty history", core.ErrInvariant)
	}
	metrics.RevertedBlocks.Inc()
	l.logger.Info("reverted block",
		zap.Uint64("number", reverted.Number),
		zap.String("hash", string(reverted.Hash)),
		zap.Int("events", len(reverted.EventIDs)),
	)

	if l.journal != nil {
		height := uint64(0)
		if reverted.Number > 0 {
			height = reverted.Number - 1
		}
		if err := l.journal.Rewind(ctx, height); err != nil {
			return reverted, fmt.Errorf("failed to rewind journal to %d: %w", height, err)
		}
	}
	return reverted, nil
}

func (l *EventListener) apply(ctx context.Context, logs []core.Log) error {
	for _, group := range populator.GroupLogs(logs) {
		block, err := l.populator.ApplyBlock(group)
		if err != nil {
			return fmt.Errorf("failed to apply block %d: %w", group[0].BlockNumber, err)
		}
		metrics.ConfirmedHeight.Set(float64(block.Number))
		metrics.ProjectedEvents.Add(float64(len(block.EventIDs)))

		if l.journal != nil {
			if err := l.journal.SaveBlock(ctx, block); err != nil {
				return fmt.Errorf("failed to journal block %d: %w", block.Number, err)
			}
		}
		if l.onBlock != nil {
			if err := l.onBlock(ctx, block); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *EventListener) notifyReorg(ctx context.Context, event core.ReorgEvent) error {
	metrics.ReorgCount.Inc()
	if tail, ok := l.state.Tail(); ok {
		metrics.ConfirmedHeight.Set(float64(tail.Number))
	}
	if l.onReorg != nil {
		return l.onReorg(ctx, event)
	}
	return nil
}

func (l *EventListener) fetch(ctx context.Context, from, to uint64) ([]core.Log, error) {
	logs, err := l.node.GetLogs(ctx, spi.LogFilter{
		FromBlock: from,
		ToBlock:   to,
		Address:   l.cfg.ContractAddress,
		Topics:    l.cfg.Topics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch logs [%d, %d]: %w", from, to, err)
	}
	return logs, nil
}

// anchorMatches reports whether the fresh logs at the tail's height carry the
// stored hash. A height that returns no logs at all has been reorganized away.
func anchorMatches(logs []core.Log, tail core.BlockTuple) bool {
	found := false
	for _, lg := range logs {
		if lg.BlockNumber != tail.Number {
			continue
		}
		if lg.BlockHash != tail.Hash {
			return false
		}
		found = true
	}
	return found
}

func above(logs []core.Log, height uint64) []core.Log {
	out := make([]core.Log, 0, len(logs))
	for _, lg := range logs {
		if lg.BlockNumber > height {
			out = append(out, lg)
		}
	}
	return out
}
