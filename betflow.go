package betflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/username/betflow/pkg/config"
	"github.com/username/betflow/pkg/core"
	"github.com/username/betflow/pkg/monitor"
	"github.com/username/betflow/pkg/populator"
	"github.com/username/betflow/pkg/relay"
	"github.com/username/betflow/pkg/spi"
	"github.com/username/betflow/pkg/state"
	"github.com/username/betflow/pkg/util"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service is the main entry point. It owns the projection, the user outcome
// index and the four loops feeding them.
type Service struct {
	cfg  *config.Config
	node spi.Node

	state *state.ProjectedState
	users *state.UserState

	heads    *relay.BlockNumberCollector
	listener *monitor.EventListener
	sender   *relay.TransactionSender
	receipts *relay.ReceiptCollector

	journal   spi.Journal
	onBlock   core.BlockHandler
	onReorg   core.ReorgHandler
	onOutcome core.OutcomeHandler
	logger    *zap.Logger
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the logger shared by every component
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithJournal mirrors blocks and outcomes into j
func WithJournal(j spi.Journal) Option {
	return func(s *Service) { s.journal = j }
}

// OnBlock registers a handler for applied blocks
func OnBlock(h core.BlockHandler) Option {
	return func(s *Service) { s.onBlock = h }
}

// OnReorg registers a handler for reconciled reorgs
func OnReorg(h core.ReorgHandler) Option {
	return func(s *Service) { s.onReorg = h }
}

// OnOutcome registers a handler for recorded transaction outcomes
func OnOutcome(h core.OutcomeHandler) Option {
	return func(s *Service) { s.onOutcome = h }
}

// New wires every component against node
func New(cfg *config.Config, node spi.Node, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		node:   node,
		state:  state.NewProjectedState(),
		users:  state.NewUserState(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	pop := populator.New(s.state, populator.WithLogger(s.logger))

	listenerOpts := []monitor.Option{monitor.WithLogger(s.logger)}
	if s.journal != nil {
		listenerOpts = append(listenerOpts, monitor.WithJournal(s.journal))
	}
	if s.onBlock != nil {
		listenerOpts = append(listenerOpts, monitor.WithBlockHandler(s.onBlock))
	}
	if s.onReorg != nil {
		listenerOpts = append(listenerOpts, monitor.WithReorgHandler(s.onReorg))
	}
	s.listener = monitor.NewEventListener(node, pop, monitor.Config{
		ContractAddress: core.Address(cfg.ContractAddress),
		StartBlock:      cfg.StartBlock,
		PollingInterval: cfg.PollingInterval,
		LookbackRange:   cfg.LookbackRange,
	}, listenerOpts...)

	s.heads = relay.NewBlockNumberCollector(node, cfg.HeadPollingInterval, cfg.HeadMaxFailures, s.logger)

	raw := relay.NewQueue[core.RawTransaction](cfg.RawQueueCapacity)
	pending := relay.NewQueue[core.PendingReceipt](cfg.ReceiptQueueCapacity)
	s.sender = relay.NewTransactionSender(node, s.heads, raw, pending, cfg.SenderIdleDelay, s.logger)

	receiptOpts := []relay.ReceiptOption{
		relay.WithReceiptLogger(s.logger),
		relay.WithPollDelay(cfg.HeadPollingInterval),
	}
	if s.journal != nil {
		receiptOpts = append(receiptOpts, relay.WithOutcomeJournal(s.journal))
	}
	if s.onOutcome != nil {
		receiptOpts = append(receiptOpts, relay.WithOutcomeHandler(s.onOutcome))
	}
	retrying := spi.NewRetryingReceipts(node, util.RetryPolicy{
		Attempts: cfg.ReceiptRetryAttempts,
		Delay:    cfg.ReceiptRetryDelay,
	}).WithLogger(s.logger.Named("receipts"))
	s.receipts = relay.NewReceiptCollector(retrying, s.heads, pending, s.users, cfg.ConfirmationDepth, receiptOpts...)

	return s
}

// Run starts all loops and blocks until ctx is cancelled or one loop fails.
// The first failure stops the others and is returned.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting betflow",
		zap.String("contract", s.cfg.ContractAddress),
		zap.Uint64("start_block", s.cfg.StartBlock),
	)

	if err := s.resetJournal(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.heads.Run(gctx) })
	g.Go(func() error { return s.listener.Run(gctx) })
	g.Go(func() error { return s.sender.Run(gctx) })
	g.Go(func() error { return s.receipts.Run(gctx) })

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("betflow stopped", zap.Error(err))
		return err
	}
	s.logger.Info("betflow stopped")
	return nil
}

// resetJournal drops journaled blocks the rebuilt projection will rewrite
func (s *Service) resetJournal(ctx context.Context) error {
	if s.journal == nil {
		return nil
	}
	last, err := s.journal.GetLastBlock(ctx)
	if err != nil {
		return fmt.Errorf("failed to read journal head: %w", err)
	}
	if last == nil {
		return nil
	}
	s.logger.Info("journal found, projection is rebuilt from chain",
		zap.Uint64("journal_head", last.Number),
	)
	floor := uint64(0)
	if s.cfg.StartBlock > 0 {
		floor = s.cfg.StartBlock - 1
	}
	if err := s.journal.Rewind(ctx, floor); err != nil {
		return fmt.Errorf("failed to rewind journal: %w", err)
	}
	return nil
}

// Enqueue submits a signed transaction, blocking while the queue is full
func (s *Service) Enqueue(ctx context.Context, tx core.RawTransaction) error {
	return s.sender.Enqueue(ctx, tx)
}

// State returns the projection. Its getters return copies.
func (s *Service) State() *state.ProjectedState {
	return s.state
}

// Users returns the per-sender outcome index
func (s *Service) Users() *state.UserState {
	return s.users
}

// Head returns the last observed chain head
func (s *Service) Head() (uint64, bool) {
	return s.heads.Head()
}

// LastConfirmed returns the tail of the projected history
func (s *Service) LastConfirmed() (uint64, core.Hash) {
	return s.listener.LastConfirmed()
}
