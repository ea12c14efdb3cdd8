package populator

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/username/betflow/pkg/core"
	"github.com/username/betflow/pkg/state"
	"go.uber.org/zap"
)

// Populator maps contract logs onto ProjectedState mutations, one mutation per log.
type Populator struct {
	state  *state.ProjectedState
	logger *zap.Logger
}

// Option configures a Populator
type Option func(*Populator)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(p *Populator) { p.logger = logger.Named("populator") }
}

// New creates a Populator writing into s
func New(s *state.ProjectedState, opts ...Option) *Populator {
	p := &Populator{state: s, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the projection this populator writes into
func (p *Populator) State() *state.ProjectedState {
	return p.state
}

// ApplyBlock applies the logs of one block, in order, and appends the
// resulting tuple to the history. All logs must share one height and hash.
func (p *Populator) ApplyBlock(logs []core.Log) (core.BlockTuple, error) {
	if len(logs) == 0 {
		return core.BlockTuple{}, fmt.Errorf("%w: empty block", core.ErrInvariant)
	}
	block := core.BlockTuple{
		Number:   logs[0].BlockNumber,
		Hash:     logs[0].BlockHash,
		EventIDs: make([]core.EventID, 0, len(logs)),
	}
	for _, l := range logs[1:] {
		if l.BlockNumber != block.Number || l.BlockHash != block.Hash {
			return core.BlockTuple{}, fmt.Errorf("%w: block %d (%s) mixed with log from block %d (%s)",
				core.ErrInvariant, block.Number, block.Hash, l.BlockNumber, l.BlockHash)
		}
	}
	if err := p.state.CheckNextBlock(block.Number); err != nil {
		return core.BlockTuple{}, err
	}

	for _, l := range logs {
		id, err := p.Apply(l)
		if err != nil {
			return core.BlockTuple{}, err
		}
		block.EventIDs = append(block.EventIDs, id)
	}

	if err := p.state.AppendBlock(block); err != nil {
		return core.BlockTuple{}, err
	}
	p.logger.Debug("applied block",
		zap.Uint64("number", block.Number),
		zap.String("hash", string(block.Hash)),
		zap.Int("events", len(block.EventIDs)),
	)
	return block, nil
}

// Apply performs the mutation carried by one log and returns its event id.
func (p *Populator) Apply(log core.Log) (core.EventID, error) {
	event, raw, ok := core.ResolveEvent(log)
	if !ok {
		return core.NoEvent, fmt.Errorf("%w: %q in tx %s", core.ErrUnknownEvent, raw, log.TxHash)
	}
	if len(log.Topics) == 0 && !dataOnly(event) {
		return core.NoEvent, fmt.Errorf("%w: %s notification without arguments in tx %s", core.ErrMalformedEvent, event, log.TxHash)
	}

	switch event {
	case core.EventDeployed:
		id := p.state.NextEventID()
		return id, p.state.DeployedContract(id)

	case core.EventRegistered:
		player, err := indexedPlayer(log)
		if err != nil {
			return core.NoEvent, err
		}
		id := p.state.NextEventID()
		return id, p.state.AddPlayer(id, core.Player{Address: player, TxHash: log.TxHash})

	case core.EventSubmitted:
		player, err := indexedPlayer(log)
		if err != nil {
			return core.NoEvent, err
		}
		values, err := unpack(statementArgs, log)
		if err != nil {
			return core.NoEvent, err
		}
		sid, err := statementID(values[0], log)
		if err != nil {
			return core.NoEvent, err
		}
		answerHash, _ := values[1].([32]byte)
		text, _ := values[2].(string)
		id := p.state.NextEventID()
		return id, p.state.AddStatement(id, core.Statement{
			Player:      player,
			StatementID: sid,
			AnswerHash:  core.Hash(common.Hash(answerHash).Hex()),
			Text:        text,
			TxHash:      log.TxHash,
			BlockNumber: log.BlockNumber,
		})

	case core.EventVoted:
		player, err := indexedPlayer(log)
		if err != nil {
			return core.NoEvent, err
		}
		values, err := unpack(voteArgs, log)
		if err != nil {
			return core.NoEvent, err
		}
		sid, err := statementID(values[0], log)
		if err != nil {
			return core.NoEvent, err
		}
		guess, _ := values[1].(string)
		id := p.state.NextEventID()
		return id, p.state.AddVote(id, core.Vote{
			Player:        player,
			StatementID:   sid,
			GuessedAnswer: guess,
			TxHash:        log.TxHash,
			BlockNumber:   log.BlockNumber,
		})

	case core.EventRevealedAnswer:
		values, err := unpack(answerArgs, log)
		if err != nil {
			return core.NoEvent, err
		}
		sid, err := statementID(values[0], log)
		if err != nil {
			return core.NoEvent, err
		}
		text, _ := values[1].(string)
		id := p.state.NextEventID()
		return id, p.state.AddAnswer(id, core.Answer{
			StatementID: sid,
			Text:        text,
			TxHash:      log.TxHash,
			BlockNumber: log.BlockNumber,
		})

	case core.EventDistributedPrize:
		values, err := unpack(winnersArgs, log)
		if err != nil {
			return core.NoEvent, err
		}
		addrs, _ := values[0].([]common.Address)
		winners := make([]core.Address, len(addrs))
		for i, a := range addrs {
			winners[i] = core.Address(a.Hex())
		}
		id := p.state.NextEventID()
		p.state.DistributedPrize(id, winners)
		return id, nil

	case core.EventUpdatedBalance:
		values, err := unpack(valueArgs, log)
		if err != nil {
			return core.NoEvent, err
		}
		value, ok := values[0].(*big.Int)
		if !ok {
			return core.NoEvent, fmt.Errorf("%w: tx %s: balance value is not an integer", core.ErrMalformedEvent, log.TxHash)
		}
		id := p.state.NextEventID()
		p.state.AddTransferValue(id, value)
		return id, nil

	case core.EventGameStopped:
		id := p.state.NextEventID()
		p.state.StopGame(id)
		return id, nil
	}

	return core.NoEvent, fmt.Errorf("%w: %q in tx %s", core.ErrUnknownEvent, raw, log.TxHash)
}

// dataOnly reports whether the event can arrive as a bare notification
func dataOnly(e core.EventType) bool {
	return e == core.EventDeployed || e == core.EventGameStopped
}

// IsDeployment reports whether the log is the contract deployment event
func IsDeployment(log core.Log) bool {
	e, _, ok := core.ResolveEvent(log)
	return ok && e == core.EventDeployed
}

// InferEventType names the first recognised contract event among a receipt's logs.
func InferEventType(logs []core.Log) core.EventType {
	for _, l := range logs {
		if e, _, ok := core.ResolveEvent(l); ok {
			return e
		}
	}
	return ""
}

// GroupLogs sorts logs and splits them into per-height groups, oldest first.
func GroupLogs(logs []core.Log) [][]core.Log {
	sorted := make([]core.Log, len(logs))
	copy(sorted, logs)
	core.SortLogs(sorted)

	var groups [][]core.Log
	for _, l := range sorted {
		n := len(groups)
		if n > 0 && groups[n-1][0].BlockNumber == l.BlockNumber {
			groups[n-1] = append(groups[n-1], l)
			continue
		}
		groups = append(groups, []core.Log{l})
	}
	return groups
}
