package state

import (
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/username/betflow/pkg/core"
)

// ProjectedState is the in-memory projection of contract events.
//
// It has a single writer, the event listener. Readers never share memory with
// it: every getter copies what it returns, at O(n) cost in the size of the
// collection. Game is published as one immutable value through an atomic
// pointer, so its fields are always observed together.
type ProjectedState struct {
	mu sync.RWMutex

	players    map[core.Address]core.Player
	statements map[uint64]core.Statement
	votes      map[core.EventID]core.Vote
	answers    map[uint64]core.Answer
	history    []core.BlockTuple

	// owners maps every live event id to the entity it created
	owners map[core.EventID]owner

	deploymentEventID core.EventID

	game   atomic.Pointer[core.Game]
	lastID atomic.Uint64
}

type ownerKind int

const (
	ownerPlayer ownerKind = iota + 1
	ownerStatement
	ownerVote
	ownerAnswer
	ownerGame
	ownerDeployment
)

type owner struct {
	kind        ownerKind
	address     core.Address
	statementID uint64
}

// Snapshot is an immutable copy of the whole projection
type Snapshot struct {
	Players    map[core.Address]core.Player
	Statements map[uint64]core.Statement
	Votes      map[core.EventID]core.Vote
	Answers    map[uint64]core.Answer
	Game       core.Game
	History    []core.BlockTuple
}

// NewProjectedState creates an empty projection
func NewProjectedState() *ProjectedState {
	s := &ProjectedState{
		players:    make(map[core.Address]core.Player),
		statements: make(map[uint64]core.Statement),
		votes:      make(map[core.EventID]core.Vote),
		answers:    make(map[uint64]core.Answer),
		owners:     make(map[core.EventID]owner),
	}
	s.game.Store(&core.Game{TransferValues: map[core.EventID]*big.Int{}})
	return s
}

// NextEventID issues the next event id
func (s *ProjectedState) NextEventID() core.EventID {
	return core.EventID(s.lastID.Add(1))
}

// LastEventID returns the most recently issued id, or NoEvent
func (s *ProjectedState) LastEventID() core.EventID {
	return core.EventID(s.lastID.Load())
}

// AddPlayer registers a player. An address registers at most once.
func (s *ProjectedState) AddPlayer(id core.EventID, p core.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[p.Address]; ok {
		return fmt.Errorf("%w: player %s already registered", core.ErrInvariant, p.Address)
	}
	p.EventID = id
	s.players[p.Address] = p
	s.owners[id] = owner{kind: ownerPlayer, address: p.Address}
	return nil
}

// AddStatement records a statement of a registered player
func (s *ProjectedState) AddStatement(id core.EventID, st core.Statement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[st.Player]; !ok {
		return fmt.Errorf("%w: statement %d by unregistered player %s", core.ErrInvariant, st.StatementID, st.Player)
	}
	if _, ok := s.statements[st.StatementID]; ok {
		return fmt.Errorf("%w: statement %d already exists", core.ErrInvariant, st.StatementID)
	}
	st.EventID = id
	st.Votes = make(map[core.EventID]struct{})
	st.AnswerEventID = core.NoEvent
	s.statements[st.StatementID] = st
	s.owners[id] = owner{kind: ownerStatement, statementID: st.StatementID}
	return nil
}

// AddVote records a registered player's vote on an existing statement
func (s *ProjectedState) AddVote(id core.EventID, v core.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[v.Player]; !ok {
		return fmt.Errorf("%w: vote by unregistered player %s", core.ErrInvariant, v.Player)
	}
	st, ok := s.statements[v.StatementID]
	if !ok {
		return fmt.Errorf("%w: vote on unknown statement %d", core.ErrInvariant, v.StatementID)
	}
	v.EventID = id
	s.votes[id] = v
	st.Votes[id] = struct{}{}
	s.owners[id] = owner{kind: ownerVote, statementID: v.StatementID}
	return nil
}

// AddAnswer records the revealed answer of an existing statement
func (s *ProjectedState) AddAnswer(id core.EventID, a core.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statements[a.StatementID]
	if !ok {
		return fmt.Errorf("%w: answer for unknown statement %d", core.ErrInvariant, a.StatementID)
	}
	a.EventID = id
	s.answers[a.StatementID] = a
	st.AnswerEventID = id
	s.statements[a.StatementID] = st
	s.owners[id] = owner{kind: ownerAnswer, statementID: a.StatementID}
	return nil
}

// DeployedContract records the contract deployment event
func (s *ProjectedState) DeployedContract(id core.EventID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deploymentEventID != core.NoEvent {
		return fmt.Errorf("%w: contract deployed twice (events %d and %d)", core.ErrInvariant, s.deploymentEventID, id)
	}
	s.deploymentEventID = id
	s.owners[id] = owner{kind: ownerDeployment}
	return nil
}

// StopGame marks the game as stopped
func (s *ProjectedState) StopGame(id core.EventID) {
	s.updateGame(id, func(g *core.Game) {
		g.Stopped = true
		g.StoppedEventID = id
	})
}

// DistributedPrize marks the prize as distributed to the given winners
func (s *ProjectedState) DistributedPrize(id core.EventID, winners []core.Address) {
	s.updateGame(id, func(g *core.Game) {
		g.PrizeDistributed = true
		g.PrizeDistributedEventID = id
		g.Winners = append([]core.Address(nil), winners...)
		g.WinnersEventID = id
	})
}

// AddTransferValue records a value transferred to the contract
func (s *ProjectedState) AddTransferValue(id core.EventID, value *big.Int) {
	s.updateGame(id, func(g *core.Game) {
		g.TransferValues[id] = new(big.Int).Set(value)
	})
}

func (s *ProjectedState) updateGame(id core.EventID, mutate func(*core.Game)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.game.Load().Clone()
	mutate(&next)
	s.game.Store(&next)
	s.owners[id] = owner{kind: ownerGame}
}

// AppendBlock adds a tuple to the history. Block numbers strictly increase.
func (s *ProjectedState) AppendBlock(block core.BlockTuple) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.history); n > 0 && block.Number <= s.history[n-1].Number {
		return fmt.Errorf("%w: block %d appended after %d", core.ErrInvariant, block.Number, s.history[n-1].Number)
	}
	s.history = append(s.history, block.Clone())
	return nil
}

// CheckNextBlock reports whether a tuple at number may be appended
func (s *ProjectedState) CheckNextBlock(number uint64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n := len(s.history); n > 0 && number <= s.history[n-1].Number {
		return fmt.Errorf("%w: block %d appended after %d", core.ErrInvariant, number, s.history[n-1].Number)
	}
	return nil
}

// RevertTail removes the last tuple from the history and reverts its events.
func (s *ProjectedState) RevertTail() (core.BlockTuple, bool) {
	s.mu.Lock()
	n := len(s.history)
	if n == 0 {
		s.mu.Unlock()
		return core.BlockTuple{}, false
	}
	tail := s.history[n-1]
	s.history = s.history[:n-1]
	s.mu.Unlock()

	s.Revert(tail.EventIDs)
	return tail, true
}

// Revert removes every entity created by one of the given events. Back
// references from statements are cleared and game fields owned by a reverted
// event return to unset.
func (s *ProjectedState) Revert(ids []core.EventID) {
	if len(ids) == 0 {
		return
	}
	reverted := make(map[core.EventID]struct{}, len(ids))
	for _, id := range ids {
		reverted[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	gameTouched := false
	// later events first, so dependants go before what they reference
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		o, ok := s.owners[id]
		if !ok {
			continue
		}
		delete(s.owners, id)

		switch o.kind {
		case ownerPlayer:
			delete(s.players, o.address)
		case ownerStatement:
			delete(s.statements, o.statementID)
		case ownerVote:
			delete(s.votes, id)
			if st, ok := s.statements[o.statementID]; ok {
				delete(st.Votes, id)
			}
		case ownerAnswer:
			if a, ok := s.answers[o.statementID]; ok && a.EventID == id {
				delete(s.answers, o.statementID)
			}
			if st, ok := s.statements[o.statementID]; ok && st.AnswerEventID == id {
				st.AnswerEventID = core.NoEvent
				s.statements[o.statementID] = st
			}
		case ownerGame:
			gameTouched = true
		case ownerDeployment:
			if s.deploymentEventID == id {
				s.deploymentEventID = core.NoEvent
			}
		}
	}

	if gameTouched {
		next := s.game.Load().Clone()
		resetGame(&next, reverted)
		s.game.Store(&next)
	}
}

func resetGame(g *core.Game, reverted map[core.EventID]struct{}) {
	if _, ok := reverted[g.StoppedEventID]; ok {
		g.Stopped = false
		g.StoppedEventID = core.NoEvent
	}
	if _, ok := reverted[g.PrizeDistributedEventID]; ok {
		g.PrizeDistributed = false
		g.PrizeDistributedEventID = core.NoEvent
	}
	if _, ok := reverted[g.WinnersEventID]; ok {
		g.Winners = nil
		g.WinnersEventID = core.NoEvent
	}
	for id := range g.TransferValues {
		if _, ok := reverted[id]; ok {
			delete(g.TransferValues, id)
		}
	}
}

// Players returns a copy of the registered players
func (s *ProjectedState) Players() map[core.Address]core.Player {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[core.Address]core.Player, len(s.players))
	for k, v := range s.players {
		out[k] = v
	}
	return out
}

// Statements returns a deep copy of the statements keyed by statement id
func (s *ProjectedState) Statements() map[uint64]core.Statement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyStatements()
}

func (s *ProjectedState) copyStatements() map[uint64]core.Statement {
	out := make(map[uint64]core.Statement, len(s.statements))
	for k, v := range s.statements {
		out[k] = v.Clone()
	}
	return out
}

// Votes returns a copy of the votes keyed by event id
func (s *ProjectedState) Votes() map[core.EventID]core.Vote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[core.EventID]core.Vote, len(s.votes))
	for k, v := range s.votes {
		out[k] = v
	}
	return out
}

// Answers returns a copy of the answers keyed by statement id
func (s *ProjectedState) Answers() map[uint64]core.Answer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uint64]core.Answer, len(s.answers))
	for k, v := range s.answers {
		out[k] = v
	}
	return out
}

// Game returns a copy of the game aggregate with a single pointer load
func (s *ProjectedState) Game() core.Game {
	return s.game.Load().Clone()
}

// History returns a copy of the block history, oldest first
func (s *ProjectedState) History() []core.BlockTuple {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyHistory()
}

func (s *ProjectedState) copyHistory() []core.BlockTuple {
	out := make([]core.BlockTuple, len(s.history))
	for i, b := range s.history {
		out[i] = b.Clone()
	}
	return out
}

// Tail returns the most recent tuple of the history
func (s *ProjectedState) Tail() (core.BlockTuple, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.history) == 0 {
		return core.BlockTuple{}, false
	}
	return s.history[len(s.history)-1].Clone(), true
}

// Len returns the number of tuples in the history
func (s *ProjectedState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// Deployment returns the tuple containing the deployment event, if it was observed.
func (s *ProjectedState) Deployment() (core.BlockTuple, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.deploymentEventID == core.NoEvent {
		return core.BlockTuple{}, false
	}
	for _, b := range s.history {
		for _, id := range b.EventIDs {
			if id == s.deploymentEventID {
				return b.Clone(), true
			}
		}
	}
	return core.BlockTuple{}, false
}

// Snapshot copies the whole projection. Its cost is linear in the number of
// entities and blocks held.
func (s *ProjectedState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Players:    make(map[core.Address]core.Player, len(s.players)),
		Statements: s.copyStatements(),
		Votes:      make(map[core.EventID]core.Vote, len(s.votes)),
		Answers:    make(map[uint64]core.Answer, len(s.answers)),
		Game:       s.game.Load().Clone(),
		History:    s.copyHistory(),
	}
	for k, v := range s.players {
		snap.Players[k] = v
	}
	for k, v := range s.votes {
		snap.Votes[k] = v
	}
	for k, v := range s.answers {
		snap.Answers[k] = v
	}
	return snap
}
