package state

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/betflow/pkg/core"
)

const (
	alice = core.Address("0xA1")
	bob   = core.Address("0xB0")
)

func TestEventIDsAreMonotonic(t *testing.T) {
	s := NewProjectedState()
	assert.Equal(t, core.NoEvent, s.LastEventID())
	assert.Equal(t, core.EventID(1), s.NextEventID())
	assert.Equal(t, core.EventID(2), s.NextEventID())
	assert.Equal(t, core.EventID(2), s.LastEventID())
}

func TestReferentialIntegrity(t *testing.T) {
	s := NewProjectedState()

	err := s.AddStatement(s.NextEventID(), core.Statement{Player: alice, StatementID: 1})
	require.True(t, errors.Is(err, core.ErrInvariant), "statement by unregistered player")

	require.NoError(t, s.AddPlayer(s.NextEventID(), core.Player{Address: alice}))
	err = s.AddPlayer(s.NextEventID(), core.Player{Address: alice})
	require.True(t, errors.Is(err, core.ErrInvariant), "duplicate player")

	err = s.AddVote(s.NextEventID(), core.Vote{Player: alice, StatementID: 1})
	require.True(t, errors.Is(err, core.ErrInvariant), "vote on unknown statement")

	err = s.AddAnswer(s.NextEventID(), core.Answer{StatementID: 1})
	require.True(t, errors.Is(err, core.ErrInvariant), "answer on unknown statement")

	require.NoError(t, s.AddStatement(s.NextEventID(), core.Statement{Player: alice, StatementID: 1}))
	err = s.AddStatement(s.NextEventID(), core.Statement{Player: alice, StatementID: 1})
	require.True(t, errors.Is(err, core.ErrInvariant), "duplicate statement id")

	err = s.AddVote(s.NextEventID(), core.Vote{Player: bob, StatementID: 1})
	require.True(t, errors.Is(err, core.ErrInvariant), "vote by unregistered player")
}

func TestStatementBackReferences(t *testing.T) {
	s := NewProjectedState()
	require.NoError(t, s.AddPlayer(1, core.Player{Address: alice}))
	require.NoError(t, s.AddStatement(2, core.Statement{Player: alice, StatementID: 9}))
	require.NoError(t, s.AddVote(3, core.Vote{Player: alice, StatementID: 9, GuessedAnswer: "yes"}))
	require.NoError(t, s.AddAnswer(4, core.Answer{StatementID: 9, Text: "yes"}))

	st := s.Statements()[9]
	assert.Contains(t, st.Votes, core.EventID(3))
	assert.Equal(t, core.EventID(4), st.AnswerEventID)

	s.Revert([]core.EventID{3, 4})
	st = s.Statements()[9]
	assert.Empty(t, st.Votes)
	assert.Equal(t, core.NoEvent, st.AnswerEventID)
	assert.Empty(t, s.Votes())
	assert.Empty(t, s.Answers())
}

func TestDeploymentOnlyOnce(t *testing.T) {
	s := NewProjectedState()
	require.NoError(t, s.DeployedContract(1))
	require.True(t, errors.Is(s.DeployedContract(2), core.ErrInvariant))
}

func TestHistoryStrictlyIncreasing(t *testing.T) {
	s := NewProjectedState()
	require.NoError(t, s.AppendBlock(core.BlockTuple{Number: 100, Hash: "0xa"}))
	require.NoError(t, s.AppendBlock(core.BlockTuple{Number: 101, Hash: "0xb"}))

	assert.True(t, errors.Is(s.AppendBlock(core.BlockTuple{Number: 101, Hash: "0xc"}), core.ErrInvariant))
	assert.True(t, errors.Is(s.AppendBlock(core.BlockTuple{Number: 99, Hash: "0xc"}), core.ErrInvariant))
	assert.True(t, errors.Is(s.CheckNextBlock(100), core.ErrInvariant))
	assert.NoError(t, s.CheckNextBlock(102))
	assert.Equal(t, 2, s.Len())
}

func TestRevertTailRemovesEntitiesOfThatBlock(t *testing.T) {
	s := NewProjectedState()

	require.NoError(t, s.DeployedContract(1))
	require.NoError(t, s.AppendBlock(core.BlockTuple{Number: 100, Hash: "0xa", EventIDs: []core.EventID{1}}))

	require.NoError(t, s.AddPlayer(2, core.Player{Address: alice}))
	require.NoError(t, s.AddStatement(3, core.Statement{Player: alice, StatementID: 1}))
	require.NoError(t, s.AppendBlock(core.BlockTuple{Number: 101, Hash: "0xb", EventIDs: []core.EventID{2, 3}}))

	before := s.Snapshot()

	require.NoError(t, s.AddVote(4, core.Vote{Player: alice, StatementID: 1}))
	s.StopGame(5)
	s.AddTransferValue(6, big.NewInt(10))
	require.NoError(t, s.AppendBlock(core.BlockTuple{Number: 102, Hash: "0xc", EventIDs: []core.EventID{4, 5, 6}}))

	reverted, ok := s.RevertTail()
	require.True(t, ok)
	assert.Equal(t, uint64(102), reverted.Number)

	after := s.Snapshot()
	assert.Equal(t, before.Players, after.Players)
	assert.Equal(t, before.Statements, after.Statements)
	assert.Equal(t, before.Votes, after.Votes)
	assert.Equal(t, before.Game, after.Game)
	assert.Equal(t, before.History, after.History)

	// deployment survives until its own block goes
	_, ok = s.Deployment()
	require.True(t, ok)
	s.RevertTail()
	s.RevertTail()
	_, ok = s.Deployment()
	assert.False(t, ok)
	assert.Empty(t, s.Players())

	_, ok = s.RevertTail()
	assert.False(t, ok)
}

func TestDistributedPrizeSetsWinnersTogether(t *testing.T) {
	s := NewProjectedState()
	s.DistributedPrize(7, []core.Address{alice, bob})

	g := s.Game()
	assert.True(t, g.PrizeDistributed)
	assert.Equal(t, core.EventID(7), g.PrizeDistributedEventID)
	assert.Equal(t, core.EventID(7), g.WinnersEventID)
	assert.Equal(t, []core.Address{alice, bob}, g.Winners)

	s.Revert([]core.EventID{7})
	g = s.Game()
	assert.False(t, g.PrizeDistributed)
	assert.Empty(t, g.Winners)
	assert.Equal(t, core.NoEvent, g.WinnersEventID)
}

func TestGameIsCopyOnWrite(t *testing.T) {
	s := NewProjectedState()
	s.AddTransferValue(1, big.NewInt(5))
	held := s.Game()

	s.StopGame(2)
	s.AddTransferValue(3, big.NewInt(6))

	assert.False(t, held.Stopped)
	assert.Len(t, held.TransferValues, 1)

	// mutating a returned value must not leak into the projection
	held.TransferValues[1].SetInt64(999)
	assert.Equal(t, int64(5), s.Game().TransferValues[1].Int64())
}

func TestSnapshotIsIsolated(t *testing.T) {
	s := NewProjectedState()
	require.NoError(t, s.AddPlayer(1, core.Player{Address: alice}))
	require.NoError(t, s.AddStatement(2, core.Statement{Player: alice, StatementID: 1}))
	require.NoError(t, s.AppendBlock(core.BlockTuple{Number: 10, Hash: "0xa", EventIDs: []core.EventID{1, 2}}))

	snap := s.Snapshot()
	require.NoError(t, s.AddVote(3, core.Vote{Player: alice, StatementID: 1}))

	assert.Empty(t, snap.Statements[1].Votes)
	snap.History[0].EventIDs[0] = 42
	assert.Equal(t, core.EventID(1), s.History()[0].EventIDs[0])
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	s := NewProjectedState()
	require.NoError(t, s.AddPlayer(s.NextEventID(), core.Player{Address: alice}))
	require.NoError(t, s.AddStatement(s.NextEventID(), core.Statement{Player: alice, StatementID: 1}))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			id := s.NextEventID()
			_ = s.AddVote(id, core.Vote{Player: alice, StatementID: 1})
			s.AddTransferValue(s.NextEventID(), big.NewInt(int64(i)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			snap := s.Snapshot()
			_ = len(snap.Statements[1].Votes)
			_ = s.Game()
		}
	}()
	wg.Wait()

	assert.Len(t, s.Votes(), 200)
}
