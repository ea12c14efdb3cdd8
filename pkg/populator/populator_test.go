package populator_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/betflow/pkg/core"
	"github.com/username/betflow/pkg/populator"
	"github.com/username/betflow/pkg/spi/spitest"
	"github.com/username/betflow/pkg/state"
)

var (
	alice = core.Address(common.HexToAddress("0xa1").Hex())
	bob   = core.Address(common.HexToAddress("0xb0").Hex())
)

func at(number uint64, hash core.Hash, logs ...core.Log) []core.Log {
	for i := range logs {
		logs[i].BlockNumber = number
		logs[i].BlockHash = hash
		logs[i].Index = uint(i)
	}
	return logs
}

func TestApplyBlockProjectsEveryEvent(t *testing.T) {
	s := state.NewProjectedState()
	p := populator.New(s)

	block, err := p.ApplyBlock(at(100, "0xaa",
		spitest.Deployed(),
		spitest.Registered(alice),
		spitest.Registered(bob),
		spitest.Submitted(alice, 1, "water is wet"),
		spitest.Voted(bob, 1, "yes"),
		spitest.Revealed(1, "yes"),
		spitest.Balance(250),
		spitest.Distributed(bob),
		spitest.Stopped(),
	))
	require.NoError(t, err)

	assert.Equal(t, uint64(100), block.Number)
	assert.Equal(t, []core.EventID{1, 2, 3, 4, 5, 6, 7, 8, 9}, block.EventIDs)

	players := s.Players()
	require.Len(t, players, 2)
	assert.Equal(t, core.EventID(2), players[alice].EventID)

	st := s.Statements()[1]
	assert.Equal(t, alice, st.Player)
	assert.Equal(t, "water is wet", st.Text)
	assert.Contains(t, st.Votes, core.EventID(5))
	assert.Equal(t, core.EventID(6), st.AnswerEventID)

	assert.Equal(t, "yes", s.Votes()[5].GuessedAnswer)
	assert.Equal(t, "yes", s.Answers()[1].Text)

	g := s.Game()
	assert.Equal(t, big.NewInt(250), g.TransferValues[7])
	assert.Equal(t, []core.Address{bob}, g.Winners)
	assert.True(t, g.PrizeDistributed)
	assert.True(t, g.Stopped)
	assert.Equal(t, core.EventID(9), g.StoppedEventID)

	d, ok := s.Deployment()
	require.True(t, ok)
	assert.Equal(t, uint64(100), d.Number)
}

func TestLiteralTopicIsAccepted(t *testing.T) {
	s := state.NewProjectedState()
	p := populator.New(s)

	log := spitest.Registered(alice)
	log.Topics[0] = core.Hash(core.EventRegistered)
	_, err := p.ApplyBlock(at(5, "0x05", log))
	require.NoError(t, err)
	assert.Len(t, s.Players(), 1)
}

func TestUnknownEventIsFatal(t *testing.T) {
	s := state.NewProjectedState()
	p := populator.New(s)

	_, err := p.ApplyBlock(at(5, "0x05", core.Log{Topics: []core.Hash{"0xdeadbeef"}}))
	require.True(t, errors.Is(err, core.ErrUnknownEvent))
	assert.Zero(t, s.Len())

	_, err = p.ApplyBlock(at(6, "0x06", core.Log{Data: []byte("Mystery")}))
	require.True(t, errors.Is(err, core.ErrUnknownEvent))
}

func TestStructuredEventWithoutTopicsIsMalformed(t *testing.T) {
	p := populator.New(state.NewProjectedState())
	_, err := p.ApplyBlock(at(5, "0x05", core.Log{Data: []byte(core.EventVoted)}))
	require.True(t, errors.Is(err, core.ErrMalformedEvent))
}

func TestUndecodablePayloadIsMalformed(t *testing.T) {
	s := state.NewProjectedState()
	p := populator.New(s)

	_, err := p.ApplyBlock(at(5, "0x05", spitest.Registered(alice)))
	require.NoError(t, err)

	bad := spitest.Submitted(alice, 1, "x")
	bad.Data = bad.Data[:10]
	_, err = p.ApplyBlock(at(6, "0x06", bad))
	require.True(t, errors.Is(err, core.ErrMalformedEvent))
}

func TestDanglingReferenceIsInvariantViolation(t *testing.T) {
	p := populator.New(state.NewProjectedState())
	_, err := p.ApplyBlock(at(5, "0x05", spitest.Voted(alice, 1, "yes")))
	require.True(t, errors.Is(err, core.ErrInvariant))
}

func TestApplyBlockRejectsMixedBlocks(t *testing.T) {
	p := populator.New(state.NewProjectedState())

	logs := at(5, "0x05", spitest.Registered(alice), spitest.Registered(bob))
	logs[1].BlockHash = "0x06"
	_, err := p.ApplyBlock(logs)
	require.True(t, errors.Is(err, core.ErrInvariant))

	_, err = p.ApplyBlock(nil)
	require.True(t, errors.Is(err, core.ErrInvariant))
}

func TestApplyBlockRejectsOldHeight(t *testing.T) {
	s := state.NewProjectedState()
	p := populator.New(s)

	_, err := p.ApplyBlock(at(5, "0x05", spitest.Registered(alice)))
	require.NoError(t, err)
	_, err = p.ApplyBlock(at(5, "0x05", spitest.Registered(bob)))
	require.True(t, errors.Is(err, core.ErrInvariant))
	assert.Len(t, s.Players(), 1, "rejected block must not mutate state")
}

func TestGroupLogs(t *testing.T) {
	logs := []core.Log{
		{BlockNumber: 7, TxIndex: 1, Index: 3},
		{BlockNumber: 5, TxIndex: 0, Index: 0},
		{BlockNumber: 7, TxIndex: 0, Index: 1},
		{BlockNumber: 5, TxIndex: 1, Index: 2},
	}
	groups := populator.GroupLogs(logs)
	require.Len(t, groups, 2)
	assert.Equal(t, uint64(5), groups[0][0].BlockNumber)
	assert.Equal(t, uint(0), groups[0][0].Index)
	assert.Equal(t, uint(2), groups[0][1].Index)
	assert.Equal(t, uint(1), groups[1][0].Index)
	assert.Equal(t, uint(3), groups[1][1].Index)

	assert.Empty(t, populator.GroupLogs(nil))
}

func TestInferEventType(t *testing.T) {
	assert.Equal(t, core.EventVoted, populator.InferEventType([]core.Log{
		{Topics: []core.Hash{"0xunknown"}},
		spitest.Voted(alice, 1, "no"),
	}))
	assert.Equal(t, core.EventType(""), populator.InferEventType(nil))
	assert.True(t, populator.IsDeployment(spitest.Deployed()))
	assert.False(t, populator.IsDeployment(spitest.Stopped()))
}
