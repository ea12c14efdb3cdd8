package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/betflow/pkg/core"
	"github.com/username/betflow/pkg/populator"
	"github.com/username/betflow/pkg/spi/spitest"
	"github.com/username/betflow/pkg/state"
)

var (
	playerP = core.Address(common.HexToAddress("0x0a").Hex())
	playerQ = core.Address(common.HexToAddress("0x0b").Hex())
)

type recordingJournal struct {
	blocks  map[uint64]core.BlockTuple
	rewinds []uint64
}

func newRecordingJournal() *recordingJournal {
	return &recordingJournal{blocks: make(map[uint64]core.BlockTuple)}
}

func (j *recordingJournal) SaveBlock(ctx context.Context, block core.BlockTuple) error {
	j.blocks[block.Number] = block
	return nil
}

func (j *recordingJournal) GetLastBlock(ctx context.Context) (*core.BlockTuple, error) {
	var last *core.BlockTuple
	for _, b := range j.blocks {
		if last == nil || b.Number > last.Number {
			b := b
			last = &b
		}
	}
	return last, nil
}

func (j *recordingJournal) Rewind(ctx context.Context, height uint64) error {
	j.rewinds = append(j.rewinds, height)
	for n := range j.blocks {
		if n > height {
			delete(j.blocks, n)
		}
	}
	return nil
}

func newListener(node *spitest.Node, cfg Config, opts ...Option) (*EventListener, *state.ProjectedState) {
	s := state.NewProjectedState()
	if cfg.ContractAddress == "" {
		cfg.ContractAddress = "0xC0"
	}
	return NewEventListener(node, populator.New(s), cfg, opts...), s
}

func historyNumbers(s *state.ProjectedState) []uint64 {
	var out []uint64
	for _, b := range s.History() {
		out = append(out, b.Number)
	}
	return out
}

func TestBootstrapAndFollow(t *testing.T) {
	ctx := context.Background()
	node := spitest.NewNode()
	node.SetBlock(100, "0x100", spitest.Deployed(), spitest.Registered(playerP))
	node.SetBlock(101, "0x101", spitest.Submitted(playerP, 1, "s"))
	node.SetHead(101)

	l, s := newListener(node, Config{StartBlock: 90})

	require.NoError(t, l.Poll(ctx))
	assert.Equal(t, []uint64{100, 101}, historyNumbers(s))
	number, hash := l.LastConfirmed()
	assert.Equal(t, uint64(101), number)
	assert.Equal(t, core.Hash("0x101"), hash)

	node.SetBlock(103, "0x103", spitest.Voted(playerP, 1, "yes"))
	node.SetHead(105)
	require.NoError(t, l.Poll(ctx))
	assert.Equal(t, []uint64{100, 101, 103}, historyNumbers(s))
	assert.Equal(t, core.EventID(4), s.LastEventID())
}

func TestEmptyChainWaitsForStartBlock(t *testing.T) {
	node := spitest.NewNode()
	node.SetHead(10)

	l, s := newListener(node, Config{StartBlock: 50})
	require.NoError(t, l.Poll(context.Background()))
	assert.Zero(t, s.Len())
	assert.Zero(t, node.Queries())

	number, hash := l.LastConfirmed()
	assert.Equal(t, uint64(50), number)
	assert.Empty(t, hash)
}

func TestIdempotentRedelivery(t *testing.T) {
	ctx := context.Background()
	node := spitest.NewNode()
	node.SetBlock(100, "0x100", spitest.Registered(playerP))
	node.SetHead(100)

	l, s := newListener(node, Config{StartBlock: 100})
	require.NoError(t, l.Poll(ctx))
	before := s.Snapshot()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Poll(ctx))
	}

	assert.Equal(t, before, s.Snapshot())
	assert.Equal(t, core.EventID(1), s.LastEventID())
	number, _ := l.LastConfirmed()
	assert.Equal(t, uint64(100), number)
}

// P registers at 100 (id 1), submits S at 101 (id 2) and votes on S at 102
// (id 3). Block 102 is then reorganized away.
func TestReorgRemovesVoteEndToEnd(t *testing.T) {
	ctx := context.Background()
	node := spitest.NewNode()
	node.SetBlock(100, "0x100", spitest.Registered(playerP))
	node.SetBlock(101, "0x101", spitest.Submitted(playerP, 1, "S"))
	node.SetBlock(102, "0x102", spitest.Voted(playerP, 1, "yes"))
	node.SetHead(102)

	var events []core.ReorgEvent
	l, s := newListener(node, Config{StartBlock: 100}, WithReorgHandler(func(ctx context.Context, ev core.ReorgEvent) error {
		events = append(events, ev)
		return nil
	}))
	require.NoError(t, l.Poll(ctx))

	assert.Equal(t, core.EventID(1), s.Players()[playerP].EventID)
	assert.Equal(t, core.EventID(2), s.Statements()[1].EventID)
	assert.Contains(t, s.Statements()[1].Votes, core.EventID(3))

	node.RemoveBlock(102)
	require.NoError(t, l.Poll(ctx))

	assert.Len(t, s.Statements(), 1)
	assert.Empty(t, s.Statements()[1].Votes)
	assert.Empty(t, s.Votes())
	tail, ok := s.Tail()
	require.True(t, ok)
	assert.Equal(t, uint64(101), tail.Number)

	require.Len(t, events, 1)
	require.NotNil(t, events[0].ForkBlock)
	assert.Equal(t, uint64(101), events[0].ForkBlock.Number)
	require.Len(t, events[0].Reverted, 1)
	assert.Equal(t, uint64(102), events[0].Reverted[0].Number)
}

func TestDepthOneReorgReappliesWithFreshIDs(t *testing.T) {
	ctx := context.Background()
	node := spitest.NewNode()
	node.SetBlock(100, "0x100", spitest.Deployed(), spitest.Registered(playerP), spitest.Registered(playerQ))
	node.SetBlock(101, "0x101", spitest.Submitted(playerP, 1, "S"))
	node.SetBlock(102, "0x102a", spitest.Voted(playerQ, 1, "no"), spitest.Revealed(1, "yes"))
	node.SetHead(102)

	l, s := newListener(node, Config{StartBlock: 100})
	require.NoError(t, l.Poll(ctx))
	oldVotes := s.Votes()
	oldAnswer := s.Answers()[1]
	require.Len(t, oldVotes, 1)
	lastID := s.LastEventID()

	// same content, different hash, plus a new block on top
	node.SetBlock(102, "0x102b", spitest.Voted(playerQ, 1, "no"), spitest.Revealed(1, "yes"))
	node.SetBlock(103, "0x103", spitest.Balance(7))
	node.SetHead(103)
	require.NoError(t, l.Poll(ctx))

	assert.Equal(t, []uint64{100, 101, 102, 103}, historyNumbers(s))
	tail102 := s.History()[2]
	assert.Equal(t, core.Hash("0x102b"), tail102.Hash)
	for _, id := range tail102.EventIDs {
		assert.Greater(t, id, lastID)
	}

	newVotes := s.Votes()
	require.Len(t, newVotes, 1)
	for id, v := range newVotes {
		assert.Greater(t, id, lastID)
		for _, old := range oldVotes {
			v.EventID = old.EventID
			assert.Equal(t, old, v, "content identical apart from the id")
		}
	}

	newAnswer := s.Answers()[1]
	assert.Greater(t, newAnswer.EventID, oldAnswer.EventID)
	newAnswer.EventID = oldAnswer.EventID
	assert.Equal(t, oldAnswer, newAnswer)

	st := s.Statements()[1]
	assert.Len(t, st.Votes, 1)
	assert.Equal(t, s.Answers()[1].EventID, st.AnswerEventID)
}

func TestDeepReorgStopsAtCommonAncestor(t *testing.T) {
	ctx := context.Background()
	node := spitest.NewNode()
	node.SetBlock(100, "0x100", spitest.Deployed(), spitest.Registered(playerP))
	node.SetBlock(101, "0x101", spitest.Submitted(playerP, 1, "a"))
	node.SetBlock(102, "0x102", spitest.Submitted(playerP, 2, "b"))
	node.SetBlock(103, "0x103", spitest.Submitted(playerP, 3, "c"))
	node.SetHead(103)

	journal := newRecordingJournal()
	l, s := newListener(node, Config{StartBlock: 100}, WithJournal(journal))
	require.NoError(t, l.Poll(ctx))
	require.Len(t, journal.blocks, 4)

	node.SetBlock(102, "0x102x", spitest.Submitted(playerP, 5, "e"))
	node.RemoveBlock(103)
	node.SetHead(104)
	require.NoError(t, l.Poll(ctx))

	assert.Equal(t, []uint64{100, 101, 102}, historyNumbers(s))
	statements := s.Statements()
	assert.Contains(t, statements, uint64(1))
	assert.Contains(t, statements, uint64(5))
	assert.NotContains(t, statements, uint64(2))
	assert.NotContains(t, statements, uint64(3))

	assert.Equal(t, []uint64{102, 101}, journal.rewinds)
	assert.Equal(t, core.Hash("0x102x"), journal.blocks[102].Hash)
	assert.NotContains(t, journal.blocks, uint64(103))
}

func TestDeploymentBlockIsNeverWalkedPast(t *testing.T) {
	ctx := context.Background()
	node := spitest.NewNode()
	node.SetBlock(100, "0x100", spitest.Deployed())
	node.SetBlock(101, "0x101", spitest.Registered(playerP))
	node.SetHead(101)

	var events []core.ReorgEvent
	l, s := newListener(node, Config{StartBlock: 100}, WithReorgHandler(func(ctx context.Context, ev core.ReorgEvent) error {
		events = append(events, ev)
		return nil
	}))
	require.NoError(t, l.Poll(ctx))

	// the whole chain changed and the deployment moved forward
	node.RemoveBlock(100)
	node.RemoveBlock(101)
	node.SetBlock(103, "0x103", spitest.Deployed())
	node.SetBlock(104, "0x104", spitest.Registered(playerP), spitest.Registered(playerQ))
	node.SetHead(104)
	require.NoError(t, l.Poll(ctx))

	assert.Equal(t, []uint64{103, 104}, historyNumbers(s))
	d, ok := s.Deployment()
	require.True(t, ok)
	assert.Equal(t, uint64(103), d.Number)
	assert.Len(t, s.Players(), 2)
	assert.Equal(t, core.EventID(5), s.LastEventID())

	require.Len(t, events, 1)
	assert.Nil(t, events[0].ForkBlock)
	assert.Len(t, events[0].Reverted, 2)
}

func TestDeploymentRelocationWidensLookback(t *testing.T) {
	ctx := context.Background()
	node := spitest.NewNode()
	node.SetBlock(100, "0x100", spitest.Deployed())
	node.SetBlock(101, "0x101", spitest.Registered(playerP))
	node.SetHead(101)

	l, s := newListener(node, Config{StartBlock: 100, LookbackRange: 25})
	require.NoError(t, l.Poll(ctx))

	node.RemoveBlock(100)
	node.RemoveBlock(101)
	node.SetBlock(40, "0x40", spitest.Deployed())
	node.SetBlock(41, "0x41", spitest.Registered(playerQ))
	before := node.Queries()
	require.NoError(t, l.Poll(ctx))

	assert.Equal(t, []uint64{40, 41}, historyNumbers(s))
	assert.Contains(t, s.Players(), playerQ)
	assert.NotContains(t, s.Players(), playerP)

	var windows [][2]uint64
	for _, q := range node.LogQueries[before:] {
		windows = append(windows, [2]uint64{q.FromBlock, q.ToBlock})
	}
	assert.Contains(t, windows, [2]uint64{75, 101})
	assert.Contains(t, windows, [2]uint64{50, 74})
	assert.Contains(t, windows, [2]uint64{25, 49})
}

func TestMissingDeploymentRebuildsFromStartBlock(t *testing.T) {
	ctx := context.Background()
	node := spitest.NewNode()
	node.SetBlock(100, "0x100", spitest.Deployed())
	node.SetHead(100)

	l, s := newListener(node, Config{StartBlock: 90})
	require.NoError(t, l.Poll(ctx))

	node.RemoveBlock(100)
	node.SetBlock(95, "0x95", spitest.Registered(playerP))
	require.NoError(t, l.Poll(ctx))

	assert.Equal(t, []uint64{95}, historyNumbers(s))
	_, ok := s.Deployment()
	assert.False(t, ok)
}

func TestHistoryStaysStrictlyIncreasingAcrossReorgs(t *testing.T) {
	ctx := context.Background()
	node := spitest.NewNode()
	node.SetBlock(10, "0x10", spitest.Deployed(), spitest.Registered(playerP))
	node.SetHead(10)
	l, s := newListener(node, Config{StartBlock: 10})

	hashes := []core.Hash{"0xa", "0xb", "0xc"}
	for round, h := range hashes {
		for n := uint64(11); n <= 14; n++ {
			node.SetBlock(n, h+core.Hash(string(rune('0'+n-10))), spitest.Balance(int64(round)))
		}
		node.SetHead(14)
		require.NoError(t, l.Poll(ctx))

		hist := s.History()
		for i := 1; i < len(hist); i++ {
			assert.Greater(t, hist[i].Number, hist[i-1].Number)
		}
		assert.Len(t, hist, 5)
	}
}

func TestUnknownEventIsFatal(t *testing.T) {
	node := spitest.NewNode()
	node.SetBlock(5, "0x05", core.Log{Topics: []core.Hash{"0xfeed"}})
	node.SetHead(5)

	l, _ := newListener(node, Config{StartBlock: 0, PollingInterval: time.Millisecond})
	err := l.Run(context.Background())
	require.True(t, errors.Is(err, core.ErrUnknownEvent))
}

func TestRPCFailureIsFatal(t *testing.T) {
	node := spitest.NewNode()
	node.SetHead(5)
	node.FailLogs(errors.New("connection reset"))

	l, _ := newListener(node, Config{PollingInterval: time.Millisecond})
	err := l.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRunStopsOnCancel(t *testing.T) {
	node := spitest.NewNode()
	l, _ := newListener(node, Config{PollingInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
}
