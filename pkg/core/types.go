package core

import (
	"math/big"
	"sort"
	"time"
)

// Hash represents a 32-byte hash in 0x-prefixed hex
type Hash string

// Address represents a 20-byte address in 0x-prefixed hex
type Address string

// EventID identifies one projected mutation. Ids are process-wide, start at 1
// and are never reused, not even when a reverted event is applied again.
type EventID uint64

// NoEvent marks an optional event reference that is not set
const NoEvent EventID = 0

// Log represents an EVM log event as returned by the node
type Log struct {
	Address     Address
	Topics      []Hash
	Data        []byte
	BlockNumber uint64
	BlockHash   Hash
	TxHash      Hash
	TxIndex     uint
	Index       uint
}

// SortLogs orders logs by (block number, transaction index, log index).
func SortLogs(logs []Log) {
	sort.SliceStable(logs, func(i, j int) bool {
		a, b := logs[i], logs[j]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if a.TxIndex != b.TxIndex {
			return a.TxIndex < b.TxIndex
		}
		return a.Index < b.Index
	})
}

// BlockTuple is one height of projected history: the block and the ids of the
// events applied from it, in application order.
type BlockTuple struct {
	Number   uint64
	Hash     Hash
	EventIDs []EventID
}

// Clone returns a copy that shares no memory with t
func (t BlockTuple) Clone() BlockTuple {
	ids := make([]EventID, len(t.EventIDs))
	copy(ids, t.EventIDs)
	t.EventIDs = ids
	return t
}

// Player is a registered participant
type Player struct {
	EventID EventID
	Address Address
	TxHash  Hash
}

// Statement is a claim submitted by a player; other players vote on its answer.
type Statement struct {
	EventID     EventID
	Player      Address
	StatementID uint64
	AnswerHash  Hash
	Text        string
	TxHash      Hash
	BlockNumber uint64

	// Votes holds the event ids of the votes cast on this statement
	Votes map[EventID]struct{}
	// AnswerEventID is NoEvent until the answer is revealed
	AnswerEventID EventID
}

// Clone returns a deep copy of s
func (s Statement) Clone() Statement {
	votes := make(map[EventID]struct{}, len(s.Votes))
	for id := range s.Votes {
		votes[id] = struct{}{}
	}
	s.Votes = votes
	return s
}

// Vote is a player's guess on a statement's answer
type Vote struct {
	EventID       EventID
	Player        Address
	StatementID   uint64
	GuessedAnswer string
	TxHash        Hash
	BlockNumber   uint64
}

// Answer is the revealed answer of a statement
type Answer struct {
	EventID     EventID
	StatementID uint64
	Text        string
	TxHash      Hash
	BlockNumber uint64
}

// Game is the contract-wide aggregate. A published Game is never mutated; every
// change produces a new value.
type Game struct {
	Stopped        bool
	StoppedEventID EventID

	PrizeDistributed        bool
	PrizeDistributedEventID EventID

	Winners        []Address
	WinnersEventID EventID

	// TransferValues maps an UpdatedBalance event id to the transferred value
	TransferValues map[EventID]*big.Int
}

// Clone returns a deep copy of g
func (g Game) Clone() Game {
	winners := make([]Address, len(g.Winners))
	copy(winners, g.Winners)
	g.Winners = winners

	values := make(map[EventID]*big.Int, len(g.TransferValues))
	for id, v := range g.TransferValues {
		values[id] = new(big.Int).Set(v)
	}
	g.TransferValues = values
	return g
}

// RawTransaction is a signed, serialized transaction. Its identity is its content.
type RawTransaction []byte

// ReceiptHandle identifies a submitted transaction
type ReceiptHandle struct {
	TxHash Hash
	// Sender is recovered from the signature at submission time
	Sender Address
}

// PendingReceipt waits in the confirmation queue until the chain is deep enough.
type PendingReceipt struct {
	Handle      ReceiptHandle
	SubmittedAt uint64
}

// Receipt is the node's view of a mined transaction
type Receipt struct {
	TxHash      Hash
	Sender      Address
	Success     bool
	BlockNumber uint64
	Logs        []Log
}

// OutcomeResult classifies a submitted transaction
type OutcomeResult string

const (
	OutcomeSuccess        OutcomeResult = "success"
	OutcomeOnChainFailure OutcomeResult = "on_chain_failure"
	OutcomeUnsealed       OutcomeResult = "unsealed"
)

// TransactionOutcome is one entry in a user's transaction history
type TransactionOutcome struct {
	Result      OutcomeResult
	EventType   EventType
	BlockNumber uint64
	TxHash      Hash
}

// ReorgEvent describes one reconciliation of projected history.
type ReorgEvent struct {
	// ForkBlock is the common ancestor kept; nil if history was rebuilt from scratch
	ForkBlock  *BlockTuple
	Reverted   []BlockTuple
	DetectedAt time.Time
}
