// Package spitest provides a scripted in-memory spi.Node and log builders
// for the betting contract's events.
package spitest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/username/betflow/pkg/core"
	"github.com/username/betflow/pkg/spi"
)

// DefaultSender is reported as the signer of every submitted transaction
const DefaultSender = core.Address("0x00000000000000000000000000000000000000Aa")

type block struct {
	hash core.Hash
	logs []core.Log
}

// Node is a scripted chain. Only heights with contract logs are stored;
// GetLogs never returns logs above the head.
type Node struct {
	mu sync.Mutex

	head   uint64
	blocks map[uint64]block

	headFailures int
	headErr      error
	logsErr      error
	sendErr      error

	sent     []core.RawTransaction
	receipts map[core.Hash]*core.Receipt
	nonces   map[core.Address]uint64

	receiptCalls map[core.Hash]int

	// LogQueries records every GetLogs filter; read it only while no goroutine polls the node
	LogQueries []spi.LogFilter
}

var _ spi.Node = (*Node)(nil)

func NewNode() *Node {
	return &Node{
		blocks:       make(map[uint64]block),
		receipts:     make(map[core.Hash]*core.Receipt),
		nonces:       make(map[core.Address]uint64),
		receiptCalls: make(map[core.Hash]int),
	}
}

// SetHead moves the chain head
func (n *Node) SetHead(head uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.head = head
}

// SetBlock replaces the logs at number. Block coordinates and log indexes
// are filled in.
func (n *Node) SetBlock(number uint64, hash core.Hash, logs ...core.Log) {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]core.Log, len(logs))
	for i, l := range logs {
		l.BlockNumber = number
		l.BlockHash = hash
		l.Index = uint(i)
		l.TxIndex = uint(i)
		if l.TxHash == "" {
			l.TxHash = core.Hash(fmt.Sprintf("0x%x%02x", number, i))
		}
		out[i] = l
	}
	n.blocks[number] = block{hash: hash, logs: out}
}

// RemoveBlock drops every log at number
func (n *Node) RemoveBlock(number uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.blocks, number)
}

// FailHead makes the next count BlockNumber calls return err
func (n *Node) FailHead(count int, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.headFailures = count
	n.headErr = err
}

// FailLogs makes GetLogs return err until cleared with nil
func (n *Node) FailLogs(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logsErr = err
}

// FailSend makes SendSignedTransaction return err until cleared with nil
func (n *Node) FailSend(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sendErr = err
}

// SetReceipt makes the receipt of tx available
func (n *Node) SetReceipt(r core.Receipt) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts[r.TxHash] = &r
}

// SetNonce sets the nonce reported for address
func (n *Node) SetNonce(address core.Address, nonce uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nonces[address] = nonce
}

// Sent returns the submitted transactions in order
func (n *Node) Sent() []core.RawTransaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]core.RawTransaction(nil), n.sent...)
}

// Queries returns the number of GetLogs calls so far
func (n *Node) Queries() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.LogQueries)
}

// ReceiptCalls returns how often the receipt of tx was requested
func (n *Node) ReceiptCalls(tx core.Hash) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.receiptCalls[tx]
}

// TxHash is the hash the node assigns to a raw transaction
func TxHash(raw core.RawTransaction) core.Hash {
	return core.Hash(crypto.Keccak256Hash(raw).Hex())
}

func (n *Node) BlockNumber(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.headFailures > 0 {
		n.headFailures--
		return 0, n.headErr
	}
	return n.head, nil
}

func (n *Node) GetLogs(ctx context.Context, filter spi.LogFilter) ([]core.Log, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.LogQueries = append(n.LogQueries, filter)
	if n.logsErr != nil {
		return nil, n.logsErr
	}
	if filter.FromBlock > filter.ToBlock {
		return nil, errors.New("invalid block range")
	}

	heights := make([]uint64, 0, len(n.blocks))
	for h := range n.blocks {
		if h >= filter.FromBlock && h <= filter.ToBlock && h <= n.head {
			heights = append(heights, h)
		}
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })

	var out []core.Log
	for _, h := range heights {
		for _, l := range n.blocks[h].logs {
			if filter.Address != "" && l.Address != "" && l.Address != filter.Address {
				continue
			}
			out = append(out, l)
		}
	}
	return out, nil
}

func (n *Node) SendSignedTransaction(ctx context.Context, raw core.RawTransaction) (core.ReceiptHandle, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sendErr != nil {
		return core.ReceiptHandle{}, n.sendErr
	}
	n.sent = append(n.sent, append(core.RawTransaction(nil), raw...))
	return core.ReceiptHandle{TxHash: TxHash(raw), Sender: DefaultSender}, nil
}

func (n *Node) GetTransactionReceipt(ctx context.Context, handle core.ReceiptHandle) (*core.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receiptCalls[handle.TxHash]++
	r, ok := n.receipts[handle.TxHash]
	if !ok {
		return nil, nil
	}
	out := *r
	return &out, nil
}

func (n *Node) GetNonce(ctx context.Context, address core.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nonces[address], nil
}
