package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/username/betflow/pkg/core"
	"github.com/username/betflow/pkg/spi"
	"github.com/username/betflow/pkg/util"
)

// Client implements spi.Node using go-ethereum's ethclient
type Client struct {
	rpc     *ethclient.Client
	chainID *big.Int
	signer  types.Signer
}

var _ spi.Node = (*Client)(nil)

// NewClient creates a new Client connected to the given URL
func NewClient(ctx context.Context, rawurl string) (*Client, error) {
	rpc, err := ethclient.DialContext(ctx, rawurl)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rawurl, err)
	}
	chainID, err := rpc.ChainID(ctx)
	if err != nil {
		rpc.Close()
		return nil, fmt.Errorf("failed to read chain id from %s: %w", rawurl, err)
	}
	return &Client{
		rpc:     rpc,
		chainID: chainID,
		signer:  types.LatestSignerForChainID(chainID),
	}, nil
}

// Dial connects with exponential backoff, for nodes that start after us
func Dial(ctx context.Context, rawurl string, backoff *util.Backoff) (*Client, error) {
	var client *Client
	err := backoff.Retry(ctx, func(ctx context.Context) error {
		var err error
		client, err = NewClient(ctx, rawurl)
		return err
	})
	return client, err
}

// ChainID returns the chain id reported by the node at dial time
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Close releases the underlying connection
func (c *Client) Close() {
	c.rpc.Close()
}

// BlockNumber returns the latest block number from the node
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.rpc.BlockNumber(ctx)
}

// GetLogs fetches the contract logs matching the filter
func (c *Client) GetLogs(ctx context.Context, filter spi.LogFilter) ([]core.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(filter.FromBlock),
		ToBlock:   new(big.Int).SetUint64(filter.ToBlock),
	}
	if filter.Address != "" {
		query.Addresses = []common.Address{common.HexToAddress(string(filter.Address))}
	}
	if len(filter.Topics) > 0 {
		query.Topics = make([][]common.Hash, len(filter.Topics))
		for i, position := range filter.Topics {
			for _, t := range position {
				query.Topics[i] = append(query.Topics[i], common.HexToHash(string(t)))
			}
		}
	}

	logs, err := c.rpc.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch logs [%d, %d]: %w", filter.FromBlock, filter.ToBlock, err)
	}

	coreLogs := make([]core.Log, 0, len(logs))
	for i := range logs {
		if logs[i].Removed {
			continue
		}
		coreLogs = append(coreLogs, toCoreLog(&logs[i]))
	}
	return coreLogs, nil
}

// SendSignedTransaction decodes and submits a signed transaction
func (c *Client) SendSignedTransaction(ctx context.Context, raw core.RawTransaction) (core.ReceiptHandle, error) {
	tx, handle, err := decodeTransaction(c.signer, raw)
	if err != nil {
		return core.ReceiptHandle{}, err
	}
	if err := c.rpc.SendTransaction(ctx, tx); err != nil {
		return core.ReceiptHandle{}, fmt.Errorf("failed to send %s: %w", tx.Hash().Hex(), err)
	}
	return handle, nil
}

// decodeTransaction parses a signed transaction and recovers its sender
func decodeTransaction(signer types.Signer, raw core.RawTransaction) (*types.Transaction, core.ReceiptHandle, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, core.ReceiptHandle{}, fmt.Errorf("failed to decode transaction: %w", err)
	}
	sender, err := types.Sender(signer, tx)
	if err != nil {
		return nil, core.ReceiptHandle{}, fmt.Errorf("failed to recover sender of %s: %w", tx.Hash().Hex(), err)
	}
	return tx, core.ReceiptHandle{
		TxHash: core.Hash(tx.Hash().Hex()),
		Sender: core.Address(sender.Hex()),
	}, nil
}

// GetTransactionReceipt returns the receipt, or nil if the transaction is not mined yet
func (c *Client) GetTransactionReceipt(ctx context.Context, handle core.ReceiptHandle) (*core.Receipt, error) {
	receipt, err := c.rpc.TransactionReceipt(ctx, common.HexToHash(string(handle.TxHash)))
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toCoreReceipt(receipt, handle), nil
}

// GetNonce returns the next nonce of the account, including pending transactions
func (c *Client) GetNonce(ctx context.Context, address core.Address) (uint64, error) {
	return c.rpc.PendingNonceAt(ctx, common.HexToAddress(string(address)))
}

func toCoreLog(l *types.Log) core.Log {
	topics := make([]core.Hash, len(l.Topics))
	for j, t := range l.Topics {
		topics[j] = core.Hash(t.Hex())
	}
	return core.Log{
		Address:     core.Address(l.Address.Hex()),
		Topics:      topics,
		Data:        l.Data,
		BlockNumber: l.BlockNumber,
		BlockHash:   core.Hash(l.BlockHash.Hex()),
		TxHash:      core.Hash(l.TxHash.Hex()),
		TxIndex:     l.TxIndex,
		Index:       l.Index,
	}
}

func toCoreReceipt(r *types.Receipt, handle core.ReceiptHandle) *core.Receipt {
	receipt := &core.Receipt{
		TxHash:  core.Hash(r.TxHash.Hex()),
		Sender:  handle.Sender,
		Success: r.Status == types.ReceiptStatusSuccessful,
		Logs:    make([]core.Log, 0, len(r.Logs)),
	}
	if r.BlockNumber != nil {
		receipt.BlockNumber = r.BlockNumber.Uint64()
	}
	for _, l := range r.Logs {
		if l != nil {
			receipt.Logs = append(receipt.Logs, toCoreLog(l))
		}
	}
	return receipt
}
