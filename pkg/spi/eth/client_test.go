package eth

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/betflow/pkg/core"
)

func TestDecodeTransactionRecoversSender(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)

	chainID := big.NewInt(1337)
	signer := types.LatestSignerForChainID(chainID)
	to := common.HexToAddress("0xc0")
	tx, err := types.SignNewTx(key, signer, &types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     3,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(10),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(5),
	})
	require.NoError(t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	decoded, handle, err := decodeTransaction(signer, raw)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash(), decoded.Hash())
	assert.Equal(t, core.Hash(tx.Hash().Hex()), handle.TxHash)
	assert.Equal(t, core.Address(from.Hex()), handle.Sender)
}

func TestDecodeTransactionRejectsGarbage(t *testing.T) {
	_, _, err := decodeTransaction(types.LatestSignerForChainID(big.NewInt(1)), core.RawTransaction{0x01, 0x02})
	require.Error(t, err)
}

func TestToCoreReceipt(t *testing.T) {
	log := &types.Log{
		Address:     common.HexToAddress("0xc0"),
		Topics:      []common.Hash{crypto.Keccak256Hash([]byte("Voted"))},
		Data:        []byte{1},
		BlockNumber: 12,
		BlockHash:   common.HexToHash("0xbb"),
		TxHash:      common.HexToHash("0xaa"),
		TxIndex:     2,
		Index:       4,
	}
	r := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      common.HexToHash("0xaa"),
		BlockNumber: big.NewInt(12),
		Logs:        []*types.Log{log, nil},
	}

	got := toCoreReceipt(r, core.ReceiptHandle{Sender: "0xS"})
	assert.True(t, got.Success)
	assert.Equal(t, uint64(12), got.BlockNumber)
	assert.Equal(t, core.Address("0xS"), got.Sender)
	require.Len(t, got.Logs, 1)

	l := got.Logs[0]
	assert.Equal(t, core.EventTopic(core.EventVoted), l.Topics[0])
	assert.Equal(t, core.Address(common.HexToAddress("0xc0").Hex()), l.Address)
	assert.Equal(t, uint(2), l.TxIndex)
	assert.Equal(t, uint(4), l.Index)

	r.Status = types.ReceiptStatusFailed
	assert.False(t, toCoreReceipt(r, core.ReceiptHandle{}).Success)
}
