package spi_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/betflow/pkg/core"
	"github.com/username/betflow/pkg/spi"
	"github.com/username/betflow/pkg/spi/spitest"
	"github.com/username/betflow/pkg/util"
)

func TestRetryingReceiptsFindsMinedReceipt(t *testing.T) {
	node := spitest.NewNode()
	node.SetReceipt(core.Receipt{TxHash: "0x01", Success: true, BlockNumber: 9})
	r := spi.NewRetryingReceipts(node, util.RetryPolicy{Attempts: 3, Delay: time.Millisecond})

	got := r.Receipt(context.Background(), core.ReceiptHandle{TxHash: "0x01"})
	require.NotNil(t, got)
	assert.Equal(t, uint64(9), got.BlockNumber)
	assert.Equal(t, 1, node.ReceiptCalls("0x01"))
	assert.Same(t, node, r.Inner())
}

func TestRetryingReceiptsExhaustsBudget(t *testing.T) {
	node := spitest.NewNode()
	r := spi.NewRetryingReceipts(node, util.RetryPolicy{Attempts: 4, Delay: time.Millisecond})

	got := r.Receipt(context.Background(), core.ReceiptHandle{TxHash: "0x02"})
	assert.Nil(t, got)
	assert.Equal(t, 4, node.ReceiptCalls("0x02"))
}
