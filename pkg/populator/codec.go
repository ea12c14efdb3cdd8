package populator

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/username/betflow/pkg/core"
)

var (
	uint256Type   = mustType("uint256")
	bytes32Type   = mustType("bytes32")
	stringType    = mustType("string")
	addressesType = mustType("address[]")

	statementArgs = abi.Arguments{{Name: "statementId", Type: uint256Type}, {Name: "answerHash", Type: bytes32Type}, {Name: "text", Type: stringType}}
	voteArgs      = abi.Arguments{{Name: "statementId", Type: uint256Type}, {Name: "guessedAnswer", Type: stringType}}
	answerArgs    = abi.Arguments{{Name: "statementId", Type: uint256Type}, {Name: "answer", Type: stringType}}
	winnersArgs   = abi.Arguments{{Name: "winners", Type: addressesType}}
	valueArgs     = abi.Arguments{{Name: "value", Type: uint256Type}}
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("abi type %s: %v", t, err))
	}
	return typ
}

// PlayerTopic encodes an address as an indexed topic
func PlayerTopic(player core.Address) core.Hash {
	return core.Hash(common.BytesToHash(common.HexToAddress(string(player)).Bytes()).Hex())
}

// PackStatement encodes the data of a SubmittedStatement event
func PackStatement(statementID uint64, answerHash core.Hash, text string) ([]byte, error) {
	return statementArgs.Pack(new(big.Int).SetUint64(statementID), [32]byte(common.HexToHash(string(answerHash))), text)
}

// PackVote encodes the data of a Voted event
func PackVote(statementID uint64, guessedAnswer string) ([]byte, error) {
	return voteArgs.Pack(new(big.Int).SetUint64(statementID), guessedAnswer)
}

// PackAnswer encodes the data of a RevealedAnswer event
func PackAnswer(statementID uint64, answer string) ([]byte, error) {
	return answerArgs.Pack(new(big.Int).SetUint64(statementID), answer)
}

// PackWinners encodes the data of a DistributedPrize event
func PackWinners(winners []core.Address) ([]byte, error) {
	addrs := make([]common.Address, len(winners))
	for i, w := range winners {
		addrs[i] = common.HexToAddress(string(w))
	}
	return winnersArgs.Pack(addrs)
}

// PackValue encodes the data of an UpdatedBalance event
func PackValue(value *big.Int) ([]byte, error) {
	return valueArgs.Pack(value)
}

func unpack(args abi.Arguments, log core.Log) ([]interface{}, error) {
	values, err := args.Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: tx %s log %d: %v", core.ErrMalformedEvent, log.TxHash, log.Index, err)
	}
	return values, nil
}

func indexedPlayer(log core.Log) (core.Address, error) {
	if len(log.Topics) < 2 {
		return "", fmt.Errorf("%w: tx %s log %d: missing player topic", core.ErrMalformedEvent, log.TxHash, log.Index)
	}
	return core.Address(common.HexToAddress(string(log.Topics[1])).Hex()), nil
}

func statementID(v interface{}, log core.Log) (uint64, error) {
	n, ok := v.(*big.Int)
	if !ok || !n.IsUint64() {
		return 0, fmt.Errorf("%w: tx %s log %d: statement id out of range", core.ErrMalformedEvent, log.TxHash, log.Index)
	}
	return n.Uint64(), nil
}
