package spitest

import (
	"math/big"

	"github.com/username/betflow/pkg/core"
	"github.com/username/betflow/pkg/populator"
)

func mustPack(data []byte, err error) []byte {
	if err != nil {
		panic(err)
	}
	return data
}

// Deployed is the data-only deployment notification
func Deployed() core.Log {
	return core.Log{Data: []byte(core.EventDeployed)}
}

// Registered is a Registered event of player
func Registered(player core.Address) core.Log {
	return core.Log{Topics: []core.Hash{core.EventTopic(core.EventRegistered), populator.PlayerTopic(player)}}
}

// Submitted is a SubmittedStatement event
func Submitted(player core.Address, statementID uint64, text string) core.Log {
	return core.Log{
		Topics: []core.Hash{core.EventTopic(core.EventSubmitted), populator.PlayerTopic(player)},
		Data:   mustPack(populator.PackStatement(statementID, "0x01", text)),
	}
}

// Voted is a Voted event
func Voted(player core.Address, statementID uint64, guess string) core.Log {
	return core.Log{
		Topics: []core.Hash{core.EventTopic(core.EventVoted), populator.PlayerTopic(player)},
		Data:   mustPack(populator.PackVote(statementID, guess)),
	}
}

// Revealed is a RevealedAnswer event
func Revealed(statementID uint64, answer string) core.Log {
	return core.Log{
		Topics: []core.Hash{core.EventTopic(core.EventRevealedAnswer)},
		Data:   mustPack(populator.PackAnswer(statementID, answer)),
	}
}

// Distributed is a DistributedPrize event
func Distributed(winners ...core.Address) core.Log {
	return core.Log{
		Topics: []core.Hash{core.EventTopic(core.EventDistributedPrize)},
		Data:   mustPack(populator.PackWinners(winners)),
	}
}

// Balance is an UpdatedBalance event
func Balance(value int64) core.Log {
	return core.Log{
		Topics: []core.Hash{core.EventTopic(core.EventUpdatedBalance)},
		Data:   mustPack(populator.PackValue(big.NewInt(value))),
	}
}

// Stopped is the data-only GameStopped notification
func Stopped() core.Log {
	return core.Log{Data: []byte(core.EventGameStopped)}
}
