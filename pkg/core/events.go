package core

import (
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// EventType names a contract event
type EventType string

const (
	EventDeployed         EventType = "BettingContractDeployed"
	EventRegistered       EventType = "Registered"
	EventVoted            EventType = "Voted"
	EventSubmitted        EventType = "SubmittedStatement"
	EventRevealedAnswer   EventType = "RevealedAnswer"
	EventDistributedPrize EventType = "DistributedPrize"
	EventUpdatedBalance   EventType = "UpdatedBalance"
	EventGameStopped      EventType = "GameStopped"
)

// EventTypes lists the complete contract vocabulary
var EventTypes = []EventType{
	EventDeployed,
	EventRegistered,
	EventVoted,
	EventSubmitted,
	EventRevealedAnswer,
	EventDistributedPrize,
	EventUpdatedBalance,
	EventGameStopped,
}

var eventsByTopic = func() map[Hash]EventType {
	m := make(map[Hash]EventType, 2*len(EventTypes))
	for _, e := range EventTypes {
		m[Hash(e)] = e
		m[EventTopic(e)] = e
	}
	return m
}()

// EventTopic returns the topic hash the contract emits for the event.
func EventTopic(e EventType) Hash {
	return Hash(crypto.Keccak256Hash([]byte(e)).Hex())
}

// EventTopics returns the topic hashes of the whole vocabulary
func EventTopics() []Hash {
	topics := make([]Hash, len(EventTypes))
	for i, e := range EventTypes {
		topics[i] = EventTopic(e)
	}
	return topics
}

// ResolveEvent names the event carried by a log. Structured events are
// identified by topic[0], which may be the literal name or its keccak topic.
// Logs without topics are notifications whose data is the literal name.
// The returned name is the raw identifier when ok is false.
func ResolveEvent(log Log) (EventType, string, bool) {
	var raw string
	if len(log.Topics) > 0 {
		raw = string(log.Topics[0])
		if e, ok := eventsByTopic[Hash(strings.ToLower(raw))]; ok {
			return e, raw, true
		}
	} else {
		raw = string(log.Data)
	}
	e, ok := eventsByTopic[Hash(raw)]
	return e, raw, ok
}
