package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
	"github.com/username/betflow/pkg/core"
	"go.uber.org/zap"
)

// Message kinds carried in the "kind" metadata key
const (
	KindBlockApplied = "block_applied"
	KindReorg        = "reorg"
	KindOutcome      = "outcome"
)

// BlockMessage is the payload of a block_applied message
type BlockMessage struct {
	Number   uint64         `json:"number"`
	Hash     core.Hash      `json:"hash"`
	EventIDs []core.EventID `json:"event_ids"`
}

// ReorgMessage is the payload of a reorg message
type ReorgMessage struct {
	ForkBlock  *BlockMessage  `json:"fork_block,omitempty"`
	Reverted   []BlockMessage `json:"reverted"`
	DetectedAt time.Time      `json:"detected_at"`
}

// OutcomeMessage is the payload of an outcome message
type OutcomeMessage struct {
	Sender      core.Address       `json:"sender"`
	Result      core.OutcomeResult `json:"result"`
	EventType   core.EventType     `json:"event_type,omitempty"`
	BlockNumber uint64             `json:"block_number"`
	TxHash      core.Hash          `json:"tx_hash"`
}

// Publisher publishes projection changes to a Redis stream.
type Publisher struct {
	pub         message.Publisher
	redisClient redis.UniversalClient
	topic       string
	logger      *zap.Logger
}

// New creates a new Publisher.
func New(redisClient redis.UniversalClient, topic string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("publisher")

	pub, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient,
		},
		NewZapAdapter(logger),
	)
	if err != nil {
		return nil, err
	}

	return NewWithPublisher(pub, redisClient, topic, logger), nil
}

// NewWithPublisher wraps an existing watermill publisher
func NewWithPublisher(pub message.Publisher, redisClient redis.UniversalClient, topic string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		pub:         pub,
		redisClient: redisClient,
		topic:       topic,
		logger:      logger,
	}
}

func toBlockMessage(b core.BlockTuple) BlockMessage {
	ids := make([]core.EventID, len(b.EventIDs))
	copy(ids, b.EventIDs)
	return BlockMessage{Number: b.Number, Hash: b.Hash, EventIDs: ids}
}

// PublishBlock announces a newly applied block tuple. It matches core.BlockHandler.
func (p *Publisher) PublishBlock(ctx context.Context, block core.BlockTuple) error {
	return p.publish(ctx, KindBlockApplied, toBlockMessage(block))
}

// PublishReorg announces a reconciliation. It matches core.ReorgHandler.
func (p *Publisher) PublishReorg(ctx context.Context, ev core.ReorgEvent) error {
	msg := ReorgMessage{
		Reverted:   make([]BlockMessage, 0, len(ev.Reverted)),
		DetectedAt: ev.DetectedAt,
	}
	if ev.ForkBlock != nil {
		fork := toBlockMessage(*ev.ForkBlock)
		msg.ForkBlock = &fork
	}
	for _, b := range ev.Reverted {
		msg.Reverted = append(msg.Reverted, toBlockMessage(b))
	}
	return p.publish(ctx, KindReorg, msg)
}

// PublishOutcome announces a recorded transaction outcome. It matches core.OutcomeHandler.
func (p *Publisher) PublishOutcome(ctx context.Context, sender core.Address, o core.TransactionOutcome) error {
	return p.publish(ctx, KindOutcome, OutcomeMessage{
		Sender:      sender,
		Result:      o.Result,
		EventType:   o.EventType,
		BlockNumber: o.BlockNumber,
		TxHash:      o.TxHash,
	})
}

func (p *Publisher) publish(ctx context.Context, kind string, v any) error {
	start := time.Now()

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", kind, err)
	}

	msgUUID := watermill.NewUUID()
	msg := message.NewMessage(msgUUID, payload)
	msg.Metadata.Set("kind", kind)
	msg.SetContext(ctx)

	err = p.pub.Publish(p.topic, msg)
	duration := time.Since(start)

	if err != nil {
		p.logger.Error("redis publish failed",
			zap.String("kind", kind),
			zap.String("msg_uuid", msgUUID),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish %s message: %w", kind, err)
	}

	p.logger.Debug("redis publish ok",
		zap.String("kind", kind),
		zap.String("msg_uuid", msgUUID),
		zap.Int64("duration_ms", duration.Milliseconds()),
	)
	return nil
}

// Close closes the publisher.
func (p *Publisher) Close() error {
	return p.pub.Close()
}

// QueueLength returns the number of messages in the Redis stream.
func (p *Publisher) QueueLength(ctx context.Context) (int64, error) {
	return p.redisClient.XLen(ctx, p.topic).Result()
}

// Topic returns the Redis stream topic name.
func (p *Publisher) Topic() string {
	return p.topic
}
