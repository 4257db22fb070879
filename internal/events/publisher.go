// Package events publishes review lifecycle events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/0gfoundation/veristas-relay/internal/config"
)

const TypeReviewVerified = "review.verified"

// ReviewVerified is emitted after a review was committed (and its user
// operation relayed, when one was supplied).
type ReviewVerified struct {
	RequestID    string         `json:"request_id,omitempty"`
	Reviewer     string         `json:"reviewer,omitempty"`
	ReviewHash   common.Hash    `json:"review_hash"`
	CommitmentTx common.Hash    `json:"commitment_tx"`
	BlockNumber  uint64         `json:"block_number"`
	UserOpTx     *common.Hash   `json:"user_op_tx,omitempty"`
	Sender       string         `json:"sender,omitempty"`
	Price        string         `json:"price"`
	PriceSource  string         `json:"price_source"`
}

type Publisher interface {
	PublishReviewVerified(ctx context.Context, ev ReviewVerified) error
	Close() error
}

// Nop drops every event. Used when no brokers are configured.
type Nop struct{}

func (Nop) PublishReviewVerified(context.Context, ReviewVerified) error { return nil }
func (Nop) Close() error                                                { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON envelopes keyed by review hash.
type KafkaPublisher struct {
	topic  string
	writer messageWriter
	log    *zap.Logger
	now    func() time.Time
}

func NewKafkaPublisher(cfg config.KafkaConfig, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		topic: cfg.Topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireAll,
		},
		log: log,
		now: time.Now,
	}
}

type envelope struct {
	Type string    `json:"type"`
	Data any       `json:"data"`
	Time time.Time `json:"time"`
}

func (k *KafkaPublisher) PublishReviewVerified(ctx context.Context, ev ReviewVerified) error {
	msg, err := json.Marshal(envelope{Type: TypeReviewVerified, Data: ev, Time: k.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", TypeReviewVerified, err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.ReviewHash.Hex()),
		Value: msg,
	}); err != nil {
		return fmt.Errorf("publish to kafka topic %s: %w", k.topic, err)
	}
	k.log.Debug("published event",
		zap.String("type", TypeReviewVerified),
		zap.String("review_hash", ev.ReviewHash.Hex()),
	)
	return nil
}

func (k *KafkaPublisher) Close() error {
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
