package kafka

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler processes one message. A returned error stops consumption without committing.
type Handler func(ctx context.Context, key, value []byte) error

// ConsumerStats is a snapshot of what the consumer has processed since start.
type ConsumerStats struct {
	Handled    int64
	Committed  int64
	LastOffset int64
}

type Consumer struct {
	r messageReader

	handled    atomic.Int64
	committed  atomic.Int64
	lastOffset atomic.Int64
}

// NewConsumer reads topic within groupID. A new group starts from the earliest offset so scans
// produced before the first deploy are not skipped.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		StartOffset:       kafka.FirstOffset,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
		MaxWait:           time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return newConsumerWithReader(kafka.NewReader(cfg))
}

func newConsumerWithReader(r messageReader) *Consumer {
	c := &Consumer{r: r}
	c.lastOffset.Store(-1)
	return c
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Handled:    c.handled.Load(),
		Committed:  c.committed.Load(),
		LastOffset: c.lastOffset.Load(),
	}
}

// Consume runs until ctx is done (returns nil) or fetching, handling or committing fails.
// Messages are committed one by one after the handler accepts them.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			return errors.Wrap(err, "fetch message")
		}

		if err := handler(ctx, msg.Key, msg.Value); err != nil {
			return errors.Wrapf(err, "handle message at offset %d", msg.Offset)
		}
		c.handled.Add(1)

		if err := c.r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "commit message")
		}
		c.committed.Add(1)
		c.lastOffset.Store(msg.Offset)
	}
}
