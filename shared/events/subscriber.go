package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type Handler func(ctx context.Context, event Event) error

type Subscriber struct {
	client        redis.UniversalClient
	group         string
	consumer      string
	stream        string
	handler       Handler
	batchSize     int64
	blockDuration time.Duration
	retryDelay    time.Duration
	log           *logrus.Entry

	// backlog is set while this consumer may own unacknowledged messages.
	// They are re-read from id 0 once retryAt has passed.
	backlog bool
	retryAt time.Time
}

type SubscriberConfig struct {
	Group         string
	Consumer      string
	Stream        string
	Handler       Handler
	BatchSize     int64
	BlockDuration time.Duration
	// RetryDelay is how long a failed message waits before it is read again.
	// It defaults to BlockDuration.
	RetryDelay time.Duration
}

func NewSubscriber(client redis.UniversalClient, config SubscriberConfig) *Subscriber {
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}
	if config.BlockDuration == 0 {
		config.BlockDuration = 5 * time.Second
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = config.BlockDuration
	}

	return &Subscriber{
		client:        client,
		group:         config.Group,
		consumer:      config.Consumer,
		stream:        config.Stream,
		handler:       config.Handler,
		batchSize:     config.BatchSize,
		blockDuration: config.BlockDuration,
		retryDelay:    config.RetryDelay,
		backlog:       true,
		log: logrus.WithFields(logrus.Fields{
			"stream":   config.Stream,
			"group":    config.Group,
			"consumer": config.Consumer,
		}),
	}
}

// Start consumes the stream until ctx is cancelled. Messages whose handler
// fails stay pending and are handed to the handler again after RetryDelay,
// as are messages left pending by an earlier run of the same consumer.
func (s *Subscriber) Start(ctx context.Context) error {
	if err := s.ensureGroup(ctx); err != nil {
		return err
	}

	s.log.Info("subscriber started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info("subscriber stopping")
			return ctx.Err()
		default:
			if err := s.ReadOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.log.WithError(err).Warn("error reading messages")
				time.Sleep(time.Second)
			}
		}
	}
}

func (s *Subscriber) ensureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// ReadOnce reads and dispatches a single batch. When a retry is due the
// batch comes from this consumer's pending entries, and new messages are read
// only once none are left.
func (s *Subscriber) ReadOnce(ctx context.Context) error {
	if s.backlog && !time.Now().Before(s.retryAt) {
		n, err := s.read(ctx, "0", -1)
		if err != nil || n > 0 {
			return err
		}
		s.backlog = false
	}
	_, err := s.read(ctx, ">", s.blockDuration)
	return err
}

// read dispatches one batch starting at id and returns how many messages it
// delivered. A negative block does not wait.
func (s *Subscriber) read(ctx context.Context, id string, block time.Duration) (int, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, id},
		Count:    s.batchSize,
		Block:    block,
	}).Result()

	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read from stream: %w", err)
	}

	delivered := 0
	for _, stream := range streams {
		for _, message := range stream.Messages {
			delivered++
			if err := s.processMessage(ctx, message); err != nil {
				s.log.WithError(err).WithField("message_id", message.ID).Warn("failed to process message")
				s.backlog = true
				s.retryAt = time.Now().Add(s.retryDelay)
				continue
			}

			if err := s.client.XAck(ctx, s.stream, s.group, message.ID).Err(); err != nil {
				s.log.WithError(err).WithField("message_id", message.ID).Warn("failed to ack message")
			}
		}
	}
	return delivered, nil
}

func (s *Subscriber) processMessage(ctx context.Context, message redis.XMessage) error {
	eventData, ok := message.Values["event"].(string)
	if !ok {
		return fmt.Errorf("invalid message format")
	}

	var event Event
	if err := json.Unmarshal([]byte(eventData), &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return s.handler(ctx, event)
}

// DecodeData re-decodes the generic Data payload of event into out.
func DecodeData(event Event, out any) error {
	raw, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to re-encode %s payload: %w", event.Type, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", event.Type, err)
	}
	return nil
}
