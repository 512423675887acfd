/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ma12/companion-api/pkg/config"
)

// KafkaSinkConfig configures a KafkaSink.
type KafkaSinkConfig struct {
	Brokers []string
	Topic   string

	// BatchSize is the number of messages to batch before flushing.
	// Default: 100
	BatchSize int

	// BatchTimeout is the maximum time to wait before flushing a batch.
	// Default: 1 second
	BatchTimeout time.Duration

	// WriteTimeout is the timeout for writing messages.
	// Default: 10 seconds
	WriteTimeout time.Duration

	// RequiredAcks determines the level of acknowledgment required.
	// -1: all replicas, 0: none, 1: leader only
	// Default (nil): -1 (all replicas)
	RequiredAcks *int
}

// KafkaSinkConfigFrom converts the YAML settings into a KafkaSinkConfig.
func KafkaSinkConfigFrom(cfg config.Kafka) (KafkaSinkConfig, error) {
	batchTimeout, err := config.ParseDuration(cfg.BatchTimeout, time.Second)
	if err != nil {
		return KafkaSinkConfig{}, fmt.Errorf("audit.kafka.batchTimeout: %w", err)
	}
	return KafkaSinkConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: batchTimeout,
		RequiredAcks: cfg.RequiredAcks,
	}, nil
}

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes audit events to a Kafka topic, keyed by target so that
// events for one record land on the same partition.
type KafkaSink struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
	mu     sync.Mutex
	closed bool
}

// NewKafkaSink creates a new KafkaSink.
func NewKafkaSink(cfg KafkaSinkConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	requiredAcks := kafka.RequireAll
	if cfg.RequiredAcks != nil {
		switch acks := kafka.RequiredAcks(*cfg.RequiredAcks); acks {
		case kafka.RequireAll, kafka.RequireNone, kafka.RequireOne:
			requiredAcks = acks
		default:
			return nil, fmt.Errorf("invalid kafka requiredAcks %d: must be -1, 0 or 1", *cfg.RequiredAcks)
		}
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              batchSize,
		BatchTimeout:           batchTimeout,
		WriteTimeout:           writeTimeout,
		RequiredAcks:           requiredAcks,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: false,
	}

	logger.Info("Kafka audit sink created",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.Int("batch_size", batchSize),
		zap.String("required_acks", requiredAcks.String()),
		zap.Duration("batch_timeout", batchTimeout))

	return newKafkaSinkWithWriter(writer, cfg.Topic, logger), nil
}

func newKafkaSinkWithWriter(w messageWriter, topic string, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{writer: w, topic: topic, logger: logger.Named("audit-kafka")}
}

func toMessage(event *Event) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal audit event %s: %w", event.ID, err)
	}
	return kafka.Message{
		Key:   []byte(event.Target.Kind + "/" + event.Target.ID),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "severity", Value: []byte(event.Severity)},
		},
	}, nil
}

// Write sends an event to Kafka.
func (s *KafkaSink) Write(ctx context.Context, event *Event) error {
	return s.WriteBatch(ctx, []*Event{event})
}

// WriteBatch sends several events in one produce call.
func (s *KafkaSink) WriteBatch(ctx context.Context, events []*Event) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("kafka sink is closed")
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		msg, err := toMessage(e)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		s.logger.Warn("failed to write audit events to Kafka",
			zap.String("topic", s.topic),
			zap.Int("count", len(msgs)),
			zap.Error(err))
		return fmt.Errorf("write %d audit events to %s: %w", len(msgs), s.topic, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

func (s *KafkaSink) Name() string {
	return "kafka"
}
