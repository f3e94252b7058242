package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaTransport writes each message to its own topic and reads all event
// topics through one consumer group.
type KafkaTransport struct {
	brokers []string
	groupID string
	writer  *kafka.Writer
	reader  *kafka.Reader
	logger  *zap.Logger
}

// NewKafkaTransport creates a new Kafka producer and consumer pair
func NewKafkaTransport(brokers []string, groupID string) *KafkaTransport {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		GroupTopics:    Topics(),
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})

	return &KafkaTransport{
		brokers: brokers,
		groupID: groupID,
		writer:  writer,
		reader:  reader,
		logger:  util.GetLogger(),
	}
}

func (k *KafkaTransport) Name() string {
	return "kafka"
}

// Send publishes a message to Kafka
func (k *KafkaTransport) Send(ctx context.Context, msg Message) error {
	err := k.writer.WriteMessages(ctx, toKafkaMessage(msg))
	if err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	k.logger.Debug("Published event",
		zap.String("topic", msg.Topic),
		zap.String("key", msg.Key))
	return nil
}

// Consume starts consuming messages with a handler
func (k *KafkaTransport) Consume(ctx context.Context, handle func(ctx context.Context, msg Message) error) error {
	k.logger.Info("Starting Kafka consumer",
		zap.Strings("topics", Topics()),
		zap.String("group", k.groupID))

	for {
		select {
		case <-ctx.Done():
			k.logger.Info("Consumer context cancelled, stopping")
			return nil
		default:
			m, err := k.reader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || ctx.Err() != nil {
					return nil
				}
				k.logger.Error("Error fetching message", zap.Error(err))
				time.Sleep(time.Second)
				continue
			}

			if err := handle(ctx, fromKafkaMessage(m)); err != nil {
				k.logger.Error("Error handling message",
					zap.String("topic", m.Topic),
					zap.Int64("offset", m.Offset),
					zap.Error(err))
				continue
			}

			if err := k.reader.CommitMessages(ctx, m); err != nil {
				k.logger.Error("Error committing message", zap.Error(err))
			}
		}
	}
}

// Ping dials the first reachable broker
func (k *KafkaTransport) Ping(ctx context.Context) error {
	var lastErr error
	for _, addr := range k.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	if lastErr == nil {
		lastErr = errors.New("no brokers configured")
	}
	return fmt.Errorf("kafka unreachable: %w", lastErr)
}

// Close closes the producer and consumer
func (k *KafkaTransport) Close() error {
	werr := k.writer.Close()
	rerr := k.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

func toKafkaMessage(msg Message) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return kafka.Message{
		Topic:   msg.Topic,
		Key:     []byte(msg.Key),
		Value:   msg.Value,
		Headers: headers,
		Time:    time.Now(),
	}
}

func fromKafkaMessage(m kafka.Message) Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Message{
		Topic:     m.Topic,
		Key:       string(m.Key),
		EventType: headers[headerEventType],
		Value:     m.Value,
		Headers:   headers,
	}
}
