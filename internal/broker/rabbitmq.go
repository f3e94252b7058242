package broker

import (
	"context"
	"fmt"
	"sync"

	"fulfillment-service/internal/util"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQTransport publishes to a topic exchange with the event type as
// routing key. Each consumer group reads from its own durable queue.
type RabbitMQTransport struct {
	url      string
	exchange string
	queue    string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *zap.Logger
}

func NewRabbitMQTransport(url, exchange, queue string) *RabbitMQTransport {
	return &RabbitMQTransport{
		url:      url,
		exchange: exchange,
		queue:    queue,
		logger:   util.GetLogger(),
	}
}

func (r *RabbitMQTransport) Name() string {
	return "rabbitmq"
}

// channelLocked dials and declares the exchange on first use or after the
// connection dropped. Callers hold r.mu.
func (r *RabbitMQTransport) channelLocked() (*amqp.Channel, error) {
	if r.conn != nil && !r.conn.IsClosed() && r.channel != nil && !r.channel.IsClosed() {
		return r.channel, nil
	}

	conn, err := amqp.Dial(r.url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(r.exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", r.exchange, err)
	}

	r.conn = conn
	r.channel = ch
	return ch, nil
}

func (r *RabbitMQTransport) Send(ctx context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.channelLocked()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, r.exchange, msg.EventType, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.Key,
		Type:         msg.EventType,
		Headers:      toAMQPTable(msg.Headers),
		Body:         msg.Value,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to rabbitmq: %w", err)
	}
	return nil
}

func (r *RabbitMQTransport) Consume(ctx context.Context, handle func(ctx context.Context, msg Message) error) error {
	conn, err := amqp.Dial(r.url)
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(r.exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", r.exchange, err)
	}
	q, err := ch.QueueDeclare(r.queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", r.queue, err)
	}
	if err := ch.QueueBind(q.Name, "#", r.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", q.Name, err)
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", q.Name, err)
	}

	r.logger.Info("Starting RabbitMQ consumer",
		zap.String("exchange", r.exchange),
		zap.String("queue", q.Name))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("rabbitmq delivery channel closed")
			}

			msg := Message{
				Topic:     d.Exchange,
				Key:       d.MessageId,
				EventType: d.RoutingKey,
				Value:     d.Body,
				Headers:   fromAMQPTable(d.Headers),
			}
			if err := handle(ctx, msg); err != nil {
				r.logger.Error("Error handling message",
					zap.String("routing_key", d.RoutingKey),
					zap.Error(err))
				_ = d.Nack(false, false)
				continue
			}
			if err := d.Ack(false); err != nil {
				r.logger.Error("Error acknowledging message", zap.Error(err))
			}
		}
	}
}

func (r *RabbitMQTransport) Ping(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.channelLocked()
	return err
}

func (r *RabbitMQTransport) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	r.channel = nil
	return err
}

func toAMQPTable(headers map[string]string) amqp.Table {
	table := make(amqp.Table, len(headers))
	for k, v := range headers {
		table[k] = v
	}
	return table
}

func fromAMQPTable(table amqp.Table) map[string]string {
	headers := make(map[string]string, len(table))
	for k, v := range table {
		switch val := v.(type) {
		case string:
			headers[k] = val
		case []byte:
			headers[k] = string(val)
		default:
			headers[k] = fmt.Sprint(val)
		}
	}
	return headers
}
