// README: RabbitMQ topic exchange for ride lifecycle events.
package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"dispatch/internal/modules/ride"
)

const dialAttempts = 5

// RidePublisher publishes every recorded transition with routing key "ride.status.<to>".
type RidePublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      logrus.FieldLogger
}

func NewRidePublisher(url, exchange string, log logrus.FieldLogger) (*RidePublisher, error) {
	var conn *amqp.Connection
	var err error
	for i := 1; i <= dialAttempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.WithError(err).WithField("attempt", i).Warn("rabbitmq dial failed")
		time.Sleep(time.Duration(1<<i) * 100 * time.Millisecond)
	}
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect after %d attempts: %w", dialAttempts, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &RidePublisher{conn: conn, ch: ch, exchange: exchange, log: log}, nil
}

func RoutingKey(e ride.Event) string {
	return "ride.status." + string(e.ToStatus)
}

// PublishRideEvent is safe for concurrent use; amqp channels are not.
func (p *RidePublisher) PublishRideEvent(ctx context.Context, e ride.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(e), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    fmt.Sprintf("%s:%s", e.RideID, e.ToStatus),
		Timestamp:    e.CreatedAt,
		Body:         body,
	})
}

func (p *RidePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
