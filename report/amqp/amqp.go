// Package amqp mirrors finished probe-report packets to a RabbitMQ
// fanout exchange for live dashboards (SPEC_FULL §C.9), using the
// teacher's own streadway/amqp dependency.
package amqp

import (
	"context"

	"github.com/streadway/amqp"
)

// Reporter publishes each packet to a fanout exchange so every bound
// queue (e.g. a dashboard's own transient queue) gets its own copy.
type Reporter struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// New dials url, opens a channel, and declares exchange as a durable
// fanout exchange.
func New(url, exchange string) (*Reporter, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &Reporter{conn: conn, ch: ch, exchange: exchange}, nil
}

func (r *Reporter) Report(_ context.Context, _ uint64, packet []byte) error {
	return r.ch.Publish(r.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/octet-stream",
		Body:        packet,
	})
}

func (r *Reporter) Close() error {
	if err := r.ch.Close(); err != nil {
		r.conn.Close()
		return err
	}
	return r.conn.Close()
}
