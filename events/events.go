// Package events publishes ticket lifecycle events to a RabbitMQ
// exchange for external consumers (analytics, webhooks). Publication is
// best-effort: failures are logged and never surface to the operation
// that triggered them.
package events

import (
	"context"
	"encoding/json"
	"time"

	"ticket-bot/storage"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type Event struct {
	Type      string    `json:"type"`
	GuildID   string    `json:"guild_id"`
	TicketID  string    `json:"ticket_id"`
	ChannelID string    `json:"channel_id"`
	ActorID   string    `json:"actor_id"`
	Status    string    `json:"status"`
	At        time.Time `json:"at"`
}

type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

func NewAMQPPublisher(url, exchange string, logger *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	logger.Info("event publisher connected", zap.String("exchange", exchange))
	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange, logger: logger}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, eventType string, t *storage.Ticket, actorID string) {
	body, err := json.Marshal(Event{
		Type:      eventType,
		GuildID:   t.GuildID,
		TicketID:  t.TicketID,
		ChannelID: t.ChannelID,
		ActorID:   actorID,
		Status:    t.Status,
		At:        time.Now(),
	})
	if err != nil {
		p.logger.Warn("event marshal failed", zap.String("type", eventType), zap.Error(err))
		return
	}

	err = p.channel.PublishWithContext(ctx, p.exchange, eventType, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        body,
	})
	if err != nil {
		p.logger.Warn("event publish failed",
			zap.String("type", eventType),
			zap.String("ticket", t.TicketID),
			zap.Error(err))
	}
}

func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// NopPublisher is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, *storage.Ticket, string) {}
