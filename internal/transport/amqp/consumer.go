package amqp

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Peakviker/RefSeller/internal/entity"
	"github.com/Peakviker/RefSeller/internal/events"
	"github.com/Peakviker/RefSeller/pkg/rabbit"
)

const (
	Exchange = "refseller.events"
	Queue    = "refseller.notifications"
)

// RoutingKeys связывает очередь уведомлений с бизнес-событиями.
var RoutingKeys = []string{
	entity.EventPurchaseCompleted,
	entity.EventReferralRegistered,
	entity.EventReferralPurchase,
	entity.EventIncomeCredited,
}

// Topology возвращает exchange и очередь, которые слушает EventConsumer.
func Topology() rabbit.Topology {
	return rabbit.Topology{Exchange: Exchange, Queue: Queue, Keys: RoutingKeys}
}

type Broker interface {
	DeclareTopology(ctx context.Context, t rabbit.Topology) error
	Consume(ctx context.Context, queue string, h rabbit.MessageHandler) error
}

type recipient interface {
	Recipient() string
}

// EventConsumer читает события из RabbitMQ и публикует их во внутреннюю шину.
type EventConsumer struct {
	broker Broker
	bus    events.Publisher
	log    *zap.Logger
}

func NewEventConsumer(broker Broker, bus events.Publisher, log *zap.Logger) *EventConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventConsumer{broker: broker, bus: bus, log: log}
}

// Run объявляет топологию и читает очередь до отмены ctx.
func (c *EventConsumer) Run(ctx context.Context) error {
	const op = "amqp.EventConsumer.Run"

	if err := c.broker.DeclareTopology(ctx, Topology()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	c.log.Info("event consumer started",
		zap.String("op", op),
		zap.String("exchange", Exchange),
		zap.String("queue", Queue),
	)
	if err := c.broker.Consume(ctx, Queue, c.Handle); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	c.log.Info("event consumer stopped", zap.String("op", op))
	return nil
}

// Handle декодирует сообщение по ключу маршрутизации. Неразборчивые сообщения
// отклоняются через rabbit.ErrReject, ошибки обработчиков возвращаются как есть.
func (c *EventConsumer) Handle(ctx context.Context, d amqp.Delivery) error {
	const op = "amqp.EventConsumer.Handle"

	var err error
	switch d.RoutingKey {
	case entity.EventPurchaseCompleted:
		err = dispatch(ctx, d.Body, c.bus.PublishPurchaseCompleted)
	case entity.EventReferralRegistered:
		err = dispatch(ctx, d.Body, c.bus.PublishReferralRegistered)
	case entity.EventReferralPurchase:
		err = dispatch(ctx, d.Body, c.bus.PublishReferralPurchase)
	case entity.EventIncomeCredited:
		err = dispatch(ctx, d.Body, c.bus.PublishIncomeCredited)
	default:
		err = fmt.Errorf("unknown routing key %q: %w", d.RoutingKey, rabbit.ErrReject)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	c.log.Debug("event dispatched",
		zap.String("op", op),
		zap.String("event", d.RoutingKey),
		zap.String("message_id", d.MessageId),
	)
	return nil
}

func dispatch[T recipient](ctx context.Context, body []byte, publish func(context.Context, T) error) error {
	var event T
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decode: %v: %w", err, rabbit.ErrReject)
	}
	if event.Recipient() == "" {
		return fmt.Errorf("recipient is required: %w", rabbit.ErrReject)
	}
	return publish(ctx, event)
}
