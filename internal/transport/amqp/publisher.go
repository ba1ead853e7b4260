package amqp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Peakviker/RefSeller/internal/entity"
	"github.com/Peakviker/RefSeller/internal/events"
)

type Sender interface {
	Publish(ctx context.Context, exchange, key string, body []byte) error
}

// EventPublisher отправляет бизнес-события в exchange RefSeller.
type EventPublisher struct {
	sender   Sender
	exchange string
}

var _ events.Publisher = (*EventPublisher)(nil)

func NewEventPublisher(sender Sender) *EventPublisher {
	return &EventPublisher{sender: sender, exchange: Exchange}
}

func (p *EventPublisher) PublishPurchaseCompleted(ctx context.Context, e entity.PurchaseCompleted) error {
	return p.publish(ctx, entity.EventPurchaseCompleted, e)
}

func (p *EventPublisher) PublishReferralRegistered(ctx context.Context, e entity.ReferralRegistered) error {
	return p.publish(ctx, entity.EventReferralRegistered, e)
}

func (p *EventPublisher) PublishReferralPurchase(ctx context.Context, e entity.ReferralPurchase) error {
	return p.publish(ctx, entity.EventReferralPurchase, e)
}

func (p *EventPublisher) PublishIncomeCredited(ctx context.Context, e entity.IncomeCredited) error {
	return p.publish(ctx, entity.EventIncomeCredited, e)
}

func (p *EventPublisher) publish(ctx context.Context, key string, event any) error {
	const op = "amqp.EventPublisher.publish"

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s: marshal %s: %w", op, key, err)
	}
	if err = p.sender.Publish(ctx, p.exchange, key, body); err != nil {
		return fmt.Errorf("%s: %s: %w", op, key, err)
	}
	return nil
}
