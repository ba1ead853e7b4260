package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Peakviker/RefSeller/internal/entity"
)

type Handler[T any] func(ctx context.Context, event T) error

// Publisher is held by event sources.
type Publisher interface {
	PublishPurchaseCompleted(ctx context.Context, e entity.PurchaseCompleted) error
	PublishReferralRegistered(ctx context.Context, e entity.ReferralRegistered) error
	PublishReferralPurchase(ctx context.Context, e entity.ReferralPurchase) error
	PublishIncomeCredited(ctx context.Context, e entity.IncomeCredited) error
}

// Subscriber is held by event consumers.
type Subscriber interface {
	OnPurchaseCompleted(h Handler[entity.PurchaseCompleted])
	OnReferralRegistered(h Handler[entity.ReferralRegistered])
	OnReferralPurchase(h Handler[entity.ReferralPurchase])
	OnIncomeCredited(h Handler[entity.IncomeCredited])
}

type topic[T any] struct {
	name     string
	mu       sync.RWMutex
	handlers []Handler[T]
}

func (t *topic[T]) subscribe(h Handler[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, h)
}

func (t *topic[T]) publish(ctx context.Context, log *zap.Logger, event T) error {
	t.mu.RLock()
	handlers := append([]Handler[T](nil), t.handlers...)
	t.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := call(ctx, h, event); err != nil {
			log.Warn("event handler failed", zap.String("event", t.name), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func call[T any](ctx context.Context, h Handler[T], event T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panic: %v", r)
		}
	}()
	return h(ctx, event)
}

// Bus is a synchronous in-process dispatcher. Publish returns after every
// handler ran and reports their joined errors.
type Bus struct {
	log *zap.Logger

	purchaseCompleted  topic[entity.PurchaseCompleted]
	referralRegistered topic[entity.ReferralRegistered]
	referralPurchase   topic[entity.ReferralPurchase]
	incomeCredited     topic[entity.IncomeCredited]
}

var (
	_ Publisher  = (*Bus)(nil)
	_ Subscriber = (*Bus)(nil)
)

func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		log:                log,
		purchaseCompleted:  topic[entity.PurchaseCompleted]{name: entity.EventPurchaseCompleted},
		referralRegistered: topic[entity.ReferralRegistered]{name: entity.EventReferralRegistered},
		referralPurchase:   topic[entity.ReferralPurchase]{name: entity.EventReferralPurchase},
		incomeCredited:     topic[entity.IncomeCredited]{name: entity.EventIncomeCredited},
	}
}

func (b *Bus) OnPurchaseCompleted(h Handler[entity.PurchaseCompleted]) {
	b.purchaseCompleted.subscribe(h)
}

func (b *Bus) OnReferralRegistered(h Handler[entity.ReferralRegistered]) {
	b.referralRegistered.subscribe(h)
}

func (b *Bus) OnReferralPurchase(h Handler[entity.ReferralPurchase]) {
	b.referralPurchase.subscribe(h)
}

func (b *Bus) OnIncomeCredited(h Handler[entity.IncomeCredited]) {
	b.incomeCredited.subscribe(h)
}

func (b *Bus) PublishPurchaseCompleted(ctx context.Context, e entity.PurchaseCompleted) error {
	return b.purchaseCompleted.publish(ctx, b.log, e)
}

func (b *Bus) PublishReferralRegistered(ctx context.Context, e entity.ReferralRegistered) error {
	return b.referralRegistered.publish(ctx, b.log, e)
}

func (b *Bus) PublishReferralPurchase(ctx context.Context, e entity.ReferralPurchase) error {
	return b.referralPurchase.publish(ctx, b.log, e)
}

func (b *Bus) PublishIncomeCredited(ctx context.Context, e entity.IncomeCredited) error {
	return b.incomeCredited.publish(ctx, b.log, e)
}
