package amqp_test

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Peakviker/RefSeller/internal/entity"
	"github.com/Peakviker/RefSeller/internal/events"
	transport "github.com/Peakviker/RefSeller/internal/transport/amqp"
	"github.com/Peakviker/RefSeller/pkg/rabbit"
)

type published struct {
	exchange string
	key      string
	body     []byte
}

type fakeBroker struct {
	published []published
	topology  *rabbit.Topology
	queue     string
	pubErr    error
}

func (b *fakeBroker) Publish(_ context.Context, exchange, key string, body []byte) error {
	if b.pubErr != nil {
		return b.pubErr
	}
	b.published = append(b.published, published{exchange: exchange, key: key, body: body})
	return nil
}

func (b *fakeBroker) DeclareTopology(_ context.Context, t rabbit.Topology) error {
	b.topology = &t
	return nil
}

func (b *fakeBroker) Consume(ctx context.Context, queue string, h rabbit.MessageHandler) error {
	b.queue = queue
	for _, p := range b.published {
		if err := h(ctx, amqp.Delivery{RoutingKey: p.key, Body: p.body}); err != nil {
			return err
		}
	}
	return nil
}

func TestPublisherToConsumer_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	broker := &fakeBroker{}
	pub := transport.NewEventPublisher(broker)

	purchase := entity.PurchaseCompleted{
		UserID: "42",
		Payment: entity.Payment{
			ID: "pay-1", Amount: 990, Currency: "RUB", ProductID: "p1", ProductName: "Курс",
			CreatedAt: time.Date(2026, 3, 1, 7, 30, 0, 0, time.UTC),
		},
	}
	income := entity.IncomeCredited{
		UserID: "7",
		Income: entity.Income{Amount: 297, Currency: "RUB", FromReferralID: "42", ReferralLevel: 1, NewBalance: 1500},
	}
	require.NoError(t, pub.PublishPurchaseCompleted(ctx, purchase))
	require.NoError(t, pub.PublishIncomeCredited(ctx, income))

	require.Len(t, broker.published, 2)
	assert.Equal(t, transport.Exchange, broker.published[0].exchange)
	assert.Equal(t, entity.EventPurchaseCompleted, broker.published[0].key)
	assert.Equal(t, entity.EventIncomeCredited, broker.published[1].key)

	bus := events.NewBus(nil)
	var gotPurchase []entity.PurchaseCompleted
	var gotIncome []entity.IncomeCredited
	bus.OnPurchaseCompleted(func(_ context.Context, e entity.PurchaseCompleted) error {
		gotPurchase = append(gotPurchase, e)
		return nil
	})
	bus.OnIncomeCredited(func(_ context.Context, e entity.IncomeCredited) error {
		gotIncome = append(gotIncome, e)
		return nil
	})

	consumer := transport.NewEventConsumer(broker, bus, nil)
	require.NoError(t, consumer.Run(ctx))

	require.NotNil(t, broker.topology)
	assert.Equal(t, transport.Topology(), *broker.topology)
	assert.Equal(t, transport.Queue, broker.queue)
	assert.Equal(t, []entity.PurchaseCompleted{purchase}, gotPurchase)
	assert.Equal(t, []entity.IncomeCredited{income}, gotIncome)
}

func TestEventConsumer_Handle_Rejects(t *testing.T) {
	t.Parallel()

	consumer := transport.NewEventConsumer(&fakeBroker{}, events.NewBus(nil), nil)

	tests := []struct {
		name string
		d    amqp.Delivery
	}{
		{"malformed body", amqp.Delivery{RoutingKey: entity.EventReferralRegistered, Body: []byte("{oops")}},
		{"missing recipient", amqp.Delivery{RoutingKey: entity.EventReferralPurchase, Body: []byte(`{"referral":{"userId":"1"}}`)}},
		{"unknown key", amqp.Delivery{RoutingKey: "order.shipped", Body: []byte(`{}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.ErrorIs(t, consumer.Handle(context.Background(), tt.d), rabbit.ErrReject)
		})
	}
}

func TestEventConsumer_Handle_HandlerErrorIsRetryable(t *testing.T) {
	t.Parallel()

	bus := events.NewBus(nil)
	storeDown := errors.New("store down")
	bus.OnReferralRegistered(func(context.Context, entity.ReferralRegistered) error { return storeDown })

	consumer := transport.NewEventConsumer(&fakeBroker{}, bus, nil)
	err := consumer.Handle(context.Background(), amqp.Delivery{
		RoutingKey: entity.EventReferralRegistered,
		Body:       []byte(`{"referrerId":"7","referral":{"userId":"42","username":"ivan"}}`),
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, storeDown)
	assert.NotErrorIs(t, err, rabbit.ErrReject)
}

func TestEventPublisher_SenderError(t *testing.T) {
	t.Parallel()

	broker := &fakeBroker{pubErr: rabbit.ErrNotReady}
	pub := transport.NewEventPublisher(broker)

	err := pub.PublishReferralPurchase(context.Background(), entity.ReferralPurchase{ReferrerID: "7"})
	assert.ErrorIs(t, err, rabbit.ErrNotReady)
}
