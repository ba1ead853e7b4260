package rabbit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	_defaultConnAttempts   = 5
	_defaultBaseRetryDelay = 500 * time.Millisecond
	_defaultMaxRetryDelay  = 30 * time.Second
	_defaultHeartbeat      = 10 * time.Second
	_defaultConnectTimeout = 5 * time.Second
	_defaultPrefetch       = 10
	_defaultHandlerTimeout = 30 * time.Second
)

var (
	ErrNotReady = errors.New("rabbitmq is not ready")
	ErrClosed   = errors.New("rabbitmq client is closed")
	// ErrReject помечает сообщение, которое нельзя обработать повторно.
	// Такое сообщение отклоняется без возврата в очередь.
	ErrReject = errors.New("message rejected")
)

// MessageHandler обрабатывает одно сообщение. nil подтверждает сообщение.
type MessageHandler func(ctx context.Context, d amqp.Delivery) error

// Topology описывает exchange, очередь и ключи маршрутизации между ними.
type Topology struct {
	Exchange string
	Queue    string
	Keys     []string
}

// Client держит одно соединение с брокером и переподключается при его потере.
type Client struct {
	url string
	log *zap.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	pubCh  *amqp.Channel
	closed bool

	connAttempts   int
	baseRetryDelay time.Duration
	maxRetryDelay  time.Duration
	heartbeat      time.Duration
	connectTimeout time.Duration
	prefetch       int
	handlerTimeout time.Duration
}

func New(ctx context.Context, url string, log *zap.Logger, opts ...Option) (*Client, error) {
	const op = "rabbit.New"

	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		url:            url,
		log:            log,
		connAttempts:   _defaultConnAttempts,
		baseRetryDelay: _defaultBaseRetryDelay,
		maxRetryDelay:  _defaultMaxRetryDelay,
		heartbeat:      _defaultHeartbeat,
		connectTimeout: _defaultConnectTimeout,
		prefetch:       _defaultPrefetch,
		handlerTimeout: _defaultHandlerTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := c.connect(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	delay := c.baseRetryDelay
	var lastErr error
	for attempt := 1; attempt <= c.connAttempts; attempt++ {
		conn, ch, err := c.dial()
		if err == nil {
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				_ = conn.Close()
				return ErrClosed
			}
			old := c.conn
			c.conn, c.pubCh = conn, ch
			c.mu.Unlock()
			if old != nil {
				_ = old.Close()
			}
			c.log.Info("rabbitmq connected", zap.Int("attempt", attempt))
			return nil
		}
		lastErr = err

		c.log.Warn("rabbitmq connection attempt failed",
			zap.Int("attempt", attempt),
			zap.Duration("next_delay", delay),
			zap.Error(err),
		)
		if attempt == c.connAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(ErrNotReady, ctx.Err())
		case <-time.After(delay):
		}
		delay = min(delay*2, c.maxRetryDelay)
	}
	return errors.Join(ErrNotReady, lastErr)
}

func (c *Client) dial() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(c.url, amqp.Config{
		Heartbeat: c.heartbeat,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(c.connectTimeout),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return conn, ch, nil
}

func (c *Client) publishChannel(ctx context.Context) (*amqp.Channel, error) {
	c.mu.Lock()
	closed, ch := c.closed, c.pubCh
	c.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}
	if ch != nil && !ch.IsClosed() {
		return ch, nil
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pubCh, nil
}

// DeclareTopology объявляет durable topic exchange и очередь, привязанную ко всем ключам.
func (c *Client) DeclareTopology(ctx context.Context, t Topology) error {
	const op = "rabbit.Client.DeclareTopology"

	ch, err := c.publishChannel(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err = ch.ExchangeDeclare(t.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("%s: exchange %s: %w", op, t.Exchange, err)
	}
	if t.Queue == "" {
		return nil
	}
	if _, err = ch.QueueDeclare(t.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("%s: queue %s: %w", op, t.Queue, err)
	}
	for _, key := range t.Keys {
		if err = ch.QueueBind(t.Queue, key, t.Exchange, false, nil); err != nil {
			return fmt.Errorf("%s: bind %s: %w", op, key, err)
		}
	}
	return nil
}

// Publish отправляет persistent JSON-сообщение в exchange.
func (c *Client) Publish(ctx context.Context, exchange, key string, body []byte) error {
	const op = "rabbit.Client.Publish"

	ch, err := c.publishChannel(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	err = ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Consume читает очередь до отмены ctx. При обрыве соединения переподключается
// с экспоненциальной задержкой.
func (c *Client) Consume(ctx context.Context, queue string, h MessageHandler) error {
	const op = "rabbit.Client.Consume"

	delay := c.baseRetryDelay
	for {
		err := c.session(ctx, queue, h)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return fmt.Errorf("%s: %w", op, err)
		}

		c.log.Warn("consumer session ended",
			zap.String("op", op),
			zap.String("queue", queue),
			zap.Duration("next_delay", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		if err = c.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrClosed) {
				return fmt.Errorf("%s: %w", op, err)
			}
			delay = min(delay*2, c.maxRetryDelay)
			continue
		}
		delay = c.baseRetryDelay
	}
}

func (c *Client) session(ctx context.Context, queue string, h MessageHandler) error {
	c.mu.Lock()
	closed, conn := c.closed, c.conn
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if conn == nil || conn.IsClosed() {
		return ErrNotReady
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	closing := ch.NotifyClose(make(chan *amqp.Error, 1))
	if err = ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	c.log.Info("consumer started", zap.String("queue", queue))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closing:
			if amqpErr == nil {
				return ErrNotReady
			}
			return fmt.Errorf("channel closed: %w", amqpErr)
		case d, ok := <-deliveries:
			if !ok {
				return ErrNotReady
			}
			Deliver(ctx, c.log, c.handlerTimeout, d, h)
		}
	}
}

// Deliver вызывает обработчик и подтверждает сообщение по результату:
// успех подтверждается, ErrReject и повторная неудача отклоняются без
// возврата, остальные ошибки возвращают сообщение в очередь один раз.
// Обработчик получает контекст, не зависящий от остановки consumer.
func Deliver(ctx context.Context, log *zap.Logger, timeout time.Duration, d amqp.Delivery, h MessageHandler) {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	err := safeHandle(hctx, d, h)

	var ackErr error
	switch {
	case err == nil:
		ackErr = d.Ack(false)
	case errors.Is(err, ErrReject) || d.Redelivered:
		log.Warn("message dropped",
			zap.String("routing_key", d.RoutingKey),
			zap.Bool("redelivered", d.Redelivered),
			zap.Error(err),
		)
		ackErr = d.Nack(false, false)
	default:
		log.Warn("message requeued",
			zap.String("routing_key", d.RoutingKey),
			zap.Error(err),
		)
		ackErr = d.Nack(false, true)
	}
	if ackErr != nil {
		log.Error("message acknowledgement failed",
			zap.String("routing_key", d.RoutingKey),
			zap.Error(ackErr),
		)
	}
}

func safeHandle(ctx context.Context, d amqp.Delivery, h MessageHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: handler panic: %v", ErrReject, r)
		}
	}()
	return h(ctx, d)
}

func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
