package rabbit

import (
	"errors"
	"time"
)

type Option func(*Client)

func ConnAttempts(attempts int) Option {
	return func(c *Client) {
		c.connAttempts = attempts
	}
}

func BaseRetryDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseRetryDelay = delay
	}
}

func MaxRetryDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.maxRetryDelay = delay
	}
}

func Heartbeat(interval time.Duration) Option {
	return func(c *Client) {
		c.heartbeat = interval
	}
}

func ConnectTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.connectTimeout = timeout
	}
}

// Prefetch ограничивает число неподтвержденных сообщений на consumer.
func Prefetch(count int) Option {
	return func(c *Client) {
		c.prefetch = count
	}
}

// HandlerTimeout ограничивает обработку одного сообщения.
func HandlerTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.handlerTimeout = timeout
	}
}

func (c *Client) validate() error {
	if c.connAttempts <= 0 {
		return errors.New("invalid connAttempts: must be > 0")
	}
	if c.baseRetryDelay <= 0 {
		return errors.New("invalid baseRetryDelay: must be > 0")
	}
	if c.maxRetryDelay < c.baseRetryDelay {
		return errors.New("invalid maxRetryDelay: must be >= baseRetryDelay")
	}
	if c.heartbeat <= 0 {
		return errors.New("invalid heartbeat: must be > 0")
	}
	if c.connectTimeout <= 0 {
		return errors.New("invalid connectTimeout: must be > 0")
	}
	if c.prefetch <= 0 {
		return errors.New("invalid prefetch: must be > 0")
	}
	if c.handlerTimeout <= 0 {
		return errors.New("invalid handlerTimeout: must be > 0")
	}
	return nil
}
