// Package rabbitmq holds the broker session shared by the intake consumer
// and the dead-letter notifier.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/marminbh/eventsync-svc/internal/config"
)

var (
	// ErrNotConnected is returned while no session is open, including during a redial
	ErrNotConnected = errors.New("rabbitmq: not connected")
	// ErrClosed is returned once Close has been called
	ErrClosed = errors.New("rabbitmq: connection closed")
)

const (
	connectionName     = "eventsync-svc"
	heartbeat          = 10 * time.Second
	initialBackoff     = time.Second
	maxBackoff         = 30 * time.Second
	maxInitialAttempts = 10
)

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// session is one dialed connection: a channel for the intake consumer and a
// confirm-mode channel for publishes
type session struct {
	conn    *amqp.Connection
	consume *amqp.Channel
	publish *amqp.Channel
}

func (s *session) alive() bool {
	return s != nil && !s.conn.IsClosed() && !s.consume.IsClosed() && !s.publish.IsClosed()
}

func (s *session) close() {
	if s != nil && !s.conn.IsClosed() {
		_ = s.conn.Close()
	}
}

// Connection owns the current session and replaces it whenever the broker drops it
type Connection struct {
	cfg    *config.RabbitMQConfig
	logger *zap.Logger

	mu   sync.RWMutex
	sess *session

	stop     chan struct{}
	stopOnce sync.Once
}

func NewConnection(cfg *config.RabbitMQConfig, logger *zap.Logger) *Connection {
	return &Connection{
		cfg:    cfg,
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// Connect dials with backoff, giving up after maxInitialAttempts or when ctx ends.
// On success a supervisor keeps the session alive until Close.
func (c *Connection) Connect(ctx context.Context) error {
	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxInitialAttempts; attempt++ {
		sess, err := c.dial()
		if err == nil {
			if !c.swap(sess) {
				return ErrClosed
			}
			c.logger.Info("Connected to RabbitMQ",
				zap.String("host", c.cfg.Host),
				zap.String("vhost", c.cfg.VHost),
				zap.Int("attempt", attempt),
			)
			go c.supervise(sess)
			return nil
		}

		lastErr = err
		c.logger.Warn("RabbitMQ connection attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxInitialAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if attempt == maxInitialAttempts {
			break
		}
		if err := c.wait(ctx, backoff); err != nil {
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		backoff = nextBackoff(backoff)
	}
	return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxInitialAttempts, lastErr)
}

func (c *Connection) dial() (*session, error) {
	conn, err := amqp.DialConfig(c.cfg.ConnectionURL(), amqp.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Vhost:     c.cfg.VHost,
		Properties: amqp.Table{
			"connection_name": connectionName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	consume, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open consume channel: %w", err)
	}
	publish, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if err := publish.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	return &session{conn: conn, consume: consume, publish: publish}, nil
}

// swap installs next as the current session; after Close it discards next and reports false
func (c *Connection) swap(next *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.stop:
		next.close()
		return false
	default:
	}
	c.sess = next
	return true
}

func (c *Connection) current() (*session, error) {
	c.mu.RLock()
	sess := c.sess
	c.mu.RUnlock()
	if !sess.alive() {
		return nil, ErrNotConnected
	}
	return sess, nil
}

// wait sleeps for d unless ctx ends or the connection is closed first
func (c *Connection) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stop:
		return ErrClosed
	case <-timer.C:
		return nil
	}
}

// supervise waits for any part of the session to close and redials the whole session.
// A channel exception (a consume on a missing queue, say) closes only that channel,
// so the connection is torn down with it.
func (c *Connection) supervise(sess *session) {
	for {
		connClosed := sess.conn.NotifyClose(make(chan *amqp.Error, 1))
		consumeClosed := sess.consume.NotifyClose(make(chan *amqp.Error, 1))
		publishClosed := sess.publish.NotifyClose(make(chan *amqp.Error, 1))

		var reason *amqp.Error
		select {
		case <-c.stop:
			return
		case reason = <-connClosed:
		case reason = <-consumeClosed:
		case reason = <-publishClosed:
		}

		fields := []zap.Field{zap.String("host", c.cfg.Host)}
		if reason != nil {
			fields = append(fields, zap.Int("code", reason.Code), zap.String("reason", reason.Reason))
		}
		c.logger.Warn("RabbitMQ session lost, redialing", fields...)

		sess.close()
		if sess = c.redial(); sess == nil {
			return
		}
	}
}

func (c *Connection) redial() *session {
	c.mu.Lock()
	c.sess = nil
	c.mu.Unlock()

	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		if err := c.wait(context.Background(), backoff); err != nil {
			return nil
		}
		sess, err := c.dial()
		if err != nil {
			c.logger.Warn("RabbitMQ redial failed",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			backoff = nextBackoff(backoff)
			continue
		}
		if !c.swap(sess) {
			return nil
		}
		c.logger.Info("Reconnected to RabbitMQ", zap.Int("attempt", attempt))
		return sess
	}
}

// Close stops the supervisor and closes the session. It is safe to call more than once.
func (c *Connection) Close() {
	c.stopOnce.Do(func() { close(c.stop) })

	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()

	if sess != nil {
		sess.close()
		c.logger.Info("RabbitMQ connection closed")
	}
}

// IsHealthy reports whether a session is open
func (c *Connection) IsHealthy() bool {
	_, err := c.current()
	return err == nil
}
