package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/streadway/amqp"
)

// CallbackFunc processes one delivery. A nil return acks the message;
// an error nacks it without requeue (report lifecycle events are
// re-derivable from the reports table, so a dropped event is repaired
// by the periodic re-scan).
type CallbackFunc func(routingKey string, body []byte) error

// Subscriber consumes report lifecycle events from a topic exchange
// with a bounded worker pool.
type Subscriber struct {
	amqpURL    string
	exchange   string
	queue      string
	bindingKey string
	workers    int

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSubscriber creates a subscriber and establishes the initial
// connection so callers fail fast if RabbitMQ is unreachable.
func NewSubscriber(amqpURL, exchangeName, queueName, bindingKey string, workers int) (*Subscriber, error) {
	if workers <= 0 {
		workers = 1
	}
	s := &Subscriber{
		amqpURL:    amqpURL,
		exchange:   exchangeName,
		queue:      queueName,
		bindingKey: bindingKey,
		workers:    workers,
		done:       make(chan struct{}),
	}

	s.mu.Lock()
	err := s.connectLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Subscriber) connectLocked() error {
	if s.channel != nil {
		_ = s.channel.Close()
		s.channel = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}

	conn, err := amqp.Dial(s.amqpURL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(s.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(s.queue, s.bindingKey, s.exchange, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	if err := ch.Qos(s.workers, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	s.conn = conn
	s.channel = ch
	return nil
}

// Start consumes deliveries until ctx is cancelled or Close is called,
// reconnecting with backoff when the channel drops.
func (s *Subscriber) Start(ctx context.Context, callback CallbackFunc) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		backoff := time.Second
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			default:
			}

			deliveries, err := s.consume()
			if err != nil {
				log.WithError(err).Warnf("RabbitMQ consume failed, retrying in %v", backoff)
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return
				case <-s.done:
					return
				}
				if backoff < 30*time.Second {
					backoff *= 2
				}
				continue
			}
			backoff = time.Second

			s.runWorkers(ctx, deliveries, callback)
		}
	}()
}

func (s *Subscriber) consume() (<-chan amqp.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || s.conn.IsClosed() || s.channel == nil {
		if err := s.connectLocked(); err != nil {
			return nil, err
		}
	}
	deliveries, err := s.channel.Consume(s.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}
	return deliveries, nil
}

// runWorkers fans deliveries out to the worker pool. Returns when the
// delivery channel closes (connection loss) or shutdown is requested.
func (s *Subscriber) runWorkers(ctx context.Context, deliveries <-chan amqp.Delivery, callback CallbackFunc) {
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-s.done:
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					if err := callback(d.RoutingKey, d.Body); err != nil {
						log.WithError(err).WithField("routing_key", d.RoutingKey).
							Error("failed to process delivery")
						if nackErr := d.Nack(false, false); nackErr != nil {
							log.WithError(nackErr).Warn("failed to nack delivery")
						}
						continue
					}
					if ackErr := d.Ack(false); ackErr != nil {
						log.WithError(ackErr).Warn("failed to ack delivery")
					}
				}
			}
		}()
	}
	wg.Wait()
}

// Close stops consumption and tears down the connection.
func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	var err error
	if s.channel != nil {
		err = s.channel.Close()
		s.channel = nil
	}
	if s.conn != nil {
		if connErr := s.conn.Close(); connErr != nil && err == nil {
			err = connErr
		}
		s.conn = nil
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}
