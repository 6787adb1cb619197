// Package rabbitmq implements the durable job queue on RabbitMQ. Jobs are
// persistent messages on a durable queue, publishes wait for broker
// confirms, and rejected or undecodable messages are dead-lettered.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/scry-feedback-api/internal/redact"
	"github.com/phrazzld/scry-feedback-api/internal/task"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConfirmed is returned when the broker negatively acknowledges a publish.
var ErrNotConfirmed = errors.New("publish not confirmed by broker")

// Config configures the queue topology and client behaviour.
type Config struct {
	URL            string
	Name           string
	Prefetch       int
	PublishTimeout time.Duration
}

// Queue implements task.JobQueue on RabbitMQ.
type Queue struct {
	cfg    Config
	conn   *amqp.Connection
	pubCh  *amqp.Channel
	logger *slog.Logger

	mu        sync.Mutex
	consumeCh []*amqp.Channel
	closed    bool
}

var _ task.JobQueue = (*Queue)(nil)

// Dial connects to the broker, declares the topology and enables publisher
// confirms.
func Dial(cfg Config, logger *slog.Logger) (*Queue, error) {
	if cfg.Name == "" {
		return nil, errors.New("rabbitmq: queue name is required")
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rabbitmq_queue", "queue", cfg.Name)

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %s", redact.Error(err))
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open publish channel: %w", err)
	}
	if err := declareTopology(ch, cfg.Name); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	logger.Info("connected to rabbitmq")
	return &Queue{cfg: cfg, conn: conn, pubCh: ch, logger: logger}, nil
}

// DeadLetterExchange returns the exchange rejected messages are routed to.
func DeadLetterExchange(queue string) string { return queue + ".dlx" }

// DeadLetterQueue returns the queue collecting rejected messages.
func DeadLetterQueue(queue string) string { return queue + ".dlq" }

func declareTopology(ch *amqp.Channel, name string) error {
	dlx, dlq := DeadLetterExchange(name), DeadLetterQueue(name)

	if err := ch.ExchangeDeclare(dlx, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange %q: %w", dlx, err)
	}
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter queue %q: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, name, dlx, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead-letter queue %q: %w", dlq, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": name,
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", name, err)
	}
	return nil
}

// Enqueue publishes job as a persistent message and waits for the broker
// confirm, bounded by the publish timeout.
func (q *Queue) Enqueue(ctx context.Context, job task.Job) error {
	body, err := job.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, q.cfg.PublishTimeout)
	defer cancel()

	dc, err := q.pubCh.PublishWithDeferredConfirmWithContext(ctx, "", q.cfg.Name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.TaskID.String(),
		Timestamp:    job.EnqueuedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for publish confirm: %w", err)
	}
	if !acked {
		return ErrNotConfirmed
	}

	q.logger.Debug("job published", "task_id", job.TaskID)
	return nil
}

// Consume opens a dedicated channel with the configured prefetch and starts
// delivering jobs. Undecodable messages are dead-lettered without reaching
// the caller.
func (q *Queue) Consume(ctx context.Context) (<-chan task.Delivery, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, task.ErrQueueClosed
	}
	ch, err := q.conn.Channel()
	if err != nil {
		q.mu.Unlock()
		return nil, fmt.Errorf("failed to open consume channel: %w", err)
	}
	q.consumeCh = append(q.consumeCh, ch)
	q.mu.Unlock()

	if err := ch.Qos(q.cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, q.cfg.Name, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	out := make(chan task.Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				job, err := task.DecodeJob(msg.Body)
				if err != nil {
					q.logger.Error("dead-lettering undecodable message",
						"message_id", msg.MessageId,
						"error", err)
					if nackErr := msg.Nack(false, false); nackErr != nil {
						q.logger.Error("failed to reject message", "error", nackErr)
					}
					continue
				}
				select {
				case out <- &delivery{msg: msg, job: job}:
				case <-ctx.Done():
					// Unacked messages go back to the queue when the
					// channel closes.
					return
				}
			}
		}
	}()
	return out, nil
}

// Ready reports whether the connection and publish channel are open.
func (q *Queue) Ready(context.Context) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	switch {
	case closed:
		return task.ErrQueueClosed
	case q.conn.IsClosed():
		return errors.New("rabbitmq connection is closed")
	case q.pubCh.IsClosed():
		return errors.New("rabbitmq publish channel is closed")
	}
	return nil
}

// Close closes every channel and the connection.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true

	for _, ch := range q.consumeCh {
		_ = ch.Close()
	}
	_ = q.pubCh.Close()
	if err := q.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("failed to close rabbitmq connection: %w", err)
	}
	q.logger.Info("rabbitmq connection closed")
	return nil
}

type delivery struct {
	msg amqp.Delivery
	job task.Job
}

func (d *delivery) Job() task.Job { return d.job }

func (d *delivery) Ack() error { return d.msg.Ack(false) }

func (d *delivery) Nack(requeue bool) error { return d.msg.Nack(false, requeue) }
