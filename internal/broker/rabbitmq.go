package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dotcelery/dotcelery/internal/domain"
)

// Exchange and routing conventions. Every queue DotCelery publishes to is
// bound to tasksExchange with its own name as routing key; a reject without
// requeue relies on the queue's configured dead-letter exchange, which in
// turn routes by the same key into <queue>.dlq.
const (
	tasksExchange = "dotcelery.tasks"
	dlxExchange   = "dotcelery.dlq"
)

// RabbitMQ is a Broker backed by a single AMQP connection with automatic
// reconnect. It lazily declares topology for any queue it is asked to
// publish to or consume from.
type RabbitMQ struct {
	url    string
	logger *slog.Logger

	mu        sync.RWMutex
	conn      *amqp.Connection
	pubCh     *amqp.Channel
	closed    bool
	closedCh  chan struct{}
	reconnect chan struct{}

	declaredMu sync.Mutex
	declared   map[string]bool
	deliveries map[string]delivery
}

// NewRabbitMQ dials url and starts the reconnect watcher.
func NewRabbitMQ(url string, logger *slog.Logger) (*RabbitMQ, error) {
	r := &RabbitMQ{
		url:       url,
		logger:    logger,
		closedCh:  make(chan struct{}),
		reconnect: make(chan struct{}, 1),
		declared:  make(map[string]bool),
	}

	if err := r.connect(); err != nil {
		return nil, err
	}

	go r.watch()

	return r, nil
}

func (r *RabbitMQ) connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := amqp.Dial(r.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open publish channel: %w", err)
	}

	if err := declareTopLevel(ch); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	r.conn = conn
	r.pubCh = ch
	r.logger.Info("broker connected", "url", redactURL(r.url))

	return nil
}

// declareTopLevel declares the two exchanges every queue hangs off of.
// Per-queue declarations happen lazily in ensureQueue.
func declareTopLevel(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(tasksExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", tasksExchange, err)
	}
	if err := ch.ExchangeDeclare(dlxExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", dlxExchange, err)
	}
	return nil
}

func (r *RabbitMQ) watch() {
	for {
		r.mu.RLock()
		closed := r.closed
		conn := r.conn
		r.mu.RUnlock()
		if closed {
			return
		}
		if conn == nil {
			time.Sleep(time.Second)
			continue
		}

		notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-r.closedCh:
			return
		case err := <-notifyClose:
			if err != nil {
				r.logger.Warn("broker connection closed", "error", err)
			}
			r.reconnectWithBackoff()
		}
	}
}

// reconnectWithBackoff retries connect with bounded exponential backoff,
// replacing the hand-rolled doubling loop with a maintained library.
func (r *RabbitMQ) reconnectWithBackoff() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry forever

	for {
		r.mu.RLock()
		closed := r.closed
		r.mu.RUnlock()
		if closed {
			return
		}

		delay := bo.NextBackOff()
		time.Sleep(delay)

		r.declaredMu.Lock()
		r.declared = make(map[string]bool)
		r.declaredMu.Unlock()

		if err := r.connect(); err != nil {
			r.logger.Warn("reconnect failed", "error", err)
			continue
		}

		r.logger.Info("broker reconnected")
		select {
		case r.reconnect <- struct{}{}:
		default:
		}
		return
	}
}

// ensureQueue lazily declares a durable queue bound to tasksExchange with
// routing key equal to its own name, dead-lettering rejected-without-requeue
// deliveries into <queue>.dlq.
func (r *RabbitMQ) ensureQueue(ch *amqp.Channel, queue string) error {
	r.declaredMu.Lock()
	defer r.declaredMu.Unlock()
	if r.declared[queue] {
		return nil
	}

	dlqName := queue + ".dlq"
	if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlq %s: %w", dlqName, err)
	}
	if err := ch.QueueBind(dlqName, queue, dlxExchange, false, nil); err != nil {
		return fmt.Errorf("bind dlq %s: %w", dlqName, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    dlxExchange,
		"x-dead-letter-routing-key": queue,
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, queue, tasksExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", queue, err)
	}

	r.declared[queue] = true
	return nil
}

// Publish marshals msg and publishes it to tasksExchange with msg.Queue as
// routing key, declaring the queue's topology on first use.
func (r *RabbitMQ) Publish(ctx context.Context, msg domain.TaskMessage) error {
	r.mu.RLock()
	ch := r.pubCh
	r.mu.RUnlock()
	if ch == nil {
		return fmt.Errorf("broker: not connected")
	}

	if err := r.ensureQueue(ch, msg.Queue); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal task message: %w", err)
	}

	var eta time.Time
	if msg.ETA != nil {
		eta = *msg.ETA
	}

	err = ch.PublishWithContext(ctx, tasksExchange, msg.Queue, false, false, amqp.Publishing{
		ContentType:  msg.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    eta,
		Priority:     uint8(msg.Priority),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", msg.ID, msg.Queue, err)
	}
	return nil
}

// delivery pairs a raw AMQP delivery with the channel it must be
// acked/rejected on, so Ack/Reject can address it by DeliveryTag alone.
type delivery struct {
	raw amqp.Delivery
	ch  *amqp.Channel
}

// Consume opens one dedicated channel for the given queues, sets its Qos to
// prefetch, and multiplexes their deliveries onto a single output channel.
func (r *RabbitMQ) Consume(ctx context.Context, queues []string, prefetch int) (<-chan domain.BrokerMessage, error) {
	if prefetch <= 0 {
		prefetch = 1
	}

	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()
	if conn == nil {
		return nil, fmt.Errorf("broker: not connected")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consume channel: %w", err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	for _, q := range queues {
		if err := r.ensureQueue(ch, q); err != nil {
			ch.Close()
			return nil, err
		}
	}

	out := make(chan domain.BrokerMessage, prefetch)
	var wg sync.WaitGroup

	for _, q := range queues {
		raws, err := ch.Consume(q, "", false, false, false, false, nil)
		if err != nil {
			ch.Close()
			return nil, fmt.Errorf("consume %s: %w", q, err)
		}

		wg.Add(1)
		go func(queue string, raws <-chan amqp.Delivery) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case raw, ok := <-raws:
					if !ok {
						return
					}

					var task domain.TaskMessage
					if err := json.Unmarshal(raw.Body, &task); err != nil {
						r.logger.Error("undecodable delivery, dropping", "queue", queue, "error", err)
						raw.Nack(false, false)
						continue
					}

					tag := fmt.Sprintf("%d", raw.DeliveryTag)
					r.trackDelivery(tag, delivery{raw: raw, ch: ch})

					msg := domain.BrokerMessage{
						Task:        task,
						DeliveryTag: tag,
						Queue:       queue,
						ReceivedAt:  time.Now(),
					}

					select {
					case out <- msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}(q, raws)
	}

	go func() {
		wg.Wait()
		ch.Close()
		close(out)
	}()

	return out, nil
}

func (r *RabbitMQ) trackDelivery(tag string, d delivery) {
	r.declaredMu.Lock()
	defer r.declaredMu.Unlock()
	if r.deliveries == nil {
		r.deliveries = make(map[string]delivery)
	}
	r.deliveries[tag] = d
}

func (r *RabbitMQ) takeDelivery(tag string) (delivery, bool) {
	r.declaredMu.Lock()
	defer r.declaredMu.Unlock()
	d, ok := r.deliveries[tag]
	if ok {
		delete(r.deliveries, tag)
	}
	return d, ok
}

// Ack acknowledges the delivery addressed by msg.DeliveryTag.
func (r *RabbitMQ) Ack(ctx context.Context, msg domain.BrokerMessage) error {
	d, ok := r.takeDelivery(msg.DeliveryTag)
	if !ok {
		return fmt.Errorf("broker: unknown delivery tag %s", msg.DeliveryTag)
	}
	return d.raw.Ack(false)
}

// Reject nacks the delivery addressed by msg.DeliveryTag. requeue=false
// routes it to the queue's dead-letter exchange per its declared arguments.
func (r *RabbitMQ) Reject(ctx context.Context, msg domain.BrokerMessage, requeue bool) error {
	d, ok := r.takeDelivery(msg.DeliveryTag)
	if !ok {
		return fmt.Errorf("broker: unknown delivery tag %s", msg.DeliveryTag)
	}
	return d.raw.Nack(false, requeue)
}

// IsHealthy reports whether the underlying AMQP connection is open.
func (r *RabbitMQ) IsHealthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn != nil && !r.conn.IsClosed()
}

// Close shuts the connection down for good.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	close(r.closedCh)

	var errs []error
	if r.pubCh != nil {
		if err := r.pubCh.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// redactURL strips user info from an AMQP URL before logging it.
func redactURL(raw string) string {
	at := -1
	for i, c := range raw {
		if c == '@' {
			at = i
		}
	}
	scheme := -1
	for i := 0; i+2 < len(raw); i++ {
		if raw[i] == ':' && raw[i+1] == '/' && raw[i+2] == '/' {
			scheme = i + 3
			break
		}
	}
	if at == -1 || scheme == -1 || at < scheme {
		return raw
	}
	return raw[:scheme] + "***@" + raw[at+1:]
}
