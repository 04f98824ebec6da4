package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"reading-tracker/internal/domain"
	"reading-tracker/internal/infra/metrics"
)

// RabbitStatsQueue реализует очередь задач пересчёта поверх AMQP.
type RabbitStatsQueue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

// NewRabbitStatsQueue подключается к RabbitMQ и объявляет durable-очередь.
func NewRabbitStatsQueue(amqpURL, queue string) (*RabbitStatsQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("подключение к rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("открытие канала: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("объявление очереди: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("настройка prefetch: %w", err)
	}
	return &RabbitStatsQueue{conn: conn, channel: ch, queue: queue}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitStatsQueue) Enqueue(ctx context.Context, job domain.StatsJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.channel.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди. Подтверждение — через ack:
// ack(true) удаляет задачу, ack(false) возвращает её в очередь.
func (q *RabbitStatsQueue) Receive(ctx context.Context) (domain.StatsJob, domain.StatsAckFunc, error) {
	deliveries, err := q.consume()
	if err != nil {
		return domain.StatsJob{}, nil, err
	}
	select {
	case <-ctx.Done():
		return domain.StatsJob{}, nil, ctx.Err()
	case d, ok := <-deliveries:
		if !ok {
			return domain.StatsJob{}, nil, errors.New("rabbitmq: канал доставки закрыт")
		}
		var job domain.StatsJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			_ = d.Nack(false, false)
			return domain.StatsJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return d.Ack(false)
			}
			return d.Nack(false, true)
		}
		return job, ack, nil
	}
}

func (q *RabbitStatsQueue) consume() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	deliveries, err := q.channel.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("подписка на очередь: %w", err)
	}
	q.deliveries = deliveries
	return deliveries, nil
}

// Close закрывает канал и соединение.
func (q *RabbitStatsQueue) Close() error {
	if err := q.channel.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}
