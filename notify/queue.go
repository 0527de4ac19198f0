package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"alumni-forms/metrics"
)

// Dispatcher hands a notification off for delivery. A nil error only means
// the notification was accepted, not that it was sent.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// Notification delivery states recorded per notification ID.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const statusTTL = 24 * time.Hour

// QueueService is a Redis list of pending notifications drained by Run.
type QueueService struct {
	client   *redis.Client
	key      string
	notifier Notifier
	log      *zap.Logger
	// pollTimeout bounds each BLPOP so Run notices cancellation.
	pollTimeout time.Duration
}

func NewRedisQueue(client *redis.Client, key string, notifier Notifier, log *zap.Logger) *QueueService {
	return &QueueService{
		client:      client,
		key:         key,
		notifier:    notifier,
		log:         log,
		pollTimeout: 5 * time.Second,
	}
}

func (qs *QueueService) Dispatch(ctx context.Context, n Notification) error {
	jsonData, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	err = qs.client.RPush(ctx, qs.key, jsonData).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}

	return nil
}

// Run delivers queued notifications until ctx is cancelled. Failures are
// logged and recorded in the status key; they never stop the loop.
func (qs *QueueService) Run(ctx context.Context) error {
	for {
		result, err := qs.client.BLPop(ctx, qs.pollTimeout, qs.key).Result()
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			qs.log.Warn("error polling queue", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		var n Notification
		if err := json.Unmarshal([]byte(result[1]), &n); err != nil {
			qs.log.Error("error unmarshaling notification", zap.Error(err))
			metrics.RecordNotification(metrics.NotificationDropped)
			continue
		}

		status := deliver(ctx, qs.notifier, n, qs.log)
		statusKey := fmt.Sprintf("notification_status:%s", n.ID)
		if err := qs.client.Set(ctx, statusKey, status, statusTTL).Err(); err != nil {
			qs.log.Warn("failed to record notification status", zap.String("id", n.ID), zap.Error(err))
		}
	}
}

// MemoryQueue is a bounded in-process queue drained by Run.
type MemoryQueue struct {
	queue    chan Notification
	notifier Notifier
	log      *zap.Logger
}

func NewMemoryQueue(size int, notifier Notifier, log *zap.Logger) *MemoryQueue {
	return &MemoryQueue{
		queue:    make(chan Notification, size),
		notifier: notifier,
		log:      log,
	}
}

// Dispatch never blocks; a full queue is reported as an error.
func (mq *MemoryQueue) Dispatch(_ context.Context, n Notification) error {
	select {
	case mq.queue <- n:
		return nil
	default:
		return errors.New("notification queue is full")
	}
}

// Run delivers until ctx is cancelled, then drains what is already queued.
func (mq *MemoryQueue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			mq.drain()
			return nil
		case n := <-mq.queue:
			deliver(ctx, mq.notifier, n, mq.log)
		}
	}
}

func (mq *MemoryQueue) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		select {
		case n := <-mq.queue:
			deliver(ctx, mq.notifier, n, mq.log)
		default:
			return
		}
	}
}

func deliver(ctx context.Context, notifier Notifier, n Notification, log *zap.Logger) string {
	if err := notifier.Notify(ctx, n); err != nil {
		log.Error("failed to send notification", zap.String("id", n.ID), zap.String("to", n.To), zap.Error(err))
		metrics.RecordNotification(metrics.NotificationFailed)
		return StatusFailed
	}
	log.Info("notification sent", zap.String("id", n.ID), zap.String("to", n.To))
	metrics.RecordNotification(metrics.NotificationSent)
	return StatusCompleted
}
