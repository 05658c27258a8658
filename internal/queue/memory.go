// Package queue — memory.go реализует очередь в памяти процесса для QUEUE_DRIVER=memory.
// Сообщения теряются при перезапуске.
package queue

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/aura-points/internal/common"
	"serotonyl.ru/aura-points/internal/features/aura"
	"serotonyl.ru/aura-points/internal/metrics"
)

// MemoryQueue — очередь на буферизованном канале.
type MemoryQueue struct {
	ch          chan *Delivery
	maxAttempts int
	metrics     *metrics.Aura
}

// NewMemoryQueue создаёт очередь на size сообщений.
func NewMemoryQueue(size, maxAttempts int, m *metrics.Aura) *MemoryQueue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &MemoryQueue{
		ch:          make(chan *Delivery, size),
		maxAttempts: maxAttempts,
		metrics:     m,
	}
}

// Enqueue ставит запрос в очередь. Переполненная очередь возвращает ErrQueueUnavailable.
func (q *MemoryQueue) Enqueue(ctx context.Context, req aura.AwardRequest) error {
	d := &Delivery{Envelope: newEnvelope(req, time.Now())}
	select {
	case q.ch <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return common.ErrQueueUnavailable
	}
}

// Next ждёт следующее сообщение не дольше timeout.
func (q *MemoryQueue) Next(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case d := <-q.ch:
		return d, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ack ничего не делает: сообщение уже извлечено из канала.
func (q *MemoryQueue) Ack(context.Context, *Delivery) error {
	return nil
}

// Nack возвращает сообщение в очередь или отбрасывает его после maxAttempts попыток.
func (q *MemoryQueue) Nack(ctx context.Context, d *Delivery, cause error) error {
	env, again := retry(d, cause, q.maxAttempts)
	if !again {
		log.WithFields(log.Fields{
			"user_id":    env.Request.UserID,
			"unique_key": env.Request.UniqueKey,
			"attempts":   env.Attempts,
		}).Error("Бонус отброшен после исчерпания попыток")
		q.metrics.RecordFollowOnFailure(ctx, string(env.Request.Activity), "max_attempts")
		return nil
	}
	select {
	case q.ch <- &Delivery{Envelope: env}:
		return nil
	default:
		q.metrics.RecordFollowOnFailure(ctx, string(env.Request.Activity), "queue_full")
		return common.ErrQueueUnavailable
	}
}

// Recover ничего не возвращает: сообщения в памяти не зависают в обработке.
func (q *MemoryQueue) Recover(context.Context, time.Duration) (int, error) {
	return 0, nil
}

// Len возвращает число сообщений в очереди.
func (q *MemoryQueue) Len(context.Context) (int64, error) {
	return int64(len(q.ch)), nil
}
