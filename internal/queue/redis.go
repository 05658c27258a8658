// Package queue — redis.go реализует надёжную очередь на списках Redis.
//
// Схема:
//
//	Enqueue:  LPUSH key
//	Next:     BLMOVE key → key:processing, ZADD key:claims (время захвата)
//	Ack:      LREM key:processing, ZREM key:claims
//	Nack:     LREM key:processing + LPUSH key (attempts+1), атомарно в Lua
//	Recover:  сообщения, захваченные дольше staleAfter назад, возвращаются в key
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/aura-points/internal/common"
	"serotonyl.ru/aura-points/internal/features/aura"
	"serotonyl.ru/aura-points/internal/metrics"
)

// requeueScript переносит сообщение из списка обработки обратно в очередь,
// только если оно ещё там. Возвращает 1, если перенос состоялся.
//
//	KEYS: processing, claims, queue
//	ARGV: старое сообщение, новое сообщение
var requeueScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 0 then
	return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('LPUSH', KEYS[3], ARGV[2])
return 1
`)

// RedisQueue — очередь отложенных начислений в Redis.
type RedisQueue struct {
	client      *redis.Client
	key         string
	processing  string
	claims      string
	maxAttempts int
	metrics     *metrics.Aura
	now         func() time.Time
}

// NewRedisQueue создаёт очередь поверх списка key.
func NewRedisQueue(client *redis.Client, key string, maxAttempts int, m *metrics.Aura) *RedisQueue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &RedisQueue{
		client:      client,
		key:         key,
		processing:  key + ":processing",
		claims:      key + ":claims",
		maxAttempts: maxAttempts,
		metrics:     m,
		now:         time.Now,
	}
}

// Enqueue ставит запрос в очередь.
func (q *RedisQueue) Enqueue(ctx context.Context, req aura.AwardRequest) error {
	raw, err := encode(newEnvelope(req, q.now()))
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("%w: %w", common.ErrQueueUnavailable, err)
	}
	return nil
}

// Next ждёт следующее сообщение не дольше timeout.
// Возвращает nil без ошибки, если сообщений нет.
func (q *RedisQueue) Next(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	raw, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrQueueUnavailable, err)
	}

	// Без отметки захвата Recover поставит её сам при первом проходе
	claim := redis.Z{Score: float64(q.now().UnixMilli()), Member: raw}
	if err := q.client.ZAdd(ctx, q.claims, claim).Err(); err != nil {
		log.WithError(err).Warn("Не удалось отметить захват сообщения очереди")
	}

	d, err := decode(raw)
	if err != nil {
		// Битое сообщение не исправится повтором — убираем его
		log.WithError(err).WithField("raw", raw).Error("Отброшено битое сообщение очереди")
		q.metrics.RecordFollowOnFailure(ctx, "unknown", "decode")
		if _, remErr := q.remove(ctx, raw); remErr != nil {
			return nil, remErr
		}
		return nil, nil
	}
	return d, nil
}

// Ack подтверждает обработку сообщения.
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	_, err := q.remove(ctx, d.raw)
	return err
}

// Nack возвращает сообщение в очередь с увеличенным счётчиком попыток.
// После maxAttempts попыток сообщение отбрасывается и учитывается как потерянное.
// Если сообщение уже забрал Recover, Nack ничего не делает: копия уже в очереди.
func (q *RedisQueue) Nack(ctx context.Context, d *Delivery, cause error) error {
	env, again := retry(d, cause, q.maxAttempts)
	fields := log.Fields{
		"user_id":    env.Request.UserID,
		"unique_key": env.Request.UniqueKey,
		"attempts":   env.Attempts,
		"last_error": env.LastError,
	}
	if !again {
		removed, err := q.remove(ctx, d.raw)
		if err != nil {
			return err
		}
		if removed {
			log.WithFields(fields).Error("Бонус отброшен после исчерпания попыток")
			q.metrics.RecordFollowOnFailure(ctx, string(env.Request.Activity), "max_attempts")
		}
		return nil
	}

	raw, err := encode(env)
	if err != nil {
		return err
	}
	moved, err := q.requeue(ctx, d.raw, raw)
	if err != nil {
		return err
	}
	if !moved {
		log.WithFields(fields).Debug("Сообщение уже возвращено в очередь")
	}
	return nil
}

// Recover возвращает в очередь сообщения, захваченные воркером дольше staleAfter назад:
// воркер, взявший их, упал до Ack. Повторная обработка безопасна благодаря уникальным ключам.
// Сообщению без отметки захвата отметка ставится сейчас, вернётся оно на следующем проходе.
func (q *RedisQueue) Recover(ctx context.Context, staleAfter time.Duration) (int, error) {
	raws, err := q.client.LRange(ctx, q.processing, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", common.ErrQueueUnavailable, err)
	}

	now := q.now()
	recovered := 0
	for _, raw := range raws {
		score, err := q.client.ZScore(ctx, q.claims, raw).Result()
		if errors.Is(err, redis.Nil) {
			claim := redis.Z{Score: float64(now.UnixMilli()), Member: raw}
			if err := q.client.ZAddNX(ctx, q.claims, claim).Err(); err != nil {
				return recovered, fmt.Errorf("%w: %w", common.ErrQueueUnavailable, err)
			}
			continue
		}
		if err != nil {
			return recovered, fmt.Errorf("%w: %w", common.ErrQueueUnavailable, err)
		}
		if now.Sub(time.UnixMilli(int64(score))) < staleAfter {
			continue
		}

		moved, err := q.requeue(ctx, raw, raw)
		if err != nil {
			return recovered, err
		}
		if moved {
			recovered++
		}
	}
	if recovered > 0 {
		log.WithField("count", recovered).Warn("Зависшие бонусы возвращены в очередь")
	}
	return recovered, nil
}

// remove удаляет сообщение из обработки. false — его там уже не было.
func (q *RedisQueue) remove(ctx context.Context, raw string) (bool, error) {
	var rem *redis.IntCmd
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		rem = p.LRem(ctx, q.processing, 1, raw)
		p.ZRem(ctx, q.claims, raw)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %w", common.ErrQueueUnavailable, err)
	}
	return rem.Val() > 0, nil
}

// requeue атомарно переносит old из обработки в очередь как next.
func (q *RedisQueue) requeue(ctx context.Context, old, next string) (bool, error) {
	n, err := requeueScript.Run(ctx, q.client, []string{q.processing, q.claims, q.key}, old, next).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %w", common.ErrQueueUnavailable, err)
	}
	return n == 1, nil
}

// Len возвращает число сообщений, ожидающих обработки.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
