// Package queue — progress.go копит недельный прогресс пользователя в Redis.
// Сервис квестов читает эти счётчики, чтобы решить, выполнен ли недельный квест.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"serotonyl.ru/aura-points/internal/features/aura"
)

// progressTTL — счётчики прошлой недели ещё нужны квестам в понедельник.
const progressTTL = 14 * 24 * time.Hour

// Поля хэша прогресса помимо видов активностей
const (
	fieldPoints = "points"
)

// RedisProgress — наблюдатель активностей, пишущий недельные счётчики в Redis.
//
// Ключ: aura:progress:<user>:<год>-W<неделя>
// Поля: <activity> → количество, <activity>:points → очки, points → всего очков.
type RedisProgress struct {
	client *redis.Client
	loc    *time.Location
	now    func() time.Time
}

// NewRedisProgress создаёт наблюдателя прогресса.
func NewRedisProgress(client *redis.Client, loc *time.Location) *RedisProgress {
	return &RedisProgress{client: client, loc: loc, now: time.Now}
}

// WeekKey возвращает ключ хэша прогресса для недели, в которую попадает t.
func WeekKey(userID string, t time.Time, loc *time.Location) string {
	year, week := t.In(loc).ISOWeek()
	return fmt.Sprintf("aura:progress:%s:%d-W%02d", userID, year, week)
}

// OnActivityRecorded увеличивает счётчики недели.
func (p *RedisProgress) OnActivityRecorded(ctx context.Context, userID string, kind aura.ActivityKind, value int64) error {
	key := WeekKey(userID, p.now(), p.loc)
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, string(kind), 1)
		pipe.HIncrBy(ctx, key, string(kind)+":points", value)
		pipe.HIncrBy(ctx, key, fieldPoints, value)
		pipe.Expire(ctx, key, progressTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ошибка записи прогресса: %w", err)
	}
	return nil
}

// Weekly возвращает счётчики текущей недели пользователя.
func (p *RedisProgress) Weekly(ctx context.Context, userID string) (map[string]int64, error) {
	raw, err := p.client.HGetAll(ctx, WeekKey(userID, p.now(), p.loc)).Result()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения прогресса: %w", err)
	}
	out := make(map[string]int64, len(raw))
	for field, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[field] = n
	}
	return out, nil
}
