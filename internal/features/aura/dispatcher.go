// Package aura — dispatcher.go ставит в очередь бонусы за вехи серии и новые уровни.
//
// Бонусы не начисляются внутри транзакции, которая их вызвала: запрос кладётся
// в очередь с доставкой «хотя бы один раз», а воркер прогоняет его через весь конвейер.
// Детерминированный уникальный ключ делает повторную доставку безопасной.
package aura

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/aura-points/internal/common"
	"serotonyl.ru/aura-points/internal/metrics"
)

// FollowOnQueue — очередь отложенных начислений.
type FollowOnQueue interface {
	Enqueue(ctx context.Context, req AwardRequest) error
}

// MilestoneKey — ключ идемпотентности бонуса за веху.
// Дата входит в ключ, чтобы повторное достижение той же серии после сброса тоже награждалось.
func MilestoneKey(userID string, streak int, day string) string {
	return fmt.Sprintf("streak-milestone:%s:%d:%s", userID, streak, day)
}

// LevelUpKey — ключ идемпотентности бонуса за уровень. Уровень достигается один раз.
func LevelUpKey(userID string, level int) string {
	return fmt.Sprintf("level-up:%s:%d", userID, level)
}

// MilestoneRequest собирает запрос бонуса за веху серии.
func MilestoneRequest(userID string, streak int, now time.Time, loc *time.Location) AwardRequest {
	return AwardRequest{
		UserID:      userID,
		Activity:    ActivityStreakMilestone,
		Proof:       &Proof{Type: ProofStreakCount, Value: float64(streak)},
		Description: fmt.Sprintf("Бонус за серию - %d %s", streak, common.PluralizeDays(streak)),
		UniqueKey:   MilestoneKey(userID, streak, common.FormatDate(now, loc)),
	}
}

// LevelUpRequest собирает запрос бонуса за новый уровень.
func LevelUpRequest(userID string, level int) AwardRequest {
	return AwardRequest{
		UserID:      userID,
		Activity:    ActivityLevelUp,
		Description: fmt.Sprintf("Новый уровень %d", level),
		UniqueKey:   LevelUpKey(userID, level),
	}
}

// Dispatcher отправляет отложенные начисления в очередь.
type Dispatcher struct {
	queue   FollowOnQueue
	metrics *metrics.Aura
}

// NewDispatcher создаёт диспетчер поверх очереди.
func NewDispatcher(queue FollowOnQueue, m *metrics.Aura) *Dispatcher {
	return &Dispatcher{queue: queue, metrics: m}
}

// Dispatch ставит запросы в очередь.
// Сбой очереди не влияет на уже возвращённый результат: он логируется и считается метрикой.
func (d *Dispatcher) Dispatch(ctx context.Context, reqs ...AwardRequest) {
	for _, req := range reqs {
		if err := d.queue.Enqueue(ctx, req); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"user_id":    req.UserID,
				"activity":   req.Activity,
				"unique_key": req.UniqueKey,
			}).Error("Не удалось поставить бонус в очередь")
			d.metrics.RecordFollowOnFailure(ctx, string(req.Activity), "enqueue")
			continue
		}
		log.WithFields(log.Fields{
			"user_id":    req.UserID,
			"activity":   req.Activity,
			"unique_key": req.UniqueKey,
		}).Debug("Бонус поставлен в очередь")
	}
}
