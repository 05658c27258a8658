// Package jobs управляет фоновыми задачами.
// scheduler.go настраивает расписание: ежечасная сверка журнала с агрегатами
// и возврат зависших бонусов в очередь.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/aura-points/internal/features/aura"
)

// staleAfter — бонус, висящий в обработке дольше, считается брошенным упавшим воркером.
const staleAfter = 5 * time.Minute

// Reconciler сверяет журнал с агрегатами.
type Reconciler interface {
	Reconcile(ctx context.Context) ([]aura.Discrepancy, error)
}

// Recoverer возвращает брошенные сообщения в очередь.
type Recoverer interface {
	Recover(ctx context.Context, staleAfter time.Duration) (int, error)
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron       *cron.Cron
	reconciler Reconciler
	recoverer  Recoverer
}

// NewScheduler создаёт планировщик задач в часовом поясе сервиса.
func NewScheduler(loc *time.Location, reconciler Reconciler, recoverer Recoverer) *Scheduler {
	return &Scheduler{
		cron:       cron.New(cron.WithLocation(loc)),
		reconciler: reconciler,
		recoverer:  recoverer,
	}
}

// Start запускает все фоновые задачи.
func (s *Scheduler) Start(ctx context.Context) error {
	// Сверка каждый час в 05 минут
	if _, err := s.cron.AddFunc("5 * * * *", func() { s.reconcile(ctx) }); err != nil {
		return err
	}

	// Возврат зависших бонусов каждые 5 минут
	if _, err := s.cron.AddFunc("*/5 * * * *", func() { s.recoverStale(ctx) }); err != nil {
		return err
	}

	s.cron.Start()
	log.WithField("timezone", s.cron.Location().String()).Info("Планировщик задач запущен")
	return nil
}

// Stop останавливает планировщик и ждёт завершения текущих задач.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}

func (s *Scheduler) reconcile(ctx context.Context) {
	start := time.Now()
	diffs, err := s.reconciler.Reconcile(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка сверки журнала")
		return
	}
	for _, d := range diffs {
		log.WithFields(log.Fields{
			"user_id":         d.UserID,
			"ledger_sum":      d.LedgerSum,
			"lifetime_earned": d.LifetimeEarned,
		}).Error("[CRON] Журнал не совпадает со статистикой")
	}
	log.WithFields(log.Fields{
		"discrepancies": len(diffs),
		"duration":      time.Since(start).String(),
	}).Info("[CRON] Сверка журнала завершена")
}

func (s *Scheduler) recoverStale(ctx context.Context) {
	if s.recoverer == nil {
		return
	}
	if _, err := s.recoverer.Recover(ctx, staleAfter); err != nil {
		log.WithError(err).Error("[CRON] Ошибка возврата зависших бонусов")
	}
}
