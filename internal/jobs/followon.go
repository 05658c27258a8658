// Package jobs — followon.go обрабатывает очередь бонусов за вехи и уровни.
// Каждый бонус проходит полный конвейер начисления, как обычный запрос.
package jobs

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/aura-points/internal/features/aura"
	"serotonyl.ru/aura-points/internal/metrics"
	"serotonyl.ru/aura-points/internal/queue"
)

// Source — очередь, из которой воркеры берут бонусы.
type Source interface {
	Next(ctx context.Context, timeout time.Duration) (*queue.Delivery, error)
	Ack(ctx context.Context, d *queue.Delivery) error
	Nack(ctx context.Context, d *queue.Delivery, cause error) error
}

// Awarder — конвейер начисления.
type Awarder interface {
	Award(ctx context.Context, req aura.AwardRequest) (*aura.AwardResult, error)
}

// Интервалы опроса очереди
const (
	pollTimeout  = 5 * time.Second
	errorBackoff = time.Second
)

// FollowOnWorker — пул воркеров очереди бонусов.
type FollowOnWorker struct {
	source  Source
	awarder Awarder
	workers int
	metrics *metrics.Aura
}

// NewFollowOnWorker создаёт пул из workers воркеров.
func NewFollowOnWorker(source Source, awarder Awarder, workers int, m *metrics.Aura) *FollowOnWorker {
	return &FollowOnWorker{
		source:  source,
		awarder: awarder,
		workers: max(workers, 1),
		metrics: m,
	}
}

// Run запускает воркеров и блокируется до отмены ctx и завершения всех воркеров.
func (w *FollowOnWorker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	log.WithField("workers", w.workers).Info("Воркеры очереди бонусов запущены")
	wg.Wait()
	log.Info("Воркеры очереди бонусов остановлены")
}

func (w *FollowOnWorker) loop(ctx context.Context, id int) {
	for ctx.Err() == nil {
		d, err := w.source.Next(ctx, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).WithField("worker", id).Error("Ошибка чтения очереди бонусов")
			select {
			case <-ctx.Done():
				return
			case <-time.After(errorBackoff):
			}
			continue
		}
		if d == nil {
			continue
		}
		w.handle(ctx, d)
	}
}

// handle начисляет один бонус.
// Повтор уникального ключа означает, что бонус уже начислен при прошлой доставке.
func (w *FollowOnWorker) handle(ctx context.Context, d *queue.Delivery) {
	req := d.Request
	fields := log.Fields{
		"user_id":    req.UserID,
		"activity":   req.Activity,
		"unique_key": req.UniqueKey,
		"attempts":   d.Attempts,
	}

	// Начисление доводим до конца даже при остановке сервиса
	res, err := w.awarder.Award(context.WithoutCancel(ctx), req)
	if err != nil {
		log.WithError(err).WithFields(fields).Warn("Бонус не начислен, повторим позже")
		if nackErr := w.source.Nack(ctx, d, err); nackErr != nil {
			log.WithError(nackErr).WithFields(fields).Error("Не удалось вернуть бонус в очередь")
		}
		return
	}

	switch {
	case res.Accepted:
		log.WithFields(fields).WithField("points", res.Points).Info("Бонус начислен")
	case res.Reason == aura.KindDuplicateActivity:
		log.WithFields(fields).Debug("Бонус уже был начислен")
	default:
		log.WithError(res.Reason.Err()).WithFields(fields).Warnf("Бонус отклонён: %s", res.Message)
		w.metrics.RecordFollowOnFailure(ctx, string(req.Activity), string(res.Reason))
	}

	if err := w.source.Ack(ctx, d); err != nil {
		log.WithError(err).WithFields(fields).Error("Не удалось подтвердить бонус")
	}
}
