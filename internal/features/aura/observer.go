// Package aura — observer.go описывает хук для квестов и отрядов.
// Наблюдатели вызываются строго после успешного коммита и никогда при отказе.
package aura

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// ActivityObserver получает уведомления о засчитанных активностях.
// value — начисленные очки. Ошибка наблюдателя не откатывает начисление.
type ActivityObserver interface {
	OnActivityRecorded(ctx context.Context, userID string, kind ActivityKind, value int64) error
}

// ObserverFunc позволяет использовать функцию как наблюдателя.
type ObserverFunc func(ctx context.Context, userID string, kind ActivityKind, value int64) error

// OnActivityRecorded вызывает f.
func (f ObserverFunc) OnActivityRecorded(ctx context.Context, userID string, kind ActivityKind, value int64) error {
	return f(ctx, userID, kind, value)
}

// notifyObservers уведомляет всех наблюдателей; ошибки только логируются.
func notifyObservers(ctx context.Context, observers []ActivityObserver, userID string, kind ActivityKind, value int64) {
	for _, o := range observers {
		if err := o.OnActivityRecorded(ctx, userID, kind, value); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"user_id":  userID,
				"activity": kind,
			}).Warn("Наблюдатель не обработал активность")
		}
	}
}
