// Package metrics содержит счётчики движка очков ауры.
// Счётчики публикуются через глобальный MeterProvider OpenTelemetry;
// без настроенного провайдера они ничего не экспортируют.
// Потерянные бонусы за вехи дополнительно считаются локально,
// чтобы их можно было увидеть в /healthz и досчитать вручную.
package metrics

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "serotonyl.ru/aura-points"

// Aura — счётчики начислений и отложенных бонусов.
type Aura struct {
	awards           metric.Int64Counter
	points           metric.Int64Counter
	followOnFailures metric.Int64Counter

	lostFollowOns atomic.Int64
}

// New регистрирует счётчики в глобальном MeterProvider.
func New() (*Aura, error) {
	meter := otel.Meter(instrumentationName)

	awards, err := meter.Int64Counter("aura.awards",
		metric.WithDescription("Запросы на начисление по исходу"))
	if err != nil {
		return nil, err
	}
	points, err := meter.Int64Counter("aura.points",
		metric.WithDescription("Начисленные очки"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("aura.followon.failures",
		metric.WithDescription("Потерянные или отклонённые бонусы за вехи и уровни"))
	if err != nil {
		return nil, err
	}

	return &Aura{awards: awards, points: points, followOnFailures: failures}, nil
}

// RecordAward учитывает исход запроса на начисление.
// outcome — "accepted" или вид отказа.
func (a *Aura) RecordAward(ctx context.Context, activity, outcome string, points int64) {
	if a == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("activity", activity),
		attribute.String("outcome", outcome),
	)
	a.awards.Add(ctx, 1, attrs)
	if points > 0 {
		a.points.Add(ctx, points, metric.WithAttributes(attribute.String("activity", activity)))
	}
}

// RecordFollowOnFailure учитывает потерянный отложенный бонус.
func (a *Aura) RecordFollowOnFailure(ctx context.Context, activity, reason string) {
	if a == nil {
		return
	}
	a.lostFollowOns.Add(1)
	a.followOnFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("activity", activity),
		attribute.String("reason", reason),
	))
}

// LostFollowOns возвращает число потерянных отложенных бонусов с момента запуска.
func (a *Aura) LostFollowOns() int64 {
	if a == nil {
		return 0
	}
	return a.lostFollowOns.Load()
}
