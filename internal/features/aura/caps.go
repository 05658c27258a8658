// Package aura — caps.go проверяет дневные лимиты.
// Лимиты считаются по журналу транзакций внутри транзакции пользователя,
// а не по закешированному счётчику.
package aura

import (
	"context"
	"fmt"
	"time"

	"serotonyl.ru/aura-points/internal/common"
)

// dayWindow — включительное окно календарного дня.
type dayWindow struct {
	start time.Time
	end   time.Time
}

func newDayWindow(now time.Time, loc *time.Location) dayWindow {
	start, end := common.DayWindow(now, loc)
	return dayWindow{start: start, end: end}
}

// checkActivityCap проверяет лимит количества активностей вида rule.Kind за день.
// Возвращает причину отказа или пустую строку.
func checkActivityCap(ctx context.Context, tx UserTx, rule ActivityRule, w dayWindow) (string, error) {
	count, err := tx.CountActivity(ctx, rule.Kind, w.start, w.end)
	if err != nil {
		return "", fmt.Errorf("ошибка подсчёта активностей: %w", err)
	}
	if count >= rule.DailyCap {
		return fmt.Sprintf("лимит на сегодня исчерпан: %q можно засчитать %d раз в день", rule.Kind, rule.DailyCap), nil
	}
	return "", nil
}

// checkDailyCeiling проверяет общий потолок очков за день.
// Частичного начисления нет: если начисление не помещается целиком — отказ.
func checkDailyCeiling(ctx context.Context, tx UserTx, ceiling, pending int64, w dayWindow) (string, error) {
	earned, err := tx.SumPoints(ctx, w.start, w.end)
	if err != nil {
		return "", fmt.Errorf("ошибка подсчёта очков за день: %w", err)
	}
	if earned+pending > ceiling {
		remaining := ceiling - earned
		if remaining < 0 {
			remaining = 0
		}
		return fmt.Sprintf("дневной потолок %s: осталось %s, а начисление %s",
			common.FormatPoints(ceiling), common.FormatPoints(remaining), common.FormatPoints(pending)), nil
	}
	return "", nil
}
