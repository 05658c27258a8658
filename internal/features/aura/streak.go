// Package aura — streak.go отвечает за ежедневные серии.
// Серия считается по календарным дням в часовом поясе сервиса.
package aura

import (
	"time"

	"serotonyl.ru/aura-points/internal/common"
)

// MilestoneEvery — каждая серия, кратная этому числу, считается вехой.
const MilestoneEvery = 7

// StreakUpdate — результат пересчёта серии.
type StreakUpdate struct {
	Current   int
	Longest   int
	Milestone bool // Серия увеличилась и стала кратна MilestoneEvery
}

// NextStreak вычисляет новую серию по дате последней активности серии и текущему моменту.
//
// Правила:
//   - последняя активность вчера → серия +1
//   - последняя активность сегодня → серия не меняется (уже засчитано)
//   - иначе (или активности не было) → серия начинается заново с 1
func NextStreak(lastStreakDate *time.Time, current, longest int, now time.Time, loc *time.Location) StreakUpdate {
	today := common.StartOfDay(now, loc)

	next := 1
	incremented := true
	if lastStreakDate != nil {
		last := common.StartOfDay(*lastStreakDate, loc)
		switch {
		case last.Equal(today):
			next = current
			incremented = false
			if next < 1 {
				next = 1
			}
		case last.Equal(today.AddDate(0, 0, -1)):
			next = current + 1
		}
	}

	if next > longest {
		longest = next
	}
	return StreakUpdate{
		Current:   next,
		Longest:   longest,
		Milestone: incremented && next%MilestoneEvery == 0,
	}
}
