// Package aura — level.go переводит заработанные очки в уровень.
package aura

// LevelThresholds — минимум lifetimeEarned для уровней 1..10.
var LevelThresholds = []int64{0, 100, 250, 500, 1000, 2000, 3500, 5500, 8000, 12000}

// MaxLevel — максимальный уровень.
var MaxLevel = len(LevelThresholds)

// LevelFor возвращает уровень для суммы заработанных очков.
// Функция тотальная и монотонная: больше очков — не меньший уровень.
// Отрицательные суммы дают уровень 1.
func LevelFor(lifetimeEarned int64) int {
	level := 1
	for i, threshold := range LevelThresholds {
		if lifetimeEarned >= threshold {
			level = i + 1
		}
	}
	return level
}
