// Package aura — bonus.go считает «умный бонус» за качество активности.
// Сумма всех бонусов ограничена MaxBonus, сколько бы сигналов ни сработало.
package aura

import (
	"math"
	"strings"
)

// MaxBonus — потолок суммарного бонуса за одно начисление.
const MaxBonus int64 = 5

// MaxMultiplier — наибольший допустимый множитель начисления.
const MaxMultiplier = 1000.0

// Пороги бонусов
const (
	journalGoodWords  = 75
	journalGreatWords = 150
	sessionCompletion = 95
	sessionMinutes    = 15
	postLongChars     = 100
	supportLongChars  = 50
	streakBonusShort  = 14
	streakBonusLong   = 30
)

// CalculateBonus вычисляет бонус за качество с учётом текущей серии.
// streak — серия с учётом этого начисления.
//
// Таблица бонусов:
//
//	Дневник:        75+ слов → +2, 150+ слов → +4, указано настроение → +1
//	Медитация/тренировка: просмотр 95%+ → +3, длительность 15+ минут → +3
//	Пост:           есть медиа → +1, текст 100+ символов → +1
//	Поддержка друга: текст 50+ символов → +1
//	Серия:          14+ дней → +2, 30+ дней → +3
func CalculateBonus(kind ActivityKind, proof *Proof, streak int) int64 {
	var bonus int64

	if proof != nil {
		switch kind {
		case ActivityJournalEntry:
			words := proofValue(proof)
			switch {
			case words >= journalGreatWords:
				bonus += 4
			case words >= journalGoodWords:
				bonus += 2
			}
			if s, ok := proof.Metadata[MetaMood].(string); ok && strings.TrimSpace(s) != "" {
				bonus++
			}
		case ActivityMeditation, ActivityWorkout:
			if proof.Value >= sessionCompletion {
				bonus += 3
			}
			if metaNumber(proof.Metadata, MetaDurationMinutes) >= sessionMinutes {
				bonus += 3
			}
		case ActivitySocialPost:
			if b, ok := proof.Metadata[MetaHasMedia].(bool); ok && b {
				bonus++
			}
			if len([]rune(proof.Text)) >= postLongChars {
				bonus++
			}
		case ActivityFriendSupport:
			if len([]rune(strings.TrimSpace(proof.Text))) >= supportLongChars {
				bonus++
			}
		}
	}

	switch {
	case streak >= streakBonusLong:
		bonus += 3
	case streak >= streakBonusShort:
		bonus += 2
	}

	if bonus > MaxBonus {
		bonus = MaxBonus
	}
	return bonus
}

// ApplyMultiplier возвращает round((base + bonus) × multiplier).
// Нулевой множитель означает множитель по умолчанию.
// Отрицательный, NaN и бесконечный множители дают 0, результат не выходит за int64.
func ApplyMultiplier(base, bonus int64, multiplier float64) int64 {
	if multiplier == 0 {
		multiplier = 1
	}
	if !validMultiplier(multiplier) {
		return 0
	}
	v := math.Round(float64(base+bonus) * multiplier)
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

// validMultiplier — множитель конечен и неотрицателен.
func validMultiplier(m float64) bool {
	return !math.IsNaN(m) && !math.IsInf(m, 0) && m >= 0
}

// metaNumber достаёт число из метаданных.
// После JSON-декодирования числа приходят как float64, из Go-кода — как int.
func metaNumber(meta map[string]any, key string) float64 {
	switch v := meta[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	}
	return 0
}
