// Package common — pluralize.go содержит вспомогательные функции
// для форматирования сумм очков в сообщениях об отказах и начислениях.
// Основная логика плюрализации реализована в helpers.go.
package common

import "fmt"

// FormatPointsAmount создаёт строку вида "+10 очков".
// Знак «+» или «-» добавляется автоматически.
//
// Примеры:
//
//	FormatPointsAmount(10) → "+10 очков"
//	FormatPointsAmount(1)  → "+1 очко"
//	FormatPointsAmount(-3) → "-3 очка"
func FormatPointsAmount(amount int64) string {
	if amount >= 0 {
		return fmt.Sprintf("+%d %s", amount, PluralizePoints(amount))
	}
	return fmt.Sprintf("%d %s", amount, PluralizePoints(amount))
}
