// Package aura — proof.go проверяет доказательства активности.
// Отказ не имеет побочных эффектов: проверка выполняется до открытия транзакции хранилища.
package aura

import (
	"fmt"
	"strings"
)

// CountWords подсчитывает количество слов в тексте.
// Слова разделяются пробелами (включая множественные пробелы, табы и т.д.).
//
// Примеры:
//
//	CountWords("сегодня было спокойно") → 3
//	CountWords("  пробелы  лишние  ")    → 2
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// proofValue возвращает числовое значение доказательства.
// Для записи в дневнике без явной длины считаем слова в тексте.
func proofValue(p *Proof) float64 {
	if p.Type == ProofJournalLength && p.Value == 0 && p.Text != "" {
		return float64(CountWords(p.Text))
	}
	return p.Value
}

// ValidateProof проверяет, что доказательство удовлетворяет требованию правила.
// Возвращает человекочитаемую причину отказа или пустую строку.
func ValidateProof(rule ActivityRule, proof *Proof) string {
	req := rule.Proof
	if req.Type == "" {
		return ""
	}
	if proof == nil {
		return fmt.Sprintf("для активности %q нужно доказательство %q", rule.Kind, req.Type)
	}
	if proof.Type != req.Type {
		return fmt.Sprintf("для активности %q нужно доказательство %q, получено %q", rule.Kind, req.Type, proof.Type)
	}

	if req.NeedText {
		if strings.TrimSpace(proof.Text) == "" {
			return "доказательство взаимодействия пустое"
		}
		return ""
	}

	if v := proofValue(proof); v < req.MinValue {
		switch req.Type {
		case ProofJournalLength:
			return fmt.Sprintf("запись слишком короткая: %.0f слов, нужно минимум %.0f", v, req.MinValue)
		case ProofVideoCompletion:
			return fmt.Sprintf("сессия пройдена на %.0f%%, нужно минимум %.0f%%", v, req.MinValue)
		case ProofStreakCount:
			return fmt.Sprintf("серия %.0f, нужно минимум %.0f", v, req.MinValue)
		default:
			return fmt.Sprintf("значение %v ниже порога %v", v, req.MinValue)
		}
	}
	return ""
}
