// Package aura — catalog.go описывает каталог активностей: базовые очки,
// дневные лимиты и требования к доказательствам.
// Каталог неизменяем после создания и передаётся в сервис при сборке.
package aura

import (
	"fmt"
	"sort"
)

// DefaultDailyPointCeiling — общий потолок очков за календарный день.
const DefaultDailyPointCeiling int64 = 200

// ProofRequirement — минимальное доказательство для вида активности.
type ProofRequirement struct {
	Type     ProofType // Пустой тип — доказательство не требуется
	MinValue float64   // Для числовых доказательств
	NeedText bool      // Для social_interaction: нужен непустой текст
}

// ActivityRule — правило начисления для одного вида активности.
type ActivityRule struct {
	Kind           ActivityKind
	Title          string // Описание транзакции по умолчанию
	BasePoints     int64
	DailyCap       int
	Proof          ProofRequirement
	StreakEligible bool // Идёт ли активность в ежедневную серию
	SystemOnly     bool // Начисляется только воркером очереди, не через HTTP
}

// Catalog — неизменяемая таблица правил.
type Catalog struct {
	rules   map[ActivityKind]ActivityRule
	ceiling int64
}

// DefaultRules возвращает стандартную таблицу активностей.
func DefaultRules() []ActivityRule {
	return []ActivityRule{
		{
			Kind: ActivityJournalEntry, Title: "Запись в дневнике", BasePoints: 10, DailyCap: 3,
			Proof:          ProofRequirement{Type: ProofJournalLength, MinValue: 50},
			StreakEligible: true,
		},
		{
			Kind: ActivityMeditation, Title: "Медитация", BasePoints: 15, DailyCap: 5,
			Proof: ProofRequirement{Type: ProofVideoCompletion, MinValue: 80},
		},
		{
			Kind: ActivityWorkout, Title: "Тренировка", BasePoints: 20, DailyCap: 3,
			Proof: ProofRequirement{Type: ProofVideoCompletion, MinValue: 80},
		},
		{Kind: ActivitySocialPost, Title: "Пост", BasePoints: 5, DailyCap: 5},
		{
			Kind: ActivityFriendSupport, Title: "Поддержка друга", BasePoints: 8, DailyCap: 10,
			Proof: ProofRequirement{Type: ProofSocialInteraction, NeedText: true},
		},
		{
			Kind: ActivityStreakMilestone, Title: "Бонус за серию", BasePoints: 50, DailyCap: 1,
			Proof:      ProofRequirement{Type: ProofStreakCount, MinValue: 7},
			SystemOnly: true,
		},
		{Kind: ActivityLevelUp, Title: "Новый уровень", BasePoints: 25, DailyCap: 3, SystemOnly: true},
		{Kind: ActivityGroupChallenge, Title: "Челлендж отряда", BasePoints: 30, DailyCap: 3},
		{Kind: ActivityWeeklyQuest, Title: "Недельный квест", BasePoints: 40, DailyCap: 1},
	}
}

// NewCatalog собирает каталог из правил.
// capOverrides позволяет переопределить дневные лимиты для конкретного развёртывания.
func NewCatalog(rules []ActivityRule, ceiling int64, capOverrides map[string]int) (*Catalog, error) {
	if ceiling <= 0 {
		return nil, fmt.Errorf("дневной потолок очков должен быть > 0, получено %d", ceiling)
	}
	c := &Catalog{rules: make(map[ActivityKind]ActivityRule, len(rules)), ceiling: ceiling}
	for _, r := range rules {
		if r.BasePoints < 0 || r.DailyCap <= 0 {
			return nil, fmt.Errorf("некорректное правило %q: base=%d cap=%d", r.Kind, r.BasePoints, r.DailyCap)
		}
		if _, dup := c.rules[r.Kind]; dup {
			return nil, fmt.Errorf("правило %q задано дважды", r.Kind)
		}
		c.rules[r.Kind] = r
	}
	for kind, limit := range capOverrides {
		r, ok := c.rules[ActivityKind(kind)]
		if !ok {
			return nil, fmt.Errorf("переопределение лимита для неизвестной активности %q", kind)
		}
		if limit <= 0 {
			return nil, fmt.Errorf("лимит для %q должен быть > 0", kind)
		}
		r.DailyCap = limit
		c.rules[r.Kind] = r
	}
	return c, nil
}

// DefaultCatalog возвращает каталог со стандартными правилами.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultRules(), DefaultDailyPointCeiling, nil)
	if err != nil {
		panic(err)
	}
	return c
}

// Rule возвращает правило для вида активности.
func (c *Catalog) Rule(kind ActivityKind) (ActivityRule, bool) {
	r, ok := c.rules[kind]
	return r, ok
}

// DailyPointCeiling возвращает общий дневной потолок очков.
func (c *Catalog) DailyPointCeiling() int64 {
	return c.ceiling
}

// Kinds возвращает все виды активностей в стабильном порядке.
func (c *Catalog) Kinds() []ActivityKind {
	kinds := make([]ActivityKind, 0, len(c.rules))
	for k := range c.rules {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
