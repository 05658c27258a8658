// Package aura — service.go содержит конвейер начисления очков ауры.
//
// Порядок шагов одного запроса:
//
//	проверка доказательства → проверка ключа → лимиты → бонус → коммит → вехи/уровни
//
// Все решения о границах дня принимаются по одному моменту времени,
// снятому в начале запроса: запрос около полуночи не попадёт в два разных дня.
package aura

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/aura-points/internal/common"
	"serotonyl.ru/aura-points/internal/metrics"
)

// Лимиты выдачи истории транзакций
const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 100
)

// Service — движок очков ауры.
type Service struct {
	store      Store            // Статистика и журнал транзакций
	catalog    *Catalog         // Правила активностей
	loc        *time.Location   // Часовой пояс, в котором считаются дни
	now        func() time.Time // Источник времени
	dispatcher *Dispatcher      // Очередь бонусов за вехи (может быть nil)
	observers  []ActivityObserver
	metrics    *metrics.Aura
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDispatcher подключает очередь бонусов за вехи и уровни.
func WithDispatcher(d *Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

// WithObservers подключает наблюдателей (квесты, отряды).
func WithObservers(observers ...ActivityObserver) Option {
	return func(s *Service) { s.observers = append(s.observers, observers...) }
}

// WithMetrics подключает счётчики.
func WithMetrics(m *metrics.Aura) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService создаёт движок очков ауры.
func NewService(store Store, catalog *Catalog, loc *time.Location, opts ...Option) *Service {
	s := &Service{
		store:   store,
		catalog: catalog,
		loc:     loc,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog возвращает каталог активностей сервиса.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// rejection прерывает транзакцию пользователя с отказом.
// Транзакция откатывается, статистика не меняется.
type rejection struct {
	result *AwardResult
}

func (r *rejection) Error() string {
	return string(r.result.Reason) + ": " + r.result.Message
}

func (r *rejection) Unwrap() error {
	return r.result.Reason.Err()
}

// commitOutcome — то, что нужно сделать после коммита.
type commitOutcome struct {
	txn       *PointTransaction
	milestone int // Серия, достигшая вехи (0 — вехи нет)
	prevLevel int
	newLevel  int
}

// Award обрабатывает запрос на начисление очков.
//
// Отказы (ValidationFailed, DuplicateActivity, DailyCapExceeded, UnknownActivity)
// возвращаются результатом с nil-ошибкой. При сбое хранилища возвращается
// результат с причиной StoreWriteFailed И ошибка, обёрнутая в common.ErrStoreWriteFailed:
// такой запрос можно повторить с тем же уникальным ключом.
func (s *Service) Award(ctx context.Context, req AwardRequest) (*AwardResult, error) {
	now := s.now()

	result := s.validate(req)
	if result != nil {
		s.logRejection(ctx, req, result)
		return result, nil
	}
	rule, _ := s.catalog.Rule(req.Activity)

	var outcome *commitOutcome
	err := s.store.InUserTx(ctx, req.UserID, func(tx UserTx) error {
		res, out, err := s.evaluate(ctx, tx, rule, req, now)
		if err != nil {
			return err
		}
		result, outcome = res, out
		return nil
	})
	if err != nil {
		var rej *rejection
		switch {
		case errors.As(err, &rej):
			s.logRejection(ctx, req, rej.result)
			return rej.result, nil
		case errors.Is(err, common.ErrDuplicateActivity):
			// Параллельный запрос с тем же ключом успел закоммитить раньше
			res := reject(KindDuplicateActivity, "активность с этим ключом уже засчитана")
			s.logRejection(ctx, req, res)
			return res, nil
		}

		log.WithError(err).WithFields(log.Fields{
			"user_id":  req.UserID,
			"activity": req.Activity,
		}).Error("Ошибка записи начисления")
		s.metrics.RecordAward(ctx, string(req.Activity), string(KindStoreWriteFailed), 0)
		res := reject(KindStoreWriteFailed, "временный сбой хранилища, повторите запрос")
		if errors.Is(err, common.ErrStoreWriteFailed) {
			return res, err
		}
		return res, fmt.Errorf("%w: %w", common.ErrStoreWriteFailed, err)
	}

	log.WithFields(log.Fields{
		"user_id":    req.UserID,
		"activity":   req.Activity,
		"points":     result.Points,
		"streak":     result.Streak,
		"user_level": result.Level,
	}).Info("Очки ауры начислены")
	s.metrics.RecordAward(ctx, string(req.Activity), "accepted", result.Points)

	s.afterCommit(context.WithoutCancel(ctx), outcome, now)
	return result, nil
}

// validate выполняет проверки, не требующие хранилища.
func (s *Service) validate(req AwardRequest) *AwardResult {
	rule, ok := s.catalog.Rule(req.Activity)
	if !ok {
		return reject(KindUnknownActivity, fmt.Sprintf("неизвестная активность %q", req.Activity))
	}
	if req.UserID == "" {
		return reject(KindValidationFailed, "не указан пользователь")
	}
	if !validMultiplier(req.Multiplier) {
		return reject(KindValidationFailed, "множитель должен быть конечным неотрицательным числом")
	}
	// Начисление больше дневного потолка не пройдёт никогда
	if req.Multiplier > MaxMultiplier || float64(rule.BasePoints)*req.Multiplier > float64(s.catalog.DailyPointCeiling()) {
		return reject(KindValidationFailed, fmt.Sprintf("множитель %.2f превышает дневной потолок очков", req.Multiplier))
	}
	if reason := ValidateProof(rule, req.Proof); reason != "" {
		return reject(KindValidationFailed, reason)
	}
	return nil
}

// evaluate выполняет проверки и коммит внутри транзакции пользователя.
func (s *Service) evaluate(ctx context.Context, tx UserTx, rule ActivityRule, req AwardRequest, now time.Time) (*AwardResult, *commitOutcome, error) {
	stats, err := tx.Stats(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка чтения статистики: %w", err)
	}

	// Шаг 1: уникальный ключ
	if req.UniqueKey != "" {
		dup, err := tx.HasUniqueKey(ctx, req.UniqueKey)
		if err != nil {
			return nil, nil, fmt.Errorf("ошибка проверки ключа: %w", err)
		}
		if dup {
			return nil, nil, &rejection{reject(KindDuplicateActivity, "активность с этим ключом уже засчитана")}
		}
	}

	// Веха не может быть больше серии, которую пользователь действительно набрал
	if rule.Kind == ActivityStreakMilestone && req.Proof != nil && int(req.Proof.Value) > stats.CurrentStreak {
		return nil, nil, &rejection{reject(KindValidationFailed,
			fmt.Sprintf("серия %.0f не подтверждается: текущая серия %d", req.Proof.Value, stats.CurrentStreak))}
	}

	// Шаг 2: лимит по виду активности
	window := newDayWindow(now, s.loc)
	reason, err := checkActivityCap(ctx, tx, rule, window)
	if err != nil {
		return nil, nil, err
	}
	if reason != "" {
		return nil, nil, &rejection{reject(KindDailyCapExceeded, reason)}
	}

	// Шаг 3: серия и бонус
	streak := s.activeStreak(stats, now)
	var upd StreakUpdate
	if rule.StreakEligible {
		upd = NextStreak(stats.LastStreakDate, stats.CurrentStreak, stats.LongestStreak, now, s.loc)
		streak = upd.Current
	}
	bonus := CalculateBonus(rule.Kind, req.Proof, streak)
	points := ApplyMultiplier(rule.BasePoints, bonus, req.Multiplier)

	// Шаг 4: общий дневной потолок, уже с итоговой суммой
	reason, err = checkDailyCeiling(ctx, tx, s.catalog.DailyPointCeiling(), points, window)
	if err != nil {
		return nil, nil, err
	}
	if reason != "" {
		return nil, nil, &rejection{reject(KindDailyCapExceeded, reason)}
	}

	// Шаг 5: коммит
	txn := &PointTransaction{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Activity:    rule.Kind,
		Points:      points,
		Description: req.Description,
		Proof:       attachUniqueKey(req.Proof, req.UniqueKey),
		UniqueKey:   req.UniqueKey,
		CreatedAt:   now,
	}
	if txn.Description == "" {
		txn.Description = rule.Title
	}

	next := s.applyToStats(stats, rule, points, upd, now, window.start)
	if err := tx.Commit(ctx, txn, next); err != nil {
		return nil, nil, err
	}

	out := &commitOutcome{txn: txn, prevLevel: stats.Level, newLevel: next.Level}
	if rule.StreakEligible && upd.Milestone {
		out.milestone = upd.Current
	}
	res := &AwardResult{
		Accepted:      true,
		Points:        points,
		Message:       fmt.Sprintf("%s: %s", txn.Description, common.FormatPointsAmount(points)),
		TransactionID: txn.ID,
		Streak:        next.CurrentStreak,
		Level:         next.Level,
		Milestone:     out.milestone > 0,
		LevelUp:       next.Level > stats.Level,
	}
	return res, out, nil
}

// applyToStats возвращает новую статистику после начисления points.
func (s *Service) applyToStats(stats *UserStats, rule ActivityRule, points int64, upd StreakUpdate, now, today time.Time) *UserStats {
	next := stats.Clone()

	// Дневной счётчик сбрасывается при смене дня
	if next.DailyPointsDate == nil || !common.SameDay(*next.DailyPointsDate, now, s.loc) {
		next.DailyPointsEarned = 0
	}
	next.DailyPointsEarned += points
	next.DailyPointsDate = &today

	next.TotalPoints += points
	next.AvailablePoints += points
	next.LifetimeEarned += points
	next.LastActivityDate = &today

	if rule.StreakEligible {
		next.CurrentStreak = upd.Current
		if upd.Longest > next.LongestStreak {
			next.LongestStreak = upd.Longest
		}
		next.LastStreakDate = &today
		if upd.Milestone {
			next.Badges = addBadge(next.Badges, "streak_"+strconv.Itoa(upd.Current))
		}
	}

	if level := LevelFor(next.LifetimeEarned); level > next.Level {
		for l := next.Level + 1; l <= level; l++ {
			next.Badges = addBadge(next.Badges, "level_"+strconv.Itoa(l))
		}
		next.Level = level
	}

	next.UpdatedAt = now
	return next
}

// activeStreak возвращает серию, которая ещё не прервалась к моменту now.
// Серия жива, если последняя активность серии была сегодня или вчера.
func (s *Service) activeStreak(stats *UserStats, now time.Time) int {
	if stats.LastStreakDate == nil {
		return 0
	}
	today := common.StartOfDay(now, s.loc)
	last := common.StartOfDay(*stats.LastStreakDate, s.loc)
	if last.Equal(today) || last.Equal(today.AddDate(0, 0, -1)) {
		return stats.CurrentStreak
	}
	return 0
}

// afterCommit уведомляет наблюдателей и ставит в очередь бонусы за вехи и уровни.
func (s *Service) afterCommit(ctx context.Context, out *commitOutcome, now time.Time) {
	txn := out.txn
	notifyObservers(ctx, s.observers, txn.UserID, txn.Activity, txn.Points)

	var followOns []AwardRequest
	if out.milestone > 0 {
		followOns = append(followOns, MilestoneRequest(txn.UserID, out.milestone, now, s.loc))
	}
	for l := out.prevLevel + 1; l <= out.newLevel; l++ {
		followOns = append(followOns, LevelUpRequest(txn.UserID, l))
	}
	if len(followOns) == 0 {
		return
	}
	if s.dispatcher == nil {
		for _, f := range followOns {
			log.WithFields(log.Fields{
				"user_id":    f.UserID,
				"unique_key": f.UniqueKey,
			}).Warn("Очередь бонусов не подключена, бонус потерян")
			s.metrics.RecordFollowOnFailure(ctx, string(f.Activity), "no_dispatcher")
		}
		return
	}
	s.dispatcher.Dispatch(ctx, followOns...)
}

func (s *Service) logRejection(ctx context.Context, req AwardRequest, res *AwardResult) {
	log.WithFields(log.Fields{
		"user_id":  req.UserID,
		"activity": req.Activity,
		"reason":   res.Reason,
	}).Debugf("Начисление отклонено: %s", res.Message)
	s.metrics.RecordAward(ctx, string(req.Activity), string(res.Reason), 0)
}

// GetStats возвращает статистику пользователя.
// Для пользователя без начислений возвращается пустая статистика уровня 1.
// Дневной счётчик за прошлый день показывается как 0.
func (s *Service) GetStats(ctx context.Context, userID string) (*UserStats, error) {
	stats, err := s.store.GetStats(ctx, userID)
	if errors.Is(err, common.ErrUserNotFound) {
		return NewUserStats(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики: %w", err)
	}
	if stats.DailyPointsDate == nil || !common.SameDay(*stats.DailyPointsDate, s.now(), s.loc) {
		stats.DailyPointsEarned = 0
	}
	return stats, nil
}

// ListRecentTransactions возвращает последние транзакции пользователя, новые первыми.
// limit ограничивается диапазоном 1..MaxRecentLimit, 0 — значение по умолчанию.
func (s *Service) ListRecentTransactions(ctx context.Context, userID string, limit int) ([]*PointTransaction, error) {
	switch {
	case limit <= 0:
		limit = DefaultRecentLimit
	case limit > MaxRecentLimit:
		limit = MaxRecentLimit
	}
	txs, err := s.store.ListRecent(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения транзакций: %w", err)
	}
	return txs, nil
}

// Reconcile проверяет инвариант «сумма журнала = lifetimeEarned» для всех пользователей.
func (s *Service) Reconcile(ctx context.Context) ([]Discrepancy, error) {
	return s.store.Reconcile(ctx)
}

// attachUniqueKey копирует уникальный ключ в метаданные доказательства.
// Исходное доказательство не меняется.
func attachUniqueKey(p *Proof, key string) *Proof {
	if key == "" {
		return p
	}
	out := &Proof{}
	if p != nil {
		*out = *p
	}
	meta := make(map[string]any, len(out.Metadata)+1)
	for k, v := range out.Metadata {
		meta[k] = v
	}
	meta[MetaUniqueKey] = key
	out.Metadata = meta
	return out
}

func addBadge(badges []string, badge string) []string {
	for _, b := range badges {
		if b == badge {
			return badges
		}
	}
	return append(badges, badge)
}
