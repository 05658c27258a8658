// Package aura реализует движок очков ауры.
// models.go описывает виды активностей, доказательства, транзакции и статистику пользователя.
package aura

import (
	"fmt"
	"time"

	"serotonyl.ru/aura-points/internal/common"
)

// ActivityKind — идентификатор вида активности из каталога.
type ActivityKind string

const (
	ActivityJournalEntry    ActivityKind = "journal_entry"
	ActivityMeditation      ActivityKind = "meditation_session"
	ActivityWorkout         ActivityKind = "workout_session"
	ActivitySocialPost      ActivityKind = "social_post"
	ActivityFriendSupport   ActivityKind = "friend_support"
	ActivityStreakMilestone ActivityKind = "streak_milestone"
	ActivityLevelUp         ActivityKind = "level_up"
	ActivityGroupChallenge  ActivityKind = "group_challenge_complete"
	ActivityWeeklyQuest     ActivityKind = "weekly_quest_complete"
)

// ProofType — тег доказательства.
type ProofType string

const (
	ProofJournalLength     ProofType = "journal_length"
	ProofVideoCompletion   ProofType = "video_completion"
	ProofStreakCount       ProofType = "streak_count"
	ProofSocialInteraction ProofType = "social_interaction"
	ProofPostContent       ProofType = "post_content"
)

// Ключи метаданных доказательства, которые понимает калькулятор бонусов.
const (
	MetaUniqueKey       = "unique_key"
	MetaMood            = "mood"
	MetaDurationMinutes = "duration_minutes"
	MetaHasMedia        = "has_media"
)

// Proof — доказательство того, что пользователь действительно выполнил активность.
// Хранится только как вложение к транзакции.
type Proof struct {
	Type     ProofType      `json:"type"`
	Value    float64        `json:"value"`          // Длина записи в словах, процент просмотра, длина серии...
	Text     string         `json:"text,omitempty"` // Текст взаимодействия или поста
	Metadata map[string]any `json:"metadata,omitempty"`
}

// PointTransaction — неизменяемая запись журнала начислений.
// Транзакции только добавляются, никогда не меняются и не удаляются.
type PointTransaction struct {
	ID          string       `json:"id" db:"id"`
	UserID      string       `json:"user_id" db:"user_id"`
	Activity    ActivityKind `json:"activity" db:"activity"`
	Points      int64        `json:"points" db:"points"` // Всегда >= 0
	Description string       `json:"description,omitempty" db:"description"`
	Proof       *Proof       `json:"proof,omitempty" db:"proof"`
	UniqueKey   string       `json:"unique_key,omitempty" db:"unique_key"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
}

// UserStats — агрегированная статистика пользователя.
// Создаётся лениво при первом начислении, меняется только при коммите журнала.
type UserStats struct {
	UserID            string     `json:"user_id" db:"user_id"`
	TotalPoints       int64      `json:"total_points" db:"total_points"`
	AvailablePoints   int64      `json:"available_points" db:"available_points"` // Тратит внешний сервис наград
	LifetimeEarned    int64      `json:"lifetime_earned" db:"lifetime_earned"`
	LifetimeSpent     int64      `json:"lifetime_spent" db:"lifetime_spent"`
	CurrentStreak     int        `json:"current_streak" db:"current_streak"`
	LongestStreak     int        `json:"longest_streak" db:"longest_streak"`
	LastActivityDate  *time.Time `json:"last_activity_date,omitempty" db:"last_activity_date"`
	LastStreakDate    *time.Time `json:"last_streak_date,omitempty" db:"last_streak_date"` // День последней активности, идущей в серию
	DailyPointsEarned int64      `json:"daily_points_earned" db:"daily_points_earned"`
	DailyPointsDate   *time.Time `json:"daily_points_date,omitempty" db:"daily_points_date"`
	Level             int        `json:"level" db:"level"`
	Badges            []string   `json:"badges" db:"badges"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// NewUserStats возвращает пустую статистику нового пользователя (уровень 1).
func NewUserStats(userID string) *UserStats {
	return &UserStats{UserID: userID, Level: 1, Badges: []string{}}
}

// Clone возвращает независимую копию статистики.
func (s *UserStats) Clone() *UserStats {
	c := *s
	c.Badges = append([]string{}, s.Badges...)
	c.LastActivityDate = cloneTime(s.LastActivityDate)
	c.LastStreakDate = cloneTime(s.LastStreakDate)
	c.DailyPointsDate = cloneTime(s.DailyPointsDate)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// AwardRequest — запрос на начисление очков.
type AwardRequest struct {
	UserID      string       `json:"user_id"`
	Activity    ActivityKind `json:"activity"`
	Proof       *Proof       `json:"proof,omitempty"`
	Description string       `json:"description,omitempty"`
	// Multiplier задают только доверенные внутренние вызовы (выплаты челленджей отряда).
	// 0 означает множитель по умолчанию (1).
	Multiplier float64 `json:"multiplier,omitempty"`
	UniqueKey  string  `json:"unique_key,omitempty"`
}

// ErrorKind — стабильный вид отказа.
type ErrorKind string

const (
	KindValidationFailed  ErrorKind = "ValidationFailed"
	KindDuplicateActivity ErrorKind = "DuplicateActivity"
	KindDailyCapExceeded  ErrorKind = "DailyCapExceeded"
	KindUnknownActivity   ErrorKind = "UnknownActivity"
	KindStoreWriteFailed  ErrorKind = "StoreWriteFailed"
)

// Retryable сообщает, имеет ли смысл повторять запрос.
func (k ErrorKind) Retryable() bool {
	return k == KindStoreWriteFailed
}

// Err возвращает ошибку common, соответствующую виду отказа.
// Для пустого вида возвращает nil.
func (k ErrorKind) Err() error {
	switch k {
	case KindValidationFailed:
		return common.ErrValidationFailed
	case KindDuplicateActivity:
		return common.ErrDuplicateActivity
	case KindDailyCapExceeded:
		return common.ErrDailyCapExceeded
	case KindUnknownActivity:
		return common.ErrUnknownActivity
	case KindStoreWriteFailed:
		return common.ErrStoreWriteFailed
	case "":
		return nil
	}
	return fmt.Errorf("неизвестный вид отказа %q", string(k))
}

// AwardResult — итог запроса на начисление.
// Отказы — ожидаемый исход, поэтому возвращаются результатом, а не ошибкой.
type AwardResult struct {
	Accepted bool      `json:"accepted"`
	Points   int64     `json:"points"`
	Message  string    `json:"message"`
	Reason   ErrorKind `json:"reason,omitempty"`

	TransactionID string `json:"transaction_id,omitempty"`
	Streak        int    `json:"streak,omitempty"`
	Level         int    `json:"level,omitempty"`
	Milestone     bool   `json:"milestone,omitempty"`
	LevelUp       bool   `json:"level_up,omitempty"`
}

func reject(kind ErrorKind, message string) *AwardResult {
	return &AwardResult{Accepted: false, Points: 0, Message: message, Reason: kind}
}
