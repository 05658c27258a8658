// Package common — errors.go определяет ошибки движка очков ауры.
// Каждая ошибка соответствует стабильному виду отказа, по которому
// вызывающая сторона решает, можно ли повторить запрос.
package common

import "errors"

// Отказы валидации — терминальные, повтор не поможет
var (
	// ErrValidationFailed — доказательство отсутствует или ниже порога
	ErrValidationFailed = errors.New("доказательство не прошло проверку")
	// ErrDuplicateActivity — уникальный ключ уже использован
	ErrDuplicateActivity = errors.New("активность уже засчитана")
	// ErrDailyCapExceeded — дневной лимит по активности или по очкам исчерпан
	ErrDailyCapExceeded = errors.New("дневной лимит исчерпан")
	// ErrUnknownActivity — вида активности нет в каталоге
	ErrUnknownActivity = errors.New("неизвестный вид активности")
)

// Ошибки хранилища
var (
	// ErrStoreWriteFailed — временный сбой хранилища, запрос можно повторить
	ErrStoreWriteFailed = errors.New("сбой записи в хранилище")
	// ErrUserNotFound — у пользователя ещё нет статистики
	ErrUserNotFound = errors.New("пользователь не найден")
)

// Ошибки очереди
var (
	// ErrQueueUnavailable — очередь отложенных начислений недоступна
	ErrQueueUnavailable = errors.New("очередь начислений недоступна")
)
