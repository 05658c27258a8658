// Package queue содержит очередь отложенных начислений: бонусов за вехи серии
// и новые уровни. Доставка «хотя бы один раз»: сообщение удаляется из очереди
// только после Ack, поэтому обработчик обязан быть идемпотентным
// (у каждого запроса детерминированный уникальный ключ).
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"serotonyl.ru/aura-points/internal/features/aura"
)

// DefaultMaxAttempts — после стольких неудачных попыток сообщение отбрасывается.
const DefaultMaxAttempts = 5

// Envelope — сообщение очереди.
type Envelope struct {
	Request    aura.AwardRequest `json:"request"`
	Attempts   int               `json:"attempts"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	LastError  string            `json:"last_error,omitempty"`
}

// Delivery — полученное из очереди сообщение.
// raw хранит исходную строку: по ней Redis-очередь удаляет сообщение из списка обработки.
type Delivery struct {
	Envelope
	raw string
}

func newEnvelope(req aura.AwardRequest, now time.Time) Envelope {
	return Envelope{Request: req, EnqueuedAt: now.UTC()}
}

func encode(env Envelope) (string, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("ошибка кодирования сообщения: %w", err)
	}
	return string(b), nil
}

func decode(raw string) (*Delivery, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("ошибка декодирования сообщения: %w", err)
	}
	return &Delivery{Envelope: env, raw: raw}, nil
}

// retry возвращает сообщение для повторной попытки.
// Второе значение false — попытки исчерпаны.
func retry(d *Delivery, cause error, maxAttempts int) (Envelope, bool) {
	env := d.Envelope
	env.Attempts++
	if cause != nil {
		env.LastError = cause.Error()
	}
	return env, env.Attempts < maxAttempts
}
