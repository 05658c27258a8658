// Package api — middleware.go содержит промежуточные обработчики HTTP:
// логирование запросов, восстановление после паники и rate-limiting по IP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RequestLogger логирует каждый запрос: метод, путь, статус, длительность.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"user_id":  c.Param("id"),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"ip":       c.ClientIP(),
		})
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("HTTP-запрос завершился ошибкой")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn("HTTP-запрос отклонён")
		default:
			entry.Debug("HTTP-запрос")
		}
	}
}

// Recovery перехватывает панику в обработчике и отвечает 500.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(log.Fields{
					"component": "panic_recovery",
					"panic":     fmt.Sprintf("%v", r),
					"path":      c.Request.URL.Path,
					"stack":     string(debug.Stack()),
				}).Error("ПАНИКА в обработчике — восстановлено")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code":    50001,
					"message": "внутренняя ошибка",
				})
			}
		}()
		c.Next()
	}
}

// Timeout ограничивает время обработки запроса через контекст.
// Хранилище прерывает запрос по ctx и отвечает StoreWriteFailed.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// limiterTTL — лимитер IP удаляется после стольких минут простоя.
// sweepInterval — как часто просматриваются просроченные лимитеры.
const (
	limiterTTL    = 5 * time.Minute
	sweepInterval = time.Minute
)

type ipLimiter struct {
	limiter *rate.Limiter
	expires time.Time
}

// RateLimiter ограничивает количество запросов с одного IP (token bucket).
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*ipLimiter
	limit     rate.Limit
	burst     int
	now       func() time.Time
	lastSweep time.Time
}

// NewRateLimiter создаёт лимитер на perMinute запросов в минуту.
func NewRateLimiter(perMinute int) *RateLimiter {
	perMinute = max(perMinute, 1)
	return &RateLimiter{
		limiters: make(map[string]*ipLimiter),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    max(perMinute/2, 1),
		now:      time.Now,
	}
}

// Allow сообщает, можно ли пропустить запрос с ключом key.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= sweepInterval {
		rl.sweepLocked(now)
	}

	l, ok := rl.limiters[key]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = l
	}
	l.expires = now.Add(limiterTTL)
	return l.limiter.AllowN(now, 1)
}

// sweepLocked удаляет простаивающие лимитеры. Вызывается под rl.mu.
func (rl *RateLimiter) sweepLocked(now time.Time) {
	for k, l := range rl.limiters {
		if now.After(l.expires) {
			delete(rl.limiters, k)
		}
	}
	rl.lastSweep = now
}

// Middleware возвращает gin-обработчик лимитера.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			log.WithField("ip", c.ClientIP()).Warn("Превышен лимит запросов")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    42902,
				"message": "слишком много запросов, попробуйте позже",
			})
			return
		}
		c.Next()
	}
}
