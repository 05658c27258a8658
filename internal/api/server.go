// Package api поднимает HTTP-сервер движка очков ауры.
//
// Маршруты:
//
//	POST /api/v1/users/:id/awards        — начисление
//	GET  /api/v1/users/:id/stats         — статистика
//	GET  /api/v1/users/:id/transactions  — последние транзакции
//	GET  /api/v1/users/:id/progress      — недельный прогресс (если включён)
//	GET  /api/v1/activities              — каталог активностей
//	GET  /healthz                        — состояние зависимостей
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/aura-points/internal/config"
	"serotonyl.ru/aura-points/internal/features/aura"
	"serotonyl.ru/aura-points/internal/metrics"
)

// ProgressReader читает недельный прогресс пользователя.
type ProgressReader interface {
	Weekly(ctx context.Context, userID string) (map[string]int64, error)
}

// Check — проверка одной зависимости для /healthz.
type Check func(ctx context.Context) error

// Deps — зависимости HTTP-слоя.
type Deps struct {
	Handler    *aura.Handler
	Progress   ProgressReader // nil — маршрут прогресса не регистрируется
	Metrics    *metrics.Aura
	Checks     map[string]Check
	QueueDepth func(ctx context.Context) (int64, error) // nil — глубина очереди не показывается
}

// NewRouter собирает gin-роутер.
func NewRouter(cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(Recovery())
	r.Use(RequestLogger())
	r.Use(cors.New(corsConfig(cfg.HTTPAllowedOrigins)))

	r.GET("/healthz", healthHandler(deps))

	v1 := r.Group("/api/v1")
	v1.Use(NewRateLimiter(cfg.RateLimitPerMinute).Middleware())
	v1.Use(Timeout(cfg.HTTPRequestTimeout))
	deps.Handler.Register(v1)
	if deps.Progress != nil {
		v1.GET("/users/:id/progress", progressHandler(deps.Progress))
	}
	return r
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type"},
		ExposeHeaders: []string{"Content-Length", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}

func healthHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := make(map[string]string, len(deps.Checks))
		for name, check := range deps.Checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				checks[name] = err.Error()
				continue
			}
			checks[name] = "ok"
		}
		body := gin.H{
			"checks":          checks,
			"lost_follow_ons": deps.Metrics.LostFollowOns(),
		}
		if deps.QueueDepth != nil {
			depth, err := deps.QueueDepth(ctx)
			if err != nil {
				status = http.StatusServiceUnavailable
				checks["queue"] = err.Error()
			} else {
				body["queue_depth"] = depth
			}
		}
		body["status"] = http.StatusText(status)
		c.JSON(status, body)
	}
}

func progressHandler(p ProgressReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		progress, err := p.Weekly(c.Request.Context(), c.Param("id"))
		if err != nil {
			log.WithError(err).Error("Ошибка чтения прогресса")
			c.JSON(http.StatusServiceUnavailable, gin.H{"code": 50302, "message": "прогресс недоступен"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": progress})
	}
}

// Server — HTTP-сервер с корректной остановкой.
type Server struct {
	srv *http.Server
}

// NewServer создаёт сервер на cfg.HTTPAddr.
func NewServer(cfg *config.Config, handler http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTPRequestTimeout + 5*time.Second,
		WriteTimeout:      cfg.HTTPRequestTimeout + 5*time.Second,
	}}
}

// Start блокируется до остановки сервера.
func (s *Server) Start() error {
	log.WithField("addr", s.srv.Addr).Info("HTTP-сервер запущен")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown дожидается завершения активных запросов.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	log.Info("HTTP-сервер остановлен")
	return err
}
