// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: создаёт хранилище, очередь, сервис очков ауры,
// HTTP-сервер, воркеров очереди и планировщик.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/aura-points/internal/api"
	"serotonyl.ru/aura-points/internal/common"
	"serotonyl.ru/aura-points/internal/config"
	"serotonyl.ru/aura-points/internal/db/postgres"
	"serotonyl.ru/aura-points/internal/db/redisdb"
	"serotonyl.ru/aura-points/internal/features/aura"
	"serotonyl.ru/aura-points/internal/jobs"
	"serotonyl.ru/aura-points/internal/metrics"
	"serotonyl.ru/aura-points/internal/queue"
)

// memoryQueueSize — ёмкость очереди бонусов при QUEUE_DRIVER=memory.
const memoryQueueSize = 1024

// followOnQueue — очередь бонусов со стороны и диспетчера, и воркеров.
type followOnQueue interface {
	aura.FollowOnQueue
	jobs.Source
	jobs.Recoverer
	Len(ctx context.Context) (int64, error)
}

// App содержит все компоненты приложения.
type App struct {
	Service   *aura.Service
	Server    *api.Server
	Scheduler *jobs.Scheduler
	Worker    *jobs.FollowOnWorker
	DB        *pgxpool.Pool // nil при STORE_DRIVER=memory
	Redis     *redis.Client // nil, если Redis не нужен

	queue followOnQueue
	wg    sync.WaitGroup
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}
	loc := common.LoadLocation(cfg.AppTimezone)

	m, err := metrics.New()
	if err != nil {
		return nil, fmt.Errorf("ошибка создания метрик: %w", err)
	}

	// === 1. Каталог активностей ===
	catalog, err := aura.NewCatalog(aura.DefaultRules(), cfg.AuraDailyPointCeiling, cfg.AuraCapOverrides)
	if err != nil {
		return nil, fmt.Errorf("ошибка каталога активностей: %w", err)
	}

	// === 2. Хранилище ===
	var store aura.Store
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
		}
		a.DB = pool
		if err := postgres.RunMigrations(ctx, pool, aura.Migrations); err != nil {
			a.Close()
			return nil, fmt.Errorf("ошибка миграций: %w", err)
		}
		store = aura.NewRepository(pool)
	default:
		log.Warn("STORE_DRIVER=memory: начисления не переживут перезапуск")
		store = aura.NewMemoryStore()
	}

	// === 3. Redis ===
	if cfg.QueueDriver == config.DriverRedis || cfg.FeatureProgressObserver {
		client, err := redisdb.NewClient(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = client
	}

	// === 4. Очередь бонусов ===
	switch cfg.QueueDriver {
	case config.DriverRedis:
		a.queue = queue.NewRedisQueue(a.Redis, cfg.AuraQueueKey, queue.DefaultMaxAttempts, m)
	default:
		log.Warn("QUEUE_DRIVER=memory: бонусы в очереди не переживут перезапуск")
		a.queue = queue.NewMemoryQueue(memoryQueueSize, queue.DefaultMaxAttempts, m)
	}

	// === 5. Сервис ===
	opts := []aura.Option{
		aura.WithDispatcher(aura.NewDispatcher(a.queue, m)),
		aura.WithMetrics(m),
	}
	var progress *queue.RedisProgress
	if cfg.FeatureProgressObserver {
		progress = queue.NewRedisProgress(a.Redis, loc)
		opts = append(opts, aura.WithObservers(progress))
	}
	a.Service = aura.NewService(store, catalog, loc, opts...)

	// === 6. HTTP ===
	deps := api.Deps{
		Handler:    aura.NewHandler(a.Service),
		Metrics:    m,
		Checks:     map[string]api.Check{},
		QueueDepth: a.queue.Len,
	}
	if progress != nil {
		deps.Progress = progress
	}
	if a.DB != nil {
		deps.Checks["postgres"] = a.DB.Ping
	}
	if a.Redis != nil {
		deps.Checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	a.Server = api.NewServer(cfg, api.NewRouter(cfg, deps))

	// === 7. Фоновые задачи ===
	a.Worker = jobs.NewFollowOnWorker(a.queue, a.Service, cfg.AuraFollowOnWorkers, m)
	a.Scheduler = jobs.NewScheduler(loc, a.Service, a.queue)

	log.WithFields(log.Fields{
		"store":    cfg.StoreDriver,
		"queue":    cfg.QueueDriver,
		"ceiling":  catalog.DailyPointCeiling(),
		"timezone": loc.String(),
	}).Info("Приложение собрано")
	return a, nil
}

// Run запускает воркеров, планировщик и HTTP-сервер.
// Возвращает ошибку, если HTTP-сервер не смог стартовать.
func (a *App) Run(ctx context.Context) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Worker.Run(ctx)
	}()

	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("ошибка запуска планировщика: %w", err)
	}
	return a.Server.Start()
}

// Shutdown останавливает сервер, дожидается воркеров и закрывает соединения.
// ctx воркеров должен быть уже отменён вызывающей стороной.
func (a *App) Shutdown(ctx context.Context) {
	if err := a.Server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Ошибка остановки HTTP-сервера")
	}
	a.Scheduler.Stop()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("Воркеры очереди не успели остановиться")
	}
	a.Close()
}

// Close закрывает соединения с БД и Redis.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.WithError(err).Warn("Ошибка закрытия Redis")
		}
	}
}
