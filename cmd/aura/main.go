// Package main — точка входа сервиса очков ауры.
// Загружает конфигурацию, собирает приложение и запускает HTTP-сервер.
// Поддерживает graceful shutdown по SIGINT/SIGTERM.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"serotonyl.ru/aura-points/internal/app"
	"serotonyl.ru/aura-points/internal/config"
)

// shutdownTimeout — сколько ждём завершения активных запросов и воркеров.
const shutdownTimeout = 15 * time.Second

func main() {
	setupLogging()

	log.Info("=== Сервис очков ауры запускается ===")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Не удалось загрузить конфигурацию")
	}
	configureLogging(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Не удалось инициализировать приложение")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- application.Run(ctx) }()

	log.Info("=== Сервис готов к работе ===")

	select {
	case <-ctx.Done():
		log.Info("Получен сигнал остановки, останавливаемся...")
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("Сервис остановился с ошибкой")
		}
		cancel()
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	application.Shutdown(shutdownCtx)

	log.Info("=== Сервис остановлен ===")
}

// setupLogging настраивает формат логов до загрузки конфигурации.
func setupLogging() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.DebugLevel)
}

// configureLogging применяет уровень логирования и, если задан APP_LOG_PATH,
// дублирует логи в файл с ротацией. В production логи пишутся в JSON.
func configureLogging(cfg *config.Config) {
	if level, err := log.ParseLevel(cfg.AppLogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.WithField("level", cfg.AppLogLevel).Warn("Неизвестный уровень логирования, оставляем debug")
	}

	if cfg.AppEnv == "production" {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339})
	}

	if cfg.AppLogPath != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.AppLogPath,
			MaxSize:    100, // мегабайт
			MaxBackups: 3,
			MaxAge:     7, // дней
			Compress:   true,
		}
		log.SetOutput(io.MultiWriter(os.Stdout, file))
	}
}
