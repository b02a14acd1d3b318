package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/watchlist-kata/movietracker/api/server"
	"github.com/watchlist-kata/movietracker/internal/config"
	"github.com/watchlist-kata/movietracker/pkg/logger"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	// Инициализация кастомного логгера
	customLogger, err := logger.NewLogger(logger.Config{
		ServiceName:  cfg.ServiceName,
		Level:        logger.ParseLevel(cfg.LogLevel),
		BufferSize:   cfg.LogBufferSize,
		LogDir:       cfg.LogDir,
		KafkaBrokers: cfg.KafkaBrokers,
		KafkaTopic:   cfg.KafkaTopic,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Close(customLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Запуск серверов
	if err = server.RunServer(ctx, cfg, customLogger); err != nil {
		customLogger.Error("server stopped with error", "error", err)
		logger.Close(customLogger)
		os.Exit(1)
	}
}
