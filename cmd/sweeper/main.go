package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mzaitsev/crypto-order-bot.git/internal/config"
	"github.com/mzaitsev/crypto-order-bot.git/internal/delivery"
	"github.com/mzaitsev/crypto-order-bot.git/internal/postgres"
	"github.com/mzaitsev/crypto-order-bot.git/internal/tasks"
	"github.com/mzaitsev/crypto-order-bot.git/internal/telegram"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	if cfg.BotToken == "" {
		log.Fatal("BOT_TOKEN is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	svc := &delivery.Service{
		Store:    &tasks.Repo{DB: db},
		Notifier: telegram.New(cfg.BotAPIBase, cfg.BotToken),
	}

	go func() {
		log.Printf("delivery sweeper started: interval=%s", cfg.DeliverEvery)
		if err := svc.Run(ctx, cfg.DeliverEvery); err != nil && err != context.Canceled {
			log.Printf("sweeper exit: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down sweeper...")
	cancel()
}
