package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/mzaitsev/crypto-order-bot.git/internal/config"
	"github.com/mzaitsev/crypto-order-bot.git/internal/conversation"
	"github.com/mzaitsev/crypto-order-bot.git/internal/cryptopay"
	"github.com/mzaitsev/crypto-order-bot.git/internal/httpx"
	kafkax "github.com/mzaitsev/crypto-order-bot.git/internal/kafka"
	"github.com/mzaitsev/crypto-order-bot.git/internal/ledger"
	"github.com/mzaitsev/crypto-order-bot.git/internal/order"
	"github.com/mzaitsev/crypto-order-bot.git/internal/postgres"
	"github.com/mzaitsev/crypto-order-bot.git/internal/reconciler"
	"github.com/mzaitsev/crypto-order-bot.git/internal/redisx"
	"github.com/mzaitsev/crypto-order-bot.git/internal/tasks"
	"github.com/mzaitsev/crypto-order-bot.git/internal/telegram"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if cfg.BotToken == "" {
		log.Fatal("BOT_TOKEN is required")
	}
	if cfg.CryptoPayToken == "" {
		log.Fatal("CRYPTOPAY_API_TOKEN is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per topic
	pConfirmed := kafkax.NewProducer(cfg.KafkaBrokers, order.TopicOrderConfirmed, 256)
	pInvoiced := kafkax.NewProducer(cfg.KafkaBrokers, order.TopicInvoiceCreated, 256)
	pCancelled := kafkax.NewProducer(cfg.KafkaBrokers, order.TopicOrderCancelled, 256)
	pReceived := kafkax.NewProducer(cfg.KafkaBrokers, order.TopicPaymentReceived, 256)
	pAbandoned := kafkax.NewProducer(cfg.KafkaBrokers, order.TopicPaymentAbandoned, 256)
	pTask := kafkax.NewProducer(cfg.KafkaBrokers, order.TopicTaskCreated, 256)
	producers := []*kafkax.Producer{pConfirmed, pInvoiced, pCancelled, pReceived, pAbandoned, pTask}
	for _, p := range producers {
		p.Start(ctx)
	}

	// collaborators
	gateway := cryptopay.New(cfg.CryptoPayBase, cfg.CryptoPayToken)
	bot := telegram.New(cfg.BotAPIBase, cfg.BotToken)
	store := &tasks.Repo{DB: db}

	// core
	led := ledger.New()
	sessions := conversation.NewSessionStore()

	rec := &reconciler.Reconciler{
		Ledger:            led,
		Gateway:           gateway,
		Store:             store,
		Notifier:          bot,
		Redis:             rdb,
		ProducerReceived:  pReceived,
		ProducerAbandoned: pAbandoned,
		ProducerTask:      pTask,
		ServiceName:       cfg.ServiceName,
		OperatorChatID:    cfg.OperatorChatID,
		Debounce:          cfg.CheckDebounce,
		AttemptsCeiling:   cfg.AttemptsCeiling,
		StoreRetries:      cfg.StoreRetries,
		BackoffStep:       cfg.StoreBackoffStep,
	}

	engine := &conversation.Engine{
		Sessions:          sessions,
		Ledger:            led,
		Gateway:           gateway,
		Pipeline:          rec,
		UnitPrice:         cfg.UnitPrice,
		FeeMultiplier:     cfg.FeeMultiplier,
		ServiceName:       cfg.ServiceName,
		ProducerConfirmed: pConfirmed,
		ProducerInvoiced:  pInvoiced,
		ProducerCancelled: pCancelled,
		ProducerAbandoned: pAbandoned,
	}

	router := httpx.NewRouter()
	bh := &httpx.BotHandler{
		Engine:   engine,
		Ledger:   led,
		Notifier: bot,
		OpsToken: cfg.OpsToken,
	}
	bh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Printf("reconciler started: interval=%s ceiling=%d", cfg.CheckInterval, cfg.AttemptsCeiling)
		err := rec.Run(gctx, cfg.CheckInterval)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	g.Go(func() error {
		// idle-session eviction
		t := time.NewTicker(cfg.SweepEvery)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-t.C:
				if n := sessions.ExpireIdle(now, cfg.SessionTTL); n > 0 {
					log.Printf("session sweep: evicted=%d left=%d", n, sessions.Len())
				}
			}
		}
	})

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Println("shutting down...")
	case <-gctx.Done():
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel()
	if err := g.Wait(); err != nil {
		log.Printf("exit: %v", err)
	}
	for _, p := range producers {
		p.WaitClosed()
	}
}
