package delivery

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mzaitsev/crypto-order-bot.git/internal/tasks"
	"github.com/mzaitsev/crypto-order-bot.git/internal/telegram"
)

type Store interface {
	ListReadyForDelivery(ctx context.Context, limit int) ([]tasks.ReadyTask, error)
	MarkDelivered(ctx context.Context, taskID string) error
}

type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts *telegram.SendOpts) error
}

// Service sends finished work back to users: tasks with a delivery
// link set and no notification yet get the link, then are marked so
// they are never sent twice.
type Service struct {
	Store    Store
	Notifier Notifier
	Batch    int
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			sent, errs := s.SweepOnce(ctx)
			if sent > 0 || errs > 0 {
				log.Printf("delivery sweep: sent=%d errors=%d", sent, errs)
			}
		}
	}
}

// SweepOnce processes one batch. Per-task failures are logged and do
// not stop the batch; a task is marked delivered only after the
// message went out.
func (s *Service) SweepOnce(ctx context.Context) (sent, errs int) {
	batch := s.Batch
	if batch <= 0 {
		batch = 50
	}
	ready, err := s.Store.ListReadyForDelivery(ctx, batch)
	if err != nil {
		log.Printf("delivery sweep: list: %v", err)
		return 0, 1
	}
	for _, t := range ready {
		text := fmt.Sprintf("🎉 Ваш заказ готов!\n\n🔢 Номер заказа: #%s\n📹 Ссылка на видео: %s\n\nСпасибо, что воспользовались нашими услугами! ✨",
			t.OrderNumber, t.DeliveryLink)
		if err := s.Notifier.SendMessage(ctx, t.ChatID, text, nil); err != nil {
			log.Printf("delivery sweep: notify task=%s user=%d: %v", t.ID, t.UserID, err)
			errs++
			continue
		}
		if err := s.Store.MarkDelivered(ctx, t.ID); err != nil {
			log.Printf("delivery sweep: mark task=%s: %v", t.ID, err)
			errs++
			continue
		}
		sent++
	}
	return sent, errs
}
