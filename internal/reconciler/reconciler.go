package reconciler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/mzaitsev/crypto-order-bot.git/internal/cryptopay"
	kafkax "github.com/mzaitsev/crypto-order-bot.git/internal/kafka"
	"github.com/mzaitsev/crypto-order-bot.git/internal/ledger"
	"github.com/mzaitsev/crypto-order-bot.git/internal/order"
	"github.com/mzaitsev/crypto-order-bot.git/internal/redisx"
	"github.com/mzaitsev/crypto-order-bot.git/internal/tasks"
	"github.com/mzaitsev/crypto-order-bot.git/internal/telegram"
)

type Gateway interface {
	GetInvoiceStatus(ctx context.Context, invoiceID string) (string, error)
}

type TaskStore interface {
	CreateTask(ctx context.Context, in tasks.TaskInput) (string, error)
	ExistsForInvoice(ctx context.Context, invoiceID string) (bool, error)
}

type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts *telegram.SendOpts) error
}

// EventSink is satisfied by *kafka.Producer; nil sinks are skipped.
type EventSink interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Reconciler polls the gateway for pending invoices and turns confirmed
// payments into tasks. It is the only writer that resolves ledger
// entries; each entry is processed to completion within one tick.
type Reconciler struct {
	Ledger   *ledger.Ledger
	Gateway  Gateway
	Store    TaskStore
	Notifier Notifier
	Redis    *redis.Client // nil disables the dedup fast path

	ProducerReceived  EventSink
	ProducerAbandoned EventSink
	ProducerTask      EventSink

	ServiceName    string
	OperatorChatID int64 // 0 = no operator channel

	Debounce        time.Duration
	AttemptsCeiling int
	StoreRetries    int
	BackoffStep     time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Reconciler) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run drives ticks on a fixed interval until ctx is cancelled. Ticks
// run sequentially; a slow tick simply delays the next one.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.Tick(ctx)
		}
	}
}

// Tick polls every due entry once and advances it.
func (r *Reconciler) Tick(ctx context.Context) {
	now := r.now()
	due := r.Ledger.ListDueForCheck(now, r.Debounce)
	for _, p := range due {
		attempts, err := r.Ledger.MarkChecked(p.InvoiceID, now)
		if err != nil {
			continue // removed since listing (user cancel)
		}
		p.Attempts = attempts

		status, err := r.Gateway.GetInvoiceStatus(ctx, p.InvoiceID)
		if err != nil {
			log.Printf("poll invoice=%s attempt=%d: %v", p.InvoiceID, attempts, err)
		}
		r.cacheStatus(ctx, p.InvoiceID, status)

		switch status {
		case cryptopay.StatusPaid:
			if err := r.Complete(ctx, p); err != nil {
				log.Printf("complete invoice=%s: %v", p.InvoiceID, err)
			}
		case cryptopay.StatusExpired:
			r.abandon(ctx, p, "EXPIRED", "⌛ Счет истек, оплата не поступила. Отправьте /start, чтобы оформить заказ заново.")
		default:
			// active or unknown: local backstop against a gateway that
			// never answers
			if attempts > r.AttemptsCeiling {
				r.abandon(ctx, p, "ATTEMPTS_EXHAUSTED", "⌛ Мы не дождались подтверждения оплаты. Отправьте /start, чтобы оформить заказ заново.")
			}
		}
	}
}

// Complete is the completion pipeline: at most one task per invoice,
// retried on failure, never retried on success. Safe to call from the
// manual check path and from orphan recovery as well as from ticks.
func (r *Reconciler) Complete(ctx context.Context, p ledger.PendingPayment) error {
	done, err := r.alreadyResolved(ctx, p.InvoiceID)
	if err != nil {
		return err
	}
	if done {
		r.Ledger.Remove(p.InvoiceID)
		return nil
	}

	// ErrNotFound is fine here: orphan replays have no ledger entry
	_ = r.Ledger.SetStatus(p.InvoiceID, ledger.StatusPaidProcessing)

	taskID, err := r.createWithRetry(ctx, tasks.FromOrder(p.Order, p.InvoiceID, p.UserID, p.ChatID))
	if err != nil {
		// a confirmed payment is at stake: flag it everywhere, keep the
		// ledger entry parked for manual review
		r.escalateStoreFailure(ctx, p, err)
		_ = r.Ledger.SetStatus(p.InvoiceID, ledger.StatusAbandoned)
		r.publish(r.ProducerAbandoned, order.EventPaymentAbandoned, p.InvoiceID, order.PaymentAbandonedPayload{
			InvoiceID:   p.InvoiceID,
			OrderNumber: p.Order.OrderNumber,
			Reason:      "STORE_FAILED",
			Attempts:    p.Attempts,
		})
		return fmt.Errorf("create task for invoice %s: %w", p.InvoiceID, err)
	}

	r.markResolved(ctx, p.InvoiceID)
	_ = r.Ledger.SetStatus(p.InvoiceID, ledger.StatusResolved)
	r.Ledger.Remove(p.InvoiceID)

	text := fmt.Sprintf("🎉 Оплата подтверждена!\n\n✅ Заказ #%s успешно создан и передан в работу (счет %s).\nМы уведомим вас, когда адаптация будет готова.",
		p.Order.OrderNumber, p.InvoiceID)
	if err := r.Notifier.SendMessage(ctx, p.ChatID, text, nil); err != nil {
		log.Printf("notify user=%d: %v", p.UserID, err) // non-fatal
	}

	r.publish(r.ProducerReceived, order.EventPaymentReceived, p.InvoiceID, order.PaymentReceivedPayload{
		InvoiceID:   p.InvoiceID,
		OrderNumber: p.Order.OrderNumber,
		Amount:      p.Amount,
		Attempts:    p.Attempts,
	})
	r.publish(r.ProducerTask, order.EventTaskCreated, p.InvoiceID, order.TaskCreatedPayload{
		TaskID:      taskID,
		InvoiceID:   p.InvoiceID,
		OrderNumber: p.Order.OrderNumber,
	})
	return nil
}

// RecoverOrphan replays the completion pipeline for a paid invoice the
// ledger no longer knows, with a minimal snapshot rebuilt from what the
// user supplied.
func (r *Reconciler) RecoverOrphan(ctx context.Context, userID, chatID int64, invoiceID, orderNumber string) error {
	if invoiceID == "" {
		return fmt.Errorf("recover orphan: empty invoice id")
	}
	o := order.Order{
		OrderNumber:    orderNumber,
		ItemCount:      1,
		Items:          []order.Item{{}},
		AdditionalInfo: "Восстановлен после сбоя, уточнить детали у клиента",
		CreatedAt:      r.now(),
	}
	p := ledger.PendingPayment{
		InvoiceID: invoiceID,
		Order:     o,
		UserID:    userID,
		ChatID:    chatID,
		CreatedAt: r.now(),
		Status:    ledger.StatusPending,
	}
	return r.Complete(ctx, p)
}

func (r *Reconciler) abandon(ctx context.Context, p ledger.PendingPayment, reason, userText string) {
	r.Ledger.Remove(p.InvoiceID)
	if err := r.Notifier.SendMessage(ctx, p.ChatID, userText, nil); err != nil {
		log.Printf("notify user=%d: %v", p.UserID, err)
	}
	r.publish(r.ProducerAbandoned, order.EventPaymentAbandoned, p.InvoiceID, order.PaymentAbandonedPayload{
		InvoiceID:   p.InvoiceID,
		OrderNumber: p.Order.OrderNumber,
		Reason:      reason,
		Attempts:    p.Attempts,
	})
}

func (r *Reconciler) createWithRetry(ctx context.Context, in tasks.TaskInput) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= r.StoreRetries; attempt++ {
		taskID, err := r.Store.CreateTask(ctx, in)
		if err == nil {
			return taskID, nil
		}
		lastErr = err
		log.Printf("create task invoice=%s attempt=%d/%d: %v", in.InvoiceID, attempt, r.StoreRetries, err)
		if attempt < r.StoreRetries {
			if err := r.sleep(ctx, time.Duration(attempt)*r.BackoffStep); err != nil {
				return "", err
			}
		}
	}
	return "", lastErr
}

// alreadyResolved checks the Redis dedup key first, the store second.
// The store is the truth; Redis just saves a query.
func (r *Reconciler) alreadyResolved(ctx context.Context, invoiceID string) (bool, error) {
	if r.Redis != nil {
		key := fmt.Sprintf(redisx.KeyDedupInvoice, r.ServiceName, invoiceID)
		if ok, err := redisx.Exists(ctx, r.Redis, key); err == nil && ok {
			return true, nil
		}
	}
	return r.Store.ExistsForInvoice(ctx, invoiceID)
}

// cacheStatus keeps the last seen gateway status around for ops
// lookups without another gateway round trip.
func (r *Reconciler) cacheStatus(ctx context.Context, invoiceID, status string) {
	if r.Redis == nil || status == cryptopay.StatusUnknown {
		return
	}
	key := fmt.Sprintf(redisx.KeyInvoiceStatus, invoiceID)
	if err := r.Redis.Set(ctx, key, status, redisx.TTLStatusCache).Err(); err != nil {
		log.Printf("status cache invoice=%s: %v", invoiceID, err)
	}
}

func (r *Reconciler) markResolved(ctx context.Context, invoiceID string) {
	if r.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyDedupInvoice, r.ServiceName, invoiceID)
	if err := r.Redis.Set(ctx, key, "1", redisx.TTLDedup).Err(); err != nil {
		log.Printf("dedup set invoice=%s: %v", invoiceID, err)
	}
}

func (r *Reconciler) escalateStoreFailure(ctx context.Context, p ledger.PendingPayment, cause error) {
	userText := fmt.Sprintf("⚠️ Оплата получена, но заказ не удалось передать в работу.\nСчет: %s, заказ: #%s.\nМы уже занимаемся этим вручную.",
		p.InvoiceID, p.Order.OrderNumber)
	if err := r.Notifier.SendMessage(ctx, p.ChatID, userText, nil); err != nil {
		log.Printf("notify user=%d: %v", p.UserID, err)
	}
	if r.OperatorChatID != 0 {
		opText := fmt.Sprintf("🚨 Оплаченный счет не попал в работу: invoice=%s order=#%s user=%d\nПричина: %v",
			p.InvoiceID, p.Order.OrderNumber, p.UserID, cause)
		if err := r.Notifier.SendMessage(ctx, r.OperatorChatID, opText, nil); err != nil {
			log.Printf("notify operator: %v", err)
		}
	}
}

func (r *Reconciler) publish(sink EventSink, eventType, corrID string, payload any) {
	if sink == nil {
		return
	}
	ev := order.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    r.now().UTC(),
		Producer:      r.ServiceName,
		CorrelationID: corrID,
		Payload:       kafkax.MustMarshal(payload),
	}
	sink.Publish(order.PartitionKey(corrID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
