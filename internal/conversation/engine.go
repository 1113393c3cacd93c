package conversation

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/mzaitsev/crypto-order-bot.git/internal/cryptopay"
	kafkax "github.com/mzaitsev/crypto-order-bot.git/internal/kafka"
	"github.com/mzaitsev/crypto-order-bot.git/internal/ledger"
	"github.com/mzaitsev/crypto-order-bot.git/internal/order"
)

var (
	orderNumberRe = regexp.MustCompile(`^[0-9]+$`)
	maxWinning    = decimal.NewFromInt(1_000_000)
)

// Gateway is the invoice side of the payment gateway the engine needs.
type Gateway interface {
	CreateInvoice(ctx context.Context, amount decimal.Decimal, description, externalOrderID string) (cryptopay.Invoice, error)
	GetInvoiceStatus(ctx context.Context, invoiceID string) (string, error)
}

// Pipeline is the reconciler's completion entry point, used for manual
// payment checks and orphan recovery.
type Pipeline interface {
	Complete(ctx context.Context, p ledger.PendingPayment) error
	RecoverOrphan(ctx context.Context, userID, chatID int64, invoiceID, orderNumber string) error
}

// EventSink is satisfied by *kafka.Producer; nil sinks are skipped.
type EventSink interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Choice is one inline button the transport should render.
type Choice struct {
	Label string
	Data  string
}

// Reply is what the engine wants shown next. Rendering is the
// transport's business.
type Reply struct {
	Text    string
	Choices [][]Choice // inline buttons
	Keys    [][]string // reply keyboard shortcuts
	PayURL  string     // rendered as a URL button when set
}

// Engine drives the per-user order dialogue. Per-user input arrives
// strictly sequentially; shared state lives in Sessions and Ledger.
type Engine struct {
	Sessions *SessionStore
	Ledger   *ledger.Ledger
	Gateway  Gateway
	Pipeline Pipeline

	UnitPrice     decimal.Decimal
	FeeMultiplier decimal.Decimal
	ServiceName   string

	ProducerConfirmed EventSink
	ProducerInvoiced  EventSink
	ProducerCancelled EventSink
	ProducerAbandoned EventSink

	Now func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Start (re)initializes the user's session. A running dialogue is
// replaced wholesale.
func (e *Engine) Start(userID, chatID int64) Reply {
	now := e.now()
	e.Sessions.Put(&Session{
		UserID:    userID,
		ChatID:    chatID,
		State:     StateAwaitingOrderNumber,
		Order:     order.Order{CreatedAt: now},
		CreatedAt: now,
		UpdatedAt: now,
	})
	return Reply{Text: "👋 Добро пожаловать! Я помогу оформить заказ и оплатить его криптовалютой.\n\n📋 Для начала введите номер вашего заказа:"}
}

// HandleText routes free-text input by the current state. Invalid input
// re-emits an error prompt and leaves session and order untouched.
func (e *Engine) HandleText(ctx context.Context, userID int64, text string) Reply {
	sess, ok := e.Sessions.Get(userID)
	if !ok {
		return Reply{Text: "Отправьте /start, чтобы начать оформление заказа."}
	}
	text = strings.TrimSpace(text)

	switch sess.State {
	case StateAwaitingOrderNumber:
		if !orderNumberRe.MatchString(text) {
			return Reply{Text: "❌ Номер заказа должен состоять только из цифр. Попробуйте еще раз:"}
		}
		sess.Order.OrderNumber = text
		e.advance(sess, StateSelectingItemCount)
		return e.promptFor(sess)

	case StateSelectingItemCount:
		n, err := strconv.Atoi(text)
		if err != nil || !order.ValidItemCount(n) {
			return Reply{Text: "❌ Выберите количество из предложенных вариантов:", Keys: itemCountKeys()}
		}
		return e.setItemCount(sess, n)

	case StateEnteringBank:
		if len([]rune(text)) < 2 {
			return Reply{Text: "❌ Пожалуйста, введите корректное название банка:"}
		}
		sess.Order.Bank = text
		e.advance(sess, StateEnteringWinningAmount)
		return e.promptFor(sess)

	case StateEnteringWinningAmount:
		amt, err := decimal.NewFromString(strings.ReplaceAll(text, ",", "."))
		if err != nil || !amt.IsPositive() || amt.GreaterThan(maxWinning) {
			return Reply{Text: "❌ Пожалуйста, введите корректную сумму выигрыша (например: 1000):"}
		}
		sess.Order.WinningAmount = amt
		e.advance(sess, StateEnteringAdditionalInfo)
		return e.promptFor(sess)

	case StateEnteringAdditionalInfo:
		sess.Order.AdditionalInfo = normalizeInscription(text)
		e.advance(sess, StateConfirmation)
		return e.promptFor(sess)

	case StateRecoveringOrder:
		if !orderNumberRe.MatchString(text) {
			return Reply{Text: "❌ Номер заказа должен состоять только из цифр. Попробуйте еще раз:"}
		}
		if err := e.Pipeline.RecoverOrphan(ctx, sess.UserID, sess.ChatID, sess.InvoiceID, text); err != nil {
			log.Printf("orphan recovery failed: user=%d invoice=%s: %v", sess.UserID, sess.InvoiceID, err)
			return Reply{Text: "❌ Не удалось восстановить заказ. Попробуйте позже или обратитесь в поддержку."}
		}
		e.Sessions.Delete(sess.UserID)
		return Reply{Text: fmt.Sprintf("✅ Заказ #%s восстановлен и передан в работу. Спасибо!", text)}

	default:
		// states that expect a button press, not text
		return e.promptFor(sess)
	}
}

// HandleChoice routes discrete choices (callback data). Unknown or
// out-of-state choices re-emit the current prompt without mutating
// anything.
func (e *Engine) HandleChoice(ctx context.Context, userID int64, data string) Reply {
	sess, ok := e.Sessions.Get(userID)
	if !ok {
		return Reply{Text: "Отправьте /start, чтобы начать оформление заказа."}
	}

	switch {
	case data == ChoiceCancel:
		return e.cancel(sess)

	case strings.HasPrefix(data, prefixCount) && sess.State == StateSelectingItemCount:
		n, err := strconv.Atoi(strings.TrimPrefix(data, prefixCount))
		if err != nil || !order.ValidItemCount(n) {
			return e.promptFor(sess)
		}
		return e.setItemCount(sess, n)

	case strings.HasPrefix(data, prefixLocal) && sess.State == StateSelectingLocalization:
		loc, ok := order.LocalizationByID(strings.TrimPrefix(data, prefixLocal))
		if !ok {
			return Reply{Text: "❌ Пожалуйста, выберите вариант из предложенных:", Choices: localizationChoices()}
		}
		sess.Order.Items[sess.ItemIndex].Localization = loc.Name
		e.advance(sess, StateSelectingCurrency)
		return e.promptFor(sess)

	case strings.HasPrefix(data, prefixCurrency) && sess.State == StateSelectingCurrency:
		cur := strings.TrimPrefix(data, prefixCurrency)
		if !order.ValidCurrency(cur) {
			return Reply{Text: "❌ Пожалуйста, выберите валюту из предложенных:", Choices: currencyChoices()}
		}
		sess.Order.Items[sess.ItemIndex].Currency = cur
		if sess.ItemIndex+1 < sess.Order.ItemCount {
			sess.ItemIndex++
			e.advance(sess, StateSelectingLocalization)
		} else {
			e.advance(sess, StateEnteringBank)
		}
		return e.promptFor(sess)

	case data == ChoiceConfirm && sess.State == StateConfirmation:
		return e.confirm(ctx, sess)

	case data == ChoiceCheckPayment && sess.State == StateAwaitingPayment:
		return e.checkPayment(ctx, sess)

	case data == ChoiceCancelPayment && sess.State == StateAwaitingPayment:
		return e.cancel(sess)

	default:
		return e.promptFor(sess)
	}
}

func (e *Engine) setItemCount(sess *Session, n int) Reply {
	sess.Order.ItemCount = n
	sess.Order.Items = make([]order.Item, n)
	sess.ItemIndex = 0
	e.advance(sess, StateSelectingLocalization)
	return e.promptFor(sess)
}

func (e *Engine) advance(sess *Session, to State) {
	e.Sessions.Advance(sess, to, e.now())
}

// confirm prices the snapshot once, creates the invoice and registers
// it in the ledger. A gateway failure keeps the session in
// confirmation so the user can retry.
func (e *Engine) confirm(ctx context.Context, sess *Session) Reply {
	snap := sess.Order.Snapshot()
	snap.TotalAmount = order.ComputeTotal(snap.ItemCount, e.UnitPrice, e.FeeMultiplier)

	inv, err := e.Gateway.CreateInvoice(ctx, snap.TotalAmount,
		fmt.Sprintf("Заказ адаптации видео #%s", snap.OrderNumber), snap.OrderNumber)
	if err != nil {
		log.Printf("create invoice: user=%d order=%s: %v", sess.UserID, snap.OrderNumber, err)
		return Reply{
			Text:    "❌ Не удалось создать счет для оплаты. Попробуйте еще раз:",
			Choices: confirmChoices(),
		}
	}

	if err := e.Ledger.Put(ledger.PendingPayment{
		InvoiceID: inv.ID,
		Order:     snap,
		UserID:    sess.UserID,
		ChatID:    sess.ChatID,
		Amount:    inv.Amount,
		PayURL:    inv.PayURL,
		CreatedAt: e.now(),
	}); err != nil {
		log.Printf("ledger put: invoice=%s: %v", inv.ID, err)
		return Reply{Text: "❌ Произошла ошибка при регистрации счета. Обратитесь в поддержку."}
	}

	sess.InvoiceID = inv.ID
	e.advance(sess, StateAwaitingPayment)

	e.publish(e.ProducerConfirmed, order.EventOrderConfirmed, snap.OrderNumber, order.OrderConfirmedPayload{
		OrderNumber: snap.OrderNumber,
		UserID:      sess.UserID,
		ItemCount:   snap.ItemCount,
		TotalAmount: snap.TotalAmount,
	})
	e.publish(e.ProducerInvoiced, order.EventInvoiceCreated, inv.ID, order.InvoiceCreatedPayload{
		InvoiceID:   inv.ID,
		OrderNumber: snap.OrderNumber,
		Amount:      inv.Amount,
		PayURL:      inv.PayURL,
	})

	return Reply{
		Text: fmt.Sprintf("💳 Счет для оплаты создан!\n\n💰 Сумма: %s USDT\n📝 Заказ #%s\n\n⏰ Счет действителен 15 минут",
			inv.Amount.String(), snap.OrderNumber),
		PayURL:  inv.PayURL,
		Choices: paymentChoices(),
	}
}

// checkPayment is the manual "check payment" affordance. A paid invoice
// missing from the ledger routes into orphan recovery.
func (e *Engine) checkPayment(ctx context.Context, sess *Session) Reply {
	if sess.InvoiceID == "" {
		return Reply{Text: "❌ Информация о счете не найдена. Отправьте /start, чтобы начать заново."}
	}

	status, err := e.Gateway.GetInvoiceStatus(ctx, sess.InvoiceID)
	if err != nil {
		log.Printf("check payment: invoice=%s: %v", sess.InvoiceID, err)
		return Reply{Text: "❌ Не удалось проверить оплату. Попробуйте позже.", Choices: paymentChoices()}
	}

	switch status {
	case cryptopay.StatusPaid:
		entry, ok := e.Ledger.Get(sess.InvoiceID)
		if !ok {
			// paid at the gateway, unknown locally: restart lost the
			// ledger; collect order identity and replay completion
			e.advance(sess, StateRecoveringOrder)
			return Reply{Text: "⚠️ Оплата получена, но данные заказа были утеряны.\n\n📋 Введите номер вашего заказа для восстановления:"}
		}
		if err := e.Pipeline.Complete(ctx, entry); err != nil {
			log.Printf("completion failed: invoice=%s: %v", sess.InvoiceID, err)
			e.Sessions.Delete(sess.UserID)
			return Reply{Text: fmt.Sprintf("⚠️ Оплата получена, но заказ не удалось передать в работу.\nСчет: %s, заказ: #%s.\nМы уже занимаемся этим вручную.",
				entry.InvoiceID, entry.Order.OrderNumber)}
		}
		e.Sessions.Delete(sess.UserID)
		return Reply{Text: fmt.Sprintf("🎉 Оплата подтверждена!\n\n✅ Заказ #%s успешно создан и передан в работу.\nМы уведомим вас, когда адаптация будет готова.",
			entry.Order.OrderNumber)}

	case cryptopay.StatusExpired:
		entry, _ := e.Ledger.Get(sess.InvoiceID)
		e.Ledger.Remove(sess.InvoiceID)
		e.Sessions.Delete(sess.UserID)
		e.publish(e.ProducerAbandoned, order.EventPaymentAbandoned, sess.InvoiceID, order.PaymentAbandonedPayload{
			InvoiceID:   sess.InvoiceID,
			OrderNumber: sess.Order.OrderNumber,
			Reason:      "EXPIRED",
			Attempts:    entry.Attempts,
		})
		return Reply{Text: "⌛ Счет истек. Отправьте /start, чтобы оформить заказ заново."}

	case cryptopay.StatusActive:
		return Reply{Text: "❌ Оплата еще не поступила. Пожалуйста, попробуйте позже.", Choices: paymentChoices()}

	default:
		return Reply{Text: "❌ Статус оплаты временно недоступен. Попробуйте позже.", Choices: paymentChoices()}
	}
}

// cancel clears the session and, mid-payment, removes the ledger entry
// in the same step so the reconciler never sees a cancelled invoice.
// Gateway-side invoice cancellation is not requested; the invoice just
// expires.
func (e *Engine) cancel(sess *Session) Reply {
	if sess.InvoiceID != "" {
		e.Ledger.Remove(sess.InvoiceID)
	}
	e.Sessions.Delete(sess.UserID)
	e.publish(e.ProducerCancelled, order.EventOrderCancelled, sess.Order.OrderNumber, order.OrderCancelledPayload{
		OrderNumber: sess.Order.OrderNumber,
		UserID:      sess.UserID,
		InvoiceID:   sess.InvoiceID,
	})
	return Reply{Text: "❌ Заказ отменен. Отправьте /start, чтобы начать заново."}
}

// promptFor re-emits the prompt of the current state.
func (e *Engine) promptFor(sess *Session) Reply {
	switch sess.State {
	case StateAwaitingOrderNumber:
		return Reply{Text: "📋 Введите номер вашего заказа:"}
	case StateSelectingItemCount:
		return Reply{Text: "📦 Выберите количество адаптаций:", Keys: itemCountKeys()}
	case StateSelectingLocalization:
		return Reply{
			Text:    fmt.Sprintf("🌍 Выберите локализацию для адаптации %d из %d:", sess.ItemIndex+1, sess.Order.ItemCount),
			Choices: localizationChoices(),
		}
	case StateSelectingCurrency:
		return Reply{
			Text:    fmt.Sprintf("💱 Выберите валюту для адаптации %d из %d:", sess.ItemIndex+1, sess.Order.ItemCount),
			Choices: currencyChoices(),
		}
	case StateEnteringBank:
		return Reply{Text: "🏦 Введите название банка:"}
	case StateEnteringWinningAmount:
		return Reply{Text: "🎉 Введите сумму вашего выигрыша (только цифры, например: 1000):"}
	case StateEnteringAdditionalInfo:
		return Reply{Text: "🔤 Введите текст надписи на товаре:\n(или отправьте \"нет\", если надпись не нужна)"}
	case StateConfirmation:
		preview := sess.Order.Snapshot()
		preview.TotalAmount = order.ComputeTotal(preview.ItemCount, e.UnitPrice, e.FeeMultiplier)
		return Reply{
			Text:    order.Summary(preview) + "\n\n➡️ Всё верно? Создать инвойс для оплаты?",
			Choices: confirmChoices(),
		}
	case StateAwaitingPayment:
		return Reply{Text: "💳 Счет ожидает оплаты.", Choices: paymentChoices()}
	case StateRecoveringOrder:
		return Reply{Text: "📋 Введите номер вашего заказа для восстановления:"}
	default:
		return Reply{Text: "Отправьте /start, чтобы начать оформление заказа."}
	}
}

func (e *Engine) publish(sink EventSink, eventType, corrID string, payload any) {
	if sink == nil {
		return
	}
	ev := order.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    e.now().UTC(),
		Producer:      e.ServiceName,
		CorrelationID: corrID,
		Payload:       kafkax.MustMarshal(payload),
	}
	sink.Publish(order.PartitionKey(corrID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

// normalizeInscription maps the "no inscription" tokens to the
// canonical marker; everything else is stored verbatim.
func normalizeInscription(text string) string {
	switch strings.ToLower(text) {
	case "", "нет", "no":
		return order.NoInscription
	}
	return text
}

func itemCountKeys() [][]string {
	return [][]string{{"1", "2", "3"}, {"4", "5", "6"}}
}

func localizationChoices() [][]Choice {
	var rows [][]Choice
	row := make([]Choice, 0, 2)
	for _, l := range order.Localizations {
		row = append(row, Choice{Label: l.Name, Data: prefixLocal + l.ID})
		if len(row) == 2 {
			rows = append(rows, row)
			row = make([]Choice, 0, 2)
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return rows
}

func currencyChoices() [][]Choice {
	row := make([]Choice, 0, len(order.Currencies))
	for _, c := range order.Currencies {
		row = append(row, Choice{Label: c, Data: prefixCurrency + c})
	}
	return [][]Choice{row}
}

func confirmChoices() [][]Choice {
	return [][]Choice{
		{{Label: "✅ Да, создать инвойс", Data: ChoiceConfirm}},
		{{Label: "❌ Нет, начать заново", Data: ChoiceCancel}},
	}
}

func paymentChoices() [][]Choice {
	return [][]Choice{
		{{Label: "✅ Проверить оплату", Data: ChoiceCheckPayment}},
		{{Label: "❌ Отменить заказ", Data: ChoiceCancelPayment}},
	}
}
