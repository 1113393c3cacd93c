package httpx

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mzaitsev/crypto-order-bot.git/internal/conversation"
	"github.com/mzaitsev/crypto-order-bot.git/internal/ledger"
	"github.com/mzaitsev/crypto-order-bot.git/internal/telegram"
)

// BotHandler bridges webhook updates to the conversation engine and
// exposes the operator's ledger views.
type BotHandler struct {
	Engine   *conversation.Engine
	Ledger   *ledger.Ledger
	Notifier *telegram.Client
	OpsToken string
}

func (h *BotHandler) Register(r *chi.Mux) {
	r.Post("/webhook", h.webhook)
	r.Get("/ops/pending", h.opsAuth(h.listPending))
	r.Get("/ops/abandoned", h.opsAuth(h.listAbandoned))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *BotHandler) webhook(w http.ResponseWriter, r *http.Request) {
	var upd telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var (
		reply  conversation.Reply
		chatID int64
	)
	switch {
	case upd.Message != nil && upd.Message.From != nil:
		chatID = upd.Message.Chat.ID
		text := upd.Message.Text
		if strings.HasPrefix(text, "/start") {
			reply = h.Engine.Start(upd.Message.From.ID, chatID)
		} else {
			reply = h.Engine.HandleText(ctx, upd.Message.From.ID, text)
		}
	case upd.CallbackQuery != nil:
		if upd.CallbackQuery.Message != nil {
			chatID = upd.CallbackQuery.Message.Chat.ID
		} else {
			chatID = upd.CallbackQuery.From.ID
		}
		reply = h.Engine.HandleChoice(ctx, upd.CallbackQuery.From.ID, upd.CallbackQuery.Data)
	default:
		// update kind we don't handle; ack so Telegram stops retrying
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.Notifier.SendMessage(ctx, chatID, reply.Text, sendOpts(reply)); err != nil {
		log.Printf("send reply chat=%d: %v", chatID, err)
	}
	w.WriteHeader(http.StatusOK)
}

// sendOpts renders the engine's abstract choice sets as keyboards.
func sendOpts(reply conversation.Reply) *telegram.SendOpts {
	if reply.PayURL != "" || len(reply.Choices) > 0 {
		kb := &telegram.InlineKeyboard{}
		if reply.PayURL != "" {
			kb.Rows = append(kb.Rows, []telegram.InlineButton{{Text: "💳 Оплатить", URL: reply.PayURL}})
		}
		for _, row := range reply.Choices {
			var btns []telegram.InlineButton
			for _, c := range row {
				btns = append(btns, telegram.InlineButton{Text: c.Label, Data: c.Data})
			}
			kb.Rows = append(kb.Rows, btns)
		}
		return &telegram.SendOpts{Inline: kb}
	}
	if len(reply.Keys) > 0 {
		return &telegram.SendOpts{Reply: telegram.NewReplyKeyboard(reply.Keys...)}
	}
	return nil
}

func (h *BotHandler) opsAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.OpsToken == "" || r.Header.Get("X-Ops-Token") != h.OpsToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

type ledgerEntryView struct {
	InvoiceID   string `json:"invoice_id"`
	OrderNumber string `json:"order_number"`
	UserID      int64  `json:"user_id"`
	Amount      string `json:"amount"`
	Attempts    int    `json:"attempts"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

func (h *BotHandler) listPending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toViews(h.Ledger.Pending()))
}

func (h *BotHandler) listAbandoned(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toViews(h.Ledger.Abandoned()))
}

func toViews(entries []ledger.PendingPayment) []ledgerEntryView {
	out := make([]ledgerEntryView, 0, len(entries))
	for _, p := range entries {
		out = append(out, ledgerEntryView{
			InvoiceID:   p.InvoiceID,
			OrderNumber: p.Order.OrderNumber,
			UserID:      p.UserID,
			Amount:      p.Amount.String(),
			Attempts:    p.Attempts,
			Status:      string(p.Status),
			CreatedAt:   p.CreatedAt.Format(time.RFC3339),
		})
	}
	return out
}
