package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mzaitsev/crypto-order-bot.git/internal/order"
)

// StoreError marks task store failures; the completion pipeline retries
// them a bounded number of times and then escalates.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("tasks %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

type TaskInput struct {
	InvoiceID      string
	OrderNumber    string
	UserID         int64
	ChatID         int64
	ItemCount      int
	Localizations  string
	Currencies     string
	Bank           string
	WinningAmount  decimal.Decimal
	AdditionalInfo string
	PaidAmount     decimal.Decimal
}

// FromOrder flattens a priced snapshot into store columns.
func FromOrder(o order.Order, invoiceID string, userID, chatID int64) TaskInput {
	locs := make([]string, 0, len(o.Items))
	curs := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		locs = append(locs, it.Localization)
		curs = append(curs, it.Currency)
	}
	return TaskInput{
		InvoiceID:      invoiceID,
		OrderNumber:    o.OrderNumber,
		UserID:         userID,
		ChatID:         chatID,
		ItemCount:      o.ItemCount,
		Localizations:  strings.Join(locs, ", "),
		Currencies:     strings.Join(curs, ", "),
		Bank:           o.Bank,
		WinningAmount:  o.WinningAmount,
		AdditionalInfo: o.AdditionalInfo,
		PaidAmount:     o.TotalAmount,
	}
}

// ReadyTask is a completed task whose delivery link has not been sent
// to the user yet.
type ReadyTask struct {
	ID           string
	OrderNumber  string
	UserID       int64
	ChatID       int64
	DeliveryLink string
	CreatedAt    time.Time
}

type Repo struct{ DB *pgxpool.Pool }

// CreateTask inserts the paid order as a work item. Idempotent on
// invoice_id: a second call for the same invoice returns the task id
// created the first time.
func (r *Repo) CreateTask(ctx context.Context, in TaskInput) (taskID string, err error) {
	taskID = uuid.NewString()
	ct, err := r.DB.Exec(ctx, `
		INSERT INTO tasks(id, invoice_id, order_number, user_id, chat_id,
		                  item_count, localizations, currencies, bank,
		                  winning_amount, additional_info, paid_amount,
		                  payment_status, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,'paid','В обработке')
		ON CONFLICT (invoice_id) DO NOTHING`,
		taskID, in.InvoiceID, in.OrderNumber, in.UserID, in.ChatID,
		in.ItemCount, in.Localizations, in.Currencies, in.Bank,
		in.WinningAmount, in.AdditionalInfo, in.PaidAmount,
	)
	if err != nil {
		return "", &StoreError{Op: "createTask", Err: err}
	}
	if ct.RowsAffected() == 0 {
		// already created for this invoice
		err = r.DB.QueryRow(ctx, `SELECT id FROM tasks WHERE invoice_id=$1`, in.InvoiceID).Scan(&taskID)
		if err != nil {
			return "", &StoreError{Op: "createTask", Err: err}
		}
	}
	return taskID, nil
}

// ExistsForInvoice reports whether a task was already created for the
// invoice (idempotency short-circuit for the completion pipeline).
func (r *Repo) ExistsForInvoice(ctx context.Context, invoiceID string) (bool, error) {
	var id string
	err := r.DB.QueryRow(ctx, `SELECT id FROM tasks WHERE invoice_id=$1`, invoiceID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &StoreError{Op: "existsForInvoice", Err: err}
	}
	return true, nil
}

// ListReadyForDelivery returns tasks with a delivery link set and no
// notification sent yet, oldest first.
func (r *Repo) ListReadyForDelivery(ctx context.Context, limit int) ([]ReadyTask, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_number, user_id, chat_id, delivery_link, created_at
		FROM tasks
		WHERE delivery_link IS NOT NULL AND delivery_link <> '' AND notified = FALSE
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, &StoreError{Op: "listReadyForDelivery", Err: err}
	}
	defer rows.Close()

	var out []ReadyTask
	for rows.Next() {
		var t ReadyTask
		if err := rows.Scan(&t.ID, &t.OrderNumber, &t.UserID, &t.ChatID, &t.DeliveryLink, &t.CreatedAt); err != nil {
			return nil, &StoreError{Op: "listReadyForDelivery", Err: err}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "listReadyForDelivery", Err: err}
	}
	return out, nil
}

func (r *Repo) MarkDelivered(ctx context.Context, taskID string) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE tasks SET notified = TRUE, notified_at = now()
		WHERE id=$1 AND notified = FALSE`, taskID)
	if err != nil {
		return &StoreError{Op: "markDelivered", Err: err}
	}
	if ct.RowsAffected() == 0 {
		return &StoreError{Op: "markDelivered", Err: fmt.Errorf("task %s not found or already delivered", taskID)}
	}
	return nil
}
