package ledger

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mzaitsev/crypto-order-bot.git/internal/order"
)

type Status string

const (
	StatusPending        Status = "PENDING"
	StatusPaidProcessing Status = "PAID_PROCESSING"
	StatusResolved       Status = "RESOLVED"
	StatusExpired        Status = "EXPIRED"
	StatusAbandoned      Status = "ABANDONED"
)

// Transitions are one-directional; nothing goes back to PENDING.
var validNext = map[Status]map[Status]bool{
	StatusPending:        {StatusPaidProcessing: true, StatusExpired: true, StatusAbandoned: true},
	StatusPaidProcessing: {StatusResolved: true, StatusAbandoned: true},
	StatusResolved:       {},
	StatusExpired:        {},
	StatusAbandoned:      {},
}

func CanTransition(from, to Status) bool { return validNext[from][to] }

// PendingPayment is one invoice awaiting confirmation. Order is the
// priced snapshot taken at invoice-creation time.
type PendingPayment struct {
	InvoiceID string
	Order     order.Order
	UserID    int64
	ChatID    int64
	Amount    decimal.Decimal
	PayURL    string
	CreatedAt time.Time
	CheckedAt time.Time // zero = never polled
	Attempts  int
	Status    Status
}

var (
	ErrExists        = errors.New("invoice already registered")
	ErrNotFound      = errors.New("invoice not found")
	ErrBadTransition = errors.New("invalid status transition")
)

// Ledger is the in-memory index of invoices awaiting confirmation.
// It never talks to the gateway or the store; the reconciler does.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*PendingPayment
}

func New() *Ledger {
	return &Ledger{entries: make(map[string]*PendingPayment)}
}

// Put registers a new invoice. An existing id is never overwritten,
// so attempts/checkedAt of a live entry cannot be reset.
func (l *Ledger) Put(p PendingPayment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[p.InvoiceID]; ok {
		return ErrExists
	}
	p.Attempts = 0
	p.CheckedAt = time.Time{}
	if p.Status == "" {
		p.Status = StatusPending
	}
	l.entries[p.InvoiceID] = &p
	return nil
}

func (l *Ledger) Get(invoiceID string) (PendingPayment, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.entries[invoiceID]
	if !ok {
		return PendingPayment{}, false
	}
	return *p, true
}

func (l *Ledger) Remove(invoiceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, invoiceID)
}

// ListDueForCheck returns pending entries never polled or polled
// longer than debounce ago. Returned values are copies; callers
// advance bookkeeping through MarkChecked/SetStatus.
func (l *Ledger) ListDueForCheck(now time.Time, debounce time.Duration) []PendingPayment {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PendingPayment, 0, len(l.entries))
	for _, p := range l.entries {
		if p.Status != StatusPending {
			continue
		}
		if p.CheckedAt.IsZero() || now.Sub(p.CheckedAt) >= debounce {
			out = append(out, *p)
		}
	}
	return out
}

// MarkChecked bumps attempts and stamps the poll time. Attempts only
// ever increase.
func (l *Ledger) MarkChecked(invoiceID string, now time.Time) (attempts int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.entries[invoiceID]
	if !ok {
		return 0, ErrNotFound
	}
	p.Attempts++
	p.CheckedAt = now
	return p.Attempts, nil
}

func (l *Ledger) SetStatus(invoiceID string, to Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.entries[invoiceID]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(p.Status, to) {
		return ErrBadTransition
	}
	p.Status = to
	return nil
}

// Abandoned lists entries parked for manual review (paid invoices the
// task store rejected repeatedly).
func (l *Ledger) Abandoned() []PendingPayment {
	return l.byStatus(StatusAbandoned)
}

func (l *Ledger) Pending() []PendingPayment {
	return l.byStatus(StatusPending)
}

func (l *Ledger) byStatus(s Status) []PendingPayment {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []PendingPayment
	for _, p := range l.entries {
		if p.Status == s {
			out = append(out, *p)
		}
	}
	return out
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
