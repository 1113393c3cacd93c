package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mzaitsev/crypto-order-bot.git/internal/cryptopay"
	"github.com/mzaitsev/crypto-order-bot.git/internal/ledger"
	"github.com/mzaitsev/crypto-order-bot.git/internal/order"
	"github.com/mzaitsev/crypto-order-bot.git/internal/tasks"
	"github.com/mzaitsev/crypto-order-bot.git/internal/telegram"
)

type fakeGateway struct {
	statuses []string // consumed one per poll; last one repeats
	polls    int
}

func (g *fakeGateway) GetInvoiceStatus(context.Context, string) (string, error) {
	g.polls++
	if len(g.statuses) == 0 {
		return cryptopay.StatusUnknown, nil
	}
	s := g.statuses[0]
	if len(g.statuses) > 1 {
		g.statuses = g.statuses[1:]
	}
	return s, nil
}

type fakeStore struct {
	createCalls int
	createErrs  []error // consumed per call; nil = success
	created     []tasks.TaskInput
	exists      map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{exists: map[string]bool{}}
}

func (s *fakeStore) CreateTask(_ context.Context, in tasks.TaskInput) (string, error) {
	s.createCalls++
	if len(s.createErrs) > 0 {
		err := s.createErrs[0]
		s.createErrs = s.createErrs[1:]
		if err != nil {
			return "", err
		}
	}
	s.created = append(s.created, in)
	s.exists[in.InvoiceID] = true
	return "task-" + in.InvoiceID, nil
}

func (s *fakeStore) ExistsForInvoice(_ context.Context, invoiceID string) (bool, error) {
	return s.exists[invoiceID], nil
}

type sentMsg struct {
	chatID int64
	text   string
}

type fakeNotifier struct {
	sent    []sentMsg
	sendErr error
}

func (n *fakeNotifier) SendMessage(_ context.Context, chatID int64, text string, _ *telegram.SendOpts) error {
	if n.sendErr != nil {
		return n.sendErr
	}
	n.sent = append(n.sent, sentMsg{chatID: chatID, text: text})
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newReconciler(gw *fakeGateway, st *fakeStore, nt *fakeNotifier, led *ledger.Ledger, clk *clock) *Reconciler {
	return &Reconciler{
		Ledger:          led,
		Gateway:         gw,
		Store:           st,
		Notifier:        nt,
		ServiceName:     "order-bot-test",
		OperatorChatID:  999,
		Debounce:        8 * time.Second,
		AttemptsCeiling: 12,
		StoreRetries:    3,
		BackoffStep:     time.Millisecond,
		Now:             clk.now,
		Sleep:           func(context.Context, time.Duration) error { return nil },
	}
}

func pending(id string) ledger.PendingPayment {
	return ledger.PendingPayment{
		InvoiceID: id,
		Order: order.Order{
			OrderNumber: "12345",
			ItemCount:   2,
			Items:       []order.Item{{Localization: "A", Currency: "USD"}, {Localization: "B", Currency: "EUR"}},
			Bank:        "Chase",
			TotalAmount: decimal.RequireFromString("30.90"),
		},
		UserID: 7,
		ChatID: 7,
		Amount: decimal.RequireFromString("30.90"),
	}
}

func TestPaidOnThirdPoll(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{statuses: []string{cryptopay.StatusActive, cryptopay.StatusActive, cryptopay.StatusPaid}}
	st := newFakeStore()
	nt := &fakeNotifier{}
	led := ledger.New()
	clk := &clock{t: time.Now()}
	r := newReconciler(gw, st, nt, led, clk)

	require.NoError(t, led.Put(pending("inv-1")))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		r.Tick(ctx)
		clk.advance(10 * time.Second)
	}

	assert.Equal(t, 3, gw.polls)
	assert.Equal(t, 1, st.createCalls, "exactly one task per invoice")
	assert.Equal(t, 0, led.Len(), "resolved entry removed")

	require.Len(t, nt.sent, 1, "exactly one notification")
	assert.Equal(t, int64(7), nt.sent[0].chatID)
	assert.Contains(t, nt.sent[0].text, "inv-1")
	assert.Contains(t, nt.sent[0].text, "#12345")
}

func TestExpiredInvoiceNeverCreatesTask(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{statuses: []string{cryptopay.StatusExpired}}
	st := newFakeStore()
	nt := &fakeNotifier{}
	led := ledger.New()
	clk := &clock{t: time.Now()}
	r := newReconciler(gw, st, nt, led, clk)

	require.NoError(t, led.Put(pending("inv-1")))
	r.Tick(context.Background())

	assert.Equal(t, 0, st.createCalls, "task store must never be called")
	assert.Equal(t, 0, led.Len())
	require.Len(t, nt.sent, 1)
}

func TestAttemptsCeilingAbandons(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{statuses: []string{cryptopay.StatusUnknown}}
	st := newFakeStore()
	nt := &fakeNotifier{}
	led := ledger.New()
	clk := &clock{t: time.Now()}
	r := newReconciler(gw, st, nt, led, clk)
	r.AttemptsCeiling = 3

	require.NoError(t, led.Put(pending("inv-1")))

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		r.Tick(ctx)
		clk.advance(10 * time.Second)
	}

	// polls 1..3 leave it pending, poll 4 crosses the ceiling
	assert.Equal(t, 4, gw.polls)
	assert.Equal(t, 0, st.createCalls)
	assert.Equal(t, 0, led.Len())
	require.Len(t, nt.sent, 1)
}

func TestDebounceSkipsFreshlyChecked(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{statuses: []string{cryptopay.StatusActive}}
	st := newFakeStore()
	nt := &fakeNotifier{}
	led := ledger.New()
	clk := &clock{t: time.Now()}
	r := newReconciler(gw, st, nt, led, clk)

	require.NoError(t, led.Put(pending("inv-1")))

	ctx := context.Background()
	r.Tick(ctx)
	r.Tick(ctx) // same instant: debounced
	assert.Equal(t, 1, gw.polls)

	clk.advance(10 * time.Second)
	r.Tick(ctx)
	assert.Equal(t, 2, gw.polls)
}

func TestCompleteIsIdempotent(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	nt := &fakeNotifier{}
	led := ledger.New()
	clk := &clock{t: time.Now()}
	r := newReconciler(&fakeGateway{}, st, nt, led, clk)

	p := pending("inv-1")
	require.NoError(t, led.Put(p))

	ctx := context.Background()
	require.NoError(t, r.Complete(ctx, p))
	require.NoError(t, r.Complete(ctx, p))

	assert.Equal(t, 1, st.createCalls, "second invocation must no-op")
	require.Len(t, nt.sent, 1)
}

func TestStoreFailureRetriesThenEscalates(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	boom := &tasks.StoreError{Op: "createTask", Err: errors.New("boom")}
	st.createErrs = []error{boom, boom, boom}
	nt := &fakeNotifier{}
	led := ledger.New()
	clk := &clock{t: time.Now()}
	r := newReconciler(&fakeGateway{}, st, nt, led, clk)

	p := pending("inv-1")
	require.NoError(t, led.Put(p))

	err := r.Complete(context.Background(), p)
	require.Error(t, err)

	assert.Equal(t, 3, st.createCalls, "bounded retries")

	// the entry is parked for review, not dropped
	require.Equal(t, 1, led.Len())
	ab := led.Abandoned()
	require.Len(t, ab, 1)
	assert.Equal(t, "inv-1", ab[0].InvoiceID)

	// user + operator both told, with the ids for manual reconciliation
	require.Len(t, nt.sent, 2)
	for _, m := range nt.sent {
		assert.Contains(t, m.text, "inv-1")
		assert.Contains(t, m.text, "#12345")
	}
	assert.Equal(t, int64(999), nt.sent[1].chatID)
}

func TestStoreFailureThenSuccessWithinRetries(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.createErrs = []error{&tasks.StoreError{Op: "createTask", Err: errors.New("transient")}, nil}
	nt := &fakeNotifier{}
	led := ledger.New()
	clk := &clock{t: time.Now()}
	r := newReconciler(&fakeGateway{}, st, nt, led, clk)

	p := pending("inv-1")
	require.NoError(t, led.Put(p))

	require.NoError(t, r.Complete(context.Background(), p))
	assert.Equal(t, 2, st.createCalls)
	assert.Equal(t, 0, led.Len())
}

func TestNotifyFailureDoesNotFailCompletion(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	nt := &fakeNotifier{sendErr: &telegram.NotifyError{ChatID: 7, Err: errors.New("blocked")}}
	led := ledger.New()
	clk := &clock{t: time.Now()}
	r := newReconciler(&fakeGateway{}, st, nt, led, clk)

	p := pending("inv-1")
	require.NoError(t, led.Put(p))

	require.NoError(t, r.Complete(context.Background(), p))
	assert.Equal(t, 0, led.Len())
	assert.Equal(t, 1, st.createCalls)
}

func TestRecoverOrphanReplaysPipeline(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	nt := &fakeNotifier{}
	led := ledger.New()
	clk := &clock{t: time.Now()}
	r := newReconciler(&fakeGateway{}, st, nt, led, clk)

	require.NoError(t, r.RecoverOrphan(context.Background(), 7, 7, "inv-lost", "54321"))

	require.Len(t, st.created, 1)
	assert.Equal(t, "inv-lost", st.created[0].InvoiceID)
	assert.Equal(t, "54321", st.created[0].OrderNumber)
	require.Len(t, nt.sent, 1)
	assert.Contains(t, nt.sent[0].text, "#54321")
}

func TestRecoverOrphanRequiresInvoice(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	r := newReconciler(&fakeGateway{}, st, &fakeNotifier{}, ledger.New(), &clock{t: time.Now()})

	err := r.RecoverOrphan(context.Background(), 7, 7, "", "54321")
	require.Error(t, err)
	assert.Equal(t, 0, st.createCalls)
}

func TestTickSkipsEntryRemovedSinceListing(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{statuses: []string{cryptopay.StatusPaid}}
	st := newFakeStore()
	led := ledger.New()
	clk := &clock{t: time.Now()}
	r := newReconciler(gw, st, &fakeNotifier{}, led, clk)

	require.NoError(t, led.Put(pending("inv-1")))
	led.Remove("inv-1") // user cancelled between listing and processing

	r.Tick(context.Background())
	assert.Equal(t, 0, gw.polls)
	assert.Equal(t, 0, st.createCalls)
}

func TestTaskPayloadCarriesSnapshot(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	led := ledger.New()
	clk := &clock{t: time.Now()}
	r := newReconciler(&fakeGateway{}, st, &fakeNotifier{}, led, clk)

	p := pending("inv-1")
	require.NoError(t, led.Put(p))
	require.NoError(t, r.Complete(context.Background(), p))

	require.Len(t, st.created, 1)
	in := st.created[0]
	assert.Equal(t, "A, B", in.Localizations)
	assert.Equal(t, "USD, EUR", in.Currencies)
	assert.Equal(t, "Chase", in.Bank)
	assert.Equal(t, 2, in.ItemCount)
	assert.True(t, in.PaidAmount.Equal(decimal.RequireFromString("30.90")))
}
