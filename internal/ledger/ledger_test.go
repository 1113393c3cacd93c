package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mzaitsev/crypto-order-bot.git/internal/order"
)

func entry(id string) PendingPayment {
	return PendingPayment{
		InvoiceID: id,
		Order:     order.Order{OrderNumber: "12345"},
		UserID:    7,
		ChatID:    7,
		Amount:    decimal.RequireFromString("30.90"),
		CreatedAt: time.Now(),
	}
}

func TestPutGetRemove(t *testing.T) {
	t.Parallel()

	l := New()
	require.NoError(t, l.Put(entry("inv-1")))

	got, ok := l.Get("inv-1")
	require.True(t, ok)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 0, got.Attempts)
	assert.True(t, got.CheckedAt.IsZero())

	l.Remove("inv-1")
	_, ok = l.Get("inv-1")
	assert.False(t, ok)
}

func TestPutNeverResetsLiveEntry(t *testing.T) {
	t.Parallel()

	l := New()
	require.NoError(t, l.Put(entry("inv-1")))

	now := time.Now()
	_, err := l.MarkChecked("inv-1", now)
	require.NoError(t, err)

	// second put for the same id must fail and leave bookkeeping alone
	err = l.Put(entry("inv-1"))
	assert.ErrorIs(t, err, ErrExists)

	got, ok := l.Get("inv-1")
	require.True(t, ok)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, now, got.CheckedAt)
}

func TestMarkCheckedOnlyIncreases(t *testing.T) {
	t.Parallel()

	l := New()
	require.NoError(t, l.Put(entry("inv-1")))

	for i := 1; i <= 5; i++ {
		n, err := l.MarkChecked("inv-1", time.Now())
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	_, err := l.MarkChecked("missing", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListDueForCheck(t *testing.T) {
	t.Parallel()

	l := New()
	now := time.Now()
	debounce := 8 * time.Second

	require.NoError(t, l.Put(entry("never-checked")))
	require.NoError(t, l.Put(entry("checked-long-ago")))
	require.NoError(t, l.Put(entry("checked-just-now")))
	require.NoError(t, l.Put(entry("not-pending")))

	_, err := l.MarkChecked("checked-long-ago", now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = l.MarkChecked("checked-just-now", now.Add(-time.Second))
	require.NoError(t, err)
	require.NoError(t, l.SetStatus("not-pending", StatusPaidProcessing))

	due := l.ListDueForCheck(now, debounce)
	ids := make(map[string]bool, len(due))
	for _, p := range due {
		ids[p.InvoiceID] = true
	}

	assert.True(t, ids["never-checked"])
	assert.True(t, ids["checked-long-ago"])
	assert.False(t, ids["checked-just-now"])
	assert.False(t, ids["not-pending"])
}

func TestListDueToleratesRemovalMidPass(t *testing.T) {
	t.Parallel()

	l := New()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, l.Put(entry(id)))
	}

	due := l.ListDueForCheck(time.Now(), time.Second)
	require.Len(t, due, 3)
	for _, p := range due {
		l.Remove(p.InvoiceID) // removing while iterating the listing
	}
	assert.Equal(t, 0, l.Len())
}

func TestStatusTransitionsOneDirectional(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusPaidProcessing, true},
		{StatusPending, StatusExpired, true},
		{StatusPending, StatusAbandoned, true},
		{StatusPaidProcessing, StatusResolved, true},
		{StatusPaidProcessing, StatusAbandoned, true},
		{StatusPaidProcessing, StatusPending, false},
		{StatusResolved, StatusPending, false},
		{StatusExpired, StatusPending, false},
		{StatusAbandoned, StatusPending, false},
		{StatusAbandoned, StatusResolved, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestSetStatusRejectsBadTransition(t *testing.T) {
	t.Parallel()

	l := New()
	require.NoError(t, l.Put(entry("inv-1")))
	require.NoError(t, l.SetStatus("inv-1", StatusPaidProcessing))

	err := l.SetStatus("inv-1", StatusPending)
	assert.ErrorIs(t, err, ErrBadTransition)
}

func TestAbandonedListing(t *testing.T) {
	t.Parallel()

	l := New()
	require.NoError(t, l.Put(entry("ok")))
	require.NoError(t, l.Put(entry("stuck")))
	require.NoError(t, l.SetStatus("stuck", StatusAbandoned))

	ab := l.Abandoned()
	require.Len(t, ab, 1)
	assert.Equal(t, "stuck", ab[0].InvoiceID)

	pend := l.Pending()
	require.Len(t, pend, 1)
	assert.Equal(t, "ok", pend[0].InvoiceID)
}
