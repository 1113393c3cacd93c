package order

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ComputeTotal prices an order: itemCount × unitPrice × feeMultiplier.
// Pure; call it once per invoice request, on the snapshot.
func ComputeTotal(itemCount int, unitPrice, feeMultiplier decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(itemCount))).Mul(feeMultiplier)
}

// Summary renders the confirmation text shown before invoice creation.
func Summary(o Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 Итоги заказа #%s\n\n", o.OrderNumber)
	fmt.Fprintf(&b, "📦 Адаптаций: %d\n", o.ItemCount)
	for i, it := range o.Items {
		fmt.Fprintf(&b, "  %d. %s — %s\n", i+1, it.Localization, it.Currency)
	}
	fmt.Fprintf(&b, "🏦 Банк: %s\n", o.Bank)
	fmt.Fprintf(&b, "🎉 Сумма выигрыша: %s\n", o.WinningAmount.String())
	fmt.Fprintf(&b, "🔤 Надпись: %s\n", o.AdditionalInfo)
	fmt.Fprintf(&b, "💰 Сумма к оплате: %s USDT", o.TotalAmount.String())
	return b.String()
}
