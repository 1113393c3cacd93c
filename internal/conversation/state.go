package conversation

// State is one step of the order dialogue.
type State string

const (
	StateAwaitingOrderNumber    State = "awaiting_order_number"
	StateSelectingItemCount     State = "selecting_item_count"
	StateSelectingLocalization  State = "selecting_localization"
	StateSelectingCurrency      State = "selecting_currency"
	StateEnteringBank           State = "entering_bank"
	StateEnteringWinningAmount  State = "entering_winning_amount"
	StateEnteringAdditionalInfo State = "entering_additional_info"
	StateConfirmation           State = "confirmation"
	StateAwaitingPayment        State = "awaiting_payment"
	// StateRecoveringOrder collects the order number for a paid invoice
	// the ledger lost (e.g. process restart mid-payment).
	StateRecoveringOrder State = "recovering_order"
)

// Callback data for discrete choices.
const (
	ChoiceConfirm       = "confirm_invoice"
	ChoiceCancel        = "cancel_order"
	ChoiceCheckPayment  = "check_payment"
	ChoiceCancelPayment = "cancel_payment"

	prefixCount    = "count:"
	prefixLocal    = "loc:"
	prefixCurrency = "cur:"
)
