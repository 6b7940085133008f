package events

// Event enumerates high-level topics inside the paper-trading core.
type Event string

const (
	EventPriceTick            Event = "price_tick"
	EventOrderSubmitted       Event = "order.submitted"
	EventOrderRejected        Event = "order.rejected"
	EventOrderFilled          Event = "order.filled"
	EventOrderPartiallyFilled Event = "order.partially_filled"
	EventOrderCancelled       Event = "order.cancelled"
	EventLedgerUpdated        Event = "ledger.updated"
	EventRiskAlert            Event = "risk.alert"
	EventSystemPaused         Event = "system.paused"
	EventSystemResumed        Event = "system.resumed"
)
