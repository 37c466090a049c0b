package events

// Event enumerates high-level topics inside the bridge.
type Event string

const (
	EventOrderUpdate      Event = "order_update"
	EventPriceTick        Event = "price_tick"
	EventProtectionChange Event = "protection_change"
	EventProtectionError  Event = "protection_error"
)
