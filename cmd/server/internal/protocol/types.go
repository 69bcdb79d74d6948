package protocol

// Inbound message types
const (
	TypeLogin       = "login"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
)

// Outbound message types
const (
	TypeSyncSubscriptions = "sync-subscriptions"
	TypePriceUpdate       = "price-update"
	TypeActivityLog       = "activity-log"
)

// ClientMessage is the single inbound envelope. Email is only set on
// login, Ticker only on subscribe/unsubscribe; unused fields are empty.
type ClientMessage struct {
	Type   string `json:"type"`
	Email  string `json:"email,omitempty"`
	Ticker string `json:"ticker,omitempty"`
}

// SyncSubscriptions carries the account's full subscription list in
// insertion order. Clients replace their local list with it.
type SyncSubscriptions struct {
	Type          string   `json:"type"`
	Subscriptions []string `json:"subscriptions"`
}

// PriceUpdate carries latest prices for a subset of the universe.
// Values are absolute, not deltas, so redelivery is harmless.
type PriceUpdate struct {
	Type   string             `json:"type"`
	Prices map[string]float64 `json:"prices"`
}

// ActivityLog carries the account's activity entries, most recent first.
type ActivityLog struct {
	Type string   `json:"type"`
	Logs []string `json:"logs"`
}

func NewSyncSubscriptions(subs []string) SyncSubscriptions {
	if subs == nil {
		subs = []string{}
	}
	return SyncSubscriptions{Type: TypeSyncSubscriptions, Subscriptions: subs}
}

func NewPriceUpdate(prices map[string]float64) PriceUpdate {
	if prices == nil {
		prices = map[string]float64{}
	}
	return PriceUpdate{Type: TypePriceUpdate, Prices: prices}
}

func NewActivityLog(logs []string) ActivityLog {
	if logs == nil {
		logs = []string{}
	}
	return ActivityLog{Type: TypeActivityLog, Logs: logs}
}
