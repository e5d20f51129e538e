package schema

// SchemaVersion is the current event schema version.
const SchemaVersion uint16 = 1

// MarketEventKind tags the variant carried by a MarketEvent.
type MarketEventKind uint16

const (
	MarketEventUnknown MarketEventKind = iota
	MarketEventSnapshot
	MarketEventDelta
	MarketEventTrade
	MarketEventStatus
	MarketEventHeartbeat
)

// BookSide identifies a side of the order book.
type BookSide uint16

const (
	BookSideUnknown BookSide = iota
	BookSideBid
	BookSideAsk
)

// InstrumentStatus is the trading state of an instrument.
type InstrumentStatus uint16

const (
	InstrumentStatusUnknown InstrumentStatus = iota
	InstrumentStatusOpen
	InstrumentStatusHalted
	InstrumentStatusClosed
	InstrumentStatusResyncing
)

// Level is one aggregated price level.
type Level struct {
	Price Price
	Qty   Quantity
}

// MarketEvent is the normalized market data variant produced by the feed
// decoder. Kind selects which fields are meaningful: Delta uses
// Side/Price/Qty, Trade uses Price/Qty/Aggressor, Status uses Status,
// Snapshot uses Bids/Asks. Seq is the venue sequence number.
type MarketEvent struct {
	Instrument InstrumentID
	Kind       MarketEventKind
	Side       BookSide
	Aggressor  OrderSide
	Status     InstrumentStatus
	Seq        uint64
	Price      Price
	Qty        Quantity
	VenueTs    int64
	IngressTs  int64
	Bids       []Level
	Asks       []Level
}

// ExecReason qualifies an execution event beyond its status.
type ExecReason uint16

const (
	ExecReasonNone ExecReason = iota
	ExecReasonVenueReject
	ExecReasonRiskReject
	ExecReasonAckTimeout
	ExecReasonExpired
	ExecReasonCancelRequested
)

// ExecutionEvent is published by the router on every order state change.
type ExecutionEvent struct {
	OrderID      uint64
	ParentID     uint64
	ClientTag    uint64
	StrategyID   uint32
	Instrument   InstrumentID
	Status       OrderStatus
	Reason       ExecReason
	RiskReason   RejectReason
	VenueCode    uint16
	FillPrice    Price
	FillQty      Quantity
	FilledQty    Quantity
	LeavesQty    Quantity
	AvgPrice     Price
	VenueOrderID uint64
	ExecID       uint64
	Ts           int64
}

// RejectReason is the typed result of a failed risk check.
type RejectReason uint16

const (
	RejectReasonNone RejectReason = iota
	RejectReasonKillSwitch
	RejectReasonInstrumentHalted
	RejectReasonInvalidQty
	RejectReasonMaxOrderQty
	RejectReasonLotSize
	RejectReasonTickSize
	RejectReasonPositionCapExceeded
	RejectReasonNotionalCapExceeded
	RejectReasonRateLimit
	RejectReasonSizeAnomaly
	RejectReasonDailyLossExceeded
	RejectReasonUnknownInstrument
	RejectReasonUnknownTag
	RejectReasonInternal
)

var rejectReasonNames = [...]string{
	RejectReasonNone:                "none",
	RejectReasonKillSwitch:          "kill_switch",
	RejectReasonInstrumentHalted:    "instrument_halted",
	RejectReasonInvalidQty:          "invalid_qty",
	RejectReasonMaxOrderQty:         "max_order_qty",
	RejectReasonLotSize:             "lot_size",
	RejectReasonTickSize:            "tick_size",
	RejectReasonPositionCapExceeded: "position_cap_exceeded",
	RejectReasonNotionalCapExceeded: "notional_cap_exceeded",
	RejectReasonRateLimit:           "rate_limit",
	RejectReasonSizeAnomaly:         "size_anomaly",
	RejectReasonDailyLossExceeded:   "daily_loss_exceeded",
	RejectReasonUnknownInstrument:   "unknown_instrument",
	RejectReasonUnknownTag:          "unknown_tag",
	RejectReasonInternal:            "internal",
}

func (r RejectReason) String() string {
	if int(r) < len(rejectReasonNames) {
		return rejectReasonNames[r]
	}
	return "unknown"
}
