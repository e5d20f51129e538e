package schema

// OrderSide describes order direction.
type OrderSide uint16

const (
	OrderSideUnknown OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

// Sign returns +1 for buys, -1 for sells, 0 otherwise.
func (s OrderSide) Sign() int64 {
	switch s {
	case OrderSideBuy:
		return 1
	case OrderSideSell:
		return -1
	default:
		return 0
	}
}

// OrderType describes order type.
type OrderType uint16

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeMarket
	OrderTypeLimit
	OrderTypeStop
	OrderTypeStopLimit
)

// TimeInForce describes order time-in-force.
type TimeInForce uint16

const (
	TimeInForceUnknown TimeInForce = iota
	TimeInForceDay
	TimeInForceGTC
	TimeInForceIOC
	TimeInForceFOK
)

// OrderStatus tracks the lifecycle of an order.
type OrderStatus uint16

const (
	OrderStatusUnknown OrderStatus = iota
	OrderStatusNew
	OrderStatusPendingAck
	OrderStatusAcknowledged
	OrderStatusPartiallyFilled
	OrderStatusPendingCancel
	OrderStatusFilled
	OrderStatusCancelled
	OrderStatusRejected
	OrderStatusExpired
)

// Terminal reports whether the status ends the order lifecycle.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// IntentKind tags a strategy intent.
type IntentKind uint16

const (
	IntentUnknown IntentKind = iota
	IntentPlace
	IntentCancel
	IntentModify
)

// AlgoKind tags the parent-order algorithm family.
type AlgoKind uint16

const (
	AlgoNone AlgoKind = iota
	AlgoIceberg
	AlgoTwap
	AlgoVwap
)

// AlgoParams parameterizes a parent order. Kind selects the fields in use.
type AlgoParams struct {
	Kind AlgoKind

	// Iceberg
	Visible   Quantity
	MinSlice  Quantity
	JitterPct uint16

	// TWAP
	TotalDurationMs uint32
	SliceIntervalMs uint32
	RandomizePct    uint16

	// VWAP
	LookbackIntervals int32
	// ParticipationPct is the participation rate in percent of observed
	// interval volume.
	ParticipationPct uint16
	VolumeCurve      []Quantity
}

// OrderIntent is a strategy's request to the risk gate. Place intents fill
// the order definition fields; Cancel/Modify address an earlier ClientTag.
type OrderIntent struct {
	Kind        IntentKind
	ClientTag   uint64
	StrategyID  uint32
	Instrument  InstrumentID
	Side        OrderSide
	Type        OrderType
	TimeInForce TimeInForce
	Price       Price
	StopPrice   Price
	Qty         Quantity
	NewQty      Quantity
	NewPrice    Price
	ParentID    uint64
	Algo        AlgoParams
	Ts          int64
}

// Order is the router's view of a working order. Mutated only by the router.
type Order struct {
	ID           uint64
	ParentID     uint64
	ClientTag    uint64
	StrategyID   uint32
	Instrument   InstrumentID
	Side         OrderSide
	Type         OrderType
	TimeInForce  TimeInForce
	Price        Price
	StopPrice    Price
	Qty          Quantity
	FilledQty    Quantity
	LeavesQty    Quantity
	AvgPrice     Price
	Status       OrderStatus
	VenueOrderID uint64
	SubmittedTs  int64
	UpdatedTs    int64
}
