package mdg

import (
	"math/rand"

	"main/internal/codec"
	"main/internal/schema"
)

const (
	rejectCodeUnknownOrder   uint16 = 10
	rejectCodeBadInstrument  uint16 = 11
	rejectCodeBadQty         uint16 = 12
	rejectCodeDuplicateOrder uint16 = 13
)

// MatcherConfig tunes synthetic fill behaviour.
type MatcherConfig struct {
	Seed int64
	// FillPct is the percent chance (0..100) that an accepted order
	// fills immediately. Negative means orders always rest. Partial
	// fills split the quantity in half.
	FillPct    int
	PartialPct int
	RejectPct  int
}

func (c MatcherConfig) withDefaults() MatcherConfig {
	if c.FillPct == 0 {
		c.FillPct = 60
	}
	if c.PartialPct < 0 {
		c.PartialPct = 0
	}
	if c.RejectPct < 0 {
		c.RejectPct = 0
	}
	return c
}

type restingOrder struct {
	orderID    uint64
	instrument schema.InstrumentID
	leavesQty  schema.Quantity
	price      schema.Price
}

// Matcher is the venue side of the order protocol: it acks, fills,
// rejects, and cancels with behaviour driven by a seeded rng so runs
// are reproducible. Single-goroutine use only.
type Matcher struct {
	cfg     MatcherConfig
	reg     *schema.Registry
	rng     *rand.Rand
	nextVID uint64
	nextEID uint64
	resting map[uint64]*restingOrder // keyed by venue order id
	byOrder map[uint64]uint64        // client order id -> venue order id
}

func NewMatcher(cfg MatcherConfig, reg *schema.Registry) *Matcher {
	cfg = cfg.withDefaults()
	return &Matcher{
		cfg:     cfg,
		reg:     reg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		nextVID: 1000,
		nextEID: 1,
		resting: make(map[uint64]*restingOrder),
		byOrder: make(map[uint64]uint64),
	}
}

// Submit processes a new order and returns the reports the venue
// would emit: a reject, an ack, or an ack followed by fills.
func (m *Matcher) Submit(o schema.Order, now int64) []codec.ExecReport {
	if _, ok := m.byOrder[o.ID]; ok {
		return []codec.ExecReport{m.reject(o.ID, o.Instrument, rejectCodeDuplicateOrder, now)}
	}
	if _, ok := m.reg.Instrument(o.Instrument); !ok {
		return []codec.ExecReport{m.reject(o.ID, o.Instrument, rejectCodeBadInstrument, now)}
	}
	if o.Qty <= 0 {
		return []codec.ExecReport{m.reject(o.ID, o.Instrument, rejectCodeBadQty, now)}
	}
	if m.roll(m.cfg.RejectPct) {
		return []codec.ExecReport{m.reject(o.ID, o.Instrument, rejectCodeBadQty, now)}
	}

	vid := m.nextVID
	m.nextVID++
	m.byOrder[o.ID] = vid
	reports := []codec.ExecReport{{
		MsgType:      codec.MsgAck,
		OrderID:      o.ID,
		VenueOrderID: vid,
		Instrument:   o.Instrument,
		VenueTs:      now,
	}}

	if !m.roll(m.cfg.FillPct) {
		m.resting[vid] = &restingOrder{orderID: o.ID, instrument: o.Instrument, leavesQty: o.Qty, price: o.Price}
		return reports
	}

	fillQty := o.Qty
	if m.roll(m.cfg.PartialPct) && o.Qty > 1 {
		fillQty = o.Qty / 2
	}
	reports = append(reports, m.fill(o.ID, vid, o.Instrument, o.Price, fillQty, o.Qty-fillQty, now))
	if o.Qty-fillQty > 0 {
		m.resting[vid] = &restingOrder{orderID: o.ID, instrument: o.Instrument, leavesQty: o.Qty - fillQty, price: o.Price}
	} else {
		delete(m.byOrder, o.ID)
	}
	return reports
}

// Cancel removes a resting order. Unknown orders get a reject so the
// engine sees the venue code path.
func (m *Matcher) Cancel(orderID, venueOrderID uint64, instrument schema.InstrumentID, now int64) codec.ExecReport {
	ro, ok := m.resting[venueOrderID]
	if !ok || ro.orderID != orderID {
		return m.reject(orderID, instrument, rejectCodeUnknownOrder, now)
	}
	delete(m.resting, venueOrderID)
	delete(m.byOrder, orderID)
	return codec.ExecReport{
		MsgType:      codec.MsgCancelled,
		OrderID:      orderID,
		VenueOrderID: venueOrderID,
		Instrument:   instrument,
		VenueTs:      now,
	}
}

// Modify reprices a resting order in place and acks it.
func (m *Matcher) Modify(orderID, venueOrderID uint64, instrument schema.InstrumentID, newPrice schema.Price, newQty schema.Quantity, now int64) codec.ExecReport {
	ro, ok := m.resting[venueOrderID]
	if !ok || ro.orderID != orderID {
		return m.reject(orderID, instrument, rejectCodeUnknownOrder, now)
	}
	ro.price = newPrice
	if newQty > 0 {
		ro.leavesQty = newQty
	}
	return codec.ExecReport{
		MsgType:      codec.MsgAck,
		OrderID:      orderID,
		VenueOrderID: venueOrderID,
		Instrument:   instrument,
		VenueTs:      now,
	}
}

// Tick fills one random resting order per call, if any exist.
func (m *Matcher) Tick(now int64) []codec.ExecReport {
	for vid, ro := range m.resting {
		if !m.roll(m.cfg.FillPct) {
			return nil
		}
		report := m.fill(ro.orderID, vid, ro.instrument, ro.price, ro.leavesQty, 0, now)
		delete(m.resting, vid)
		delete(m.byOrder, ro.orderID)
		return []codec.ExecReport{report}
	}
	return nil
}

func (m *Matcher) reject(orderID uint64, instrument schema.InstrumentID, code uint16, now int64) codec.ExecReport {
	return codec.ExecReport{
		MsgType:    codec.MsgReject,
		OrderID:    orderID,
		Instrument: instrument,
		Code:       code,
		VenueTs:    now,
	}
}

func (m *Matcher) fill(orderID, vid uint64, instrument schema.InstrumentID, px schema.Price, qty, leaves schema.Quantity, now int64) codec.ExecReport {
	eid := m.nextEID
	m.nextEID++
	return codec.ExecReport{
		MsgType:      codec.MsgFill,
		OrderID:      orderID,
		VenueOrderID: vid,
		ExecID:       eid,
		Instrument:   instrument,
		Price:        px,
		Qty:          qty,
		LeavesQty:    leaves,
		VenueTs:      now,
	}
}

func (m *Matcher) roll(pct int) bool {
	if pct <= 0 {
		return false
	}
	if pct >= 100 {
		return true
	}
	return m.rng.Intn(100) < pct
}
