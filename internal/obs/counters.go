package obs

import (
	"sync/atomic"

	"main/internal/schema"
)

const maxRejectReason = int(schema.RejectReasonInternal)

// Counters collects lightweight engine-wide counters. All methods are safe
// for concurrent use and nil-receiver tolerant.
type Counters struct {
	marketEvents     uint64
	malformedFrames  uint64
	unknownMsgTypes  uint64
	sequenceGaps     uint64
	resyncs          uint64
	ringDrops        uint64
	readerLags       uint64
	staleEvents      uint64
	unknownVenueIDs  uint64
	dedupedExecs     uint64
	ackTimeouts      uint64
	venueRejects     uint64
	unknownOrders    uint64
	invalidFills     uint64
	riskRejectCounts [maxRejectReason + 1]uint64
}

// NewCounters allocates a counter set.
func NewCounters() *Counters {
	return &Counters{}
}

func (c *Counters) IncMarketEvent() { c.inc(&c.marketEvents) }

func (c *Counters) IncMalformedFrame() { c.inc(&c.malformedFrames) }

func (c *Counters) IncUnknownMsgType() { c.inc(&c.unknownMsgTypes) }

func (c *Counters) IncSequenceGap() { c.inc(&c.sequenceGaps) }

func (c *Counters) IncResync() { c.inc(&c.resyncs) }

func (c *Counters) IncRingDrop() { c.inc(&c.ringDrops) }

func (c *Counters) IncReaderLag() { c.inc(&c.readerLags) }

func (c *Counters) IncStaleEvent() { c.inc(&c.staleEvents) }

func (c *Counters) IncUnknownVenueID() { c.inc(&c.unknownVenueIDs) }

func (c *Counters) IncDedupedExec() { c.inc(&c.dedupedExecs) }

func (c *Counters) IncAckTimeout() { c.inc(&c.ackTimeouts) }

func (c *Counters) IncVenueReject() { c.inc(&c.venueRejects) }

func (c *Counters) IncUnknownOrder() { c.inc(&c.unknownOrders) }

func (c *Counters) IncInvalidFill() { c.inc(&c.invalidFills) }

// IncRiskReject counts a rejection by reason.
func (c *Counters) IncRiskReject(reason schema.RejectReason) {
	if c == nil {
		return
	}
	if idx := int(reason); idx >= 0 && idx <= maxRejectReason {
		atomic.AddUint64(&c.riskRejectCounts[idx], 1)
	}
}

func (c *Counters) inc(v *uint64) {
	if c == nil {
		return
	}
	atomic.AddUint64(v, 1)
}

// CountersSnapshot is a point-in-time copy of every counter.
type CountersSnapshot struct {
	MarketEvents    uint64
	MalformedFrames uint64
	UnknownMsgTypes uint64
	SequenceGaps    uint64
	Resyncs         uint64
	RingDrops       uint64
	ReaderLags      uint64
	StaleEvents     uint64
	UnknownVenueIDs uint64
	DedupedExecs    uint64
	AckTimeouts     uint64
	VenueRejects    uint64
	UnknownOrders   uint64
	InvalidFills    uint64
	RiskRejects     map[schema.RejectReason]uint64
}

// Snapshot copies the current counter values.
func (c *Counters) Snapshot() CountersSnapshot {
	if c == nil {
		return CountersSnapshot{}
	}
	s := CountersSnapshot{
		MarketEvents:    atomic.LoadUint64(&c.marketEvents),
		MalformedFrames: atomic.LoadUint64(&c.malformedFrames),
		UnknownMsgTypes: atomic.LoadUint64(&c.unknownMsgTypes),
		SequenceGaps:    atomic.LoadUint64(&c.sequenceGaps),
		Resyncs:         atomic.LoadUint64(&c.resyncs),
		RingDrops:       atomic.LoadUint64(&c.ringDrops),
		ReaderLags:      atomic.LoadUint64(&c.readerLags),
		StaleEvents:     atomic.LoadUint64(&c.staleEvents),
		UnknownVenueIDs: atomic.LoadUint64(&c.unknownVenueIDs),
		DedupedExecs:    atomic.LoadUint64(&c.dedupedExecs),
		AckTimeouts:     atomic.LoadUint64(&c.ackTimeouts),
		VenueRejects:    atomic.LoadUint64(&c.venueRejects),
		UnknownOrders:   atomic.LoadUint64(&c.unknownOrders),
		InvalidFills:    atomic.LoadUint64(&c.invalidFills),
		RiskRejects:     make(map[schema.RejectReason]uint64),
	}
	for i := range c.riskRejectCounts {
		if v := atomic.LoadUint64(&c.riskRejectCounts[i]); v > 0 {
			s.RiskRejects[schema.RejectReason(i)] = v
		}
	}
	return s
}
