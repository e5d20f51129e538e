// Package feed ingests venue market data: framing, normalization, sequence
// gap handling, and handoff to the book shards.
package feed

import (
	"errors"
	"runtime"
	"sync"

	"main/internal/book"
	"main/internal/bus"
	"main/internal/clock"
	"main/internal/codec"
	"main/internal/obs"
	"main/internal/schema"
)

var (
	ErrMalformedFrame = errors.New("malformed market data frame")
	ErrUnknownMsgType = errors.New("unknown market data message type")
)

// SnapshotRequestFunc asks the venue for a fresh book snapshot. Provided by
// the connection layer.
type SnapshotRequestFunc func(id schema.InstrumentID)

// DecoderConfig controls one venue decoder.
type DecoderConfig struct {
	Venue        schema.Venue
	Shards       int
	RingCap      int
	ResyncBuffer int
}

func (c DecoderConfig) withDefaults() DecoderConfig {
	if c.Shards <= 0 {
		c.Shards = 1
	}
	if c.RingCap <= 0 {
		c.RingCap = 1 << 14
	}
	if c.ResyncBuffer <= 0 {
		c.ResyncBuffer = 1024
	}
	return c
}

type instState struct {
	lastSeq   uint64
	resyncing bool
	buffered  []schema.MarketEvent
}

// Decoder normalizes one venue's wire stream into MarketEvents and routes
// them to the owning book shard rings. One decoder per venue connection;
// decoders share no state. Not safe for concurrent use.
type Decoder struct {
	cfg      DecoderConfig
	reg      *schema.Registry
	clk      *clock.Source
	tracer   *obs.Tracer
	counters *obs.Counters

	outputs  []*bus.Ring[*schema.MarketEvent]
	states   map[schema.InstrumentID]*instState
	resyncIn chan schema.InstrumentID
	pool     sync.Pool
	snapshot SnapshotRequestFunc
	lossy    bool
}

// NewDecoder creates a decoder for one venue.
func NewDecoder(cfg DecoderConfig, reg *schema.Registry, clk *clock.Source, tracer *obs.Tracer, counters *obs.Counters) *Decoder {
	cfg = cfg.withDefaults()
	d := &Decoder{
		cfg:      cfg,
		reg:      reg,
		clk:      clk,
		tracer:   tracer,
		counters: counters,
		states:   make(map[schema.InstrumentID]*instState),
		resyncIn: make(chan schema.InstrumentID, cfg.ResyncBuffer),
		lossy:    cfg.Venue.Mode == schema.VenueModeLossy,
	}
	d.pool.New = func() any { return &schema.MarketEvent{} }
	for i := 0; i < cfg.Shards; i++ {
		d.outputs = append(d.outputs, bus.NewRing[*schema.MarketEvent](cfg.RingCap))
	}
	return d
}

// Output returns the ring feeding shard i.
func (d *Decoder) Output(shard int) *bus.Ring[*schema.MarketEvent] {
	return d.outputs[shard]
}

// SetSnapshotRequestFunc installs the venue snapshot hook. Startup only.
func (d *Decoder) SetSnapshotRequestFunc(fn SnapshotRequestFunc) { d.snapshot = fn }

// Acquire returns a pooled event for adapters that normalize outside the
// binary codec.
func (d *Decoder) Acquire() *schema.MarketEvent {
	return d.pool.Get().(*schema.MarketEvent)
}

// Ingest stamps and dispatches an adapter-normalized event.
func (d *Decoder) Ingest(ev *schema.MarketEvent) {
	d.drainResyncRequests()
	ev.IngressTs = d.clk.Now()
	d.dispatch(ev)
}

// Release returns a consumed event to the decoder pool. Safe from the
// consuming shard goroutine.
func (d *Decoder) Release(ev *schema.MarketEvent) {
	ev.Bids = ev.Bids[:0]
	ev.Asks = ev.Asks[:0]
	*ev = schema.MarketEvent{Bids: ev.Bids, Asks: ev.Asks}
	d.pool.Put(ev)
}

// MarkVenueStatus forwards a status event for every instrument of this
// decoder's venue. Used by the connection layer around disconnects.
func (d *Decoder) MarkVenueStatus(status schema.InstrumentStatus) {
	for i := 0; i < d.reg.InstrumentCount(); i++ {
		inst, ok := d.reg.InstrumentAt(i)
		if !ok || inst.VenueID != d.cfg.Venue.ID {
			continue
		}
		ev := d.pool.Get().(*schema.MarketEvent)
		ev.Kind = schema.MarketEventStatus
		ev.Instrument = inst.ID
		ev.Status = status
		ev.IngressTs = d.clk.Now()
		d.forward(ev)
	}
}

// RequestResync forces an instrument into resync, used by the book shard
// when an apply-side invariant trips. Safe from the shard goroutines:
// the request is queued and applied on the decoder goroutine between
// frames. A full queue drops the request; the next apply-side trip
// raises it again.
func (d *Decoder) RequestResync(id schema.InstrumentID, lastSeq uint64) {
	select {
	case d.resyncIn <- id:
	default:
	}
}

func (d *Decoder) drainResyncRequests() {
	for {
		select {
		case id := <-d.resyncIn:
			st := d.state(id)
			if !st.resyncing {
				d.startResync(id, st)
			}
		default:
			return
		}
	}
}

// OnFrame decodes one frame body. Malformed input is reported to the
// caller for connection health accounting; unknown types are counted and
// dropped without error.
func (d *Decoder) OnFrame(msgType byte, body []byte) error {
	d.drainResyncRequests()
	begin := d.clk.Now()
	ev := d.pool.Get().(*schema.MarketEvent)
	if !codec.DecodeMarketEvent(msgType, body, ev) {
		d.Release(ev)
		switch msgType {
		case codec.MsgSnapshot, codec.MsgDelta, codec.MsgTrade, codec.MsgStatus, codec.MsgHeartbeat:
			d.counters.IncMalformedFrame()
			return ErrMalformedFrame
		default:
			d.counters.IncUnknownMsgType()
			return nil
		}
	}
	ev.IngressTs = d.clk.Now()
	d.tracer.Record(obs.PointFeedDecode, ev.IngressTs-begin)
	d.dispatch(ev)
	return nil
}

func (d *Decoder) dispatch(ev *schema.MarketEvent) {
	if ev.Kind == schema.MarketEventHeartbeat {
		d.Release(ev)
		return
	}
	if _, ok := d.reg.Instrument(ev.Instrument); !ok {
		d.counters.IncUnknownVenueID()
		d.Release(ev)
		return
	}
	st := d.state(ev.Instrument)

	switch ev.Kind {
	case schema.MarketEventSnapshot:
		d.onSnapshot(ev, st)
	case schema.MarketEventDelta:
		d.onDelta(ev, st)
	case schema.MarketEventTrade, schema.MarketEventStatus:
		// Trades and status changes pass through; they do not participate
		// in the delta sequence chain.
		d.forward(ev)
	}
}

func (d *Decoder) onSnapshot(ev *schema.MarketEvent, st *instState) {
	id := ev.Instrument
	snapSeq := ev.Seq
	st.lastSeq = snapSeq
	if !d.forward(ev) {
		// Snapshot lost on a full ring: the downstream book is still
		// stale, go straight back to resync.
		st.resyncing = false
		d.startResync(id, st)
		return
	}

	if !st.resyncing {
		return
	}
	st.resyncing = false
	// Replay buffered deltas newer than the snapshot, in order. A lossy
	// drop mid-replay restarts resync; the chain must stay unbroken.
	for i := range st.buffered {
		b := st.buffered[i]
		if b.Seq <= snapSeq {
			continue
		}
		replay := d.pool.Get().(*schema.MarketEvent)
		bids, asks := replay.Bids, replay.Asks
		*replay = b
		replay.Bids, replay.Asks = bids[:0], asks[:0]
		if !d.forward(replay) {
			d.startResync(id, st)
			return
		}
		st.lastSeq = b.Seq
	}
	st.buffered = st.buffered[:0]
}

func (d *Decoder) onDelta(ev *schema.MarketEvent, st *instState) {
	if st.resyncing {
		d.buffer(ev, st)
		return
	}
	switch {
	case st.lastSeq == 0:
		// No snapshot seen yet; bootstrap through resync.
		d.startResync(ev.Instrument, st)
		d.buffer(ev, st)
	case ev.Seq <= st.lastSeq:
		d.counters.IncStaleEvent()
		d.Release(ev)
	case ev.Seq == st.lastSeq+1:
		// lastSeq advances only on delivery; a lossy drop leaves the
		// gap for the next delta to trip resync on.
		seq := ev.Seq
		if d.forward(ev) {
			st.lastSeq = seq
		}
	default:
		d.counters.IncSequenceGap()
		d.startResync(ev.Instrument, st)
		d.buffer(ev, st)
	}
}

func (d *Decoder) startResync(id schema.InstrumentID, st *instState) {
	st.resyncing = true
	st.buffered = st.buffered[:0]
	d.counters.IncResync()

	status := d.pool.Get().(*schema.MarketEvent)
	status.Kind = schema.MarketEventStatus
	status.Instrument = id
	status.Status = schema.InstrumentStatusResyncing
	status.IngressTs = d.clk.Now()
	d.forward(status)

	if d.snapshot != nil {
		d.snapshot(id)
	}
}

func (d *Decoder) buffer(ev *schema.MarketEvent, st *instState) {
	if len(st.buffered) >= d.cfg.ResyncBuffer {
		// Buffer exhausted: drop oldest, the snapshot will supersede it.
		copy(st.buffered, st.buffered[1:])
		st.buffered = st.buffered[:len(st.buffered)-1]
	}
	cp := *ev
	cp.Bids, cp.Asks = nil, nil
	st.buffered = append(st.buffered, cp)
	d.Release(ev)
}

// forward pushes an event onto its shard ring and reports delivery.
// Reliable venues block until space frees; lossy venues drop, and the
// caller must leave the sequence chain broken so resync fires.
func (d *Decoder) forward(ev *schema.MarketEvent) bool {
	out := d.outputs[book.ShardFor(ev.Instrument, len(d.outputs))]
	if out.TryPush(ev) {
		return true
	}
	if d.lossy {
		d.counters.IncRingDrop()
		d.Release(ev)
		return false
	}
	for !out.TryPush(ev) {
		runtime.Gosched()
	}
	return true
}

func (d *Decoder) state(id schema.InstrumentID) *instState {
	st, ok := d.states[id]
	if !ok {
		st = &instState{}
		d.states[id] = st
	}
	return st
}
