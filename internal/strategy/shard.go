package strategy

import (
	"container/heap"
	"context"
	"runtime"

	"main/internal/book"
	"main/internal/bus"
	"main/internal/clock"
	"main/internal/obs"
	"main/internal/schema"
)

// LagFunc is invoked when a book-update reader lagged and was repositioned.
// The wiring layer typically re-requests snapshots for the affected book
// shard's instruments.
type LagFunc func(bookShard int)

// ShardConfig controls one runtime shard.
type ShardConfig struct {
	ID int
	// BookBatch bounds how many book updates are drained before timers get
	// a turn, so timer storms cannot starve market data and vice versa.
	BookBatch int
	// IntentCapacity sizes the outbound intent ring.
	IntentCapacity int
}

func (c ShardConfig) withDefaults() ShardConfig {
	if c.BookBatch <= 0 {
		c.BookBatch = 256
	}
	if c.IntentCapacity <= 0 {
		c.IntentCapacity = 1 << 12
	}
	return c
}

type entry struct {
	id          uint32
	st          Strategy
	ctx         *Context
	instruments map[schema.InstrumentID]struct{} // nil means all
}

type bookInput struct {
	shard  int
	reader *bus.Reader[book.Update]
}

// Shard hosts a set of strategies on one goroutine. It routes book updates,
// execution reports and timers in, and intents out. Exactly one goroutine
// runs Run.
type Shard struct {
	cfg       ShardConfig
	clk       *clock.Source
	tracer    *obs.Tracer
	counters  *obs.Counters
	bookIn    []bookInput
	execIn    []*bus.Reader[schema.ExecutionEvent]
	out       *bus.Ring[schema.OrderIntent]
	entries   []*entry
	byID      map[uint32]*entry
	timers    timerHeap
	live      map[uint64]*timerEntry
	tagSeq    uint64
	timerSeq  uint64
	positions PositionFunc
	lag       LagFunc
}

// NewShard creates an empty runtime shard.
func NewShard(cfg ShardConfig, clk *clock.Source, tracer *obs.Tracer, counters *obs.Counters) *Shard {
	cfg = cfg.withDefaults()
	return &Shard{
		cfg:      cfg,
		clk:      clk,
		tracer:   tracer,
		counters: counters,
		out:      bus.NewRing[schema.OrderIntent](cfg.IntentCapacity),
		byID:     make(map[uint32]*entry),
		live:     make(map[uint64]*timerEntry),
	}
}

// Register pins a strategy to this shard. With no instruments listed the
// strategy receives every update the shard sees. Startup only.
func (s *Shard) Register(id uint32, st Strategy, instruments ...schema.InstrumentID) *Context {
	e := &entry{id: id, st: st}
	if len(instruments) > 0 {
		e.instruments = make(map[schema.InstrumentID]struct{}, len(instruments))
		for _, inst := range instruments {
			e.instruments[inst] = struct{}{}
		}
	}
	e.ctx = &Context{shard: s, entry: e, strategyID: id}
	s.entries = append(s.entries, e)
	s.byID[id] = e
	return e.ctx
}

// AddBookInput attaches a reader over a book shard's update multicast.
// Startup only.
func (s *Shard) AddBookInput(bookShard int, r *bus.Reader[book.Update]) {
	s.bookIn = append(s.bookIn, bookInput{shard: bookShard, reader: r})
}

// AddExecInput attaches a reader over the execution event multicast.
// Startup only.
func (s *Shard) AddExecInput(r *bus.Reader[schema.ExecutionEvent]) {
	s.execIn = append(s.execIn, r)
}

// SetPositionFunc wires the risk owner's snapshot reader. Startup only.
func (s *Shard) SetPositionFunc(fn PositionFunc) { s.positions = fn }

// SetLagFunc installs the reader-lag hook. Startup only.
func (s *Shard) SetLagFunc(fn LagFunc) { s.lag = fn }

// Output returns the shard's intent ring, consumed by the risk gate.
func (s *Shard) Output() *bus.Ring[schema.OrderIntent] { return s.out }

// Run polls inputs and timers until the context is done.
func (s *Shard) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !s.Step() {
			runtime.Gosched()
		}
	}
}

// Step performs one fairness round: book updates first up to the batch
// bound, then execution reports, then due timers. Reports whether any work
// was done.
func (s *Shard) Step() bool {
	worked := false

	budget := s.cfg.BookBatch
	for _, in := range s.bookIn {
		for budget > 0 {
			u, err := in.reader.Poll()
			if err == bus.ErrEmpty {
				break
			}
			if err == bus.ErrLagged {
				s.counters.IncReaderLag()
				if s.lag != nil {
					s.lag(in.shard)
				}
				worked = true
				continue
			}
			budget--
			worked = true
			s.dispatchBook(u)
		}
	}

	for _, in := range s.execIn {
		for {
			ev, err := in.Poll()
			if err == bus.ErrEmpty {
				break
			}
			if err == bus.ErrLagged {
				s.counters.IncReaderLag()
				worked = true
				continue
			}
			worked = true
			s.dispatchExec(ev)
		}
	}

	if s.fireTimers() {
		worked = true
	}
	return worked
}

func (s *Shard) dispatchBook(u book.Update) {
	begin := s.clk.Now()
	for _, e := range s.entries {
		if e.instruments != nil {
			if _, ok := e.instruments[u.Delta.Instrument]; !ok {
				continue
			}
		}
		switch u.Delta.Kind {
		case book.DeltaTrade:
			e.st.OnTrade(e.ctx, u)
		case book.DeltaNone:
			// No-op erase; nothing changed.
		default:
			e.st.OnBookDelta(e.ctx, u)
		}
	}
	s.tracer.Record(obs.PointStrategyEvent, s.clk.Now()-begin)
}

func (s *Shard) dispatchExec(ev schema.ExecutionEvent) {
	e, ok := s.byID[ev.StrategyID]
	if !ok {
		return
	}
	begin := s.clk.Now()
	e.st.OnExecReport(e.ctx, ev)
	s.tracer.Record(obs.PointStrategyEvent, s.clk.Now()-begin)
}

func (s *Shard) fireTimers() bool {
	fired := false
	now := s.clk.Now()
	for len(s.timers) > 0 && s.timers[0].deadline <= now {
		t := heap.Pop(&s.timers).(*timerEntry)
		delete(s.live, t.id)
		if t.cancelled {
			continue
		}
		fired = true
		t.owner.st.OnTimer(t.owner.ctx, t.id, now)
	}
	return fired
}

func (s *Shard) schedule(e *entry, deadline int64) uint64 {
	s.timerSeq++
	t := &timerEntry{deadline: deadline, id: s.timerSeq, owner: e}
	heap.Push(&s.timers, t)
	s.live[t.id] = t
	return t.id
}

func (s *Shard) cancelTimer(id uint64) {
	if t, ok := s.live[id]; ok {
		t.cancelled = true
		delete(s.live, id)
	}
}

// nextClientTag mints a session-unique tag with the shard id in the high
// bits, so tags never collide across shards.
func (s *Shard) nextClientTag() uint64 {
	s.tagSeq++
	return uint64(s.cfg.ID)<<48 | s.tagSeq
}

// emit pushes an intent onto the outbound ring, spinning when the risk
// consumer is briefly behind. Intent order per strategy is preserved.
func (s *Shard) emit(intent schema.OrderIntent) {
	for !s.out.TryPush(intent) {
		runtime.Gosched()
	}
}
