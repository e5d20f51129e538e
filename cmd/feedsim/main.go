package main

import (
	"context"
	"flag"
	"log"
	"net"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/chaos"
	"main/internal/codec"
	"main/internal/mdg"
	"main/internal/ops"
	"main/internal/schema"
)

// feedsim is a synthetic venue: it serves the market-data protocol on
// one listener and the order protocol on another, using the same YAML
// config as the engine so instrument ids line up on both sides.
func main() {
	configPath := flag.String("config", "engine.yaml", "Path to YAML config")
	venueName := flag.String("venue", "", "Venue name to simulate (default: first venue in config)")
	feedAddr := flag.String("feed-addr", "", "Feed listen address (default: venue feedAddr from config)")
	orderAddr := flag.String("order-addr", "", "Order listen address (default: venue orderAddr from config)")
	interval := flag.Duration("interval", 10*time.Millisecond, "Delay between market events")
	seed := flag.Int64("seed", 1, "RNG seed for the walk and the matcher")
	fillPct := flag.Int("fill-pct", 60, "Percent chance an accepted order fills immediately")
	dropRate := flag.Float64("drop-rate", 0, "Fraction of deltas to drop, exercises gap resync")
	dupRate := flag.Float64("dup-rate", 0, "Fraction of deltas to duplicate")
	reorder := flag.Int("reorder-window", 1, "Shuffle deltas within a window of this size")
	maxDelay := flag.Duration("max-delay", 0, "Max artificial venue timestamp delay")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %+v", err)
	}
	venue, err := pickVenue(loaded, *venueName)
	if err != nil {
		log.Fatalf("%+v", err)
	}
	if *feedAddr == "" {
		*feedAddr = venue.FeedAddr
	}
	if *orderAddr == "" {
		*orderAddr = venue.OrderAddr
	}

	instruments := make([]schema.Instrument, 0, loaded.Registry.InstrumentCount())
	for i := 0; i < loaded.Registry.InstrumentCount(); i++ {
		inst, _ := loaded.Registry.InstrumentAt(i)
		if inst.VenueID == venue.ID {
			instruments = append(instruments, inst)
		}
	}
	if len(instruments) == 0 {
		log.Fatalf("venue %s has no instruments", venue.Name)
	}

	gen, err := mdg.NewGenerator(mdg.Config{Seed: *seed, TradeEvery: 5}, instruments)
	if err != nil {
		log.Fatalf("generator init failed: %+v", err)
	}
	faults, err := chaos.NewEngine(chaos.Config{
		Seed:          *seed,
		DropRate:      *dropRate,
		DuplicateRate: *dupRate,
		ReorderWindow: *reorder,
		MaxDelay:      *maxDelay,
	})
	if err != nil {
		log.Fatalf("chaos config invalid: %+v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feedSrv := &feedServer{
		gen:      gen,
		faults:   faults,
		interval: *interval,
	}
	go serve(ctx, *feedAddr, "feed", feedSrv.handle)

	orderSrv := &orderServer{
		reg:     loaded.Registry,
		cfg:     mdg.MatcherConfig{Seed: *seed, FillPct: *fillPct, PartialPct: 20},
		tickGap: *interval,
	}
	go serve(ctx, *orderAddr, "order", orderSrv.handle)

	logs.Infof("feedsim %s: feed %s, orders %s, %d instruments",
		venue.Name, *feedAddr, *orderAddr, len(instruments))
	<-sys.Shutdown()
	cancel()
}

func pickVenue(loaded *ops.Loaded, name string) (ops.VenueRuntime, error) {
	if name == "" {
		if len(loaded.Venues) == 0 {
			return ops.VenueRuntime{}, errors.New("config has no venues")
		}
		return loaded.Venues[0], nil
	}
	for _, v := range loaded.Venues {
		if v.Name == name {
			return v, nil
		}
	}
	return ops.VenueRuntime{}, errors.Errorf("venue not found: %s", name)
}

func serve(ctx context.Context, addr, kind string, handle func(ctx context.Context, conn net.Conn)) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("%s listen %s failed: %+v", kind, addr, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logs.Errorf("%s accept failed: %+v", kind, err)
			continue
		}
		logs.Infof("%s client connected: %s", kind, conn.RemoteAddr())
		go func() {
			defer conn.Close()
			handle(ctx, conn)
		}()
	}
}

// feedServer streams the walk to every client. A reconnecting engine
// recovers through snapshot requests; the walk itself never rewinds.
type feedServer struct {
	gen      *mdg.Generator
	faults   *chaos.Engine
	interval time.Duration

	mu sync.Mutex // generator and chaos engine are single-goroutine
}

func (s *feedServer) handle(ctx context.Context, conn net.Conn) {
	requests := make(chan schema.InstrumentID, 64)
	go s.readRequests(conn, requests)

	buf := make([]byte, 0, 1<<12)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-requests:
			s.mu.Lock()
			ev, ok := s.gen.Snapshot(id, time.Now().UnixNano())
			s.mu.Unlock()
			if !ok {
				continue
			}
			buf = buf[:0]
			frame, err := codec.AppendFrame(buf, codec.MsgSnapshot, codec.AppendSnapshot(nil, ev))
			if err != nil {
				continue
			}
			if _, err := conn.Write(frame); err != nil {
				return
			}
		case <-heartbeat.C:
			frame, err := codec.AppendFrame(buf[:0], codec.MsgHeartbeat, codec.AppendHeartbeat(nil, time.Now().UnixNano()))
			if err != nil {
				continue
			}
			if _, err := conn.Write(frame); err != nil {
				return
			}
		case <-ticker.C:
			s.mu.Lock()
			out := s.faults.Process(s.gen.Next(time.Now().UnixNano()))
			s.mu.Unlock()
			for _, ev := range out {
				frame, err := encodeMarketEvent(buf[:0], ev)
				if err != nil {
					continue
				}
				if _, err := conn.Write(frame); err != nil {
					return
				}
			}
		}
	}
}

func (s *feedServer) readRequests(conn net.Conn, requests chan<- schema.InstrumentID) {
	buf := make([]byte, 0, 1<<12)
	chunk := make([]byte, 1<<12)
	for {
		n, err := conn.Read(chunk)
		if err != nil {
			return
		}
		buf = append(buf, chunk[:n]...)
		off := 0
		for {
			msgType, body, consumed, err := codec.ReadFrame(buf[off:])
			if err != nil {
				return
			}
			if consumed == 0 {
				break
			}
			off += consumed
			if msgType != codec.MsgSnapshotRequest {
				continue
			}
			if id, ok := codec.DecodeSnapshotRequest(body); ok {
				select {
				case requests <- id:
				default:
				}
			}
		}
		if off > 0 {
			buf = append(buf[:0], buf[off:]...)
		}
	}
}

func encodeMarketEvent(dst []byte, ev schema.MarketEvent) ([]byte, error) {
	switch ev.Kind {
	case schema.MarketEventSnapshot:
		return codec.AppendFrame(dst, codec.MsgSnapshot, codec.AppendSnapshot(nil, ev))
	case schema.MarketEventDelta:
		return codec.AppendFrame(dst, codec.MsgDelta, codec.AppendDelta(nil, ev))
	case schema.MarketEventTrade:
		return codec.AppendFrame(dst, codec.MsgTrade, codec.AppendTrade(nil, ev))
	default:
		return codec.AppendFrame(dst, codec.MsgStatus, codec.AppendStatus(nil, ev))
	}
}

// orderServer runs one matcher per connection so parallel engine
// sessions never see each other's orders.
type orderServer struct {
	reg     *schema.Registry
	cfg     mdg.MatcherConfig
	tickGap time.Duration
}

func (s *orderServer) handle(ctx context.Context, conn net.Conn) {
	matcher := mdg.NewMatcher(s.cfg, s.reg)
	var mu sync.Mutex

	// resting orders fill over time
	go func() {
		ticker := time.NewTicker(s.tickGap)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mu.Lock()
				reports := matcher.Tick(time.Now().UnixNano())
				mu.Unlock()
				if len(reports) > 0 {
					if err := writeReports(conn, reports); err != nil {
						return
					}
				}
			}
		}
	}()

	buf := make([]byte, 0, 1<<12)
	chunk := make([]byte, 1<<12)
	for ctx.Err() == nil {
		n, err := conn.Read(chunk)
		if err != nil {
			return
		}
		buf = append(buf, chunk[:n]...)
		off := 0
		for {
			msgType, body, consumed, err := codec.ReadFrame(buf[off:])
			if err != nil {
				return
			}
			if consumed == 0 {
				break
			}
			off += consumed

			now := time.Now().UnixNano()
			mu.Lock()
			reports := s.dispatch(matcher, msgType, body, now)
			mu.Unlock()
			if len(reports) > 0 {
				if err := writeReports(conn, reports); err != nil {
					return
				}
			}
		}
		if off > 0 {
			buf = append(buf[:0], buf[off:]...)
		}
	}
}

func (s *orderServer) dispatch(m *mdg.Matcher, msgType byte, body []byte, now int64) []codec.ExecReport {
	switch msgType {
	case codec.MsgOrderSubmit:
		if o, ok := codec.DecodeOrderSubmit(body); ok {
			return m.Submit(o, now)
		}
	case codec.MsgOrderCancel:
		if orderID, venueOrderID, instrument, ok := codec.DecodeOrderCancel(body); ok {
			return []codec.ExecReport{m.Cancel(orderID, venueOrderID, instrument, now)}
		}
	case codec.MsgOrderModify:
		if orderID, venueOrderID, instrument, px, qty, ok := codec.DecodeOrderModify(body); ok {
			return []codec.ExecReport{m.Modify(orderID, venueOrderID, instrument, px, qty, now)}
		}
	}
	return nil
}

func writeReports(conn net.Conn, reports []codec.ExecReport) error {
	var out []byte
	for _, r := range reports {
		var body []byte
		if r.MsgType == codec.MsgFill {
			body = codec.AppendFill(nil, r)
		} else {
			body = codec.AppendAck(nil, r)
		}
		frame, err := codec.AppendFrame(out, r.MsgType, body)
		if err != nil {
			return err
		}
		out = frame
	}
	_, err := conn.Write(out)
	return err
}
