package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/admin"
	"main/internal/algo"
	"main/internal/book"
	"main/internal/clock"
	"main/internal/feed"
	"main/internal/gateway"
	"main/internal/journal"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/risk"
	"main/internal/router"
	"main/internal/schema"
	"main/internal/strategy"
)

func main() {
	configPath := flag.String("config", "engine.yaml", "Path to YAML config")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		logs.Errorf("config load failed: %+v", err)
		os.Exit(ops.ExitCodeFor(err))
	}

	session := uuid.NewString()[:8]
	logs.Infof("engine session %s starting", session)

	if loaded.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "hft/engine",
			ServerAddress:   loaded.Profiling.ServerAddress,
			Tags:            map[string]string{"session": session},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			logs.Errorf("pyroscope start failed: %+v", err)
		} else {
			defer profiler.Stop()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.New()
	tracer := obs.NewTracer()
	counters := obs.NewCounters()
	aggregator := obs.NewAggregator(tracer, time.Second, func(a obs.Alert) {
		logs.Errorf("latency alert: %s p99=%dns limit=%dns", a.Point.Name(), a.Stats.P99, a.Limit.P99)
	})

	reg := loaded.Registry
	instrumentShards := loaded.Shards.InstrumentShards
	if instrumentShards <= 0 {
		instrumentShards = 1
	}
	strategyShards := loaded.Shards.StrategyShards
	if strategyShards <= 0 {
		strategyShards = 1
	}

	// feed decoders, one per venue, sharded by instrument
	decoders := make(map[schema.VenueID]*feed.Decoder, len(loaded.Venues))
	for _, v := range loaded.Venues {
		venue, _ := reg.Venue(v.ID)
		dec := feed.NewDecoder(feed.DecoderConfig{Venue: venue, Shards: instrumentShards}, reg, clk, tracer, counters)
		decoders[v.ID] = dec
		if strings.HasPrefix(v.FeedAddr, "ws://") || strings.HasPrefix(v.FeedAddr, "wss://") {
			wsf := feed.NewWsFeed(ctx, v.FeedAddr, dec, reg)
			if err := wsf.Start(ctx); err != nil {
				logs.Errorf("ws feed %s start failed: %+v", v.Name, err)
				os.Exit(ops.ExitConfig)
			}
			for i := 0; i < reg.InstrumentCount(); i++ {
				inst, _ := reg.InstrumentAt(i)
				if inst.VenueID != v.ID {
					continue
				}
				if err := wsf.SubscribeDepth(ctx, inst.Symbol); err != nil {
					logs.Errorf("ws feed %s subscribe %s failed: %+v", v.Name, inst.Symbol, err)
					os.Exit(ops.ExitConfig)
				}
			}
			wsf.ObserveDepth(ctx)
			continue
		}
		conn := feed.NewConn(feed.ConnConfig{Addr: v.FeedAddr}, dec)
		go conn.Run(ctx)
	}
	resyncByVenue := func(id schema.InstrumentID, lastSeq uint64) {
		inst, ok := reg.Instrument(id)
		if !ok {
			return
		}
		if dec := decoders[inst.VenueID]; dec != nil {
			dec.RequestResync(id, lastSeq)
		}
	}
	releaseByVenue := func(ev *schema.MarketEvent) {
		inst, ok := reg.Instrument(ev.Instrument)
		if !ok {
			return
		}
		if dec := decoders[inst.VenueID]; dec != nil {
			dec.Release(ev)
		}
	}

	// book shards
	bookShards := make([]*book.Shard, instrumentShards)
	for s := range bookShards {
		bs := book.NewShard(book.ShardConfig{ID: s}, clk, tracer, counters)
		bs.SetResyncFunc(resyncByVenue)
		bs.SetReleaseFunc(releaseByVenue)
		for _, dec := range decoders {
			bs.AddInput(dec.Output(s))
		}
		for i := 0; i < reg.InstrumentCount(); i++ {
			inst, _ := reg.InstrumentAt(i)
			if book.ShardFor(inst.ID, instrumentShards) == s {
				bs.Admit(inst)
			}
		}
		bookShards[s] = bs
		go bs.Run(ctx)
	}

	// router and per-venue order gateways
	rt := router.New(router.Config{
		AckTimeoutMs:    loaded.Router.AckTimeoutMs,
		HistoryCapacity: loaded.Router.HistoryCapacity,
	}, reg, clk, tracer, counters)
	for _, v := range loaded.Venues {
		gw := gateway.NewTCP(gateway.Config{
			Addr:            v.OrderAddr,
			MaxOrdersPerSec: v.MaxOrdersPerSec,
		}, rt.NewReportRing(), counters)
		rt.RegisterGateway(v.ID, gw)
		go gw.Run(ctx)
	}
	go rt.Run(ctx)

	// risk goroutine
	ks := &risk.KillSwitch{}
	limits := risk.NewLimitsHolder(loaded.Limits)
	positions := risk.NewPositionTable()
	gate := risk.NewGate(ks, limits, positions, reg, clk, tracer, counters)
	engine := risk.NewEngine(risk.EngineConfig{}, gate, rt, clk, counters)
	for _, bs := range bookShards {
		engine.AddBookInput(bs.Output().NewReader())
	}
	engine.SetExecInput(rt.Output().NewReader())

	// strategy shards
	newStrategyShard := func(id int) *strategy.Shard {
		ss := strategy.NewShard(strategy.ShardConfig{ID: id}, clk, tracer, counters)
		for b, bs := range bookShards {
			ss.AddBookInput(b, bs.Output().NewReader())
		}
		ss.AddExecInput(rt.Output().NewReader())
		ss.SetPositionFunc(positions.Net)
		ss.SetLagFunc(func(bookShard int) {
			logs.Errorf("strategy shard %d lagged behind book shard %d", id, bookShard)
			bookShards[bookShard].RequestRefresh()
		})
		engine.AddIntentInput(ss.Output())
		return ss
	}
	shards := make([]*strategy.Shard, strategyShards)
	for s := range shards {
		shards[s] = newStrategyShard(s)
	}
	for _, rtCfg := range loaded.Strategies {
		shard := shards[rtCfg.Shard%strategyShards]
		mm := strategy.NewMarketMaker(rtCfg.MM)
		shard.Register(rtCfg.ID, mm, rtCfg.MM.Instrument)
	}

	// algo executor rides a dedicated shard so parent slicing never
	// contends with quoting strategies
	algoShard := newStrategyShard(strategyShards)
	executor := algo.NewExecutor(algo.ExecutorConfig{
		StrategyID:   loaded.Algo.StrategyID,
		OffsetTicks:  loaded.Algo.OffsetTicks,
		RepriceTicks: loaded.Algo.RepriceTicks,
	}, reg, tracer, counters, rt.Inject)
	executor.Bind(algoShard.Register(loaded.Algo.StrategyID, executor))
	engine.SetAlgoInbox(executor.Inbox())

	for _, ss := range shards {
		go ss.Run(ctx)
	}
	go algoShard.Run(ctx)
	go engine.Run(ctx)
	go aggregator.Run(ctx)

	// execution journal
	var jw *journal.Writer
	if loaded.Journal.Dir != "" {
		jw, err = journal.NewWriter(journal.Config{
			Dir:             loaded.Journal.Dir,
			SegmentMaxBytes: loaded.Journal.SegmentBytes,
		})
		if err != nil {
			logs.Errorf("journal init failed: %+v", err)
			os.Exit(ops.ExitConfig)
		}
		if err := jw.Start(ctx); err != nil {
			logs.Errorf("journal start failed: %+v", err)
			os.Exit(ops.ExitConfig)
		}
		go jw.Consume(ctx, rt.Output().NewReader())
	}
	if loaded.Journal.PostgresDSN != "" {
		sink, err := journal.NewPgSink(journal.PgSinkConfig{DSN: loaded.Journal.PostgresDSN})
		if err != nil {
			logs.Errorf("pg sink init failed: %+v", err)
			os.Exit(ops.ExitConfig)
		}
		defer sink.Close()
		go sink.Run(ctx, rt.Output().NewReader())
	}

	// admin socket
	if loaded.Admin.Socket != "" {
		srv, err := admin.NewServer(loaded.Admin.Socket, ks, limits, positions, engine, rt, reg, counters)
		if err != nil {
			logs.Errorf("admin init failed: %+v", err)
			os.Exit(ops.ExitConfig)
		}
		go func() {
			if err := srv.Run(ctx); err != nil {
				logs.Errorf("admin server: %+v", err)
			}
		}()
	}

	logs.Infof("engine session %s running: %d venues, %d instruments, %d strategies",
		session, len(loaded.Venues), reg.InstrumentCount(), len(loaded.Strategies))

	<-sys.Shutdown()
	logs.Infof("engine session %s shutting down", session)
	cancel()
	if jw != nil {
		if err := jw.Close(); err != nil {
			logs.Errorf("journal close: %+v", err)
		}
	}
	if ks.Engaged() {
		logs.Errorf("kill switch engaged at shutdown: %s", ks.Reason())
		os.Exit(ops.ExitInvariant)
	}
	os.Exit(ops.ExitOK)
}
