package admin

import (
	"bufio"
	"context"
	"encoding/json"
	"net"

	"github.com/yanun0323/logs"

	"main/internal/obs"
	"main/internal/risk"
	"main/internal/router"
	"main/internal/schema"
	"main/pkg/uds"
)

// Command is one newline-delimited JSON control request.
type Command struct {
	Cmd    string `json:"cmd"`
	Reason string `json:"reason,omitempty"`
	Symbol string `json:"symbol,omitempty"`
	Halted *bool  `json:"halted,omitempty"`

	// update_limits: already-scaled integers; zero means unchanged.
	Limits *LimitsPatch `json:"limits,omitempty"`
}

// LimitsPatch overrides account-wide limit fields.
type LimitsPatch struct {
	MaxOrderQty        int64 `json:"maxOrderQty,omitempty"`
	MaxAbsPosition     int64 `json:"maxAbsPosition,omitempty"`
	MaxNotional        int64 `json:"maxNotional,omitempty"`
	MaxOrdersPerSecond int   `json:"maxOrdersPerSecond,omitempty"`
	MaxDailyLoss       int64 `json:"maxDailyLoss,omitempty"`
}

// Response is the single JSON line written back per command.
type Response struct {
	OK    bool           `json:"ok"`
	Error string         `json:"error,omitempty"`
	State *StateSnapshot `json:"state,omitempty"`
	Count int            `json:"count,omitempty"`
}

// StateSnapshot is the snapshot_state payload.
type StateSnapshot struct {
	KillSwitch       bool                 `json:"killSwitch"`
	KillSwitchReason string               `json:"killSwitchReason,omitempty"`
	OpenOrders       []schema.Order       `json:"openOrders"`
	History          []schema.Order       `json:"history"`
	Positions        []PositionEntry      `json:"positions"`
	Counters         obs.CountersSnapshot `json:"counters"`
}

// PositionEntry flattens one position for JSON.
type PositionEntry struct {
	StrategyID uint32              `json:"strategyId"`
	Instrument schema.InstrumentID `json:"instrument"`
	Net        schema.Quantity     `json:"net"`
	AvgEntry   schema.Price        `json:"avgEntry"`
	Realized   schema.Notional     `json:"realized"`
}

// Server is the non-hot-path control socket. Commands that touch order
// or risk state hop onto the owning goroutine through its control ring
// and wait for completion; the hot path never blocks on admin work.
type Server struct {
	srv       *uds.Server
	ks        *risk.KillSwitch
	limits    *risk.LimitsHolder
	positions *risk.PositionTable
	engine    *risk.Engine
	router    *router.Router
	reg       *schema.Registry
	counters  *obs.Counters
}

// NewServer builds the admin server on a unix socket path.
func NewServer(path string, ks *risk.KillSwitch, limits *risk.LimitsHolder, positions *risk.PositionTable, engine *risk.Engine, rt *router.Router, reg *schema.Registry, counters *obs.Counters) (*Server, error) {
	srv, err := uds.NewServer(path)
	if err != nil {
		return nil, err
	}
	return &Server{
		srv:       srv,
		ks:        ks,
		limits:    limits,
		positions: positions,
		engine:    engine,
		router:    rt,
		reg:       reg,
		counters:  counters,
	}, nil
}

// Run listens and serves until the context is done.
func (s *Server) Run(ctx context.Context) error {
	logs.Infof("admin socket listening: %s", s.srv.Path())
	return s.srv.Serve(ctx, func(conn *net.UnixConn) {
		s.serve(conn)
	})
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cmd Command
		if err := json.Unmarshal(line, &cmd); err != nil {
			_ = enc.Encode(Response{Error: "malformed command: " + err.Error()})
			continue
		}
		_ = enc.Encode(s.Handle(cmd))
	}
}

// Handle executes one command and builds its response.
func (s *Server) Handle(cmd Command) Response {
	switch cmd.Cmd {
	case "flip_kill_switch":
		return s.flipKillSwitch(cmd)
	case "update_limits":
		return s.updateLimits(cmd)
	case "halt_instrument":
		return s.haltInstrument(cmd)
	case "cancel_all":
		return s.cancelAll()
	case "snapshot_state":
		return s.snapshotState()
	default:
		return Response{Error: "unknown command: " + cmd.Cmd}
	}
}

func (s *Server) flipKillSwitch(cmd Command) Response {
	if s.ks.Engaged() {
		s.ks.Reset()
		logs.Infof("admin: kill switch reset")
	} else {
		reason := cmd.Reason
		if reason == "" {
			reason = "admin"
		}
		s.ks.Trip(reason)
	}
	return Response{OK: true}
}

func (s *Server) updateLimits(cmd Command) Response {
	if cmd.Limits == nil {
		return Response{Error: "update_limits: missing limits"}
	}
	cur := *s.limits.Load()
	p := cmd.Limits
	if p.MaxOrderQty > 0 {
		cur.MaxOrderQty = schema.Quantity(p.MaxOrderQty)
	}
	if p.MaxAbsPosition > 0 {
		cur.MaxAbsPosition = schema.Quantity(p.MaxAbsPosition)
	}
	if p.MaxNotional > 0 {
		cur.MaxNotional = schema.Notional(p.MaxNotional)
	}
	if p.MaxOrdersPerSecond > 0 {
		cur.MaxOrdersPerSecond = p.MaxOrdersPerSecond
	}
	if p.MaxDailyLoss > 0 {
		cur.MaxDailyLoss = schema.Notional(p.MaxDailyLoss)
	}
	s.limits.Store(cur)
	logs.Infof("admin: limits updated")
	return Response{OK: true}
}

func (s *Server) haltInstrument(cmd Command) Response {
	id, ok := s.reg.InstrumentIDBySymbol(cmd.Symbol)
	if !ok {
		return Response{Error: "unknown symbol: " + cmd.Symbol}
	}
	on := true
	if cmd.Halted != nil {
		on = *cmd.Halted
	}
	done := make(chan struct{})
	if !s.engine.Do(func() {
		s.engine.Gate().Halt(id, on)
		close(done)
	}) {
		return Response{Error: "risk control ring full"}
	}
	<-done
	logs.Infof("admin: instrument %s halted=%v", cmd.Symbol, on)
	return Response{OK: true}
}

func (s *Server) cancelAll() Response {
	var n int
	done := make(chan struct{})
	s.router.Do(func() {
		n = s.router.CancelAll()
		close(done)
	})
	<-done
	logs.Infof("admin: cancel_all raised %d cancels", n)
	return Response{OK: true, Count: n}
}

func (s *Server) snapshotState() Response {
	snap := &StateSnapshot{
		KillSwitch:       s.ks.Engaged(),
		KillSwitchReason: s.ks.Reason(),
		Counters:         s.counters.Snapshot(),
	}
	for key, pos := range s.positions.Snapshot() {
		snap.Positions = append(snap.Positions, PositionEntry{
			StrategyID: key.StrategyID,
			Instrument: key.Instrument,
			Net:        pos.Net,
			AvgEntry:   pos.AvgEntry,
			Realized:   pos.Realized,
		})
	}
	done := make(chan struct{})
	s.router.Do(func() {
		snap.OpenOrders = s.router.OpenOrders()
		snap.History = s.router.History()
		close(done)
	})
	<-done
	return Response{OK: true, State: snap}
}
