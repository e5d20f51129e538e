package gateway

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/time/rate"

	"main/internal/bus"
	"main/internal/codec"
	"main/internal/obs"
	"main/internal/schema"
)

var (
	ErrDisconnected = errors.New("order gateway disconnected")
	ErrThrottled    = errors.New("order gateway throttled")
)

// Config controls one venue order connection.
type Config struct {
	Addr           string
	DialTimeout    time.Duration
	ReadBufferSize int
	// MaxOrdersPerSec is the venue-imposed message rate. Zero disables
	// the throttle.
	MaxOrdersPerSec int
	Burst           int
	BackoffMin      time.Duration
	BackoffMax      time.Duration
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 1 << 16
	}
	if c.Burst <= 0 {
		c.Burst = 16
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = 100 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	return c
}

// TCP is the binary order gateway for one venue. Writes happen on the
// router goroutine; the read goroutine decodes execution reports and
// pushes them onto the router's report ring. Throttled or disconnected
// submits fail fast so the router can reject instead of blocking the
// order path.
type TCP struct {
	cfg      Config
	reports  *bus.Ring[codec.ExecReport]
	counters *obs.Counters
	limiter  *rate.Limiter

	mu   sync.Mutex
	conn net.Conn
}

// NewTCP wires a gateway to its own router report ring. The gateway is
// the ring's only producer.
func NewTCP(cfg Config, reports *bus.Ring[codec.ExecReport], counters *obs.Counters) *TCP {
	cfg = cfg.withDefaults()
	var limiter *rate.Limiter
	if cfg.MaxOrdersPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxOrdersPerSec), cfg.Burst)
	}
	return &TCP{cfg: cfg, reports: reports, counters: counters, limiter: limiter}
}

// Submit serializes and writes an order submit frame.
func (g *TCP) Submit(o schema.Order) error {
	if g.limiter != nil && !g.limiter.Allow() {
		return ErrThrottled
	}
	frame, err := codec.AppendFrame(nil, codec.MsgOrderSubmit, codec.AppendOrderSubmit(nil, o))
	if err != nil {
		return errors.Wrap(err, "encode submit")
	}
	return g.write(frame)
}

// Cancel writes an order cancel frame. Cancels bypass the throttle so a
// kill-switch flatten is never rate limited.
func (g *TCP) Cancel(orderID, venueOrderID uint64, instrument schema.InstrumentID) error {
	frame, err := codec.AppendFrame(nil, codec.MsgOrderCancel, codec.AppendOrderCancel(nil, orderID, venueOrderID, instrument))
	if err != nil {
		return errors.Wrap(err, "encode cancel")
	}
	return g.write(frame)
}

// Modify writes an order modify frame.
func (g *TCP) Modify(orderID, venueOrderID uint64, instrument schema.InstrumentID, newPrice schema.Price, newQty schema.Quantity) error {
	if g.limiter != nil && !g.limiter.Allow() {
		return ErrThrottled
	}
	frame, err := codec.AppendFrame(nil, codec.MsgOrderModify, codec.AppendOrderModify(nil, orderID, venueOrderID, instrument, newPrice, newQty))
	if err != nil {
		return errors.Wrap(err, "encode modify")
	}
	return g.write(frame)
}

func (g *TCP) write(frame []byte) error {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		return ErrDisconnected
	}
	if _, err := conn.Write(frame); err != nil {
		return errors.Wrap(err, "write order frame")
	}
	return nil
}

// Run dials and reads execution reports until the context is done,
// reconnecting with exponential backoff.
func (g *TCP) Run(ctx context.Context) {
	bo := &backoff.Backoff{
		Min:    g.cfg.BackoffMin,
		Max:    g.cfg.BackoffMax,
		Factor: 2,
		Jitter: true,
	}
	for ctx.Err() == nil {
		conn, err := net.DialTimeout("tcp", g.cfg.Addr, g.cfg.DialTimeout)
		if err != nil {
			wait := bo.Duration()
			logs.Errorf("gateway dial %s failed, retry in %s: %+v", g.cfg.Addr, wait, err)
			if !sleepCtx(ctx, wait) {
				return
			}
			continue
		}
		bo.Reset()
		g.setConn(conn)
		logs.Infof("gateway connected: %s", g.cfg.Addr)

		err = g.readLoop(ctx, conn)
		g.setConn(nil)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		logs.Errorf("gateway connection lost: %+v", err)
		if !sleepCtx(ctx, bo.Duration()) {
			return
		}
	}
}

func (g *TCP) readLoop(ctx context.Context, conn net.Conn) error {
	buf := make([]byte, 0, g.cfg.ReadBufferSize)
	chunk := make([]byte, g.cfg.ReadBufferSize)

	for ctx.Err() == nil {
		n, err := conn.Read(chunk)
		if err != nil {
			return errors.Wrap(err, "read gateway")
		}
		buf = append(buf, chunk[:n]...)

		off := 0
		for {
			msgType, body, consumed, err := codec.ReadFrame(buf[off:])
			if err != nil {
				return errors.Wrap(err, "frame stream corrupt")
			}
			if consumed == 0 {
				break
			}
			off += consumed
			rep, ok := codec.DecodeExecReport(msgType, body)
			if !ok {
				g.counters.IncMalformedFrame()
				continue
			}
			if !g.reports.TryPush(rep) {
				// the router must never lose an exec report silently
				g.counters.IncRingDrop()
				logs.Errorf("gateway report ring full, dropping exec for order %d", rep.OrderID)
			}
		}
		if off > 0 {
			buf = append(buf[:0], buf[off:]...)
		}
	}
	return ctx.Err()
}

func (g *TCP) setConn(conn net.Conn) {
	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
