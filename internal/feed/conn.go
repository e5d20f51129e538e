package feed

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/codec"
	"main/internal/schema"
)

// ConnConfig controls one venue market-data connection.
type ConnConfig struct {
	Addr             string
	DialTimeout      time.Duration
	ReadBufferSize   int
	HeartbeatTimeout time.Duration
	MalformedLimit   int
	MalformedWindow  time.Duration
	BackoffMin       time.Duration
	BackoffMax       time.Duration
}

func (c ConnConfig) withDefaults() ConnConfig {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 1 << 16
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 10 * time.Second
	}
	if c.MalformedLimit <= 0 {
		c.MalformedLimit = 16
	}
	if c.MalformedWindow <= 0 {
		c.MalformedWindow = time.Second
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = 100 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	return c
}

// Conn owns one TCP market-data connection and its reconnect loop. Frames
// are handed to the decoder on the read goroutine; snapshot requests are
// written from whichever goroutine asks.
type Conn struct {
	cfg     ConnConfig
	decoder *Decoder

	mu   sync.Mutex
	conn net.Conn
}

// NewConn wires a connection to a decoder and installs itself as the
// decoder's snapshot request path.
func NewConn(cfg ConnConfig, decoder *Decoder) *Conn {
	c := &Conn{cfg: cfg.withDefaults(), decoder: decoder}
	decoder.SetSnapshotRequestFunc(c.RequestSnapshot)
	return c
}

// Run dials and reads until the context is done, reconnecting with
// exponential backoff. Instruments are halted for the duration of every
// disconnect and resync on reconnect.
func (c *Conn) Run(ctx context.Context) {
	bo := &backoff.Backoff{
		Min:    c.cfg.BackoffMin,
		Max:    c.cfg.BackoffMax,
		Factor: 2,
		Jitter: true,
	}
	for ctx.Err() == nil {
		conn, err := net.DialTimeout("tcp", c.cfg.Addr, c.cfg.DialTimeout)
		if err != nil {
			wait := bo.Duration()
			logs.Errorf("feed dial %s failed, retry in %s: %+v", c.cfg.Addr, wait, err)
			if !sleepCtx(ctx, wait) {
				return
			}
			continue
		}
		bo.Reset()
		c.setConn(conn)
		logs.Infof("feed connected: %s", c.cfg.Addr)

		err = c.readLoop(ctx, conn)
		c.setConn(nil)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		logs.Errorf("feed connection lost: %+v", err)
		c.decoder.MarkVenueStatus(schema.InstrumentStatusHalted)
		if !sleepCtx(ctx, bo.Duration()) {
			return
		}
	}
}

func (c *Conn) readLoop(ctx context.Context, conn net.Conn) error {
	buf := make([]byte, 0, c.cfg.ReadBufferSize)
	chunk := make([]byte, c.cfg.ReadBufferSize)
	malformed := 0
	windowStart := time.Now()

	for ctx.Err() == nil {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.HeartbeatTimeout)); err != nil {
			return errors.Wrap(err, "set read deadline")
		}
		n, err := conn.Read(chunk)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return errors.Errorf("no data within heartbeat timeout %s", c.cfg.HeartbeatTimeout)
			}
			return errors.Wrap(err, "read feed")
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
			if err := c.decoder.OnFrame(msgType, body); err != nil {
				now := time.Now()
				if now.Sub(windowStart) > c.cfg.MalformedWindow {
					windowStart = now
					malformed = 0
				}
				malformed++
				if malformed > c.cfg.MalformedLimit {
					return errors.Errorf("connection unhealthy: %d malformed frames within %s", malformed, c.cfg.MalformedWindow)
				}
			}
		}
		if off > 0 {
			buf = append(buf[:0], buf[off:]...)
		}
	}
	return ctx.Err()
}

// RequestSnapshot writes a snapshot re-request for one instrument. Dropped
// silently when disconnected; the reconnect path resnapshots everything.
func (c *Conn) RequestSnapshot(id schema.InstrumentID) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	frame, err := codec.AppendFrame(nil, codec.MsgSnapshotRequest, codec.AppendSnapshotRequest(nil, id))
	if err != nil {
		return
	}
	if _, err := conn.Write(frame); err != nil {
		logs.Errorf("snapshot request write failed: %+v", err)
	}
}

func (c *Conn) setConn(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
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
