package journal

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/schema"
	"main/pkg/conn"
)

// ExecRow is the relational projection of one execution event.
type ExecRow struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	OrderID      uint64 `gorm:"index"`
	ParentID     uint64
	ClientTag    uint64
	StrategyID   uint32 `gorm:"index"`
	Instrument   uint32
	Status       uint16
	Reason       uint16
	RiskReason   uint16
	VenueCode    uint16
	FillPrice    int64
	FillQty      int64
	FilledQty    int64
	LeavesQty    int64
	AvgPrice     int64
	VenueOrderID uint64
	ExecID       uint64
	Ts           int64 `gorm:"index"`
}

// TableName keeps the table name stable across gorm naming strategies.
func (ExecRow) TableName() string { return "execution_events" }

// PgSinkConfig controls the relational sink.
type PgSinkConfig struct {
	DSN           string
	BatchSize     int
	FlushInterval time.Duration
}

func (c PgSinkConfig) withDefaults() PgSinkConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 256
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	return c
}

// PgSink batches execution events into postgres. Off the hot path; it
// tails its own multicast reader and tolerates its own failures.
type PgSink struct {
	cfg    PgSinkConfig
	client *conn.Client
}

// NewPgSink connects and migrates the execution table.
func NewPgSink(cfg PgSinkConfig) (*PgSink, error) {
	cfg = cfg.withDefaults()
	client, err := conn.New(conn.Option{ConnString: cfg.DSN})
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	if err := client.DB().AutoMigrate(&ExecRow{}); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "migrate execution_events")
	}
	return &PgSink{cfg: cfg, client: client}, nil
}

// Close closes the connection pool.
func (s *PgSink) Close() error { return s.client.Close() }

// Run tails the execution stream into postgres until ctx is done.
func (s *PgSink) Run(ctx context.Context, reader *bus.Reader[schema.ExecutionEvent]) {
	batch := make([]ExecRow, 0, s.cfg.BatchSize)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.client.DB().WithContext(ctx).Create(&batch).Error; err != nil {
			logs.Errorf("pg sink flush %d rows: %+v", len(batch), err)
		}
		batch = batch[:0]
	}
	defer flush()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for len(batch) < s.cfg.BatchSize {
				ev, err := reader.Poll()
				if err != nil {
					if err == bus.ErrLagged {
						logs.Errorf("pg sink lagged behind execution stream")
						continue
					}
					break
				}
				batch = append(batch, toRow(ev))
			}
			flush()
		}
	}
}

func toRow(ev schema.ExecutionEvent) ExecRow {
	return ExecRow{
		OrderID:      ev.OrderID,
		ParentID:     ev.ParentID,
		ClientTag:    ev.ClientTag,
		StrategyID:   ev.StrategyID,
		Instrument:   uint32(ev.Instrument),
		Status:       uint16(ev.Status),
		Reason:       uint16(ev.Reason),
		RiskReason:   uint16(ev.RiskReason),
		VenueCode:    ev.VenueCode,
		FillPrice:    int64(ev.FillPrice),
		FillQty:      int64(ev.FillQty),
		FilledQty:    int64(ev.FilledQty),
		LeavesQty:    int64(ev.LeavesQty),
		AvgPrice:     int64(ev.AvgPrice),
		VenueOrderID: ev.VenueOrderID,
		ExecID:       ev.ExecID,
		Ts:           ev.Ts,
	}
}
