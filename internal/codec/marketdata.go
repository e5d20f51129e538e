package codec

import (
	"encoding/binary"

	"main/internal/schema"
)

const (
	deltaBodySize     = 40
	tradeBodySize     = 40
	statusBodySize    = 24
	heartbeatBodySize = 8
	snapshotHeadSize  = 24
	levelSize         = 16
)

// AppendDelta serializes a delta message body.
func AppendDelta(dst []byte, ev schema.MarketEvent) []byte {
	var b [deltaBodySize]byte
	binary.LittleEndian.PutUint32(b[0:4], uint32(ev.Instrument))
	binary.LittleEndian.PutUint16(b[4:6], uint16(ev.Side))
	binary.LittleEndian.PutUint64(b[8:16], ev.Seq)
	binary.LittleEndian.PutUint64(b[16:24], uint64(ev.Price))
	binary.LittleEndian.PutUint64(b[24:32], uint64(ev.Qty))
	binary.LittleEndian.PutUint64(b[32:40], uint64(ev.VenueTs))
	return append(dst, b[:]...)
}

// DecodeDelta parses a delta body into ev.
func DecodeDelta(src []byte, ev *schema.MarketEvent) bool {
	if len(src) < deltaBodySize {
		return false
	}
	ev.Kind = schema.MarketEventDelta
	ev.Instrument = schema.InstrumentID(binary.LittleEndian.Uint32(src[0:4]))
	ev.Side = schema.BookSide(binary.LittleEndian.Uint16(src[4:6]))
	ev.Seq = binary.LittleEndian.Uint64(src[8:16])
	ev.Price = schema.Price(int64(binary.LittleEndian.Uint64(src[16:24])))
	ev.Qty = schema.Quantity(int64(binary.LittleEndian.Uint64(src[24:32])))
	ev.VenueTs = int64(binary.LittleEndian.Uint64(src[32:40]))
	return true
}

// AppendTrade serializes a trade message body.
func AppendTrade(dst []byte, ev schema.MarketEvent) []byte {
	var b [tradeBodySize]byte
	binary.LittleEndian.PutUint32(b[0:4], uint32(ev.Instrument))
	binary.LittleEndian.PutUint16(b[4:6], uint16(ev.Aggressor))
	binary.LittleEndian.PutUint64(b[8:16], ev.Seq)
	binary.LittleEndian.PutUint64(b[16:24], uint64(ev.Price))
	binary.LittleEndian.PutUint64(b[24:32], uint64(ev.Qty))
	binary.LittleEndian.PutUint64(b[32:40], uint64(ev.VenueTs))
	return append(dst, b[:]...)
}

// DecodeTrade parses a trade body into ev.
func DecodeTrade(src []byte, ev *schema.MarketEvent) bool {
	if len(src) < tradeBodySize {
		return false
	}
	ev.Kind = schema.MarketEventTrade
	ev.Instrument = schema.InstrumentID(binary.LittleEndian.Uint32(src[0:4]))
	ev.Aggressor = schema.OrderSide(binary.LittleEndian.Uint16(src[4:6]))
	ev.Seq = binary.LittleEndian.Uint64(src[8:16])
	ev.Price = schema.Price(int64(binary.LittleEndian.Uint64(src[16:24])))
	ev.Qty = schema.Quantity(int64(binary.LittleEndian.Uint64(src[24:32])))
	ev.VenueTs = int64(binary.LittleEndian.Uint64(src[32:40]))
	return true
}

// AppendStatus serializes a status message body.
func AppendStatus(dst []byte, ev schema.MarketEvent) []byte {
	var b [statusBodySize]byte
	binary.LittleEndian.PutUint32(b[0:4], uint32(ev.Instrument))
	binary.LittleEndian.PutUint16(b[4:6], uint16(ev.Status))
	binary.LittleEndian.PutUint64(b[8:16], ev.Seq)
	binary.LittleEndian.PutUint64(b[16:24], uint64(ev.VenueTs))
	return append(dst, b[:]...)
}

// DecodeStatus parses a status body into ev.
func DecodeStatus(src []byte, ev *schema.MarketEvent) bool {
	if len(src) < statusBodySize {
		return false
	}
	ev.Kind = schema.MarketEventStatus
	ev.Instrument = schema.InstrumentID(binary.LittleEndian.Uint32(src[0:4]))
	ev.Status = schema.InstrumentStatus(binary.LittleEndian.Uint16(src[4:6]))
	ev.Seq = binary.LittleEndian.Uint64(src[8:16])
	ev.VenueTs = int64(binary.LittleEndian.Uint64(src[16:24]))
	return true
}

// AppendHeartbeat serializes a heartbeat body.
func AppendHeartbeat(dst []byte, venueTs int64) []byte {
	var b [heartbeatBodySize]byte
	binary.LittleEndian.PutUint64(b[0:8], uint64(venueTs))
	return append(dst, b[:]...)
}

// DecodeHeartbeat parses a heartbeat body.
func DecodeHeartbeat(src []byte) (int64, bool) {
	if len(src) < heartbeatBodySize {
		return 0, false
	}
	return int64(binary.LittleEndian.Uint64(src[0:8])), true
}

// AppendSnapshot serializes a snapshot body: fixed head then bid and ask
// levels in book order.
func AppendSnapshot(dst []byte, ev schema.MarketEvent) []byte {
	var head [snapshotHeadSize]byte
	binary.LittleEndian.PutUint32(head[0:4], uint32(ev.Instrument))
	binary.LittleEndian.PutUint16(head[4:6], uint16(len(ev.Bids)))
	binary.LittleEndian.PutUint16(head[6:8], uint16(len(ev.Asks)))
	binary.LittleEndian.PutUint64(head[8:16], ev.Seq)
	binary.LittleEndian.PutUint64(head[16:24], uint64(ev.VenueTs))
	dst = append(dst, head[:]...)
	for _, lv := range ev.Bids {
		dst = appendLevel(dst, lv)
	}
	for _, lv := range ev.Asks {
		dst = appendLevel(dst, lv)
	}
	return dst
}

// DecodeSnapshot parses a snapshot body into ev, reusing ev.Bids/ev.Asks
// backing storage.
func DecodeSnapshot(src []byte, ev *schema.MarketEvent) bool {
	if len(src) < snapshotHeadSize {
		return false
	}
	nBids := int(binary.LittleEndian.Uint16(src[4:6]))
	nAsks := int(binary.LittleEndian.Uint16(src[6:8]))
	if len(src) < snapshotHeadSize+(nBids+nAsks)*levelSize {
		return false
	}
	ev.Kind = schema.MarketEventSnapshot
	ev.Instrument = schema.InstrumentID(binary.LittleEndian.Uint32(src[0:4]))
	ev.Seq = binary.LittleEndian.Uint64(src[8:16])
	ev.VenueTs = int64(binary.LittleEndian.Uint64(src[16:24]))

	ev.Bids = ev.Bids[:0]
	ev.Asks = ev.Asks[:0]
	off := snapshotHeadSize
	for i := 0; i < nBids; i++ {
		ev.Bids = append(ev.Bids, decodeLevel(src[off:]))
		off += levelSize
	}
	for i := 0; i < nAsks; i++ {
		ev.Asks = append(ev.Asks, decodeLevel(src[off:]))
		off += levelSize
	}
	return true
}

// DecodeMarketEvent dispatches on the frame type byte. Heartbeats decode to
// a MarketEventHeartbeat with only VenueTs set.
func DecodeMarketEvent(msgType byte, body []byte, ev *schema.MarketEvent) bool {
	switch msgType {
	case MsgSnapshot:
		return DecodeSnapshot(body, ev)
	case MsgDelta:
		return DecodeDelta(body, ev)
	case MsgTrade:
		return DecodeTrade(body, ev)
	case MsgStatus:
		return DecodeStatus(body, ev)
	case MsgHeartbeat:
		ts, ok := DecodeHeartbeat(body)
		if !ok {
			return false
		}
		ev.Kind = schema.MarketEventHeartbeat
		ev.VenueTs = ts
		return true
	default:
		return false
	}
}

// AppendSnapshotRequest serializes a snapshot re-request body.
func AppendSnapshotRequest(dst []byte, id schema.InstrumentID) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[0:4], uint32(id))
	return append(dst, b[:]...)
}

// DecodeSnapshotRequest parses a snapshot re-request body.
func DecodeSnapshotRequest(src []byte) (schema.InstrumentID, bool) {
	if len(src) < 4 {
		return 0, false
	}
	return schema.InstrumentID(binary.LittleEndian.Uint32(src[0:4])), true
}

func appendLevel(dst []byte, lv schema.Level) []byte {
	var b [levelSize]byte
	binary.LittleEndian.PutUint64(b[0:8], uint64(lv.Price))
	binary.LittleEndian.PutUint64(b[8:16], uint64(lv.Qty))
	return append(dst, b[:]...)
}

func decodeLevel(src []byte) schema.Level {
	return schema.Level{
		Price: schema.Price(int64(binary.LittleEndian.Uint64(src[0:8]))),
		Qty:   schema.Quantity(int64(binary.LittleEndian.Uint64(src[8:16]))),
	}
}
