package codec

import (
	"encoding/binary"

	"main/internal/schema"
)

const (
	ackBodySize  = 32
	fillBodySize = 64
)

// ExecReport is the venue-side view of an execution message. The router
// maps it onto its order state machine.
type ExecReport struct {
	MsgType      byte
	OrderID      uint64
	VenueOrderID uint64
	ExecID       uint64
	Instrument   schema.InstrumentID
	Code         uint16
	Price        schema.Price
	Qty          schema.Quantity
	LeavesQty    schema.Quantity
	VenueTs      int64
}

// AppendAck serializes an ack, reject, cancelled, or expired body.
// The distinction is the frame type byte; rejects carry a venue code.
func AppendAck(dst []byte, r ExecReport) []byte {
	var b [ackBodySize]byte
	binary.LittleEndian.PutUint64(b[0:8], r.OrderID)
	binary.LittleEndian.PutUint64(b[8:16], r.VenueOrderID)
	binary.LittleEndian.PutUint32(b[16:20], uint32(r.Instrument))
	binary.LittleEndian.PutUint16(b[20:22], r.Code)
	binary.LittleEndian.PutUint64(b[24:32], uint64(r.VenueTs))
	return append(dst, b[:]...)
}

// AppendFill serializes a fill body. LeavesQty zero means fully filled.
func AppendFill(dst []byte, r ExecReport) []byte {
	var b [fillBodySize]byte
	binary.LittleEndian.PutUint64(b[0:8], r.OrderID)
	binary.LittleEndian.PutUint64(b[8:16], r.VenueOrderID)
	binary.LittleEndian.PutUint64(b[16:24], r.ExecID)
	binary.LittleEndian.PutUint32(b[24:28], uint32(r.Instrument))
	binary.LittleEndian.PutUint64(b[32:40], uint64(r.Price))
	binary.LittleEndian.PutUint64(b[40:48], uint64(r.Qty))
	binary.LittleEndian.PutUint64(b[48:56], uint64(r.LeavesQty))
	binary.LittleEndian.PutUint64(b[56:64], uint64(r.VenueTs))
	return append(dst, b[:]...)
}

// DecodeExecReport parses any execution frame body by type byte.
func DecodeExecReport(msgType byte, src []byte) (ExecReport, bool) {
	switch msgType {
	case MsgAck, MsgReject, MsgCancelled, MsgExpired:
		if len(src) < ackBodySize {
			return ExecReport{}, false
		}
		return ExecReport{
			MsgType:      msgType,
			OrderID:      binary.LittleEndian.Uint64(src[0:8]),
			VenueOrderID: binary.LittleEndian.Uint64(src[8:16]),
			Instrument:   schema.InstrumentID(binary.LittleEndian.Uint32(src[16:20])),
			Code:         binary.LittleEndian.Uint16(src[20:22]),
			VenueTs:      int64(binary.LittleEndian.Uint64(src[24:32])),
		}, true
	case MsgFill:
		if len(src) < fillBodySize {
			return ExecReport{}, false
		}
		return ExecReport{
			MsgType:      msgType,
			OrderID:      binary.LittleEndian.Uint64(src[0:8]),
			VenueOrderID: binary.LittleEndian.Uint64(src[8:16]),
			ExecID:       binary.LittleEndian.Uint64(src[16:24]),
			Instrument:   schema.InstrumentID(binary.LittleEndian.Uint32(src[24:28])),
			Price:        schema.Price(int64(binary.LittleEndian.Uint64(src[32:40]))),
			Qty:          schema.Quantity(int64(binary.LittleEndian.Uint64(src[40:48]))),
			LeavesQty:    schema.Quantity(int64(binary.LittleEndian.Uint64(src[48:56]))),
			VenueTs:      int64(binary.LittleEndian.Uint64(src[56:64])),
		}, true
	default:
		return ExecReport{}, false
	}
}
