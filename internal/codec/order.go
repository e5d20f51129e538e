package codec

import (
	"encoding/binary"

	"main/internal/schema"
)

const (
	submitBodySize = 48
	cancelBodySize = 24
	modifyBodySize = 40
)

// AppendOrderSubmit serializes an order submission body.
func AppendOrderSubmit(dst []byte, o schema.Order) []byte {
	var b [submitBodySize]byte
	binary.LittleEndian.PutUint64(b[0:8], o.ID)
	binary.LittleEndian.PutUint32(b[8:12], uint32(o.Instrument))
	binary.LittleEndian.PutUint16(b[12:14], uint16(o.Side))
	binary.LittleEndian.PutUint16(b[14:16], uint16(o.Type))
	binary.LittleEndian.PutUint16(b[16:18], uint16(o.TimeInForce))
	binary.LittleEndian.PutUint64(b[24:32], uint64(o.Price))
	binary.LittleEndian.PutUint64(b[32:40], uint64(o.StopPrice))
	binary.LittleEndian.PutUint64(b[40:48], uint64(o.Qty))
	return append(dst, b[:]...)
}

// DecodeOrderSubmit parses an order submission body.
func DecodeOrderSubmit(src []byte) (schema.Order, bool) {
	if len(src) < submitBodySize {
		return schema.Order{}, false
	}
	return schema.Order{
		ID:          binary.LittleEndian.Uint64(src[0:8]),
		Instrument:  schema.InstrumentID(binary.LittleEndian.Uint32(src[8:12])),
		Side:        schema.OrderSide(binary.LittleEndian.Uint16(src[12:14])),
		Type:        schema.OrderType(binary.LittleEndian.Uint16(src[14:16])),
		TimeInForce: schema.TimeInForce(binary.LittleEndian.Uint16(src[16:18])),
		Price:       schema.Price(int64(binary.LittleEndian.Uint64(src[24:32]))),
		StopPrice:   schema.Price(int64(binary.LittleEndian.Uint64(src[32:40]))),
		Qty:         schema.Quantity(int64(binary.LittleEndian.Uint64(src[40:48]))),
	}, true
}

// AppendOrderCancel serializes a cancel request body.
func AppendOrderCancel(dst []byte, orderID, venueOrderID uint64, instrument schema.InstrumentID) []byte {
	var b [cancelBodySize]byte
	binary.LittleEndian.PutUint64(b[0:8], orderID)
	binary.LittleEndian.PutUint64(b[8:16], venueOrderID)
	binary.LittleEndian.PutUint32(b[16:20], uint32(instrument))
	return append(dst, b[:]...)
}

// DecodeOrderCancel parses a cancel request body.
func DecodeOrderCancel(src []byte) (orderID, venueOrderID uint64, instrument schema.InstrumentID, ok bool) {
	if len(src) < cancelBodySize {
		return 0, 0, 0, false
	}
	return binary.LittleEndian.Uint64(src[0:8]),
		binary.LittleEndian.Uint64(src[8:16]),
		schema.InstrumentID(binary.LittleEndian.Uint32(src[16:20])),
		true
}

// AppendOrderModify serializes a modify request body.
func AppendOrderModify(dst []byte, orderID, venueOrderID uint64, instrument schema.InstrumentID, newPrice schema.Price, newQty schema.Quantity) []byte {
	var b [modifyBodySize]byte
	binary.LittleEndian.PutUint64(b[0:8], orderID)
	binary.LittleEndian.PutUint64(b[8:16], venueOrderID)
	binary.LittleEndian.PutUint32(b[16:20], uint32(instrument))
	binary.LittleEndian.PutUint64(b[24:32], uint64(newPrice))
	binary.LittleEndian.PutUint64(b[32:40], uint64(newQty))
	return append(dst, b[:]...)
}

// DecodeOrderModify parses a modify request body.
func DecodeOrderModify(src []byte) (orderID, venueOrderID uint64, instrument schema.InstrumentID, newPrice schema.Price, newQty schema.Quantity, ok bool) {
	if len(src) < modifyBodySize {
		return 0, 0, 0, 0, 0, false
	}
	return binary.LittleEndian.Uint64(src[0:8]),
		binary.LittleEndian.Uint64(src[8:16]),
		schema.InstrumentID(binary.LittleEndian.Uint32(src[16:20])),
		schema.Price(int64(binary.LittleEndian.Uint64(src[24:32]))),
		schema.Quantity(int64(binary.LittleEndian.Uint64(src[32:40]))),
		true
}
