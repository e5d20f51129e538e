package journal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"

	"main/internal/schema"
)

const (
	recordVersion      uint16 = 1
	recordHeaderSize          = 20
	recordBodySize            = 104
	recordChecksumSize        = 4
	recordSize                = recordHeaderSize + recordBodySize + recordChecksumSize
)

var (
	recordMagic = [4]byte{'E', 'X', 'J', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrInvalidMagic         = errors.New("journal invalid magic")
	ErrUnsupportedRecordVer = errors.New("journal unsupported record version")
	ErrTruncatedRecord      = errors.New("journal truncated record")
)

func encodeHeader(dst []byte, seq uint64) {
	_ = dst[recordHeaderSize-1]
	copy(dst[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(dst[4:6], recordVersion)
	binary.LittleEndian.PutUint16(dst[6:8], schema.SchemaVersion)
	binary.LittleEndian.PutUint32(dst[8:12], recordBodySize)
	binary.LittleEndian.PutUint64(dst[12:20], seq)
}

func decodeHeader(src []byte) (seq uint64, err error) {
	if len(src) < recordHeaderSize {
		return 0, ErrTruncatedRecord
	}
	if !bytes.Equal(src[0:4], recordMagic[:]) {
		return 0, ErrInvalidMagic
	}
	if ver := binary.LittleEndian.Uint16(src[4:6]); ver != recordVersion {
		return 0, ErrUnsupportedRecordVer
	}
	if bodyLen := binary.LittleEndian.Uint32(src[8:12]); bodyLen != recordBodySize {
		return 0, ErrTruncatedRecord
	}
	return binary.LittleEndian.Uint64(src[12:20]), nil
}

func encodeBody(dst []byte, ev schema.ExecutionEvent) {
	_ = dst[recordBodySize-1]
	binary.LittleEndian.PutUint64(dst[0:8], ev.OrderID)
	binary.LittleEndian.PutUint64(dst[8:16], ev.ParentID)
	binary.LittleEndian.PutUint64(dst[16:24], ev.ClientTag)
	binary.LittleEndian.PutUint32(dst[24:28], ev.StrategyID)
	binary.LittleEndian.PutUint32(dst[28:32], uint32(ev.Instrument))
	binary.LittleEndian.PutUint16(dst[32:34], uint16(ev.Status))
	binary.LittleEndian.PutUint16(dst[34:36], uint16(ev.Reason))
	binary.LittleEndian.PutUint16(dst[36:38], uint16(ev.RiskReason))
	binary.LittleEndian.PutUint16(dst[38:40], ev.VenueCode)
	binary.LittleEndian.PutUint64(dst[40:48], uint64(ev.FillPrice))
	binary.LittleEndian.PutUint64(dst[48:56], uint64(ev.FillQty))
	binary.LittleEndian.PutUint64(dst[56:64], uint64(ev.FilledQty))
	binary.LittleEndian.PutUint64(dst[64:72], uint64(ev.LeavesQty))
	binary.LittleEndian.PutUint64(dst[72:80], uint64(ev.AvgPrice))
	binary.LittleEndian.PutUint64(dst[80:88], ev.VenueOrderID)
	binary.LittleEndian.PutUint64(dst[88:96], ev.ExecID)
	binary.LittleEndian.PutUint64(dst[96:104], uint64(ev.Ts))
}

func decodeBody(src []byte) (schema.ExecutionEvent, error) {
	if len(src) < recordBodySize {
		return schema.ExecutionEvent{}, ErrTruncatedRecord
	}
	return schema.ExecutionEvent{
		OrderID:      binary.LittleEndian.Uint64(src[0:8]),
		ParentID:     binary.LittleEndian.Uint64(src[8:16]),
		ClientTag:    binary.LittleEndian.Uint64(src[16:24]),
		StrategyID:   binary.LittleEndian.Uint32(src[24:28]),
		Instrument:   schema.InstrumentID(binary.LittleEndian.Uint32(src[28:32])),
		Status:       schema.OrderStatus(binary.LittleEndian.Uint16(src[32:34])),
		Reason:       schema.ExecReason(binary.LittleEndian.Uint16(src[34:36])),
		RiskReason:   schema.RejectReason(binary.LittleEndian.Uint16(src[36:38])),
		VenueCode:    binary.LittleEndian.Uint16(src[38:40]),
		FillPrice:    schema.Price(int64(binary.LittleEndian.Uint64(src[40:48]))),
		FillQty:      schema.Quantity(int64(binary.LittleEndian.Uint64(src[48:56]))),
		FilledQty:    schema.Quantity(int64(binary.LittleEndian.Uint64(src[56:64]))),
		LeavesQty:    schema.Quantity(int64(binary.LittleEndian.Uint64(src[64:72]))),
		AvgPrice:     schema.Price(int64(binary.LittleEndian.Uint64(src[72:80]))),
		VenueOrderID: binary.LittleEndian.Uint64(src[80:88]),
		ExecID:       binary.LittleEndian.Uint64(src[88:96]),
		Ts:           int64(binary.LittleEndian.Uint64(src[96:104])),
	}, nil
}

func checksum(header []byte, body []byte) uint32 {
	crc := crc32.Update(0, crcTable, header)
	return crc32.Update(crc, crcTable, body)
}
