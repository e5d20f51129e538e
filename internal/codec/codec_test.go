package codec

import (
	"testing"

	"main/internal/schema"
)

func TestFrameRoundTrip(t *testing.T) {
	body := []byte{1, 2, 3, 4}
	buf, err := AppendFrame(nil, MsgDelta, body)
	if err != nil {
		t.Fatalf("append frame: %v", err)
	}
	msgType, got, consumed, err := ReadFrame(buf)
	if err != nil || consumed != len(buf) || msgType != MsgDelta {
		t.Fatalf("read frame: type=%#x consumed=%d err=%v", msgType, consumed, err)
	}
	if string(got) != string(body) {
		t.Fatalf("body mismatch: %v", got)
	}
}

func TestFramePartialRead(t *testing.T) {
	buf, _ := AppendFrame(nil, MsgTrade, make([]byte, 40))
	for i := 0; i < len(buf); i++ {
		_, _, consumed, err := ReadFrame(buf[:i])
		if err != nil || consumed != 0 {
			t.Fatalf("partial at %d: consumed=%d err=%v", i, consumed, err)
		}
	}
}

func TestDeltaRoundTrip(t *testing.T) {
	in := schema.MarketEvent{
		Kind:       schema.MarketEventDelta,
		Instrument: 7,
		Side:       schema.BookSideAsk,
		Seq:        42,
		Price:      -123456,
		Qty:        99,
		VenueTs:    1700000000000,
	}
	body := AppendDelta(nil, in)
	var out schema.MarketEvent
	if !DecodeDelta(body, &out) {
		t.Fatal("decode failed")
	}
	if out.Instrument != in.Instrument || out.Side != in.Side || out.Seq != in.Seq ||
		out.Price != in.Price || out.Qty != in.Qty || out.VenueTs != in.VenueTs {
		t.Fatalf("mismatch: %+v", out)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	in := schema.MarketEvent{
		Kind:       schema.MarketEventSnapshot,
		Instrument: 3,
		Seq:        1000,
		VenueTs:    5,
		Bids:       []schema.Level{{Price: 100, Qty: 10}, {Price: 99, Qty: 5}},
		Asks:       []schema.Level{{Price: 101, Qty: 7}},
	}
	body := AppendSnapshot(nil, in)
	var out schema.MarketEvent
	if !DecodeSnapshot(body, &out) {
		t.Fatal("decode failed")
	}
	if len(out.Bids) != 2 || len(out.Asks) != 1 {
		t.Fatalf("level counts: %d/%d", len(out.Bids), len(out.Asks))
	}
	if out.Bids[1] != (schema.Level{Price: 99, Qty: 5}) || out.Asks[0] != (schema.Level{Price: 101, Qty: 7}) {
		t.Fatalf("levels mismatch: %+v / %+v", out.Bids, out.Asks)
	}
	if out.Seq != in.Seq || out.Instrument != in.Instrument {
		t.Fatalf("head mismatch: %+v", out)
	}
}

func TestSnapshotTruncatedLevels(t *testing.T) {
	in := schema.MarketEvent{
		Instrument: 3,
		Bids:       []schema.Level{{Price: 100, Qty: 10}},
	}
	body := AppendSnapshot(nil, in)
	var out schema.MarketEvent
	if DecodeSnapshot(body[:len(body)-1], &out) {
		t.Fatal("decode accepted truncated snapshot")
	}
}

func TestExecReportRoundTrip(t *testing.T) {
	in := ExecReport{
		MsgType:      MsgFill,
		OrderID:      11,
		VenueOrderID: 22,
		ExecID:       33,
		Instrument:   4,
		Price:        105,
		Qty:          6,
		LeavesQty:    14,
		VenueTs:      9,
	}
	body := AppendFill(nil, in)
	out, ok := DecodeExecReport(MsgFill, body)
	if !ok || out != in {
		t.Fatalf("mismatch: %+v ok=%v", out, ok)
	}

	rej := ExecReport{MsgType: MsgReject, OrderID: 5, VenueOrderID: 6, Instrument: 1, Code: 77, VenueTs: 3}
	body = AppendAck(nil, rej)
	out, ok = DecodeExecReport(MsgReject, body)
	if !ok || out != rej {
		t.Fatalf("reject mismatch: %+v ok=%v", out, ok)
	}
}

func TestOrderSubmitRoundTrip(t *testing.T) {
	in := schema.Order{
		ID:          999,
		Instrument:  12,
		Side:        schema.OrderSideSell,
		Type:        schema.OrderTypeStopLimit,
		TimeInForce: schema.TimeInForceIOC,
		Price:       2500,
		StopPrice:   2490,
		Qty:         40,
	}
	body := AppendOrderSubmit(nil, in)
	out, ok := DecodeOrderSubmit(body)
	if !ok {
		t.Fatal("decode failed")
	}
	if out.ID != in.ID || out.Side != in.Side || out.Type != in.Type ||
		out.TimeInForce != in.TimeInForce || out.Price != in.Price ||
		out.StopPrice != in.StopPrice || out.Qty != in.Qty {
		t.Fatalf("mismatch: %+v", out)
	}
}
