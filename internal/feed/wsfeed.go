package feed

import (
	"context"
	"fmt"
	"strings"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"main/internal/schema"
)

// WsFeed adapts a JSON websocket depth stream onto the decoder's normalized
// path, for venues that expose diff-depth streams instead of the binary
// protocol. Prices and quantities arrive as decimal strings and are parsed
// straight into scaled integers.
type WsFeed struct {
	wss     *ws.WebSocket
	decoder *Decoder
	reg     *schema.Registry
}

// NewWsFeed creates a websocket feed adapter.
func NewWsFeed(ctx context.Context, url string, decoder *Decoder, reg *schema.Registry) *WsFeed {
	return &WsFeed{
		wss:     ws.New(ctx, url),
		decoder: decoder,
		reg:     reg,
	}
}

// Start opens the websocket.
func (f *WsFeed) Start(ctx context.Context) error {
	if err := f.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss")
	}
	return nil
}

// Close shuts the websocket down.
func (f *WsFeed) Close() {
	f.wss.Close()
}

type wsSubscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type wsSubscribeResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

// SubscribeDepth subscribes the diff depth stream for one symbol.
func (f *WsFeed) SubscribeDepth(ctx context.Context, symbol string) error {
	if err := f.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, wss *ws.WebSocket) error {
			payload := wsSubscribeRequest{
				Method: "SUBSCRIBE",
				Params: []string{
					fmt.Sprintf("%s@depth@100ms", strings.ToLower(symbol)),
				},
				ID: 1,
			}
			if err := wss.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			var resp wsSubscribeResponse
			if err := m.Unmarshal(&resp); err != nil || resp.ID != 1 {
				return false, nil
			}
			if resp.Result != nil {
				return false, errors.Errorf("subscribe and wait, err: %+v", resp.Result)
			}
			return true, nil
		},
	}, true); err != nil {
		return errors.Wrap(err, "send and wait")
	}
	return nil
}

type wsDepthUpdate struct {
	EventType     string      `json:"e"`
	EventTime     int64       `json:"E"`
	Symbol        string      `json:"s"`
	FinalUpdateID int64       `json:"u"`
	Bids          [][2]string `json:"b"` // [0]price [1]quantity
	Asks          [][2]string `json:"a"` // [0]price [1]quantity
}

// ObserveDepth consumes depth updates into the decoder until cancelled.
func (f *WsFeed) ObserveDepth(ctx context.Context) (unsubscribe func()) {
	ch, cancel := f.wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				update, ok := ws.ReadMessage[wsDepthUpdate](m)
				if !ok || update.EventType != "depthUpdate" {
					continue
				}
				f.ingest(update)
			}
		}
	}()

	return cancel
}

func (f *WsFeed) ingest(update wsDepthUpdate) {
	id, ok := f.reg.InstrumentIDBySymbol(update.Symbol)
	if !ok {
		return
	}
	inst, _ := f.reg.Instrument(id)

	for _, row := range update.Bids {
		f.ingestRow(inst, schema.BookSideBid, row, update)
	}
	for _, row := range update.Asks {
		f.ingestRow(inst, schema.BookSideAsk, row, update)
	}
}

func (f *WsFeed) ingestRow(inst schema.Instrument, side schema.BookSide, row [2]string, update wsDepthUpdate) {
	price, err := schema.ParseScaled(row[0], inst.Decimals)
	if err != nil {
		logs.Errorf("ws depth price %q: %+v", row[0], err)
		return
	}
	qty, err := schema.ParseScaled(row[1], inst.Decimals)
	if err != nil {
		logs.Errorf("ws depth qty %q: %+v", row[1], err)
		return
	}
	ev := f.decoder.Acquire()
	ev.Kind = schema.MarketEventDelta
	ev.Instrument = inst.ID
	ev.Side = side
	ev.Seq = uint64(update.FinalUpdateID)
	ev.Price = schema.Price(price)
	ev.Qty = schema.Quantity(qty)
	ev.VenueTs = update.EventTime * int64(1_000_000)
	f.decoder.Ingest(ev)
}
