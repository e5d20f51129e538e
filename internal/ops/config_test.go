package ops

import (
	"testing"

	"github.com/yanun0323/errors"

	"gopkg.in/yaml.v3"

	"main/internal/schema"
)

const sampleYAML = `
venues:
  - name: SIMX
    mode: reliable
    feedAddr: 127.0.0.1:9001
    orderAddr: 127.0.0.1:9002
    maxOrdersPerSec: 200
instruments:
  - symbol: BTC-USD
    venue: SIMX
    tickSize: "0.5"
    lotSize: "0.001"
    decimals: 4
    maxDepth: 64
strategies:
  - id: 1
    type: market_maker
    shard: 0
    instrument: BTC-USD
    params:
      halfSpread: "1.5"
      skewPerLot: "0.5"
      quoteQty: "0.01"
      maxPosition: "0.1"
      requoteMs: 50
risk:
  perAccount:
    decimals: 4
    maxOrderQty: "1"
    maxAbsPosition: "5"
    maxNotional: "100000"
    maxOrdersPerSecond: 100
    sizeAnomalyMult: 3
    maxDailyLoss: "2500"
  perInstrument:
    BTC-USD:
      maxOrderQty: "0.5"
shards:
  instrumentShards: 2
  strategyShards: 2
router:
  ackTimeoutMs: 250
  historyCapacity: 4096
`

func parseSample(t *testing.T) FileConfig {
	t.Helper()
	var fc FileConfig
	if err := yaml.Unmarshal([]byte(sampleYAML), &fc); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	return fc
}

func TestResolveScalesDecimals(t *testing.T) {
	loaded, err := Resolve(parseSample(t))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	id, ok := loaded.Registry.InstrumentIDBySymbol("BTC-USD")
	if !ok {
		t.Fatalf("instrument not registered")
	}
	inst, _ := loaded.Registry.Instrument(id)
	if inst.TickSize != 5000 {
		t.Fatalf("tick = %d, want 5000", inst.TickSize)
	}
	if inst.LotSize != 10 {
		t.Fatalf("lot = %d, want 10", inst.LotSize)
	}

	if loaded.Limits.MaxOrderQty != 10000 {
		t.Fatalf("account maxOrderQty = %d, want 10000", loaded.Limits.MaxOrderQty)
	}
	il := loaded.Limits.ForInstrument(id)
	if il.MaxOrderQty != 5000 {
		t.Fatalf("instrument maxOrderQty = %d, want 5000", il.MaxOrderQty)
	}

	if len(loaded.Strategies) != 1 {
		t.Fatalf("strategies = %d, want 1", len(loaded.Strategies))
	}
	mm := loaded.Strategies[0].MM
	if mm.Instrument != id || mm.HalfSpread != 15000 || mm.QuoteQty != 100 {
		t.Fatalf("mm = %+v", mm)
	}
	if mm.RequoteNs != 50*1_000_000 {
		t.Fatalf("requote = %d, want 50ms", mm.RequoteNs)
	}
}

func TestResolveRejectsExcessPrecision(t *testing.T) {
	fc := parseSample(t)
	fc.Instruments[0].TickSize = "0.00001" // decimals is 4

	if _, err := Resolve(fc); err == nil {
		t.Fatalf("expected precision error")
	}
}

func TestResolveRejectsUnknownVenue(t *testing.T) {
	fc := parseSample(t)
	fc.Instruments[0].Venue = "NOPE"

	if _, err := Resolve(fc); err == nil {
		t.Fatalf("expected unknown venue error")
	}
}

func TestResolveRejectsUnknownStrategySymbol(t *testing.T) {
	fc := parseSample(t)
	fc.Strategies[0].Instrument = "ETH-USD"

	if _, err := Resolve(fc); err == nil {
		t.Fatalf("expected unknown symbol error")
	}
}

func TestResolveCredentialEnv(t *testing.T) {
	fc := parseSample(t)
	fc.Venues[0].CredentialsRef = "env:OPS_TEST_CRED"

	_, err := Resolve(fc)
	if !errors.Is(err, ErrVenueAuth) {
		t.Fatalf("err = %v, want ErrVenueAuth", err)
	}
	if ExitCodeFor(err) != ExitVenueAuth {
		t.Fatalf("exit code = %d, want %d", ExitCodeFor(err), ExitVenueAuth)
	}

	t.Setenv("OPS_TEST_CRED", "secret")
	loaded, err := Resolve(fc)
	if err != nil {
		t.Fatalf("resolve with credential: %v", err)
	}
	if loaded.Venues[0].Credential != "secret" {
		t.Fatalf("credential = %q", loaded.Venues[0].Credential)
	}
}

func TestVenueModeParsing(t *testing.T) {
	fc := parseSample(t)
	fc.Venues[0].Mode = "lossy"
	loaded, err := Resolve(fc)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if loaded.Venues[0].Mode != schema.VenueModeLossy {
		t.Fatalf("mode = %v, want lossy", loaded.Venues[0].Mode)
	}

	fc.Venues[0].Mode = "sometimes"
	if _, err := Resolve(fc); err == nil {
		t.Fatalf("expected mode error")
	}
}
