package ops

import (
	"os"
	"strings"
	"time"

	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"main/internal/risk"
	"main/internal/schema"
	"main/internal/strategy"
)

var (
	ErrVenueAuth = errors.New("venue credential unavailable")
)

// FileConfig mirrors the YAML config layout. Prices and quantities are
// decimal strings and resolve to scaled integers against the owning
// instrument's decimals.
type FileConfig struct {
	Venues      []VenueConfig      `yaml:"venues"`
	Instruments []InstrumentConfig `yaml:"instruments"`
	Strategies  []StrategyConfig   `yaml:"strategies"`
	Risk        RiskConfig         `yaml:"risk"`
	Shards      ShardConfig        `yaml:"shards"`
	Router      RouterConfig       `yaml:"router"`
	Algo        AlgoConfig         `yaml:"algo"`
	Admin       AdminConfig        `yaml:"admin"`
	Journal     JournalConfig      `yaml:"journal"`
	Profiling   ProfilingConfig    `yaml:"profiling"`
}

// VenueConfig describes one venue connection pair.
type VenueConfig struct {
	Name            string `yaml:"name"`
	Mode            string `yaml:"mode"` // reliable | lossy
	FeedAddr        string `yaml:"feedAddr"`
	OrderAddr       string `yaml:"orderAddr"`
	CredentialsRef  string `yaml:"credentialsRef"`
	MaxOrdersPerSec int    `yaml:"maxOrdersPerSec"`
}

// InstrumentConfig describes one tradable instrument.
type InstrumentConfig struct {
	Symbol   string `yaml:"symbol"`
	Venue    string `yaml:"venue"`
	TickSize string `yaml:"tickSize"`
	LotSize  string `yaml:"lotSize"`
	Decimals int32  `yaml:"decimals"`
	MaxDepth int    `yaml:"maxDepth"`
}

// StrategyConfig binds a strategy instance to a shard and an instrument.
type StrategyConfig struct {
	ID         uint32            `yaml:"id"`
	Type       string            `yaml:"type"` // market_maker
	Shard      int               `yaml:"shard"`
	Instrument string            `yaml:"instrument"`
	Params     MarketMakerParams `yaml:"params"`
}

// MarketMakerParams are decimal-string quoting parameters.
type MarketMakerParams struct {
	HalfSpread       string `yaml:"halfSpread"`
	SkewPerLot       string `yaml:"skewPerLot"`
	QuoteQty         string `yaml:"quoteQty"`
	MaxPosition      string `yaml:"maxPosition"`
	RequoteMs        int64  `yaml:"requoteMs"`
	ImbalanceGateBps int64  `yaml:"imbalanceGateBps"`
}

// RiskConfig carries account-wide and per-instrument bounds.
type RiskConfig struct {
	PerAccount    AccountLimitsConfig               `yaml:"perAccount"`
	PerInstrument map[string]InstrumentLimitsConfig `yaml:"perInstrument"`
}

// AccountLimitsConfig is the account-wide generation. Quantities and
// notionals are decimal strings against AccountDecimals.
type AccountLimitsConfig struct {
	Decimals           int32  `yaml:"decimals"`
	MaxOrderQty        string `yaml:"maxOrderQty"`
	MaxAbsPosition     string `yaml:"maxAbsPosition"`
	MaxNotional        string `yaml:"maxNotional"`
	MaxOrdersPerSecond int    `yaml:"maxOrdersPerSecond"`
	SizeAnomalyMult    int64  `yaml:"sizeAnomalyMult"`
	MaxDailyLoss       string `yaml:"maxDailyLoss"`
}

// InstrumentLimitsConfig overrides bounds for one symbol.
type InstrumentLimitsConfig struct {
	MaxOrderQty    string `yaml:"maxOrderQty"`
	MaxAbsPosition string `yaml:"maxAbsPosition"`
	MaxNotional    string `yaml:"maxNotional"`
}

// ShardConfig sizes the parallel lanes.
type ShardConfig struct {
	InstrumentShards int `yaml:"instrumentShards"`
	StrategyShards   int `yaml:"strategyShards"`
}

// RouterConfig carries router tunables.
type RouterConfig struct {
	AckTimeoutMs    int64 `yaml:"ackTimeoutMs"`
	HistoryCapacity int   `yaml:"historyCapacity"`
}

// AlgoConfig carries parent-order executor tunables.
type AlgoConfig struct {
	StrategyID   uint32 `yaml:"strategyId"`
	OffsetTicks  int64  `yaml:"offsetTicks"`
	RepriceTicks int64  `yaml:"repriceTicks"`
}

// AdminConfig locates the control socket.
type AdminConfig struct {
	Socket string `yaml:"socket"`
}

// JournalConfig controls the execution journal.
type JournalConfig struct {
	Dir          string `yaml:"dir"`
	SegmentBytes int64  `yaml:"segmentBytes"`
	PostgresDSN  string `yaml:"postgresDsn"`
}

// ProfilingConfig controls continuous profiling.
type ProfilingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ServerAddress string `yaml:"serverAddress"`
}

// VenueRuntime is a resolved venue: registry id plus connection details.
type VenueRuntime struct {
	ID              schema.VenueID
	Name            string
	Mode            schema.VenueMode
	FeedAddr        string
	OrderAddr       string
	Credential      string
	MaxOrdersPerSec int
}

// StrategyRuntime is a resolved strategy instance.
type StrategyRuntime struct {
	ID    uint32
	Shard int
	MM    strategy.MarketMakerConfig
}

// Loaded is the resolved configuration ready for wiring.
type Loaded struct {
	Registry   *schema.Registry
	Venues     []VenueRuntime
	Strategies []StrategyRuntime
	Limits     risk.Limits
	Shards     ShardConfig
	Router     RouterConfig
	Algo       AlgoConfig
	Admin      AdminConfig
	Journal    JournalConfig
	Profiling  ProfilingConfig
}

// Load reads, parses, and resolves a YAML config file.
func Load(path string) (*Loaded, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	var fc FileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, errors.Wrap(err, "parse config yaml")
	}
	return Resolve(fc)
}

// Resolve validates a parsed config and builds the runtime view.
func Resolve(fc FileConfig) (*Loaded, error) {
	if len(fc.Venues) == 0 {
		return nil, errors.New("config: no venues")
	}
	if len(fc.Instruments) == 0 {
		return nil, errors.New("config: no instruments")
	}

	reg := schema.NewRegistry()
	loaded := &Loaded{
		Registry:  reg,
		Shards:    fc.Shards,
		Router:    fc.Router,
		Algo:      fc.Algo,
		Admin:     fc.Admin,
		Journal:   fc.Journal,
		Profiling: fc.Profiling,
	}

	for _, vc := range fc.Venues {
		mode, err := parseVenueMode(vc.Mode)
		if err != nil {
			return nil, errors.Wrapf(err, "venue %q", vc.Name)
		}
		id, err := reg.AddVenue(vc.Name, mode)
		if err != nil {
			return nil, errors.Wrapf(err, "venue %q", vc.Name)
		}
		cred, err := resolveCredential(vc.CredentialsRef)
		if err != nil {
			return nil, errors.Wrapf(err, "venue %q", vc.Name)
		}
		loaded.Venues = append(loaded.Venues, VenueRuntime{
			ID:              id,
			Name:            vc.Name,
			Mode:            mode,
			FeedAddr:        vc.FeedAddr,
			OrderAddr:       vc.OrderAddr,
			Credential:      cred,
			MaxOrdersPerSec: vc.MaxOrdersPerSec,
		})
	}

	decimalsBySymbol := make(map[string]int32, len(fc.Instruments))
	for _, ic := range fc.Instruments {
		venueID, ok := reg.VenueIDByName(ic.Venue)
		if !ok {
			return nil, errors.Errorf("instrument %q references unknown venue %q", ic.Symbol, ic.Venue)
		}
		tick, err := parseScaled(ic.TickSize, ic.Decimals)
		if err != nil {
			return nil, errors.Wrapf(err, "instrument %q tickSize", ic.Symbol)
		}
		lot, err := parseScaled(ic.LotSize, ic.Decimals)
		if err != nil {
			return nil, errors.Wrapf(err, "instrument %q lotSize", ic.Symbol)
		}
		if tick <= 0 || lot <= 0 {
			return nil, errors.Errorf("instrument %q: tickSize and lotSize must be positive", ic.Symbol)
		}
		if _, err := reg.AddInstrument(ic.Symbol, venueID, schema.Price(tick), schema.Quantity(lot), ic.Decimals, ic.MaxDepth); err != nil {
			return nil, errors.Wrapf(err, "instrument %q", ic.Symbol)
		}
		decimalsBySymbol[ic.Symbol] = ic.Decimals
	}

	limits, err := resolveLimits(fc.Risk, reg, decimalsBySymbol)
	if err != nil {
		return nil, err
	}
	loaded.Limits = limits

	for _, sc := range fc.Strategies {
		rt, err := resolveStrategy(sc, reg, decimalsBySymbol)
		if err != nil {
			return nil, err
		}
		loaded.Strategies = append(loaded.Strategies, rt)
	}

	return loaded, nil
}

func resolveLimits(rc RiskConfig, reg *schema.Registry, decimals map[string]int32) (risk.Limits, error) {
	acct := rc.PerAccount
	scale := acct.Decimals

	maxOrderQty, err := parseScaledOpt(acct.MaxOrderQty, scale)
	if err != nil {
		return risk.Limits{}, errors.Wrap(err, "risk perAccount maxOrderQty")
	}
	maxAbsPos, err := parseScaledOpt(acct.MaxAbsPosition, scale)
	if err != nil {
		return risk.Limits{}, errors.Wrap(err, "risk perAccount maxAbsPosition")
	}
	maxNotional, err := parseScaledOpt(acct.MaxNotional, scale)
	if err != nil {
		return risk.Limits{}, errors.Wrap(err, "risk perAccount maxNotional")
	}
	maxDailyLoss, err := parseScaledOpt(acct.MaxDailyLoss, scale)
	if err != nil {
		return risk.Limits{}, errors.Wrap(err, "risk perAccount maxDailyLoss")
	}

	limits := risk.Limits{
		MaxOrderQty:        schema.Quantity(maxOrderQty),
		MaxAbsPosition:     schema.Quantity(maxAbsPos),
		MaxNotional:        schema.Notional(maxNotional),
		MaxOrdersPerSecond: acct.MaxOrdersPerSecond,
		SizeAnomalyMult:    acct.SizeAnomalyMult,
		MaxDailyLoss:       schema.Notional(maxDailyLoss),
	}

	if len(rc.PerInstrument) > 0 {
		limits.PerInstrument = make(map[schema.InstrumentID]risk.InstrumentLimits, len(rc.PerInstrument))
	}
	for symbol, ilc := range rc.PerInstrument {
		id, ok := reg.InstrumentIDBySymbol(symbol)
		if !ok {
			return risk.Limits{}, errors.Errorf("risk perInstrument references unknown symbol %q", symbol)
		}
		sc := decimals[symbol]
		oq, err := parseScaledOpt(ilc.MaxOrderQty, sc)
		if err != nil {
			return risk.Limits{}, errors.Wrapf(err, "risk %q maxOrderQty", symbol)
		}
		ap, err := parseScaledOpt(ilc.MaxAbsPosition, sc)
		if err != nil {
			return risk.Limits{}, errors.Wrapf(err, "risk %q maxAbsPosition", symbol)
		}
		nl, err := parseScaledOpt(ilc.MaxNotional, sc)
		if err != nil {
			return risk.Limits{}, errors.Wrapf(err, "risk %q maxNotional", symbol)
		}
		limits.PerInstrument[id] = risk.InstrumentLimits{
			MaxOrderQty:    schema.Quantity(oq),
			MaxAbsPosition: schema.Quantity(ap),
			MaxNotional:    schema.Notional(nl),
		}
	}
	return limits, nil
}

func resolveStrategy(sc StrategyConfig, reg *schema.Registry, decimals map[string]int32) (StrategyRuntime, error) {
	if sc.Type != "market_maker" {
		return StrategyRuntime{}, errors.Errorf("strategy %d: unknown type %q", sc.ID, sc.Type)
	}
	instID, ok := reg.InstrumentIDBySymbol(sc.Instrument)
	if !ok {
		return StrategyRuntime{}, errors.Errorf("strategy %d references unknown symbol %q", sc.ID, sc.Instrument)
	}
	inst, _ := reg.Instrument(instID)
	scale := decimals[sc.Instrument]

	halfSpread, err := parseScaledOpt(sc.Params.HalfSpread, scale)
	if err != nil {
		return StrategyRuntime{}, errors.Wrapf(err, "strategy %d halfSpread", sc.ID)
	}
	skew, err := parseScaledOpt(sc.Params.SkewPerLot, scale)
	if err != nil {
		return StrategyRuntime{}, errors.Wrapf(err, "strategy %d skewPerLot", sc.ID)
	}
	quoteQty, err := parseScaledOpt(sc.Params.QuoteQty, scale)
	if err != nil {
		return StrategyRuntime{}, errors.Wrapf(err, "strategy %d quoteQty", sc.ID)
	}
	maxPos, err := parseScaledOpt(sc.Params.MaxPosition, scale)
	if err != nil {
		return StrategyRuntime{}, errors.Wrapf(err, "strategy %d maxPosition", sc.ID)
	}
	if quoteQty <= 0 {
		return StrategyRuntime{}, errors.Errorf("strategy %d: quoteQty must be positive", sc.ID)
	}

	return StrategyRuntime{
		ID:    sc.ID,
		Shard: sc.Shard,
		MM: strategy.MarketMakerConfig{
			Instrument:    instID,
			Tick:          inst.TickSize,
			HalfSpread:    schema.Price(halfSpread),
			SkewPerLot:    schema.Price(skew),
			QuoteQty:      schema.Quantity(quoteQty),
			MaxPosition:   schema.Quantity(maxPos),
			RequoteNs:     sc.Params.RequoteMs * int64(time.Millisecond),
			ImbalanceGate: sc.Params.ImbalanceGateBps,
		},
	}, nil
}

func parseVenueMode(s string) (schema.VenueMode, error) {
	switch strings.ToLower(s) {
	case "", "reliable":
		return schema.VenueModeReliable, nil
	case "lossy":
		return schema.VenueModeLossy, nil
	default:
		return 0, errors.Errorf("unknown venue mode %q", s)
	}
}

// resolveCredential expands a credentials reference. "env:NAME" reads the
// named environment variable; an empty ref means the venue needs none.
func resolveCredential(ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	name, ok := strings.CutPrefix(ref, "env:")
	if !ok {
		return "", errors.Errorf("unsupported credentials ref %q", ref)
	}
	val := os.Getenv(name)
	if val == "" {
		return "", errors.Wrapf(ErrVenueAuth, "env %s", name)
	}
	return val, nil
}
