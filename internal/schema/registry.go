package schema

import "fmt"

// VenueID is the numeric identifier for a venue.
type VenueID uint16

// InstrumentID is the numeric identifier for an instrument.
type InstrumentID uint32

// VenueMode describes transport loss semantics for a venue feed.
type VenueMode uint16

const (
	VenueModeReliable VenueMode = iota
	VenueModeLossy
)

// Venue describes a trading venue.
type Venue struct {
	ID   VenueID
	Name string
	Mode VenueMode
}

// Instrument describes a tradable instrument. Immutable after admission.
type Instrument struct {
	ID       InstrumentID
	VenueID  VenueID
	Symbol   string
	TickSize Price
	LotSize  Quantity
	Decimals int32
	MaxDepth int
}

// Registry stores venue and instrument mappings in a compact form.
// Populated at startup, read-only afterwards.
type Registry struct {
	venues           []Venue
	instruments      []Instrument
	venueByName      map[string]VenueID
	instrumentByName map[string]InstrumentID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		venueByName:      make(map[string]VenueID),
		instrumentByName: make(map[string]InstrumentID),
	}
}

// AddVenue registers a new venue and returns its ID.
func (r *Registry) AddVenue(name string, mode VenueMode) (VenueID, error) {
	if name == "" {
		return 0, fmt.Errorf("venue name is empty")
	}
	if id, ok := r.venueByName[name]; ok {
		return id, fmt.Errorf("venue already exists: %s", name)
	}
	id := VenueID(len(r.venues) + 1)
	r.venues = append(r.venues, Venue{ID: id, Name: name, Mode: mode})
	r.venueByName[name] = id
	return id, nil
}

// AddInstrument admits an instrument and returns its ID.
func (r *Registry) AddInstrument(symbol string, venueID VenueID, tick Price, lot Quantity, decimals int32, maxDepth int) (InstrumentID, error) {
	if symbol == "" {
		return 0, fmt.Errorf("instrument symbol is empty")
	}
	if _, ok := r.Venue(venueID); !ok {
		return 0, fmt.Errorf("venue id not found: %d", venueID)
	}
	if tick <= 0 {
		return 0, fmt.Errorf("tick size must be > 0 for %s", symbol)
	}
	if lot <= 0 {
		return 0, fmt.Errorf("lot size must be > 0 for %s", symbol)
	}
	if decimals < 0 || decimals > 18 {
		return 0, fmt.Errorf("decimals out of range for %s: %d", symbol, decimals)
	}
	if maxDepth <= 0 {
		return 0, fmt.Errorf("max depth must be > 0 for %s", symbol)
	}
	if id, ok := r.instrumentByName[symbol]; ok {
		return id, fmt.Errorf("instrument already exists: %s", symbol)
	}
	id := InstrumentID(len(r.instruments) + 1)
	r.instruments = append(r.instruments, Instrument{
		ID:       id,
		VenueID:  venueID,
		Symbol:   symbol,
		TickSize: tick,
		LotSize:  lot,
		Decimals: decimals,
		MaxDepth: maxDepth,
	})
	r.instrumentByName[symbol] = id
	return id, nil
}

// Venue returns the venue by ID.
func (r *Registry) Venue(id VenueID) (Venue, bool) {
	if id == 0 || int(id) > len(r.venues) {
		return Venue{}, false
	}
	return r.venues[id-1], true
}

// Instrument returns the instrument by ID.
func (r *Registry) Instrument(id InstrumentID) (Instrument, bool) {
	if id == 0 || int(id) > len(r.instruments) {
		return Instrument{}, false
	}
	return r.instruments[id-1], true
}

// InstrumentCount returns the number of admitted instruments.
func (r *Registry) InstrumentCount() int {
	return len(r.instruments)
}

// InstrumentAt returns the instrument by zero-based index.
func (r *Registry) InstrumentAt(index int) (Instrument, bool) {
	if index < 0 || index >= len(r.instruments) {
		return Instrument{}, false
	}
	return r.instruments[index], true
}

// VenueIDByName returns the venue ID for a name.
func (r *Registry) VenueIDByName(name string) (VenueID, bool) {
	id, ok := r.venueByName[name]
	return id, ok
}

// InstrumentIDBySymbol returns the instrument ID for a symbol.
func (r *Registry) InstrumentIDBySymbol(symbol string) (InstrumentID, bool) {
	id, ok := r.instrumentByName[symbol]
	return id, ok
}
