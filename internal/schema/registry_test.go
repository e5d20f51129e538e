package schema

import "testing"

func TestRegistryAdmission(t *testing.T) {
	reg := NewRegistry()
	venueID, err := reg.AddVenue("SIMX", VenueModeReliable)
	if err != nil {
		t.Fatalf("add venue: %v", err)
	}
	id, err := reg.AddInstrument("BTC-USD", venueID, 1, 10, 8, 64)
	if err != nil {
		t.Fatalf("add instrument: %v", err)
	}

	inst, ok := reg.Instrument(id)
	if !ok || inst.Symbol != "BTC-USD" || inst.VenueID != venueID {
		t.Fatalf("lookup mismatch: %+v ok=%v", inst, ok)
	}
	if got, ok := reg.InstrumentIDBySymbol("BTC-USD"); !ok || got != id {
		t.Fatalf("symbol lookup mismatch: %d ok=%v", got, ok)
	}

	if _, err := reg.AddInstrument("BTC-USD", venueID, 1, 10, 8, 64); err == nil {
		t.Fatal("expected duplicate symbol error")
	}
	if _, err := reg.AddInstrument("ETH-USD", 99, 1, 10, 8, 64); err == nil {
		t.Fatal("expected unknown venue error")
	}
	if _, err := reg.AddInstrument("ETH-USD", venueID, 0, 10, 8, 64); err == nil {
		t.Fatal("expected tick size error")
	}
}
