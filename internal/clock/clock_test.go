package clock

import "testing"

func TestNowMonotonic(t *testing.T) {
	s := New()
	prev := int64(0)
	for i := 0; i < 100000; i++ {
		ts := s.Now()
		if ts < prev {
			t.Fatalf("clock moved backwards: %d < %d", ts, prev)
		}
		prev = ts
	}
}

func TestDisciplineNeverRewinds(t *testing.T) {
	s := New()
	s.Discipline(1_000_000_000, 0)
	high := s.Now()
	s.Discipline(-1_000_000_000, 0)
	if got := s.Now(); got < high {
		t.Fatalf("discipline rewound clock: %d < %d", got, high)
	}
}

func TestWallConversion(t *testing.T) {
	s := New()
	ts := s.Now()
	wall := s.Wall(ts)
	if wall.IsZero() {
		t.Fatal("wall conversion returned zero time")
	}
}
