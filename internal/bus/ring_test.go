package bus

import (
	"sync"
	"testing"
)

func TestRingPushPop(t *testing.T) {
	r := NewRing[int](4)
	for i := 0; i < 4; i++ {
		if !r.TryPush(i) {
			t.Fatalf("push %d failed", i)
		}
	}
	if r.TryPush(99) {
		t.Fatal("push succeeded on full ring")
	}
	for i := 0; i < 4; i++ {
		v, ok := r.TryPop()
		if !ok || v != i {
			t.Fatalf("pop got %d ok=%v want %d", v, ok, i)
		}
	}
	if _, ok := r.TryPop(); ok {
		t.Fatal("pop succeeded on empty ring")
	}
}

func TestRingCapacityRounding(t *testing.T) {
	r := NewRing[int](5)
	if r.Cap() != 8 {
		t.Fatalf("cap=%d want 8", r.Cap())
	}
}

func TestRingConcurrentOrdering(t *testing.T) {
	const n = 100000
	r := NewRing[int](1024)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; {
			if r.TryPush(i) {
				i++
			}
		}
	}()
	next := 0
	for next < n {
		if v, ok := r.TryPop(); ok {
			if v != next {
				t.Errorf("out of order: got %d want %d", v, next)
				break
			}
			next++
		}
	}
	wg.Wait()
}
