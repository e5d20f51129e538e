package risk

const rateWindowNs = int64(1_000_000_000)

// rateWindow counts accepted orders over a sliding 1000 ms window.
type rateWindow struct {
	stamps []int64
	head   int
	size   int
}

func newRateWindow(capacity int) *rateWindow {
	if capacity < 16 {
		capacity = 16
	}
	return &rateWindow{stamps: make([]int64, capacity)}
}

// count prunes expired stamps and returns how many remain.
func (w *rateWindow) count(now int64) int {
	for w.size > 0 && now-w.stamps[w.head] >= rateWindowNs {
		w.head = (w.head + 1) % len(w.stamps)
		w.size--
	}
	return w.size
}

// add records an accepted order. Grows when the window outpaces capacity.
func (w *rateWindow) add(ts int64) {
	if w.size == len(w.stamps) {
		grown := make([]int64, 2*len(w.stamps))
		for i := 0; i < w.size; i++ {
			grown[i] = w.stamps[(w.head+i)%len(w.stamps)]
		}
		w.stamps = grown
		w.head = 0
	}
	w.stamps[(w.head+w.size)%len(w.stamps)] = ts
	w.size++
}
