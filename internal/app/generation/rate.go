package generation

import "time"

const defaultRateWindow = 20

// rateWindow keeps the last few batches to report a smoothed cells/second.
type rateWindow struct {
	cells []int
	durs  []time.Duration
	next  int
	full  bool
}

func newRateWindow(n int) rateWindow {
	return rateWindow{
		cells: make([]int, n),
		durs:  make([]time.Duration, n),
	}
}

func (w *rateWindow) add(cells int, d time.Duration) {
	if len(w.cells) == 0 {
		return
	}
	w.cells[w.next] = cells
	w.durs[w.next] = d
	w.next++
	if w.next == len(w.cells) {
		w.next = 0
		w.full = true
	}
}

func (w *rateWindow) perSecond() float64 {
	n := w.next
	if w.full {
		n = len(w.cells)
	}
	var cells int
	var dur time.Duration
	for i := 0; i < n; i++ {
		cells += w.cells[i]
		dur += w.durs[i]
	}
	if dur <= 0 {
		return 0
	}
	return float64(cells) / dur.Seconds()
}
