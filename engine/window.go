package engine

import "github.com/netlens/netlens/pkg/model"

// trafficWindow is a wall-clock sliding window of 1-second buckets. Buckets
// exist only for seconds that saw traffic; the head is the newest second and
// the oldest bucket is evicted once it falls out of the window span.
type trafficWindow struct {
	span    int64                 // window span in seconds
	samples []model.TrafficSample // ordered oldest to newest
}

func newTrafficWindow(seconds int) *trafficWindow {
	return &trafficWindow{span: int64(seconds)}
}

// add accounts one record into its second bucket. The head never moves
// backwards: a late record lands in its own bucket when that bucket is still
// inside the window and is ignored otherwise.
func (w *trafficWindow) add(second int64, length int) {
	if len(w.samples) == 0 {
		w.samples = append(w.samples, model.TrafficSample{Second: second, Packets: 1, Bytes: int64(length)})
		return
	}

	head := w.samples[len(w.samples)-1].Second
	switch {
	case second > head:
		w.samples = append(w.samples, model.TrafficSample{Second: second, Packets: 1, Bytes: int64(length)})
		w.evict(second)
	case second == head:
		w.samples[len(w.samples)-1].Packets++
		w.samples[len(w.samples)-1].Bytes += int64(length)
	default:
		if second <= head-w.span {
			return // older than the whole window
		}
		w.addLate(second, length)
	}
}

// addLate inserts into (or creates) the bucket for an out-of-order record.
// The window holds at most span buckets, so a linear scan stays cheap.
func (w *trafficWindow) addLate(second int64, length int) {
	for i := len(w.samples) - 1; i >= 0; i-- {
		switch {
		case w.samples[i].Second == second:
			w.samples[i].Packets++
			w.samples[i].Bytes += int64(length)
			return
		case w.samples[i].Second < second:
			w.samples = append(w.samples, model.TrafficSample{})
			copy(w.samples[i+2:], w.samples[i+1:])
			w.samples[i+1] = model.TrafficSample{Second: second, Packets: 1, Bytes: int64(length)}
			return
		}
	}
	w.samples = append([]model.TrafficSample{{Second: second, Packets: 1, Bytes: int64(length)}}, w.samples...)
}

// evict drops buckets that fell out of the window, oldest first.
func (w *trafficWindow) evict(head int64) {
	cut := 0
	for cut < len(w.samples) && w.samples[cut].Second <= head-w.span {
		cut++
	}
	if cut > 0 {
		w.samples = append(w.samples[:0], w.samples[cut:]...)
	}
}

// history returns a copy of the buckets within the last `seconds` of the
// window head, oldest first.
func (w *trafficWindow) history(seconds int) []model.TrafficSample {
	if len(w.samples) == 0 {
		return nil
	}
	head := w.samples[len(w.samples)-1].Second
	cutoff := head - int64(seconds) + 1

	out := make([]model.TrafficSample, 0, len(w.samples))
	for _, s := range w.samples {
		if s.Second >= cutoff {
			out = append(out, s)
		}
	}
	return out
}

// rate returns bytes per second over the seconds spanned by the window.
func (w *trafficWindow) rate() float64 {
	if len(w.samples) == 0 {
		return 0
	}
	var total int64
	for _, s := range w.samples {
		total += s.Bytes
	}
	elapsed := w.samples[len(w.samples)-1].Second - w.samples[0].Second + 1
	return float64(total) / float64(elapsed)
}

// size returns the number of non-empty buckets currently held.
func (w *trafficWindow) size() int {
	return len(w.samples)
}

func (w *trafficWindow) reset() {
	w.samples = w.samples[:0]
}
