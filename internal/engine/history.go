package engine

// HistoryCapacity is the number of recent samples kept for event seeding.
const HistoryCapacity = 10

// SampleHistory is a fixed-capacity ring buffer; pushing onto a full buffer
// evicts the oldest sample.
type SampleHistory struct {
	buf   []Sample
	start int
	n     int
}

func NewSampleHistory(capacity int) *SampleHistory {
	if capacity < 1 {
		capacity = HistoryCapacity
	}
	return &SampleHistory{buf: make([]Sample, capacity)}
}

func (h *SampleHistory) Push(s Sample) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = s
		h.n++
		return
	}
	h.buf[h.start] = s
	h.start = (h.start + 1) % len(h.buf)
}

func (h *SampleHistory) Len() int { return h.n }

func (h *SampleHistory) Cap() int { return len(h.buf) }

// Samples returns the buffered samples oldest first.
func (h *SampleHistory) Samples() []Sample {
	out := make([]Sample, 0, h.n)
	for i := 0; i < h.n; i++ {
		out = append(out, h.buf[(h.start+i)%len(h.buf)])
	}
	return out
}

// AtLeast returns the buffered samples with confidence >= threshold, oldest first.
func (h *SampleHistory) AtLeast(threshold float64) []Sample {
	var out []Sample
	for _, s := range h.Samples() {
		if s.Confidence >= threshold {
			out = append(out, s)
		}
	}
	return out
}
