package model

import "time"

const defaultHistoryCap = 60

// HealthPoint is a single timestamped health sample stored in the ring buffer.
type HealthPoint struct {
	Timestamp        time.Time
	ActiveShards     float64
	RelocatingShards float64
	UnassignedShards float64
	PendingTasks     float64
}

// PointFromSnapshot samples the shard and task counters of s.
func PointFromSnapshot(s *Snapshot) HealthPoint {
	return HealthPoint{
		Timestamp:        s.FetchedAt,
		ActiveShards:     float64(s.Health.ActiveShards),
		RelocatingShards: float64(s.Health.RelocatingShards),
		UnassignedShards: float64(s.Health.UnassignedShards),
		PendingTasks:     float64(len(s.Pending.Tasks)),
	}
}

// History is a fixed-size ring buffer of HealthPoints.
// When the buffer is full, new pushes overwrite the oldest entry.
type History struct {
	buf  []HealthPoint
	head int // index of the next write position
	size int // number of valid entries
}

// NewHistory creates a History with the given capacity.
// If capacity <= 0, defaultHistoryCap (60) is used.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = defaultHistoryCap
	}
	return &History{
		buf: make([]HealthPoint, capacity),
	}
}

// Push appends a new point, overwriting the oldest if full.
func (h *History) Push(p HealthPoint) {
	h.buf[h.head] = p
	h.head = (h.head + 1) % len(h.buf)
	if h.size < len(h.buf) {
		h.size++
	}
}

// Len returns the number of valid entries.
func (h *History) Len() int {
	return h.size
}

// Clear resets the history to empty.
func (h *History) Clear() {
	h.head = 0
	h.size = 0
}

// Field selects one series of the history.
type Field int

const (
	FieldActiveShards Field = iota
	FieldRelocatingShards
	FieldUnassignedShards
	FieldPendingTasks
)

// Values returns the series for field in chronological order (oldest first).
func (h *History) Values(field Field) []float64 {
	out := make([]float64, h.size)
	// oldest entry sits at (head - size + cap) % cap
	start := (h.head - h.size + len(h.buf)) % len(h.buf)
	for i := 0; i < h.size; i++ {
		p := h.buf[(start+i)%len(h.buf)]
		switch field {
		case FieldActiveShards:
			out[i] = p.ActiveShards
		case FieldRelocatingShards:
			out[i] = p.RelocatingShards
		case FieldUnassignedShards:
			out[i] = p.UnassignedShards
		case FieldPendingTasks:
			out[i] = p.PendingTasks
		}
	}
	return out
}
