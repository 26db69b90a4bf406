package importer

import "sync"

// History is the append-only log of committed imports.
type History struct {
	mu      sync.RWMutex
	batches []Batch
}

func NewHistory() *History {
	return &History{}
}

func (h *History) append(b Batch) {
	h.mu.Lock()
	h.batches = append(h.batches, b.clone())
	h.mu.Unlock()
}

// List returns the batches oldest first.
func (h *History) List() []Batch {
	h.mu.RLock()
	defer h.mu.RUnlock()

	list := make([]Batch, 0, len(h.batches))
	for _, b := range h.batches {
		list = append(list, b.clone())
	}
	return list
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.batches)
}

// Last returns the most recent batch of step, if any.
func (h *History) Last(step Step) (Batch, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for i := len(h.batches) - 1; i >= 0; i-- {
		if h.batches[i].Step == step {
			return h.batches[i].clone(), true
		}
	}
	return Batch{}, false
}
