package draft

import "sync"

// BatchHolder is where an externally produced batch (AI generation, spreadsheet
// import) waits until the manager consumes it. Take empties the holder, so a
// listener that fires twice for one arrival only sees the batch once.
type BatchHolder struct {
	mu    sync.Mutex
	batch []QuestionDraft
}

// Put replaces any pending batch.
func (h *BatchHolder) Put(batch []QuestionDraft) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batch = cloneQuestions(batch)
}

func (h *BatchHolder) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.batch)
}

func (h *BatchHolder) Take() []QuestionDraft {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.batch
	h.batch = nil
	return out
}
