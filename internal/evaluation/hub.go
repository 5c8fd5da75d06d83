package evaluation

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ragscope/backend/internal/storage/models"
	"github.com/ragscope/backend/pkg/logger"
)

// Hub fans feedback results out to subscribers of a record.
type Hub struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]chan models.FeedbackResult
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan models.FeedbackResult)}
}

// Subscribe returns a channel receiving results for recordID and a cancel
// func that must be called to release it.
func (h *Hub) Subscribe(recordID string, buffer int) (<-chan models.FeedbackResult, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++

	ch := make(chan models.FeedbackResult, buffer)
	if h.subs[recordID] == nil {
		h.subs[recordID] = make(map[int]chan models.FeedbackResult)
	}
	h.subs[recordID][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[recordID], id)
			if len(h.subs[recordID]) == 0 {
				delete(h.subs, recordID)
			}
			close(ch)
		})
	}
}

// Publish never blocks; a subscriber with a full buffer misses the result.
func (h *Hub) Publish(result models.FeedbackResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs[result.RecordID] {
		select {
		case ch <- result:
		default:
			logger.Warn("Feedback subscriber full, dropping result",
				zap.String("record_id", result.RecordID),
				zap.String("feedback", result.Name),
			)
		}
	}
}

func (h *Hub) Subscribers(recordID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[recordID])
}
