package invoke

import (
	"sync"
)

const defaultRecordCapacity = 256

// recordLog keeps the most recent call records in a bounded ring indexed
// by call ID.
type recordLog struct {
	mu       sync.Mutex
	capacity int
	byID     map[string]ToolCall
	order    []string
}

func newRecordLog(capacity int) *recordLog {
	if capacity <= 0 {
		capacity = defaultRecordCapacity
	}
	return &recordLog{
		capacity: capacity,
		byID:     make(map[string]ToolCall, capacity),
	}
}

func (l *recordLog) put(record ToolCall) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byID[record.ID]; !exists {
		l.order = append(l.order, record.ID)
		if len(l.order) > l.capacity {
			evicted := l.order[0]
			l.order = l.order[1:]
			delete(l.byID, evicted)
		}
	}
	l.byID[record.ID] = record
}

func (l *recordLog) get(callID string) (ToolCall, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.byID[callID]
	return record, ok
}

func (l *recordLog) recent(limit int) []ToolCall {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || limit > len(l.order) {
		limit = len(l.order)
	}
	records := make([]ToolCall, 0, limit)
	for i := len(l.order) - 1; i >= len(l.order)-limit; i-- {
		records = append(records, l.byID[l.order[i]])
	}
	return records
}
