package audit

import (
	"context"
	"sync"
)

// MockRecorder captures events in memory for tests.
type MockRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMockRecorder() *MockRecorder {
	return &MockRecorder{}
}

func (r *MockRecorder) Record(_ context.Context, event string, userID *uint, req RequestInfo, _ map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, Entry{
		UserID:    userID,
		Action:    event,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	})
}

// Events returns the recorded event names in order.
func (r *MockRecorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := make([]string, len(r.entries))
	for i, e := range r.entries {
		events[i] = e.Action
	}
	return events
}
