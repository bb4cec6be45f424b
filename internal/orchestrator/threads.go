package orchestrator

import (
	"sync"

	"github.com/fluxorch/engine/pkg/models"
)

// threadStore holds the message history shared by every execution of a
// given thread (§3 Thread: "executions that share a thread share message
// history"). It is deliberately separate from the Execution Registry: a
// thread's history outlives any single execution and is keyed by
// {agent_id, mode}, not by execution ID.
type threadStore struct {
	mu    sync.Mutex
	byKey map[string][]models.Message
}

func newThreadStore() *threadStore {
	return &threadStore{byKey: make(map[string][]models.Message)}
}

func (t *threadStore) load(key string) []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.Message(nil), t.byKey[key]...)
}

func (t *threadStore) save(key string, messages []models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byKey[key] = append([]models.Message(nil), messages...)
}
