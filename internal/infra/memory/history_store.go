package memory

import (
	"context"
	"sync"

	"quiz-room-service/internal/domain"
)

// HistoryStore keeps finished-quiz snapshots in memory, keyed by room code
// with a per-participant index. Snapshots are written once and never mutated.
type HistoryStore struct {
	mu     sync.RWMutex
	byRoom map[string]domain.QuizResult
	byName map[string][]string // participant name -> room codes, oldest first
}

func NewHistoryStore() *HistoryStore {
	return &HistoryStore{
		byRoom: make(map[string]domain.QuizResult),
		byName: make(map[string][]string),
	}
}

func (h *HistoryStore) SaveResult(_ context.Context, result domain.QuizResult) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.byRoom[result.RoomCode]; exists {
		return nil
	}
	h.byRoom[result.RoomCode] = result
	for _, p := range result.Participants {
		h.byName[p.Name] = append(h.byName[p.Name], result.RoomCode)
	}
	return nil
}

func (h *HistoryStore) ResultByRoom(_ context.Context, roomCode string) (domain.QuizResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result, ok := h.byRoom[roomCode]
	if !ok {
		return domain.QuizResult{}, domain.ErrRoomNotFound
	}
	return result, nil
}

func (h *HistoryStore) History(_ context.Context, participantName string) ([]domain.QuizResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	codes := h.byName[participantName]
	results := make([]domain.QuizResult, 0, len(codes))
	for _, code := range codes {
		if result, ok := h.byRoom[code]; ok {
			results = append(results, result)
		}
	}
	return results, nil
}
