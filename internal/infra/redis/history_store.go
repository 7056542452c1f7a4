package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-room-service/internal/domain"
)

// HistoryStore persists finished-quiz snapshots in Redis:
//
//	SET   history:room:{code}   {result JSON}   EX ttl
//	RPUSH history:name:{name}   {code}          (same TTL)
//
// The per-name list lets participants pull their recent results without a
// relational store.
type HistoryStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewHistoryStore(client *redis.Client, ttl time.Duration) *HistoryStore {
	return &HistoryStore{client: client, ttl: ttl}
}

func (h *HistoryStore) SaveResult(ctx context.Context, result domain.QuizResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	roomKey := h.roomKey(result.RoomCode)
	ok, err := h.client.SetNX(ctx, roomKey, raw, h.ttl).Result()
	if err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	if !ok {
		// Snapshot already written; results are immutable.
		return nil
	}

	pipe := h.client.Pipeline()
	for _, p := range result.Participants {
		nameKey := h.nameKey(p.Name)
		pipe.RPush(ctx, nameKey, result.RoomCode)
		if h.ttl > 0 {
			pipe.Expire(ctx, nameKey, h.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index result: %w", err)
	}
	return nil
}

func (h *HistoryStore) ResultByRoom(ctx context.Context, roomCode string) (domain.QuizResult, error) {
	raw, err := h.client.Get(ctx, h.roomKey(roomCode)).Bytes()
	if err == redis.Nil {
		return domain.QuizResult{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.QuizResult{}, fmt.Errorf("load result: %w", err)
	}
	var result domain.QuizResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return domain.QuizResult{}, fmt.Errorf("unmarshal result: %w", err)
	}
	return result, nil
}

func (h *HistoryStore) History(ctx context.Context, participantName string) ([]domain.QuizResult, error) {
	codes, err := h.client.LRange(ctx, h.nameKey(participantName), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load history index: %w", err)
	}
	results := make([]domain.QuizResult, 0, len(codes))
	for _, code := range codes {
		result, err := h.ResultByRoom(ctx, code)
		if err == nil {
			results = append(results, result)
		}
	}
	return results, nil
}

func (h *HistoryStore) roomKey(code string) string {
	return "history:room:" + code
}

func (h *HistoryStore) nameKey(name string) string {
	return "history:name:" + name
}
