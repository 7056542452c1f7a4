package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-room-service/internal/domain"
)

// HistoryStore persists result snapshots as JSONB rows in quiz_results.
type HistoryStore struct {
	pool *pgxpool.Pool
}

func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

func (h *HistoryStore) SaveResult(ctx context.Context, result domain.QuizResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = h.pool.Exec(ctx,
		`INSERT INTO quiz_results (room_code, quiz_id, completed_at, data)
		 VALUES ($1, $2, $3, $4::jsonb)
		 ON CONFLICT (room_code) DO NOTHING`,
		result.RoomCode, result.QuizID, result.CompletedAt, raw)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func (h *HistoryStore) ResultByRoom(ctx context.Context, roomCode string) (domain.QuizResult, error) {
	var raw []byte
	err := h.pool.QueryRow(ctx,
		`SELECT data FROM quiz_results WHERE room_code=$1`, roomCode).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
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
	match, err := json.Marshal([]map[string]string{{"name": participantName}})
	if err != nil {
		return nil, fmt.Errorf("marshal match: %w", err)
	}
	rows, err := h.pool.Query(ctx,
		`SELECT data FROM quiz_results
		 WHERE data->'participants' @> $1::jsonb
		 ORDER BY completed_at`, match)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var results []domain.QuizResult
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		var result domain.QuizResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("unmarshal history row: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}
