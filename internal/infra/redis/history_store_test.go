package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"quiz-room-service/internal/domain"
)

func TestHistoryStoreRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewHistoryStore(newClient(mr), time.Minute)
	result := sampleResult("ABCD23")

	if err := store.SaveResult(ctx, result); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !mr.Exists("history:room:ABCD23") {
		t.Fatalf("expected result key in redis")
	}

	got, err := store.ResultByRoom(ctx, "ABCD23")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.QuizTitle != "Arithmetic" || got.Participants[0].Name != "Alice" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}

	history, err := store.History(ctx, "Alice")
	if err != nil || len(history) != 1 {
		t.Fatalf("expected one entry for Alice, got %d (%v)", len(history), err)
	}

	if _, err := store.ResultByRoom(ctx, "ZZZZZZ"); err != domain.ErrRoomNotFound {
		t.Fatalf("expected room-not-found, got %v", err)
	}
}

func TestHistoryStoreKeepsFirstSnapshot(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewHistoryStore(newClient(mr), time.Minute)

	if err := store.SaveResult(ctx, sampleResult("ABCD23")); err != nil {
		t.Fatalf("save: %v", err)
	}
	tampered := sampleResult("ABCD23")
	tampered.QuizTitle = "Tampered"
	if err := store.SaveResult(ctx, tampered); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := store.ResultByRoom(ctx, "ABCD23")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.QuizTitle != "Arithmetic" {
		t.Fatalf("snapshot mutated: %+v", got)
	}

	// The name index is written once per snapshot.
	history, err := store.History(ctx, "Alice")
	if err != nil || len(history) != 1 {
		t.Fatalf("expected a single indexed entry, got %d (%v)", len(history), err)
	}
}

func sampleResult(code string) domain.QuizResult {
	return domain.QuizResult{
		RoomCode:       code,
		QuizID:         "quiz-1",
		QuizTitle:      "Arithmetic",
		HostName:       "Host",
		TotalQuestions: 1,
		Participants: []domain.ParticipantResult{
			{Name: "Alice", Score: 180, TotalQuestions: 1},
			{Name: "Host", Score: 0, TotalQuestions: 1},
		},
		DurationMs:  30000,
		CompletedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}
