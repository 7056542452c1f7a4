package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"

	"quiz-room-service/internal/domain"
)

// Room codes avoid glyphs that read ambiguously when typed from a screen.
const (
	roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	roomCodeLength   = 6
	codeAttempts     = 64
)

// RoomRepository owns the code -> room mapping. Put must be atomic so two
// concurrent creations can never share a code.
type RoomRepository interface {
	// Put registers the room under its code; false means the code is taken.
	Put(room *Room) bool
	Get(code string) (*Room, bool)
	Delete(code string)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// HistoryRecorder persists result snapshots for later retrieval.
type HistoryRecorder interface {
	SaveResult(ctx context.Context, result domain.QuizResult) error
	ResultByRoom(ctx context.Context, roomCode string) (domain.QuizResult, error)
	History(ctx context.Context, participantName string) ([]domain.QuizResult, error)
}

// RoomService contains the room coordinator use cases: it resolves rooms,
// delegates state transitions to the room actor and hands finished results to
// the history recorder.
type RoomService struct {
	rooms   RoomRepository
	quizzes QuizRepository
	history HistoryRecorder
	cfg     Settings
}

func NewRoomService(rooms RoomRepository, quizzes QuizRepository, history HistoryRecorder, cfg Settings) *RoomService {
	return &RoomService{rooms: rooms, quizzes: quizzes, history: history, cfg: cfg}
}

// CreateRoom snapshots the quiz, allocates a fresh code and registers the
// creating connection as host.
func (s *RoomService) CreateRoom(ctx context.Context, quizID, connID, hostName string) (*Room, *domain.Participant, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, nil, err
	}
	if hostName == "" {
		hostName = "Host"
	}

	hooks := RoomHooks{
		OnFinish: s.recordResult,
		OnClosed: s.rooms.Delete,
	}
	for attempt := 0; attempt < codeAttempts; attempt++ {
		room := NewRoom(generateRoomCode(), quiz, connID, hostName, s.cfg, hooks)
		if !s.rooms.Put(room) {
			continue
		}
		log.Printf("room %s created for quiz %s", room.Code(), quizID)
		return room, room.Host(), nil
	}
	return nil, nil, fmt.Errorf("could not allocate a unique room code")
}

// JoinRoom admits (or reattaches) a participant to an existing room.
func (s *RoomService) JoinRoom(_ context.Context, code, connID, name string) (*Room, *domain.Participant, error) {
	room, ok := s.rooms.Get(code)
	if !ok {
		return nil, nil, domain.ErrRoomNotFound
	}
	p, err := room.Join(connID, name)
	if err != nil {
		return nil, nil, err
	}
	return room, p, nil
}

// StartQuiz opens question zero. Host only.
func (s *RoomService) StartQuiz(_ context.Context, code, connID string) error {
	room, ok := s.rooms.Get(code)
	if !ok {
		return domain.ErrRoomNotFound
	}
	return room.Start(connID)
}

// SubmitAnswer records an answer against the currently open question.
func (s *RoomService) SubmitAnswer(_ context.Context, code, connID string, questionIndex, selected int) (domain.Answer, error) {
	room, ok := s.rooms.Get(code)
	if !ok {
		return domain.Answer{}, domain.ErrRoomNotFound
	}
	return room.SubmitAnswer(connID, questionIndex, selected)
}

// NextQuestion is the host-forced advance.
func (s *RoomService) NextQuestion(_ context.Context, code, connID string) error {
	room, ok := s.rooms.Get(code)
	if !ok {
		return domain.ErrRoomNotFound
	}
	return room.Advance(connID)
}

// Leave detaches a connection from its room, if it belongs to one.
func (s *RoomService) Leave(_ context.Context, code, connID string) {
	room, ok := s.rooms.Get(code)
	if !ok {
		return
	}
	room.Leave(connID)
}

// RoomStatus answers the polling fallback.
func (s *RoomService) RoomStatus(_ context.Context, code string) (RoomStatusPayload, error) {
	room, ok := s.rooms.Get(code)
	if !ok {
		return RoomStatusPayload{}, domain.ErrRoomNotFound
	}
	return room.Status(), nil
}

// ResultByRoom retrieves a persisted snapshot after the room itself is gone.
func (s *RoomService) ResultByRoom(ctx context.Context, code string) (domain.QuizResult, error) {
	return s.history.ResultByRoom(ctx, code)
}

// History lists a participant's persisted results.
func (s *RoomService) History(ctx context.Context, participantName string) ([]domain.QuizResult, error) {
	return s.history.History(ctx, participantName)
}

func (s *RoomService) recordResult(result domain.QuizResult) {
	ctx := context.Background()
	if err := s.history.SaveResult(ctx, result); err != nil {
		log.Printf("save result for room %s: %v", result.RoomCode, err)
	}
}

func generateRoomCode() string {
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(roomCodeAlphabet))))
		if err != nil {
			// fall back to the first glyph if crypto/rand fails
			n = big.NewInt(0)
		}
		code[i] = roomCodeAlphabet[n.Int64()]
	}
	return string(code)
}
