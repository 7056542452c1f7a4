package app

import (
	"time"

	"quiz-room-service/internal/domain"
)

// Event names pushed to clients. They match the names the web client listens on.
const (
	EventRoomCreated       = "room-created"
	EventRoomJoined        = "room-joined"
	EventParticipantJoined = "participant-joined"
	EventParticipantLeft   = "participant-left"
	EventQuizStarted       = "quiz-started"
	EventNextQuestion      = "next-question"
	EventAnswerSubmitted   = "answer-submitted"
	EventQuizCompleted     = "quiz-completed"
	EventRoomCancelled     = "room-cancelled"
	EventRoomStatus        = "room-status"
)

// Event is one state transition committed by a room, fanned out to the
// room's subscribers in commit order.
type Event struct {
	Type string
	// To restricts delivery to a single participant ID; empty means broadcast.
	To      string
	Payload any
}

// QuestionView is the client-safe projection of the open question. The
// correct option index never leaves the server.
type QuestionView struct {
	QuestionIndex   int      `json:"questionIndex"`
	QuestionText    string   `json:"questionText"`
	Options         []string `json:"options"`
	TimeRemainingMs int64    `json:"timeRemainingMs"`
}

// RoomCreatedPayload answers a create-room command.
type RoomCreatedPayload struct {
	RoomCode         string                   `json:"roomCode"`
	QuizTitle        string                   `json:"quizTitle"`
	ParticipantCount int                      `json:"participantCount"`
	Participants     []domain.ParticipantView `json:"participants"`
}

// RoomJoinedPayload answers a join-room command.
type RoomJoinedPayload struct {
	RoomCode         string                   `json:"roomCode"`
	QuizTitle        string                   `json:"quizTitle"`
	ParticipantCount int                      `json:"participantCount"`
	Participants     []domain.ParticipantView `json:"participants"`
}

// ParticipantChangePayload is shared by participant-joined and participant-left.
type ParticipantChangePayload struct {
	Name             string `json:"name"`
	ParticipantCount int    `json:"participantCount"`
}

// QuizStartedPayload opens question zero for every room member.
type QuizStartedPayload struct {
	Question         QuestionView `json:"question"`
	ParticipantCount int          `json:"participantCount"`
}

// NextQuestionPayload opens a subsequent question and carries the standings
// accumulated so far.
type NextQuestionPayload struct {
	Question    QuestionView              `json:"question"`
	Leaderboard []domain.LeaderboardEntry `json:"leaderboard"`
}

// AnswerSubmittedPayload is unicast to the submitter only.
type AnswerSubmittedPayload struct {
	IsCorrect    bool  `json:"isCorrect"`
	TimeSpentMs  int64 `json:"timeSpentMs"`
	Points       int   `json:"points"`
	CurrentScore int   `json:"currentScore"`
}

// QuizCompletedPayload closes the session with the full result snapshot.
type QuizCompletedPayload struct {
	Results domain.QuizResult `json:"results"`
	Message string            `json:"message"`
}

// RoomCancelledPayload is broadcast exactly once when a room dies early.
type RoomCancelledPayload struct {
	Message string `json:"message"`
}

// RoomStatusPayload answers the check-room-status polling fallback.
type RoomStatusPayload struct {
	RoomCode             string                   `json:"roomCode"`
	QuizTitle            string                   `json:"quizTitle"`
	Phase                domain.Phase             `json:"phase"`
	CurrentQuestionIndex int                      `json:"currentQuestionIndex"`
	TimeRemainingMs      int64                    `json:"timeRemainingMs"`
	ParticipantCount     int                      `json:"participantCount"`
	Participants         []domain.ParticipantView `json:"participants"`
	TotalQuestions       int                      `json:"totalQuestions"`
	CreatedAt            time.Time                `json:"createdAt"`
}
