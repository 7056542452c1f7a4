package domain

import "time"

// Phase is the room's position in its lifecycle state machine.
type Phase string

const (
	PhaseWaiting      Phase = "waiting"
	PhaseQuestion     Phase = "question"
	PhaseIntermission Phase = "intermission"
	PhaseFinished     Phase = "finished"
	PhaseCancelled    Phase = "cancelled"
)

// Terminal reports whether the room accepts no further mutating commands.
func (p Phase) Terminal() bool {
	return p == PhaseFinished || p == PhaseCancelled
}

// NoAnswer is the sentinel option index recorded when a question closes
// before a participant answered. It always scores zero.
const NoAnswer = -1

// Question models a single MCQ with a correct option index and a time limit.
type Question struct {
	Text          string   `json:"questionText"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correctAnswerIndex"`
	TimeLimitSec  int      `json:"timeLimit,omitempty"` // defaults to 30 if zero
	Points        int      `json:"points,omitempty"`
}

// TimeLimit returns the answer window for the question.
func (q Question) TimeLimit() time.Duration {
	if q.TimeLimitSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(q.TimeLimitSec) * time.Second
}

// Quiz is the source content a room snapshots at creation.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Answer is one participant's record for one question. Created when the
// submission is accepted for the currently open question, immutable after.
type Answer struct {
	QuestionIndex  int       `json:"questionIndex"`
	SelectedOption int       `json:"answer"` // NoAnswer if the window closed first
	IsCorrect      bool      `json:"isCorrect"`
	TimeSpentMs    int64     `json:"timeSpentMs"`
	Points         int       `json:"points"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

// Participant is a named player within a room, distinct from the underlying
// network connection. ID survives reconnects within the grace window.
type Participant struct {
	ID             string
	Name           string
	Score          int
	ConnectionID   string // empty while disconnected
	IsHost         bool
	Answers        []Answer
	JoinedAt       time.Time
	LastUpdated    time.Time
	DisconnectedAt time.Time
}

// Connected reports whether the participant currently has a live connection.
func (p *Participant) Connected() bool {
	return p.ConnectionID != ""
}

// AnswerFor returns the participant's answer for a question index, if any.
func (p *Participant) AnswerFor(index int) (Answer, bool) {
	for _, a := range p.Answers {
		if a.QuestionIndex == index {
			return a, true
		}
	}
	return Answer{}, false
}

// ParticipantView is the wire-friendly projection of a participant.
type ParticipantView struct {
	Name      string `json:"name"`
	Score     int    `json:"score"`
	IsHost    bool   `json:"isHost"`
	Connected bool   `json:"connected"`
}

// LeaderboardEntry is one row of the room scoreboard.
type LeaderboardEntry struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// ParticipantResult is the final per-participant record in a result snapshot.
type ParticipantResult struct {
	Name           string   `json:"name"`
	Score          int      `json:"score"`
	TotalQuestions int      `json:"totalQuestions"`
	Answers        []Answer `json:"answers"`
}

// QuizResult is the immutable snapshot handed to the history recorder when a
// room finishes. Built exactly once, at the transition into PhaseFinished.
type QuizResult struct {
	RoomCode       string              `json:"roomCode"`
	QuizID         string              `json:"quizId"`
	QuizTitle      string              `json:"quizTitle"`
	HostName       string              `json:"hostName"`
	TotalQuestions int                 `json:"totalQuestions"`
	Participants   []ParticipantResult `json:"participants"`
	DurationMs     int64               `json:"durationMs"`
	CompletedAt    time.Time           `json:"completedAt"`
}
