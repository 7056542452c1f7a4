package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrRoomNotFound is returned when no active room matches the code.
	ErrRoomNotFound = errors.New("room not found")
	// ErrParticipantNotFound is returned when a connection acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in room")
	// ErrNotHost guards host-only commands.
	ErrNotHost = errors.New("only the host may do that")
	// ErrAlreadyStarted is returned when start is issued outside the waiting phase.
	ErrAlreadyStarted = errors.New("quiz already started")
	// ErrNoParticipants is returned when start is issued with too small a roster.
	ErrNoParticipants = errors.New("not enough participants to start")
	// ErrRoomNotJoinable is returned when the room no longer accepts joins.
	ErrRoomNotJoinable = errors.New("room is not accepting participants")
	// ErrRoomFull is returned when the roster is at capacity.
	ErrRoomFull = errors.New("room is full")
	// ErrDuplicateName is returned when a connected participant holds the name.
	ErrDuplicateName = errors.New("name already taken in this room")
	// ErrQuizNotStarted is returned when a gameplay command arrives while the
	// room is still waiting.
	ErrQuizNotStarted = errors.New("quiz has not started")
	// ErrStaleQuestion is returned when a submission targets a question that is
	// no longer (or not yet) open.
	ErrStaleQuestion = errors.New("answer does not match the current question")
	// ErrAlreadyAnswered is returned on a second submission for the same question.
	ErrAlreadyAnswered = errors.New("question already answered")
	// ErrRoomClosed is returned for any mutating command on a finished or
	// cancelled room.
	ErrRoomClosed = errors.New("room is closed")
)

// Stable error codes reported to clients alongside the message.
const (
	CodeValidation = "validation"
	CodeNotFound   = "not_found"
	CodeForbidden  = "forbidden"
	CodeConflict   = "conflict"
	CodeCapacity   = "capacity"
	CodeInternal   = "internal"
)

// Code maps a domain error onto its stable wire code.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrQuizNotFound), errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrParticipantNotFound):
		return CodeNotFound
	case errors.Is(err, ErrNotHost):
		return CodeForbidden
	case errors.Is(err, ErrAlreadyStarted), errors.Is(err, ErrQuizNotStarted), errors.Is(err, ErrNoParticipants),
		errors.Is(err, ErrRoomNotJoinable), errors.Is(err, ErrDuplicateName),
		errors.Is(err, ErrStaleQuestion), errors.Is(err, ErrAlreadyAnswered),
		errors.Is(err, ErrRoomClosed):
		return CodeConflict
	case errors.Is(err, ErrRoomFull):
		return CodeCapacity
	default:
		return CodeInternal
	}
}
