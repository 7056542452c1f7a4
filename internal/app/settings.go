package app

import "time"

// Settings carries the gameplay policy knobs. Values are configuration, not
// protocol: scoring stays deterministic given the same timing inputs.
type Settings struct {
	// BasePoints is awarded for any correct answer.
	BasePoints int
	// BonusPoints is the ceiling of the speed bonus, scaled linearly by the
	// unused share of the answer window.
	BonusPoints int
	// Intermission is the pause between a question closing and the next one
	// opening (or the quiz finishing).
	Intermission time.Duration
	// ReconnectGrace is how long a disconnected participant's seat is held
	// for reattachment under the same name.
	ReconnectGrace time.Duration
	// HostGrace is how long a room survives its host's disconnect before it
	// is cancelled.
	HostGrace time.Duration
	// Retention is how long a finished room stays resolvable in the store.
	Retention time.Duration
	// MaxParticipants caps the roster, host included.
	MaxParticipants int
	// MinParticipants is the roster size required to start, host included.
	MinParticipants int
	// AllowMidGameJoin admits new participants after the quiz has started.
	AllowMidGameJoin bool
}

// DefaultSettings returns the gameplay policy defaults.
func DefaultSettings() Settings {
	return Settings{
		BasePoints:       100,
		BonusPoints:      100,
		Intermission:     3 * time.Second,
		ReconnectGrace:   30 * time.Second,
		HostGrace:        30 * time.Second,
		Retention:        5 * time.Minute,
		MaxParticipants:  100,
		MinParticipants:  2,
		AllowMidGameJoin: false,
	}
}
