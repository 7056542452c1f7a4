package app

import "quiz-room-service/internal/domain"

// scoreAnswer computes the points for a submission. A correct answer earns the
// base points plus a speed bonus proportional to the unused share of the
// answer window; anything else, including the timeout sentinel, earns zero.
// Integer arithmetic keeps the result reproducible for identical timings.
func scoreAnswer(cfg Settings, q domain.Question, selected int, timeSpentMs int64) (correct bool, points int) {
	if selected != q.CorrectOption {
		return false, 0
	}

	timeLimitMs := q.TimeLimit().Milliseconds()
	if timeSpentMs < 0 {
		timeSpentMs = 0
	}
	remaining := timeLimitMs - timeSpentMs
	if remaining < 0 {
		remaining = 0
	}

	points = cfg.BasePoints
	if timeLimitMs > 0 {
		points += int(remaining * int64(cfg.BonusPoints) / timeLimitMs)
	}
	return true, points
}
