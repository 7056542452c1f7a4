package app

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"quiz-room-service/internal/domain"
)

// RoomHooks are callbacks a room invokes off the lock after committing a
// terminal transition.
type RoomHooks struct {
	// OnFinish receives the result snapshot built at the Finished transition.
	OnFinish func(domain.QuizResult)
	// OnClosed is called when the room should be evicted from its store.
	OnClosed func(code string)
}

// Room is a single game session. Every mutating operation, including timer
// callbacks, runs under one mutex so transitions on a room are serialized
// while different rooms proceed in parallel. Event fan-out happens while the
// lock is held, which preserves commit order on each subscriber stream.
type Room struct {
	code  string
	quiz  domain.Quiz // immutable snapshot taken at creation
	cfg   Settings
	hooks RoomHooks
	now   func() time.Time

	mu               sync.Mutex
	phase            domain.Phase
	current          int // -1 before start
	epoch            uint64
	questionOpenedAt time.Time
	questionDeadline time.Time
	createdAt        time.Time
	startedAt        time.Time
	completedAt      time.Time
	hostID           string
	participants     map[string]*domain.Participant
	order            []string // insertion order of participant IDs
	subscribers      map[chan Event]string
	deadlineTimer    *time.Timer
	advanceTimer     *time.Timer
	graceTimer       *time.Timer
	evictTimer       *time.Timer
}

// NewRoom creates a waiting room around a quiz snapshot and registers the
// creating connection as host and first participant.
func NewRoom(code string, quiz domain.Quiz, hostConnID, hostName string, cfg Settings, hooks RoomHooks) *Room {
	return NewRoomWithClock(code, quiz, hostConnID, hostName, cfg, hooks, time.Now)
}

// NewRoomWithClock allows deterministic timestamps in tests.
func NewRoomWithClock(code string, quiz domain.Quiz, hostConnID, hostName string, cfg Settings, hooks RoomHooks, now func() time.Time) *Room {
	r := &Room{
		code:         code,
		quiz:         quiz,
		cfg:          cfg,
		hooks:        hooks,
		now:          now,
		phase:        domain.PhaseWaiting,
		current:      -1,
		createdAt:    now(),
		participants: make(map[string]*domain.Participant),
		subscribers:  make(map[chan Event]string),
	}
	host := &domain.Participant{
		ID:           uuid.NewString(),
		Name:         hostName,
		ConnectionID: hostConnID,
		IsHost:       true,
		JoinedAt:     r.createdAt,
		LastUpdated:  r.createdAt,
	}
	r.hostID = host.ID
	r.participants[host.ID] = host
	r.order = append(r.order, host.ID)
	return r
}

// Code returns the room's immutable join code.
func (r *Room) Code() string { return r.code }

// QuizTitle returns the title of the snapshotted quiz.
func (r *Room) QuizTitle() string { return r.quiz.Title }

// Host returns the room's host participant.
func (r *Room) Host() *domain.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.participants[r.hostID]
}

// Phase returns the current lifecycle phase.
func (r *Room) Phase() domain.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// CurrentQuestionIndex returns -1 before start, 0..N-1 during play.
func (r *Room) CurrentQuestionIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Join admits a connection under a display name. A disconnected participant
// holding the same name within the reconnect grace window is reattached with
// score and answers intact; otherwise a new participant is allocated.
func (r *Room) Join(connID, name string) (*domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase.Terminal() {
		return nil, domain.ErrRoomClosed
	}

	now := r.now()
	for _, id := range r.order {
		p := r.participants[id]
		if p.Name != name {
			continue
		}
		if p.Connected() {
			return nil, domain.ErrDuplicateName
		}
		if now.Sub(p.DisconnectedAt) <= r.cfg.ReconnectGrace {
			p.ConnectionID = connID
			p.DisconnectedAt = time.Time{}
			p.LastUpdated = now
			if p.IsHost && r.graceTimer != nil {
				r.graceTimer.Stop()
				r.graceTimer = nil
			}
			r.publishLocked(Event{Type: EventParticipantJoined, Payload: ParticipantChangePayload{
				Name:             p.Name,
				ParticipantCount: r.connectedCountLocked(),
			}})
			return p, nil
		}
		// Grace expired. Before the quiz starts the stale seat is freed for
		// the claimant; during play the name stays reserved since the seat's
		// answers are part of the final results.
		if p.IsHost || r.phase != domain.PhaseWaiting {
			return nil, domain.ErrDuplicateName
		}
		r.removeParticipantLocked(p.ID)
		break
	}

	if r.phase != domain.PhaseWaiting && !r.cfg.AllowMidGameJoin {
		return nil, domain.ErrRoomNotJoinable
	}
	if len(r.participants) >= r.cfg.MaxParticipants {
		return nil, domain.ErrRoomFull
	}

	p := &domain.Participant{
		ID:           uuid.NewString(),
		Name:         name,
		ConnectionID: connID,
		JoinedAt:     now,
		LastUpdated:  now,
	}
	r.participants[p.ID] = p
	r.order = append(r.order, p.ID)
	r.publishLocked(Event{Type: EventParticipantJoined, Payload: ParticipantChangePayload{
		Name:             p.Name,
		ParticipantCount: r.connectedCountLocked(),
	}})
	return p, nil
}

// Leave detaches a connection from its participant. Scores and answers are
// kept for the grace window. A departing host arms the cancellation timer.
func (r *Room) Leave(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.byConnLocked(connID)
	if p == nil || r.phase.Terminal() {
		return
	}

	p.ConnectionID = ""
	p.DisconnectedAt = r.now()
	r.publishLocked(Event{Type: EventParticipantLeft, Payload: ParticipantChangePayload{
		Name:             p.Name,
		ParticipantCount: r.connectedCountLocked(),
	}})

	if p.IsHost {
		if r.graceTimer != nil {
			r.graceTimer.Stop()
		}
		r.graceTimer = time.AfterFunc(r.cfg.HostGrace, func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			host := r.participants[r.hostID]
			if r.phase.Terminal() || host == nil || host.Connected() {
				return
			}
			r.cancelLocked("host left the room")
		})
	}

	// A departure can leave everyone remaining already answered.
	if r.phase == domain.PhaseQuestion && r.allConnectedAnsweredLocked() {
		r.closeQuestionLocked()
	}
}

// Start opens question zero. Host only, waiting phase only, and the roster
// (host included) must meet the configured minimum.
func (r *Room) Start(connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase.Terminal() {
		return domain.ErrRoomClosed
	}
	p := r.byConnLocked(connID)
	if p == nil {
		return domain.ErrParticipantNotFound
	}
	if p.ID != r.hostID {
		return domain.ErrNotHost
	}
	if r.phase != domain.PhaseWaiting {
		return domain.ErrAlreadyStarted
	}
	if len(r.participants) < r.cfg.MinParticipants {
		return domain.ErrNoParticipants
	}

	r.startedAt = r.now()
	r.openQuestionLocked(0)
	return nil
}

// SubmitAnswer records a participant's choice for the currently open
// question. A submission that arrives after the deadline is recorded as the
// no-answer sentinel with zero points rather than rejected, so every
// participant ends the quiz with one answer per question.
func (r *Room) SubmitAnswer(connID string, questionIndex, selected int) (domain.Answer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase.Terminal() {
		return domain.Answer{}, domain.ErrRoomClosed
	}
	p := r.byConnLocked(connID)
	if p == nil {
		return domain.Answer{}, domain.ErrParticipantNotFound
	}
	if r.phase == domain.PhaseWaiting {
		return domain.Answer{}, domain.ErrQuizNotStarted
	}
	if r.phase != domain.PhaseQuestion {
		return domain.Answer{}, domain.ErrStaleQuestion
	}
	if questionIndex < 0 {
		// Clients that omit the index answer the currently open question.
		questionIndex = r.current
	}
	if questionIndex != r.current {
		return domain.Answer{}, domain.ErrStaleQuestion
	}
	if _, ok := p.AnswerFor(r.current); ok {
		return domain.Answer{}, domain.ErrAlreadyAnswered
	}

	now := r.now()
	question := r.quiz.Questions[r.current]
	timeSpent := now.Sub(r.questionOpenedAt).Milliseconds()

	answer := domain.Answer{
		QuestionIndex:  r.current,
		SelectedOption: selected,
		TimeSpentMs:    timeSpent,
		SubmittedAt:    now,
	}
	if now.After(r.questionDeadline) {
		answer.SelectedOption = domain.NoAnswer
	} else {
		answer.IsCorrect, answer.Points = scoreAnswer(r.cfg, question, selected, timeSpent)
	}

	p.Answers = append(p.Answers, answer)
	p.Score += answer.Points
	p.LastUpdated = now

	r.publishLocked(Event{Type: EventAnswerSubmitted, To: p.ID, Payload: AnswerSubmittedPayload{
		IsCorrect:    answer.IsCorrect,
		TimeSpentMs:  answer.TimeSpentMs,
		Points:       answer.Points,
		CurrentScore: p.Score,
	}})

	if r.allConnectedAnsweredLocked() {
		r.closeQuestionLocked()
	}
	return answer, nil
}

// Advance is the host-forced skip. In the question phase it closes the open
// question and moves on immediately; in intermission it skips the delay.
func (r *Room) Advance(connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase.Terminal() {
		return domain.ErrRoomClosed
	}
	p := r.byConnLocked(connID)
	if p == nil {
		return domain.ErrParticipantNotFound
	}
	if p.ID != r.hostID {
		return domain.ErrNotHost
	}

	switch r.phase {
	case domain.PhaseWaiting:
		return domain.ErrQuizNotStarted
	case domain.PhaseQuestion:
		r.fillMissingAnswersLocked()
		r.advanceLocked()
	case domain.PhaseIntermission:
		r.advanceLocked()
	}
	return nil
}

// Cancel forcibly terminates the room and broadcasts room-cancelled once.
func (r *Room) Cancel(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelLocked(reason)
}

// Status answers the polling fallback with a consistent snapshot.
func (r *Room) Status() RoomStatusPayload {
	r.mu.Lock()
	defer r.mu.Unlock()

	var remaining int64
	if r.phase == domain.PhaseQuestion {
		if d := r.questionDeadline.Sub(r.now()); d > 0 {
			remaining = d.Milliseconds()
		}
	}
	return RoomStatusPayload{
		RoomCode:             r.code,
		QuizTitle:            r.quiz.Title,
		Phase:                r.phase,
		CurrentQuestionIndex: r.current,
		TimeRemainingMs:      remaining,
		ParticipantCount:     r.connectedCountLocked(),
		Participants:         r.participantViewsLocked(),
		TotalQuestions:       len(r.quiz.Questions),
		CreatedAt:            r.createdAt,
	}
}

// ParticipantViews returns the roster in insertion order, host first.
func (r *Room) ParticipantViews() []domain.ParticipantView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.participantViewsLocked()
}

// ConnectedCount returns the number of live connections in the room.
func (r *Room) ConnectedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connectedCountLocked()
}

// Subscribe attaches an event stream for one participant. Broadcasts and
// unicasts addressed to that participant are delivered in commit order. The
// returned cancel must be called to release the stream.
func (r *Room) Subscribe(participantID string) (<-chan Event, func()) {
	ch := make(chan Event, 16)
	r.mu.Lock()
	r.subscribers[ch] = participantID
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		if _, ok := r.subscribers[ch]; ok {
			delete(r.subscribers, ch)
			close(ch)
		}
		r.mu.Unlock()
	}
	return ch, cancel
}

// --- internals, all called with r.mu held ---

func (r *Room) byConnLocked(connID string) *domain.Participant {
	if connID == "" {
		return nil
	}
	for _, p := range r.participants {
		if p.ConnectionID == connID {
			return p
		}
	}
	return nil
}

func (r *Room) removeParticipantLocked(id string) {
	delete(r.participants, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Room) connectedCountLocked() int {
	n := 0
	for _, p := range r.participants {
		if p.Connected() {
			n++
		}
	}
	return n
}

func (r *Room) allConnectedAnsweredLocked() bool {
	connected := 0
	for _, p := range r.participants {
		if !p.Connected() {
			continue
		}
		connected++
		if _, ok := p.AnswerFor(r.current); !ok {
			return false
		}
	}
	return connected > 0
}

// openQuestionLocked moves the room into Question(i) and arms the deadline
// timer. The epoch bump invalidates every callback scheduled for an earlier
// phase, so a stale deadline firing later is a no-op.
func (r *Room) openQuestionLocked(i int) {
	question := r.quiz.Questions[i]
	now := r.now()

	r.phase = domain.PhaseQuestion
	r.current = i
	r.epoch++
	r.questionOpenedAt = now
	r.questionDeadline = now.Add(question.TimeLimit())

	epoch := r.epoch
	if r.deadlineTimer != nil {
		r.deadlineTimer.Stop()
	}
	r.deadlineTimer = time.AfterFunc(question.TimeLimit(), func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.epoch != epoch {
			return
		}
		r.closeQuestionLocked()
	})

	view := QuestionView{
		QuestionIndex:   i,
		QuestionText:    question.Text,
		Options:         question.Options,
		TimeRemainingMs: question.TimeLimit().Milliseconds(),
	}
	if i == 0 {
		r.publishLocked(Event{Type: EventQuizStarted, Payload: QuizStartedPayload{
			Question:         view,
			ParticipantCount: r.connectedCountLocked(),
		}})
		return
	}
	r.publishLocked(Event{Type: EventNextQuestion, Payload: NextQuestionPayload{
		Question:    view,
		Leaderboard: r.leaderboardLocked(),
	}})
}

// closeQuestionLocked moves Question(i) into Intermission(i), records the
// no-answer sentinel for everyone who missed the window, and schedules the
// auto-advance.
func (r *Room) closeQuestionLocked() {
	r.fillMissingAnswersLocked()

	r.phase = domain.PhaseIntermission
	r.epoch++
	if r.deadlineTimer != nil {
		r.deadlineTimer.Stop()
		r.deadlineTimer = nil
	}

	epoch := r.epoch
	if r.advanceTimer != nil {
		r.advanceTimer.Stop()
	}
	r.advanceTimer = time.AfterFunc(r.cfg.Intermission, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.epoch != epoch {
			return
		}
		r.advanceLocked()
	})
}

func (r *Room) fillMissingAnswersLocked() {
	now := r.now()
	question := r.quiz.Questions[r.current]
	for _, p := range r.participants {
		if _, ok := p.AnswerFor(r.current); ok {
			continue
		}
		p.Answers = append(p.Answers, domain.Answer{
			QuestionIndex:  r.current,
			SelectedOption: domain.NoAnswer,
			TimeSpentMs:    question.TimeLimit().Milliseconds(),
			SubmittedAt:    now,
		})
	}
}

func (r *Room) advanceLocked() {
	if r.advanceTimer != nil {
		r.advanceTimer.Stop()
		r.advanceTimer = nil
	}
	if r.current+1 < len(r.quiz.Questions) {
		r.openQuestionLocked(r.current + 1)
		return
	}
	r.finishLocked()
}

// finishLocked commits the terminal Finished transition, builds the result
// snapshot exactly once and hands it to the hooks off the lock.
func (r *Room) finishLocked() {
	r.phase = domain.PhaseFinished
	r.epoch++
	r.completedAt = r.now()
	r.stopTimersLocked()

	result := r.buildResultLocked()
	r.publishLocked(Event{Type: EventQuizCompleted, Payload: QuizCompletedPayload{
		Results: result,
		Message: "quiz completed",
	}})

	if r.hooks.OnFinish != nil {
		go r.hooks.OnFinish(result)
	}
	if r.cfg.Retention > 0 && r.hooks.OnClosed != nil {
		code := r.code
		r.evictTimer = time.AfterFunc(r.cfg.Retention, func() {
			r.hooks.OnClosed(code)
		})
	}
}

func (r *Room) cancelLocked(reason string) {
	if r.phase.Terminal() {
		return
	}
	r.phase = domain.PhaseCancelled
	r.epoch++
	r.stopTimersLocked()
	r.publishLocked(Event{Type: EventRoomCancelled, Payload: RoomCancelledPayload{Message: reason}})
	if r.hooks.OnClosed != nil {
		code := r.code
		go r.hooks.OnClosed(code)
	}
}

func (r *Room) stopTimersLocked() {
	for _, t := range []*time.Timer{r.deadlineTimer, r.advanceTimer, r.graceTimer} {
		if t != nil {
			t.Stop()
		}
	}
	r.deadlineTimer, r.advanceTimer, r.graceTimer = nil, nil, nil
}

func (r *Room) buildResultLocked() domain.QuizResult {
	results := make([]domain.ParticipantResult, 0, len(r.participants))
	for _, id := range r.order {
		p := r.participants[id]
		answers := make([]domain.Answer, len(p.Answers))
		copy(answers, p.Answers)
		results = append(results, domain.ParticipantResult{
			Name:           p.Name,
			Score:          p.Score,
			TotalQuestions: len(r.quiz.Questions),
			Answers:        answers,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	hostName := ""
	if host := r.participants[r.hostID]; host != nil {
		hostName = host.Name
	}
	return domain.QuizResult{
		RoomCode:       r.code,
		QuizID:         r.quiz.ID,
		QuizTitle:      r.quiz.Title,
		HostName:       hostName,
		TotalQuestions: len(r.quiz.Questions),
		Participants:   results,
		DurationMs:     r.completedAt.Sub(r.startedAt).Milliseconds(),
		CompletedAt:    r.completedAt,
	}
}

func (r *Room) participantViewsLocked() []domain.ParticipantView {
	views := make([]domain.ParticipantView, 0, len(r.order))
	for _, id := range r.order {
		p := r.participants[id]
		views = append(views, domain.ParticipantView{
			Name:      p.Name,
			Score:     p.Score,
			IsHost:    p.IsHost,
			Connected: p.Connected(),
		})
	}
	return views
}

func (r *Room) leaderboardLocked() []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(r.participants))
	byName := make(map[string]*domain.Participant, len(r.participants))
	for _, p := range r.participants {
		entries = append(entries, domain.LeaderboardEntry{Name: p.Name, Score: p.Score})
		byName[p.Name] = p
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		// Tie-break by who reached the score earlier, then name.
		pi, pj := byName[entries[i].Name], byName[entries[j].Name]
		if pi != nil && pj != nil && !pi.LastUpdated.Equal(pj.LastUpdated) {
			return pi.LastUpdated.Before(pj.LastUpdated)
		}
		return entries[i].Name < entries[j].Name
	})
	return entries
}

func (r *Room) publishLocked(ev Event) {
	for ch, pid := range r.subscribers {
		if ev.To != "" && ev.To != pid {
			continue
		}
		select {
		case ch <- ev:
		default:
			// Drop the oldest pending event so a slow reader never blocks
			// the room's transition.
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}
