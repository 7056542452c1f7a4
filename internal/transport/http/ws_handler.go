package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
)

// WSHandler upgrades each client to a persistent websocket connection and
// translates inbound commands into room-service calls. Engine events reach
// the client through a per-room subscription; command failures go back as
// error events to the originating connection only.
type WSHandler struct {
	service  *app.RoomService
	upgrader websocket.Upgrader
	registry *Registry
}

func NewWSHandler(service *app.RoomService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		registry: NewRegistry(),
	}
}

// Registry maps live connections to their participant identity and room.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*session)}
}

func (r *Registry) add(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.connID] = s
}

func (r *Registry) remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, connID)
}

// ActiveConnections reports the number of live websocket connections.
func (r *Registry) ActiveConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Registry exposes the handler's connection registry.
func (h *WSHandler) Registry() *Registry { return h.registry }

// session is one connection's registry entry: its identity plus the room it
// is currently attached to, if any.
type session struct {
	connID        string
	roomCode      string
	participantID string
	cancelSub     func()
	// bridges tracks the event-subscription goroutines spawned by attach so
	// teardown can join them before the send channel is closed.
	bridges sync.WaitGroup
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type createRoomPayload struct {
	QuizID string `json:"quizId"`
	Name   string `json:"name,omitempty"`
}

type joinRoomPayload struct {
	RoomCode string `json:"roomCode"`
	Name     string `json:"name"`
}

type roomCommandPayload struct {
	RoomCode string `json:"roomCode"`
}

type submitAnswerPayload struct {
	RoomCode string `json:"roomCode"`
	Answer   int    `json:"answer"`
	// QuestionIndex binds the answer to a specific question; omitted, the
	// currently open question is assumed.
	QuestionIndex *int `json:"questionIndex,omitempty"`
}

// ServeWS upgrades the request and runs the connection's command loop.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sess := &session{connID: uuid.NewString()}
	h.registry.add(sess)
	defer h.registry.remove(sess.connID)

	send := make(chan outboundMessage[any], 32)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	ctx := r.Context()
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.dispatch(ctx, sess, send, closeSignals, inbound)
	}

	h.detach(ctx, sess)
	close(closeSignals)
	sess.bridges.Wait()
	close(send)
	<-writerDone
}

func (h *WSHandler) dispatch(ctx context.Context, sess *session, send chan outboundMessage[any], closeSignals chan struct{}, inbound inboundMessage) {
	switch inbound.Type {
	case "create-room":
		h.handleCreateRoom(ctx, sess, send, closeSignals, inbound.Payload)
	case "join-room":
		h.handleJoinRoom(ctx, sess, send, closeSignals, inbound.Payload)
	case "start-quiz":
		h.handleStartQuiz(ctx, sess, send, inbound.Payload)
	case "submit-answer":
		h.handleSubmitAnswer(ctx, sess, send, inbound.Payload)
	case "next-quiz":
		h.handleNextQuiz(ctx, sess, send, inbound.Payload)
	case "check-room-status":
		h.handleRoomStatus(ctx, sess, send, inbound.Payload)
	case "leave-room":
		h.detach(ctx, sess)
	default:
		sendError(send, domain.CodeValidation, "unsupported message type")
	}
}

func (h *WSHandler) handleCreateRoom(ctx context.Context, sess *session, send chan outboundMessage[any], closeSignals chan struct{}, raw json.RawMessage) {
	var payload createRoomPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.QuizID == "" {
		sendError(send, domain.CodeValidation, "invalid create-room payload")
		return
	}

	h.detach(ctx, sess)
	room, host, err := h.service.CreateRoom(ctx, payload.QuizID, sess.connID, payload.Name)
	if err != nil {
		sendDomainError(send, err)
		return
	}

	h.attach(sess, room, host.ID, send, closeSignals)
	send <- outboundMessage[any]{Type: app.EventRoomCreated, Payload: app.RoomCreatedPayload{
		RoomCode:         room.Code(),
		QuizTitle:        room.QuizTitle(),
		ParticipantCount: room.ConnectedCount(),
		Participants:     room.ParticipantViews(),
	}}
}

func (h *WSHandler) handleJoinRoom(ctx context.Context, sess *session, send chan outboundMessage[any], closeSignals chan struct{}, raw json.RawMessage) {
	var payload joinRoomPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.RoomCode == "" || payload.Name == "" {
		sendError(send, domain.CodeValidation, "invalid join-room payload")
		return
	}

	h.detach(ctx, sess)
	room, participant, err := h.service.JoinRoom(ctx, payload.RoomCode, sess.connID, payload.Name)
	if err != nil {
		sendDomainError(send, err)
		return
	}

	h.attach(sess, room, participant.ID, send, closeSignals)
	send <- outboundMessage[any]{Type: app.EventRoomJoined, Payload: app.RoomJoinedPayload{
		RoomCode:         room.Code(),
		QuizTitle:        room.QuizTitle(),
		ParticipantCount: room.ConnectedCount(),
		Participants:     room.ParticipantViews(),
	}}
}

func (h *WSHandler) handleStartQuiz(ctx context.Context, sess *session, send chan outboundMessage[any], raw json.RawMessage) {
	var payload roomCommandPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.RoomCode == "" {
		sendError(send, domain.CodeValidation, "invalid start-quiz payload")
		return
	}
	if err := h.service.StartQuiz(ctx, payload.RoomCode, sess.connID); err != nil {
		sendDomainError(send, err)
	}
}

func (h *WSHandler) handleSubmitAnswer(ctx context.Context, sess *session, send chan outboundMessage[any], raw json.RawMessage) {
	var payload submitAnswerPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.RoomCode == "" {
		sendError(send, domain.CodeValidation, "invalid submit-answer payload")
		return
	}

	// A negative index targets whichever question is currently open.
	questionIndex := -1
	if payload.QuestionIndex != nil {
		questionIndex = *payload.QuestionIndex
	}

	if _, err := h.service.SubmitAnswer(ctx, payload.RoomCode, sess.connID, questionIndex, payload.Answer); err != nil {
		sendDomainError(send, err)
	}
	// The answer-submitted unicast arrives through the room subscription.
}

func (h *WSHandler) handleNextQuiz(ctx context.Context, sess *session, send chan outboundMessage[any], raw json.RawMessage) {
	var payload roomCommandPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.RoomCode == "" {
		sendError(send, domain.CodeValidation, "invalid next-quiz payload")
		return
	}
	if err := h.service.NextQuestion(ctx, payload.RoomCode, sess.connID); err != nil {
		sendDomainError(send, err)
	}
}

func (h *WSHandler) handleRoomStatus(ctx context.Context, sess *session, send chan outboundMessage[any], raw json.RawMessage) {
	var payload roomCommandPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.RoomCode == "" {
		sendError(send, domain.CodeValidation, "invalid check-room-status payload")
		return
	}
	status, err := h.service.RoomStatus(ctx, payload.RoomCode)
	if err != nil {
		sendDomainError(send, err)
		return
	}
	send <- outboundMessage[any]{Type: app.EventRoomStatus, Payload: status}
}

// attach subscribes the connection to its room's event stream and bridges it
// onto the writer channel.
func (h *WSHandler) attach(sess *session, room *app.Room, participantID string, send chan outboundMessage[any], closeSignals chan struct{}) {
	events, cancel := room.Subscribe(participantID)
	sess.roomCode = room.Code()
	sess.participantID = participantID
	sess.cancelSub = cancel

	sess.bridges.Add(1)
	go func() {
		defer sess.bridges.Done()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: ev.Type, Payload: ev.Payload}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()
}

// detach unsubscribes and leaves the current room, if any.
func (h *WSHandler) detach(ctx context.Context, sess *session) {
	if sess.cancelSub != nil {
		sess.cancelSub()
		sess.cancelSub = nil
	}
	if sess.roomCode != "" {
		h.service.Leave(ctx, sess.roomCode, sess.connID)
		sess.roomCode = ""
		sess.participantID = ""
	}
}

func sendDomainError(send chan outboundMessage[any], err error) {
	sendError(send, domain.Code(err), err.Error())
}

func sendError(send chan outboundMessage[any], code, message string) {
	send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Code: code, Message: message}}
}
