package http

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/infra/memory"
)

func TestWebSocketGameFlow(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	host := dial(t, server)
	defer host.Close()

	writeCommand(t, host, "create-room", map[string]any{"quizId": "quiz-1", "name": "Host"})
	_, created := readUntil(t, host, app.EventRoomCreated)
	roomCode, _ := created["roomCode"].(string)
	if len(roomCode) != 6 {
		t.Fatalf("expected 6-char room code, got %q", roomCode)
	}

	player := dial(t, server)
	defer player.Close()

	writeCommand(t, player, "join-room", map[string]any{"roomCode": roomCode, "name": "Alice"})
	_, joined := readUntil(t, player, app.EventRoomJoined)
	if joined["quizTitle"] != "Arithmetic" {
		t.Fatalf("unexpected join payload: %v", joined)
	}

	// The host hears about the new participant.
	_, change := readUntil(t, host, app.EventParticipantJoined)
	if change["name"] != "Alice" {
		t.Fatalf("expected Alice in participant-joined, got %v", change)
	}

	writeCommand(t, host, "start-quiz", map[string]any{"roomCode": roomCode})
	_, started := readUntil(t, host, app.EventQuizStarted)
	readUntil(t, player, app.EventQuizStarted)
	question, _ := started["question"].(map[string]any)
	if question == nil || question["questionText"] != "What is 2 + 2?" {
		t.Fatalf("unexpected quiz-started payload: %v", started)
	}
	if _, leaked := question["correctAnswerIndex"]; leaked {
		t.Fatalf("correct answer index leaked to clients")
	}

	writeCommand(t, player, "submit-answer", map[string]any{"roomCode": roomCode, "answer": 1})
	_, submitted := readUntil(t, player, app.EventAnswerSubmitted)
	if submitted["isCorrect"] != true {
		t.Fatalf("expected a correct answer, got %v", submitted)
	}
	if points, _ := submitted["points"].(float64); points < 100 {
		t.Fatalf("expected at least base points, got %v", submitted["points"])
	}

	// Once the host answers too, the single question closes and the quiz
	// finishes after the intermission.
	writeCommand(t, host, "submit-answer", map[string]any{"roomCode": roomCode, "answer": 0})
	readUntil(t, host, app.EventAnswerSubmitted)

	_, completed := readUntil(t, player, app.EventQuizCompleted)
	results, _ := completed["results"].(map[string]any)
	if results == nil || results["roomCode"] != roomCode {
		t.Fatalf("unexpected quiz-completed payload: %v", completed)
	}
	readUntil(t, host, app.EventQuizCompleted)
}

func TestWebSocketRejectsNonHostStart(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	host := dial(t, server)
	defer host.Close()
	writeCommand(t, host, "create-room", map[string]any{"quizId": "quiz-1", "name": "Host"})
	_, created := readUntil(t, host, app.EventRoomCreated)
	roomCode, _ := created["roomCode"].(string)

	player := dial(t, server)
	defer player.Close()
	writeCommand(t, player, "join-room", map[string]any{"roomCode": roomCode, "name": "Bob"})
	readUntil(t, player, app.EventRoomJoined)

	writeCommand(t, player, "start-quiz", map[string]any{"roomCode": roomCode})
	_, errPayload := readUntil(t, player, "error")
	if errPayload["code"] != domain.CodeForbidden {
		t.Fatalf("expected forbidden error, got %v", errPayload)
	}
}

func TestWebSocketDuplicateSubmitReturnsConflict(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	host := dial(t, server)
	defer host.Close()
	writeCommand(t, host, "create-room", map[string]any{"quizId": "quiz-1", "name": "Host"})
	_, created := readUntil(t, host, app.EventRoomCreated)
	roomCode, _ := created["roomCode"].(string)

	player := dial(t, server)
	defer player.Close()
	writeCommand(t, player, "join-room", map[string]any{"roomCode": roomCode, "name": "Carol"})
	readUntil(t, player, app.EventRoomJoined)

	writeCommand(t, host, "start-quiz", map[string]any{"roomCode": roomCode})
	readUntil(t, player, app.EventQuizStarted)

	writeCommand(t, player, "submit-answer", map[string]any{"roomCode": roomCode, "answer": 1})
	readUntil(t, player, app.EventAnswerSubmitted)

	writeCommand(t, player, "submit-answer", map[string]any{"roomCode": roomCode, "answer": 2})
	_, errPayload := readUntil(t, player, "error")
	if errPayload["code"] != domain.CodeConflict {
		t.Fatalf("expected conflict error, got %v", errPayload)
	}
}

func TestWebSocketRoomStatus(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	host := dial(t, server)
	defer host.Close()
	writeCommand(t, host, "create-room", map[string]any{"quizId": "quiz-1", "name": "Host"})
	_, created := readUntil(t, host, app.EventRoomCreated)
	roomCode, _ := created["roomCode"].(string)

	writeCommand(t, host, "check-room-status", map[string]any{"roomCode": roomCode})
	_, status := readUntil(t, host, app.EventRoomStatus)
	if status["phase"] != string(domain.PhaseWaiting) {
		t.Fatalf("expected waiting phase, got %v", status["phase"])
	}
	if count, _ := status["participantCount"].(float64); count != 1 {
		t.Fatalf("expected one participant, got %v", status["participantCount"])
	}

	writeCommand(t, host, "check-room-status", map[string]any{"roomCode": "ZZZZZZ"})
	_, errPayload := readUntil(t, host, "error")
	if errPayload["code"] != domain.CodeNotFound {
		t.Fatalf("expected not_found error, got %v", errPayload)
	}
}

func TestWebSocketRejectsMalformedCommands(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	writeCommand(t, conn, "create-room", map[string]any{})
	_, errPayload := readUntil(t, conn, "error")
	if errPayload["code"] != domain.CodeValidation {
		t.Fatalf("expected validation error, got %v", errPayload)
	}

	writeCommand(t, conn, "shout", map[string]any{})
	_, errPayload = readUntil(t, conn, "error")
	if errPayload["code"] != domain.CodeValidation {
		t.Fatalf("expected validation error for unknown type, got %v", errPayload)
	}
}

func TestConnectionCloseDuringBroadcastFlood(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	host := dial(t, server)
	defer host.Close()
	writeCommand(t, host, "create-room", map[string]any{"quizId": "quiz-1", "name": "Host"})
	_, created := readUntil(t, host, app.EventRoomCreated)
	roomCode, _ := created["roomCode"].(string)

	churn := dial(t, server)
	defer churn.Close()

	for i := 0; i < 300; i++ {
		victim := dial(t, server)
		writeCommand(t, victim, "join-room", map[string]any{"roomCode": roomCode, "name": fmt.Sprintf("victim-%d", i)})
		readUntil(t, victim, app.EventRoomJoined)

		// Tear the connection down while roster churn keeps broadcasting
		// into its still-live subscription.
		victim.Close()
		writeCommand(t, churn, "join-room", map[string]any{"roomCode": roomCode, "name": "Churn"})
		readUntil(t, churn, app.EventRoomJoined)
		writeCommand(t, churn, "leave-room", map[string]any{"roomCode": roomCode})
	}

	// The server must still be serving; a fresh connection can query the room.
	checker := dial(t, server)
	defer checker.Close()
	writeCommand(t, checker, "check-room-status", map[string]any{"roomCode": roomCode})
	_, status := readUntil(t, checker, app.EventRoomStatus)
	if status["roomCode"] != roomCode {
		t.Fatalf("unexpected status after churn: %v", status)
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	quizRepo := memory.NewQuizRepository(memory.NewStaticQuizLoader(sampleQuizzes()), time.Minute)
	cfg := app.DefaultSettings()
	cfg.Intermission = 20 * time.Millisecond
	cfg.MaxParticipants = 1000
	service := app.NewRoomService(memory.NewRoomStore(), quizRepo, memory.NewHistoryStore(), cfg)
	handler := NewWSHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.ServeWS)
	return httptest.NewServer(mux)
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func writeCommand(t *testing.T, conn *websocket.Conn, msgType string, payload map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": msgType, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

// readUntil drains events until one of the wanted type arrives. Broadcasts
// like participant-joined interleave freely with command replies, so tests
// skip what they are not asserting on.
func readUntil(t *testing.T, conn *websocket.Conn, want string) (string, map[string]any) {
	t.Helper()
	for i := 0; i < 20; i++ {
		var msg struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read while waiting for %s: %v", want, err)
		}
		if msg.Type == want {
			return msg.Type, msg.Payload
		}
	}
	t.Fatalf("never received %s", want)
	return "", nil
}

func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Arithmetic",
			Questions: []domain.Question{
				{
					Text:          "What is 2 + 2?",
					Options:       []string{"3", "4", "5", "22"},
					CorrectOption: 1,
					TimeLimitSec:  30,
				},
			},
		},
	}
}
