package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/infra/memory"
	pgstore "quiz-room-service/internal/infra/postgres"
	pgmigrations "quiz-room-service/internal/infra/postgres/migrations"
	infraredis "quiz-room-service/internal/infra/redis"
)

func TestFullGamePersistsResultEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuiz(t, ctx, pgURL, sampleQuiz())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	quizRepo := infraredis.NewQuizRepository(redisClient, pgstore.NewQuizLoader(pool), 5*time.Minute)
	history := pgstore.NewHistoryStore(pool)

	cfg := app.DefaultSettings()
	cfg.Intermission = 50 * time.Millisecond
	service := app.NewRoomService(memory.NewRoomStore(), quizRepo, history, cfg)

	room, _, err := service.CreateRoom(ctx, "quiz-1", "conn-host", "Host")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	code := room.Code()

	if _, _, err := service.JoinRoom(ctx, code, "conn-alice", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := service.StartQuiz(ctx, code, "conn-host"); err != nil {
		t.Fatalf("start: %v", err)
	}

	answer, err := service.SubmitAnswer(ctx, code, "conn-alice", 0, 1)
	if err != nil {
		t.Fatalf("submit alice: %v", err)
	}
	if !answer.IsCorrect || answer.Points < 100 {
		t.Fatalf("expected a scored correct answer, got %+v", answer)
	}
	if _, err := service.SubmitAnswer(ctx, code, "conn-host", 0, 0); err != nil {
		t.Fatalf("submit host: %v", err)
	}

	// After the last participant answers, the single question closes and the
	// finished snapshot lands in postgres asynchronously.
	result := awaitResult(t, ctx, service, code)
	if result.QuizID != "quiz-1" || result.TotalQuestions != 1 {
		t.Fatalf("unexpected result snapshot: %+v", result)
	}
	if result.Participants[0].Name != "Alice" || result.Participants[0].Score < 100 {
		t.Fatalf("expected alice leading, got %+v", result.Participants)
	}

	aliceHistory, err := service.History(ctx, "Alice")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(aliceHistory) != 1 || aliceHistory[0].RoomCode != code {
		t.Fatalf("expected one history entry for Alice, got %+v", aliceHistory)
	}

	if err := redisClient.Get(ctx, "quiz:quiz-1:snapshot").Err(); err != nil {
		t.Fatalf("expected cached quiz snapshot in redis: %v", err)
	}
}

func awaitResult(t *testing.T, ctx context.Context, service *app.RoomService, code string) domain.QuizResult {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		result, err := service.ResultByRoom(ctx, code)
		if err == nil {
			return result
		}
		if err != domain.ErrRoomNotFound {
			t.Fatalf("load result: %v", err)
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("result for room %s never persisted", code)
	return domain.QuizResult{}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedQuiz(t *testing.T, ctx context.Context, dsn string, quiz domain.Quiz) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(quiz)
	if err != nil {
		t.Fatalf("marshal quiz: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO quizzes (id, data) VALUES (? , ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, quiz.ID, string(data)); err != nil {
		t.Fatalf("insert quiz: %v", err)
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
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
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
