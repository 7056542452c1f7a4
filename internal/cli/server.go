package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/config"
	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/infra/memory"
	pginfra "quiz-room-service/internal/infra/postgres"
	redisinfra "quiz-room-service/internal/infra/redis"
	transport "quiz-room-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz room coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if pool != nil {
		loader = pginfra.NewQuizLoader(pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisinfra.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var history app.HistoryRecorder
	switch {
	case pool != nil:
		history = pginfra.NewHistoryStore(pool)
	case redisClient != nil:
		history = redisinfra.NewHistoryStore(redisClient, redisTTL)
	default:
		history = memory.NewHistoryStore()
	}

	roomStore := memory.NewRoomStore()
	service := app.NewRoomService(roomStore, quizRepo, history, settingsFromConfig(cfg))
	wsHandler := transport.NewWSHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok rooms=%d connections=%d", roomStore.Len(), wsHandler.Registry().ActiveConnections())
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quiz room coordinator on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func settingsFromConfig(cfg config.Config) app.Settings {
	s := app.DefaultSettings()
	if cfg.Game.BasePoints > 0 {
		s.BasePoints = cfg.Game.BasePoints
	}
	if cfg.Game.BonusPoints > 0 {
		s.BonusPoints = cfg.Game.BonusPoints
	}
	s.Intermission = config.TTLDuration(cfg.Game.Intermission, s.Intermission)
	s.ReconnectGrace = config.TTLDuration(cfg.Game.ReconnectGrace, s.ReconnectGrace)
	s.HostGrace = config.TTLDuration(cfg.Game.HostGrace, s.HostGrace)
	s.Retention = config.TTLDuration(cfg.Game.Retention, s.Retention)
	if cfg.Game.MaxParticipants > 0 {
		s.MaxParticipants = cfg.Game.MaxParticipants
	}
	if cfg.Game.MinParticipants > 0 {
		s.MinParticipants = cfg.Game.MinParticipants
	}
	s.AllowMidGameJoin = cfg.Game.AllowMidGameJoin
	return s
}

// sampleQuizzes provides minimal quiz content for running without Postgres;
// swap the loader for the database-backed one in production.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "General Knowledge",
			Questions: []domain.Question{
				{
					Text:          "What is the capital of France?",
					Options:       []string{"London", "Berlin", "Paris", "Madrid"},
					CorrectOption: 2,
					TimeLimitSec:  30,
				},
				{
					Text:          "Which planet is known as the Red Planet?",
					Options:       []string{"Venus", "Mars", "Jupiter", "Saturn"},
					CorrectOption: 1,
					TimeLimitSec:  30,
				},
				{
					Text:          "What is 2 + 2?",
					Options:       []string{"3", "4", "5", "6"},
					CorrectOption: 1,
					TimeLimitSec:  15,
				},
			},
		},
	}
}
