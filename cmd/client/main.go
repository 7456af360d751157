package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/janwilmake/cursordo/client"
	"github.com/janwilmake/cursordo/config"
)

const (
	exitOK = iota
	exitError
	exitConfig
)

// Config defines the client-side environment variables.
type Config struct {
	ServerURL     string `env:"CURSOR_SERVER_URL,default=ws://localhost:8080/ws" validate:"required,url"`
	Room          string `env:"CURSOR_ROOM,default=default" validate:"required"`
	ThrottleMS    int    `env:"CURSOR_THROTTLE_MS,default=50" validate:"min=1"`
	SampleEveryMS int    `env:"CURSOR_SAMPLE_EVERY_MS,default=10" validate:"min=1"`
	TableEveryMS  int    `env:"CURSOR_TABLE_EVERY_MS,default=5000" validate:"min=0"`
	BackoffBaseMS int    `env:"CURSOR_BACKOFF_BASE_MS,default=500" validate:"min=1"`
	BackoffMaxMS  int    `env:"CURSOR_BACKOFF_MAX_MS,default=10000" validate:"gtefield=BackoffBaseMS"`
	MaxRetries    int    `env:"CURSOR_MAX_RETRIES,default=8" validate:"min=1"`
	LogLevel      string `env:"LOG_LEVEL,default=warn" validate:"oneof=debug info warn error"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		return exitConfig, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLevel(cfg.LogLevel),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := newRenderer(os.Stdout)
	session := client.NewSession(client.Config{
		URL:      cfg.ServerURL,
		Room:     cfg.Room,
		Throttle: ms(cfg.ThrottleMS),
		Backoff: client.Backoff{
			Base:       ms(cfg.BackoffBaseMS),
			Max:        ms(cfg.BackoffMaxMS),
			MaxRetries: cfg.MaxRetries,
		},
	}, client.Handlers{
		OnInit:   out.Init,
		OnCursor: out.Cursor,
		OnLeave:  out.Leave,
		OnState:  out.State,
	})

	go drive(ctx, session, ms(cfg.SampleEveryMS))
	go tables(ctx, session, out, ms(cfg.TableEveryMS))

	err = session.Run(ctx)
	out.Peers(session.Peers())
	if err != nil && ctx.Err() == nil {
		return exitError, err
	}
	return exitOK, nil
}

// drive feeds a synthetic pointer moving on a circle into the session,
// sampling faster than the throttle lets through.
func drive(ctx context.Context, s *client.Session, every time.Duration) {
	if every <= 0 {
		every = 10 * time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			angle := now.Sub(start).Seconds()
			x := 400 + 200*math.Cos(angle)
			y := 300 + 200*math.Sin(angle)
			if _, err := s.Move(x, y); err != nil && !errors.Is(err, client.ErrNotConnected) {
				slog.Warn("move failed", "error", err)
			}
		}
	}
}

func tables(ctx context.Context, s *client.Session, out *renderer, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			out.Peers(s.Peers())
		}
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
