// testserver starts a Warden API server with stub checks and an in-memory
// database for E2E and UI development. Usage: go run ./cmd/testserver
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/seantiz/warden/internal/api"
	"github.com/seantiz/warden/internal/check"
	"github.com/seantiz/warden/internal/engine"
	"github.com/seantiz/warden/internal/model"
	"github.com/seantiz/warden/internal/report"
	"github.com/seantiz/warden/internal/store"
)

// stubCheck is a configurable mock check for E2E tests.
type stubCheck struct {
	id      string
	delay   time.Duration
	outcome string
	detail  string
}

func (s *stubCheck) ID() string             { return s.id }
func (s *stubCheck) Timeout() time.Duration { return 5 * time.Second }

func (s *stubCheck) Execute(ctx context.Context, _ *model.Target) (string, string, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return "", "", ctx.Err()
	}
	return s.outcome, s.detail, nil
}

func main() {
	addr := ":8080"
	if v := os.Getenv("WARDEN_LISTEN_ADDR"); v != "" {
		addr = v
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	reg := check.NewRegistry()
	reg.Register(&stubCheck{
		id:      "stub.pass",
		delay:   500 * time.Millisecond,
		outcome: model.OutcomePass,
		detail:  "stub check passed",
	})
	reg.Register(&stubCheck{
		id:      "stub.fail",
		delay:   500 * time.Millisecond,
		outcome: model.OutcomeFail,
		detail:  "stub finding: weak configuration",
	})

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	eng := engine.New(db, reg, &report.LogHandler{Logger: logger}, logger, engine.Options{
		MaxConcurrent: 4,
	})
	srv := api.NewServer(addr, db, eng, logger)

	logger.Info("testserver: starting", "addr", addr)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
