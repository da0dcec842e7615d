// testserver starts a calcops API server backed by in-memory SQLite and stub
// sources for end-to-end testing.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seantiz/calcops/internal/api"
	"github.com/seantiz/calcops/internal/refresh"
	"github.com/seantiz/calcops/internal/source"
	"github.com/seantiz/calcops/internal/source/stub"
	"github.com/seantiz/calcops/internal/store"
)

func main() {
	addr := ":8080"
	if v := os.Getenv("CALCOPS_LISTEN_ADDR"); v != "" {
		addr = v
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	ebayStub := stub.New("stub-ebay", 8)
	ebayStub.SetDelay(100 * time.Millisecond)
	slow := stub.New("stub-slow", 2)
	slow.SetDelay(500 * time.Millisecond)

	reg := source.NewRegistry()
	reg.Register("ebay", ebayStub)
	reg.Register("slow", slow)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ref := refresh.NewRefresher(db, reg, logger, refresh.Options{})
	defer ref.Wait()
	srv := api.NewServer(addr, db, reg, ref, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("testserver: starting", "addr", addr)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
