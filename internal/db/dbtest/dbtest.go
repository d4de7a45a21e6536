// Package dbtest opens throwaway in-memory SQLite databases with the full schema.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mind-engage/answer-eval/internal/db"
)

var seq atomic.Int64

// Open returns a private in-memory database that is closed when the test ends.
func Open(tb testing.TB) *sql.DB {
	tb.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(tb.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		name, seq.Add(1))
	h, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	// one connection keeps the shared-cache database alive and serialises writers
	h.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = h.Close() })
	return h
}

// SeedQuestion inserts a bare question row so rubric foreign keys resolve.
func SeedQuestion(tb testing.TB, h *sql.DB, questionID, topic string) {
	tb.Helper()
	_, err := h.Exec(`INSERT INTO questions (id, question_id, text, topic, created_at, updated_at)
		VALUES ($1,$2,$3,$4,0,0)`, "id-"+questionID, questionID, "text of "+questionID, topic)
	if err != nil {
		tb.Fatalf("seed question %s: %v", questionID, err)
	}
}
