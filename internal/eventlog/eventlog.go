// Package eventlog is an append-only audit trail of rubric and evaluation changes.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types.
const (
	RubricGenerated    = "RubricGenerated"
	RubricCreated      = "RubricCreated"
	RubricActivated    = "RubricActivated"
	EvaluationCreated  = "EvaluationCreated"
	EvaluationReviewed = "EvaluationReviewed"
)

const defaultSiteID = "local"

type Event struct {
	Seq       int64           `json:"seq"`
	SiteID    string          `json:"site_id"`
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

type Repo struct {
	db     *sql.DB
	siteID string
	now    func() time.Time
}

func NewRepo(db *sql.DB, siteID string) *Repo {
	if siteID == "" {
		siteID = defaultSiteID
	}
	return &Repo{db: db, siteID: siteID, now: time.Now}
}

func (r *Repo) Append(ctx context.Context, e Event) error {
	if e.SiteID == "" {
		e.SiteID = r.siteID
	}
	if len(e.Data) == 0 {
		e.Data = json.RawMessage("{}")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_log (site_id, typ, event_key, data, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		e.SiteID, e.Type, e.Key, string(e.Data), r.now().UnixMicro())
	return err
}

// Record marshals data and appends it under typ/key.
func (r *Repo) Record(ctx context.Context, typ, key string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", typ, err)
	}
	return r.Append(ctx, Event{Type: typ, Key: key, Data: b})
}

// Since returns events with seq greater than after, oldest first.
func (r *Repo) Since(ctx context.Context, after int64, limit int) ([]Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, site_id, typ, event_key, data, created_at
		   FROM event_log WHERE seq > $1 ORDER BY seq LIMIT $2`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Event{}
	for rows.Next() {
		var (
			e       Event
			data    string
			created int64
		)
		if err := rows.Scan(&e.Seq, &e.SiteID, &e.Type, &e.Key, &data, &created); err != nil {
			return nil, err
		}
		e.Data = json.RawMessage(data)
		e.CreatedAt = time.UnixMicro(created).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
