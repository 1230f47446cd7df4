package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search queries behavior_entries using plainto_tsquery and ts_rank, with
// ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text, q.ParentID}
	argN := 3

	where := "e.fts @@ " + tsQuery + " AND e.parent_id = $2"
	if q.FilterChildID != "" {
		where += fmt.Sprintf(" AND e.child_id = $%d", argN)
		args = append(args, q.FilterChildID)
		argN++
	}
	if q.FilterEmotion != "" {
		where += fmt.Sprintf(" AND e.emotion = $%d", argN)
		args = append(args, q.FilterEmotion)
		argN++
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM behavior_entries e WHERE %s", where)

	dataSQL := fmt.Sprintf(`
		SELECT e.id, e.child_id, e.emotion, to_char(e.entry_date, 'YYYY-MM-DD'),
			ts_headline('english', e.trigger || ' ' || e.resolution, %s, 'MaxFragments=1,MaxWords=30') AS snippet
		FROM behavior_entries e
		WHERE %s
		ORDER BY ts_rank(e.fts, %s) DESC, e.entry_date DESC
		LIMIT %d OFFSET %d`, tsQuery, where, tsQuery, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.ChildID, &r.Emotion, &r.Date, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all behavior entries for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]EntryRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, child_id, parent_id, emotion, trigger, resolution,
			to_char(entry_date, 'YYYY-MM-DD')
		FROM behavior_entries
	`)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	defer rows.Close()

	entries := make([]EntryRecord, 0)
	for rows.Next() {
		var e EntryRecord
		if err := rows.Scan(&e.ID, &e.ChildID, &e.ParentID, &e.Emotion, &e.Trigger, &e.Resolution, &e.Date); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}

	return entries, nil
}
