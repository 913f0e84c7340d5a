package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a
// fallback when Meilisearch is down or not configured.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true - if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over the generated fts column, ranking
// with ts_rank and building snippets with ts_headline. Deleted
// messages never surface.
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

	where := "m.fts @@ plainto_tsquery('english', $1) AND NOT m.deleted"
	args := []any{q.Text}
	argN := 2

	if q.FilterSenderID != "" {
		where += fmt.Sprintf(" AND m.sender_id = $%d", argN)
		args = append(args, q.FilterSenderID)
		argN++
	}
	if q.FilterKind != "" {
		where += fmt.Sprintf(" AND m.kind = $%d", argN)
		args = append(args, q.FilterKind)
		argN++
	}

	countSQL := fmt.Sprintf(`
		SELECT count(*)
		FROM messages m
		WHERE %s`, where)

	dataSQL := fmt.Sprintf(`
		SELECT m.id,
			ts_headline('english', coalesce(m.content, coalesce(m.file_name, '')), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			m.sender_id, mem.display_name, m.kind,
			EXTRACT(EPOCH FROM m.created_at)::bigint,
			ts_rank(m.fts, plainto_tsquery('english', $1)) AS rank
		FROM messages m
		JOIN members mem ON mem.id = m.sender_id
		WHERE %s
		ORDER BY rank DESC, m.created_at DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

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
		var rank float64
		if err := rows.Scan(&r.ID, &r.Snippet, &r.SenderID, &r.SenderName, &r.Kind, &r.CreatedAt, &rank); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllMessages returns every live message for full reindexing.
func (p *PgFTS) LoadAllMessages(ctx context.Context) ([]MessageRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT m.id, coalesce(m.content, ''), m.sender_id, mem.display_name, m.kind,
			coalesce(m.file_name, ''), EXTRACT(EPOCH FROM m.created_at)::bigint
		FROM messages m
		JOIN members mem ON mem.id = m.sender_id
		WHERE NOT m.deleted
	`)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	records := make([]MessageRecord, 0)
	for rows.Next() {
		var record MessageRecord
		if err := rows.Scan(
			&record.ID,
			&record.Content,
			&record.SenderID,
			&record.SenderName,
			&record.Kind,
			&record.FileName,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message records: %w", err)
	}
	return records, nil
}
