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

// NewPgFTS creates a PostgreSQL FTS searcher over the scraps table.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a ranked tsquery over the generated fts column, with
// ts_headline snippets. Visibility is enforced in the WHERE clause.
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

	const tsQuery = "plainto_tsquery('english', $1)"
	args := []any{q.Text}

	where := "s.fts @@ " + tsQuery
	switch {
	case q.OwnedOnly && q.ViewerID != "":
		where += " AND s.user_id = $2"
		args = append(args, q.ViewerID)
	case q.ViewerID != "":
		where += " AND (s.visible OR s.user_id = $2)"
		args = append(args, q.ViewerID)
	default:
		where += " AND s.visible"
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM scraps s WHERE %s", where)
	dataSQL := fmt.Sprintf(`
		SELECT s.id, s.code,
			ts_headline('english', coalesce(s.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			s.user_id, s.visible
		FROM scraps s
		WHERE %s
		ORDER BY ts_rank(s.fts, %s) DESC
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
		if err := rows.Scan(&r.ID, &r.Code, &r.Snippet, &r.UserID, &r.Visible); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every scrap for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ScrapRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, code, content, user_id, visible
		FROM scraps
	`)
	if err != nil {
		return nil, fmt.Errorf("load scraps: %w", err)
	}
	defer rows.Close()

	records := make([]ScrapRecord, 0)
	for rows.Next() {
		var r ScrapRecord
		if err := rows.Scan(&r.ID, &r.Code, &r.Content, &r.UserID, &r.Visible); err != nil {
			return nil, fmt.Errorf("scan scrap: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scraps: %w", err)
	}

	return records, nil
}
