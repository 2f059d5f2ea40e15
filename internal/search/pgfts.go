package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
// The fts columns use the 'simple' configuration; dictionary words and
// codes are single tokens that stemmers would only mangle.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across phrases and issues using
// plainto_tsquery and ts_rank. Phrases additionally match on a code
// prefix, so typing the first letters of a code finds its entries.
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

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultPhrase {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'phrase'::text AS type, p.id, p.word AS title,
				p.code AS snippet,
				p.code, p.status,
				ts_rank(p.fts, %s) AS rank
			FROM phrases p
			WHERE p.fts @@ %s OR p.code LIKE $1 || '%%'`, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultIssue {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'issue'::text AS type, i.id, i.title,
				ts_headline('simple', coalesce(i.body, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS code, i.status,
				ts_rank(i.fts, %s) AS rank
			FROM issues i
			WHERE i.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, code, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

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
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.Code, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PhraseRecord, []IssueRecord, error) {
	phraseRows, err := p.db.QueryContext(ctx, `
		SELECT id, word, code, type, weight, status
		FROM phrases
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load phrases: %w", err)
	}
	defer phraseRows.Close()

	phrases := make([]PhraseRecord, 0)
	for phraseRows.Next() {
		var r PhraseRecord
		if err := phraseRows.Scan(&r.ID, &r.Word, &r.Code, &r.Type, &r.Weight, &r.Status); err != nil {
			return nil, nil, fmt.Errorf("scan phrase: %w", err)
		}
		phrases = append(phrases, r)
	}
	if err := phraseRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate phrases: %w", err)
	}

	issueRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, body, status
		FROM issues
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load issues: %w", err)
	}
	defer issueRows.Close()

	issues := make([]IssueRecord, 0)
	for issueRows.Next() {
		var r IssueRecord
		if err := issueRows.Scan(&r.ID, &r.Title, &r.Body, &r.Status); err != nil {
			return nil, nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, r)
	}
	if err := issueRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate issues: %w", err)
	}

	return phrases, issues, nil
}
