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

// Healthy always returns true, if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across reports and projects using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
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
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Reports sub-query
	if q.FilterType == "" || q.FilterType == ResultReport {
		repWhere := "r.fts @@ " + tsQuery
		if q.FilterCategory != "" {
			repWhere += fmt.Sprintf(" AND r.category = $%d", argN)
			args = append(args, q.FilterCategory)
			argN++
		}
		if q.FilterStatus != "" {
			repWhere += fmt.Sprintf(" AND r.status = $%d", argN)
			args = append(args, q.FilterStatus)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'report'::text AS type, r.id, r.title,
				ts_headline('english', coalesce(r.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				r.category, r.status,
				coalesce(r.project_id, '') AS project_id,
				ts_rank(r.fts, %s) AS rank
			FROM reports r
			WHERE %s`, tsQuery, tsQuery, repWhere))
	}

	// Projects sub-query
	if q.FilterType == "" || q.FilterType == ResultProject {
		projWhere := "p.fts @@ " + tsQuery
		if q.FilterStatus != "" {
			projWhere += fmt.Sprintf(" AND p.status = $%d", argN)
			args = append(args, q.FilterStatus)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'project'::text AS type, p.id, p.name AS title,
				ts_headline('english', coalesce(p.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS category, p.status,
				''::text AS project_id,
				ts_rank(p.fts, %s) AS rank
			FROM projects p
			WHERE %s`, tsQuery, tsQuery, projWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	// Count query
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	// Data query
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, category, status, project_id
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
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.Category, &r.Status, &r.ProjectID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ReportRecord, []ProjectRecord, error) {
	reportRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, coalesce(address, ''), category, status, coalesce(project_id, '')
		FROM reports
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load reports: %w", err)
	}
	defer reportRows.Close()

	reports := make([]ReportRecord, 0)
	for reportRows.Next() {
		var r ReportRecord
		if err := reportRows.Scan(&r.ID, &r.Title, &r.Description, &r.Address, &r.Category, &r.Status, &r.ProjectID); err != nil {
			return nil, nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	if err := reportRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate reports: %w", err)
	}

	projectRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, description, coalesce(area, ''), status
		FROM projects
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load projects: %w", err)
	}
	defer projectRows.Close()

	projects := make([]ProjectRecord, 0)
	for projectRows.Next() {
		var pr ProjectRecord
		if err := projectRows.Scan(&pr.ID, &pr.Name, &pr.Description, &pr.Area, &pr.Status); err != nil {
			return nil, nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, pr)
	}
	if err := projectRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate projects: %w", err)
	}

	return reports, projects, nil
}
