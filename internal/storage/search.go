package storage

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// Field weights of the lexical ranking.
var mirrorWeights = []struct {
	column string
	weight float64
}{
	{"full_name", 3},
	{"topics", 2},
	{"summary", 1.5},
	{"description", 1},
}

// mirrorTerms lowercases and deduplicates the whitespace separated terms
// of a query.
func mirrorTerms(query string) []string {
	seen := make(map[string]bool)

	var terms []string

	for _, t := range strings.Fields(strings.ToLower(query)) {
		if !seen[t] {
			seen[t] = true

			terms = append(terms, t)
		}
	}

	return terms
}

// SearchMirror ranks mirror rows by weighted term occurrence across the
// full name, topics, summary and description. Rows matching no term are
// excluded; ties are broken by repository id.
func (r *DuckDBRepository) SearchMirror(ctx context.Context, query string, limit int) ([]MirrorHit, error) {
	terms := mirrorTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	if limit <= 0 {
		limit = 10
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var (
		parts []string
		args  []interface{}
	)

	for _, term := range terms {
		for _, w := range mirrorWeights {
			parts = append(parts,
				"CASE WHEN contains(lower(coalesce("+w.column+", '')), ?) THEN "+strconv.FormatFloat(w.weight, 'f', 1, 64)+"::DOUBLE ELSE 0::DOUBLE END")
			args = append(args, term)
		}
	}

	sqlQuery := `
		SELECT repo_id, full_name, description, topics, summary, score FROM (
			SELECT repo_id, full_name, description, topics, summary,
				CAST((` + strings.Join(parts, " + ") + `) AS DOUBLE) AS score
			FROM repo_fts
		) ranked
		WHERE score > 0
		ORDER BY score DESC, repo_id
		LIMIT ?`

	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, storageErr(err, "failed to search mirror")
	}
	defer rows.Close()

	var hits []MirrorHit

	for rows.Next() {
		var (
			hit                          MirrorHit
			description, topics, summary sql.NullString
		)

		if err := rows.Scan(&hit.RepoID, &hit.FullName, &description, &topics, &summary, &hit.Score); err != nil {
			return nil, storageErr(err, "failed to scan search hit")
		}

		hit.Description = description.String
		hit.Topics = topics.String

		if summary.Valid {
			s := summary.String
			hit.Summary = &s
		}

		hits = append(hits, hit)
	}

	return hits, rows.Err()
}
