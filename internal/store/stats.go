package store

import (
	"context"
	"os"
	"sort"
)

// Stats holds database statistics.
type Stats struct {
	Backend      string       `json:"backend"`
	DBPath       string       `json:"db_path"`
	DBSizeBytes  int64        `json:"db_size_bytes"`
	TotalRecords int          `json:"total_records"`
	TotalTokens  int          `json:"total_tokens"`
	Scopes       []ScopeStats `json:"scopes"`
}

// ScopeStats holds per-scope counts.
type ScopeStats struct {
	Scope          string `json:"scope"`
	Records        int    `json:"records"`
	Tokens         int    `json:"tokens"`
	TotalFrequency int    `json:"total_frequency"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Backend: BackendSQLite}

	var path string
	var seq int
	var name string
	if err := s.db.QueryRowContext(ctx, `PRAGMA database_list`).Scan(&seq, &name, &path); err == nil {
		st.DBPath = path
		if info, err := os.Stat(path); err == nil {
			st.DBSizeBytes = info.Size()
		}
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sequences`).Scan(&st.TotalRecords)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tokens`).Scan(&st.TotalTokens)

	scopes := map[string]*ScopeStats{}
	get := func(scope string) *ScopeStats {
		if ss, ok := scopes[scope]; ok {
			return ss
		}
		ss := &ScopeStats{Scope: scope}
		scopes[scope] = ss
		return ss
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT scope, COUNT(*), COALESCE(SUM(frequency), 0)
		FROM sequences GROUP BY scope`)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var scope string
		var records, freq int
		rows.Scan(&scope, &records, &freq)
		ss := get(scope)
		ss.Records = records
		ss.TotalFrequency = freq
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT scope, COUNT(*) FROM tokens GROUP BY scope`)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var scope string
		var tokens int
		rows.Scan(&scope, &tokens)
		get(scope).Tokens = tokens
	}
	rows.Close()

	st.Scopes = sortedScopes(scopes)
	return st, nil
}

func sortedScopes(m map[string]*ScopeStats) []ScopeStats {
	out := make([]ScopeStats, 0, len(m))
	for _, ss := range m {
		out = append(out, *ss)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Scope < out[j].Scope
	})
	return out
}
