package store

import (
	"context"
	"fmt"
	"os"
	"sort"
)

// requiredTables are the tables migrations must have created for the
// store to be usable.
var requiredTables = []string{"quizzes", "questions", "submissions", "jobs", "reports"}

// Health is a detailed diagnostic snapshot of the evaluation database.
type Health struct {
	DBPath            string
	DatabaseExists    bool
	DatabaseReadable  bool
	MigrationsApplied int
	TablesPresent     []string
	MissingTables     []string
	IntegrityCheck    string
	Quizzes           int64
	Submissions       int64
	Jobs              int64
	Error             string
}

// CheckHealth inspects the database file, schema, and row counts. It
// fills as much of the snapshot as it can before the first failure so
// operators see partial diagnostics even when the store is broken.
func (s *Store) CheckHealth(ctx context.Context) (Health, error) {
	health := Health{}
	if s == nil || s.db == nil {
		health.Error = "store is not open"
		return health, fmt.Errorf("store is not open")
	}
	health.DBPath = s.path

	if info, err := os.Stat(s.path); err == nil && !info.IsDir() {
		health.DatabaseExists = true
	}

	if err := s.db.PingContext(ctx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping database: %w", err)
	}
	health.DatabaseReadable = true

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations").Scan(&health.MigrationsApplied); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count migrations: %w", err)
	}

	present, err := s.tableNames(ctx)
	if err != nil {
		health.Error = err.Error()
		return health, err
	}
	for _, table := range requiredTables {
		if _, ok := present[table]; ok {
			health.TablesPresent = append(health.TablesPresent, table)
		} else {
			health.MissingTables = append(health.MissingTables, table)
		}
	}
	sort.Strings(health.TablesPresent)
	sort.Strings(health.MissingTables)

	if err := s.db.QueryRowContext(ctx,
		"PRAGMA integrity_check").Scan(&health.IntegrityCheck); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}

	counts := []struct {
		table string
		dest  *int64
	}{
		{"quizzes", &health.Quizzes},
		{"submissions", &health.Submissions},
		{"jobs", &health.Jobs},
	}
	for _, c := range counts {
		if _, ok := present[c.table]; !ok {
			continue
		}
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM "+c.table).Scan(c.dest); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count %s: %w", c.table, err)
		}
	}

	if len(health.MissingTables) > 0 {
		err := fmt.Errorf("missing tables: %v", health.MissingTables)
		health.Error = err.Error()
		return health, err
	}
	if health.IntegrityCheck != "ok" {
		err := fmt.Errorf("integrity check reported %q", health.IntegrityCheck)
		health.Error = err.Error()
		return health, err
	}
	return health, nil
}

func (s *Store) tableNames(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table'")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	names := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return names, nil
}
