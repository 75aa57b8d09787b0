package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Alerts table - one row per service request raised by the pipeline.
		// created_at holds Unix nanoseconds so range deletes compare numerically.
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			track_id INTEGER NOT NULL,
			table_id INTEGER NOT NULL,
			type TEXT NOT NULL,
			confidence REAL NOT NULL,
			created_at INTEGER NOT NULL,
			delivered INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		)`,

		// Zones table - floor polygon per table, stored as [[x,y],...] JSON
		`CREATE TABLE IF NOT EXISTS zones (
			table_id INTEGER PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			polygon TEXT NOT NULL
		)`,

		// Settings table - stores application settings as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_table_id ON alerts(table_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
