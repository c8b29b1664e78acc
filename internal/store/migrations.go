package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Profiles table - a named set of pipeline tuning values.
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			threshold_right INTEGER NOT NULL DEFAULT 0,
			threshold_left INTEGER NOT NULL DEFAULT 0,
			erode_right INTEGER NOT NULL DEFAULT 0,
			erode_left INTEGER NOT NULL DEFAULT 0,
			nose_width_ratio REAL NOT NULL DEFAULT 0.25,
			eye_height_ratio REAL NOT NULL DEFAULT 0.40,
			brightness INTEGER NOT NULL DEFAULT 0,
			contrast INTEGER NOT NULL DEFAULT 50,
			use_model INTEGER NOT NULL DEFAULT 1,
			roi_right TEXT NOT NULL DEFAULT '[0,0,0,0]',
			roi_left TEXT NOT NULL DEFAULT '[0,0,0,0]',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Sessions table - one row per acquisition run.
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			profile_id TEXT REFERENCES profiles(id) ON DELETE SET NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			fps INTEGER NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME
		)`,

		`CREATE INDEX IF NOT EXISTS idx_sessions_profile_id ON sessions(profile_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
