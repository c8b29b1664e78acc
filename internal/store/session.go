package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Session records one acquisition run: when the pipeline started and
// stopped, at what geometry, and under which tuning profile.
type Session struct {
	ID        string
	ProfileID string // empty when no stored profile was in use
	Width     int
	Height    int
	FPS       int
	StartedAt time.Time
	EndedAt   time.Time // zero while the session is open
}

// SessionRepository provides operations for acquisition sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Begin inserts a new open session and returns it.
func (r *SessionRepository) Begin(profileID string, width, height, fps int) (*Session, error) {
	s := &Session{
		ID:        uuid.NewString(),
		ProfileID: profileID,
		Width:     width,
		Height:    height,
		FPS:       fps,
		StartedAt: time.Now(),
	}

	var pid any
	if profileID != "" {
		pid = profileID
	}
	_, err := r.db.Exec(
		`INSERT INTO sessions (id, profile_id, width, height, fps, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, pid, s.Width, s.Height, s.FPS, s.StartedAt,
	)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// End marks the session as finished.
func (r *SessionRepository) End(id string) error {
	result, err := r.db.Exec(
		`UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		time.Now(), id,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	s, err := scanSession(r.db.QueryRow(
		`SELECT id, profile_id, width, height, fps, started_at, ended_at
		 FROM sessions WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// List retrieves all sessions, newest first.
func (r *SessionRepository) List() ([]*Session, error) {
	rows, err := r.db.Query(
		`SELECT id, profile_id, width, height, fps, started_at, ended_at
		 FROM sessions ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

func scanSession(row rowScanner) (*Session, error) {
	s := &Session{}
	var profileID sql.NullString
	var endedAt sql.NullTime

	err := row.Scan(&s.ID, &profileID, &s.Width, &s.Height, &s.FPS, &s.StartedAt, &endedAt)
	if err != nil {
		return nil, err
	}

	if profileID.Valid {
		s.ProfileID = profileID.String
	}
	if endedAt.Valid {
		s.EndedAt = endedAt.Time
	}
	return s, nil
}
