package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ebanchero/pupila/internal/config"
)

// Profile is a named, persisted set of pipeline tuning values.
type Profile struct {
	ID        string
	Name      string
	Settings  config.Settings
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProfileRepository provides CRUD operations for profiles.
type ProfileRepository struct {
	db *sql.DB
}

// Profiles returns the profile repository for this store.
func (s *Store) Profiles() *ProfileRepository {
	return &ProfileRepository{db: s.db}
}

// Create inserts a new profile into the database.
func (r *ProfileRepository) Create(p *Profile) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	roiRight, roiLeft, err := encodeROIs(p.Settings)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(
		`INSERT INTO profiles (id, name, threshold_right, threshold_left,
		 erode_right, erode_left, nose_width_ratio, eye_height_ratio,
		 brightness, contrast, use_model, roi_right, roi_left,
		 created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name,
		p.Settings.Threshold[config.EyeRight], p.Settings.Threshold[config.EyeLeft],
		p.Settings.Erode[config.EyeRight], p.Settings.Erode[config.EyeLeft],
		p.Settings.NoseWidthRatio, p.Settings.EyeHeightRatio,
		p.Settings.Brightness, p.Settings.Contrast, p.Settings.UseModel,
		roiRight, roiLeft, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

// GetByID retrieves a profile by its ID.
func (r *ProfileRepository) GetByID(id string) (*Profile, error) {
	return r.getOne(`WHERE id = ?`, id)
}

// GetByName retrieves a profile by its name.
func (r *ProfileRepository) GetByName(name string) (*Profile, error) {
	return r.getOne(`WHERE name = ?`, name)
}

func (r *ProfileRepository) getOne(where string, arg any) (*Profile, error) {
	row := r.db.QueryRow(
		`SELECT id, name, threshold_right, threshold_left, erode_right,
		 erode_left, nose_width_ratio, eye_height_ratio, brightness,
		 contrast, use_model, roi_right, roi_left, created_at, updated_at
		 FROM profiles `+where, arg,
	)

	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// List retrieves all profiles, most recently updated first.
func (r *ProfileRepository) List() ([]*Profile, error) {
	rows, err := r.db.Query(
		`SELECT id, name, threshold_right, threshold_left, erode_right,
		 erode_left, nose_width_ratio, eye_height_ratio, brightness,
		 contrast, use_model, roi_right, roi_left, created_at, updated_at
		 FROM profiles ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return profiles, nil
}

// Update updates an existing profile in the database.
func (r *ProfileRepository) Update(p *Profile) error {
	p.UpdatedAt = time.Now()

	roiRight, roiLeft, err := encodeROIs(p.Settings)
	if err != nil {
		return err
	}

	result, err := r.db.Exec(
		`UPDATE profiles SET name = ?, threshold_right = ?, threshold_left = ?,
		 erode_right = ?, erode_left = ?, nose_width_ratio = ?,
		 eye_height_ratio = ?, brightness = ?, contrast = ?, use_model = ?,
		 roi_right = ?, roi_left = ?, updated_at = ?
		 WHERE id = ?`,
		p.Name,
		p.Settings.Threshold[config.EyeRight], p.Settings.Threshold[config.EyeLeft],
		p.Settings.Erode[config.EyeRight], p.Settings.Erode[config.EyeLeft],
		p.Settings.NoseWidthRatio, p.Settings.EyeHeightRatio,
		p.Settings.Brightness, p.Settings.Contrast, p.Settings.UseModel,
		roiRight, roiLeft, p.UpdatedAt, p.ID,
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

// Delete removes a profile from the database by its ID.
func (r *ProfileRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM profiles WHERE id = ?`, id)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	p := &Profile{}
	var roiRight, roiLeft string

	err := row.Scan(
		&p.ID, &p.Name,
		&p.Settings.Threshold[config.EyeRight], &p.Settings.Threshold[config.EyeLeft],
		&p.Settings.Erode[config.EyeRight], &p.Settings.Erode[config.EyeLeft],
		&p.Settings.NoseWidthRatio, &p.Settings.EyeHeightRatio,
		&p.Settings.Brightness, &p.Settings.Contrast, &p.Settings.UseModel,
		&roiRight, &roiLeft, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := decodeROI(roiRight, &p.Settings.FixedROI[config.EyeRight]); err != nil {
		return nil, fmt.Errorf("profile %s: %w", p.ID, err)
	}
	if err := decodeROI(roiLeft, &p.Settings.FixedROI[config.EyeLeft]); err != nil {
		return nil, fmt.Errorf("profile %s: %w", p.ID, err)
	}
	return p, nil
}

// The fixed ROIs are stored as JSON [x1,y1,x2,y2] arrays.
func encodeROIs(s config.Settings) (right, left string, err error) {
	rb, err := json.Marshal(roiSlice(s.FixedROI[config.EyeRight]))
	if err != nil {
		return "", "", err
	}
	lb, err := json.Marshal(roiSlice(s.FixedROI[config.EyeLeft]))
	if err != nil {
		return "", "", err
	}
	return string(rb), string(lb), nil
}

func decodeROI(raw string, dst *config.ROI) error {
	var v [4]int
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return fmt.Errorf("decode roi: %w", err)
	}
	*dst = config.ROI{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}
	return nil
}

func roiSlice(r config.ROI) [4]int {
	return [4]int{r.X1, r.Y1, r.X2, r.Y2}
}
