package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"formsync/internal/models"
)

// Upserts key on the natural key of each record so migration steps are
// safely re-runnable after a crash.

func (s *Store) UpsertUser(ctx context.Context, tx *sql.Tx, u *models.User) error {
	now := time.Now()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO users (email, full_name, phone, role, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(email) DO UPDATE SET
            full_name = excluded.full_name,
            phone = excluded.phone,
            role = excluded.role,
            updated_at = excluded.updated_at`,
		u.Email, u.FullName, u.Phone, u.Role, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", u.Email, err)
	}
	return nil
}

func (s *Store) UpsertFormation(ctx context.Context, tx *sql.Tx, f *models.Formation) error {
	now := time.Now()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO formations (code, title, description, workload_hours, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(code) DO UPDATE SET
            title = excluded.title,
            description = excluded.description,
            workload_hours = excluded.workload_hours,
            updated_at = excluded.updated_at`,
		f.Code, f.Title, f.Description, f.WorkloadHours, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert formation %s: %w", f.Code, err)
	}
	return nil
}

func (s *Store) UpsertEvent(ctx context.Context, tx *sql.Tx, e *models.Event) error {
	now := time.Now()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO events (code, formation_code, title, description, location, starts_at, ends_at, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(code) DO UPDATE SET
            formation_code = excluded.formation_code,
            title = excluded.title,
            description = excluded.description,
            location = excluded.location,
            starts_at = excluded.starts_at,
            ends_at = excluded.ends_at,
            status = excluded.status,
            updated_at = excluded.updated_at`,
		e.Code, e.FormationCode, e.Title, e.Description, e.Location,
		e.StartsAt, e.EndsAt, e.Status, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert event %s: %w", e.Code, err)
	}
	return nil
}

// ListApprovedEvents returns events eligible for calendar sync, in start
// order.
func (s *Store) ListApprovedEvents(ctx context.Context) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, formation_code, title, description, location, starts_at, ends_at, status, created_at, updated_at
         FROM events WHERE status = ? ORDER BY starts_at ASC`, models.EventApproved)
	if err != nil {
		return nil, fmt.Errorf("failed to list approved events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		var description, location sql.NullString
		if err := rows.Scan(&e.ID, &e.Code, &e.FormationCode, &e.Title, &description,
			&location, &e.StartsAt, &e.EndsAt, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Description = description.String
		e.Location = location.String
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Store) GetEvent(ctx context.Context, id int64) (*models.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, code, formation_code, title, description, location, starts_at, ends_at, status, created_at, updated_at
         FROM events WHERE id = ?`, id)
	var e models.Event
	var description, location sql.NullString
	err := row.Scan(&e.ID, &e.Code, &e.FormationCode, &e.Title, &description,
		&location, &e.StartsAt, &e.EndsAt, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	e.Description = description.String
	e.Location = location.String
	return &e, nil
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	return s.countTable(ctx, "users")
}

func (s *Store) CountFormations(ctx context.Context) (int, error) {
	return s.countTable(ctx, "formations")
}

func (s *Store) CountEvents(ctx context.Context) (int, error) {
	return s.countTable(ctx, "events")
}

func (s *Store) CountApprovedEvents(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE status = ?`, models.EventApproved).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count approved events: %w", err)
	}
	return n, nil
}

// CountOrphanEvents counts events whose formation_code has no formations
// row, a referential check used by validate_migration.
func (s *Store) CountOrphanEvents(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events e
         LEFT JOIN formations f ON f.code = e.formation_code
         WHERE f.code IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count orphan events: %w", err)
	}
	return n, nil
}

func (s *Store) countTable(ctx context.Context, table string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}
