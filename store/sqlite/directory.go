package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/appraisal-engine/performance"
)

// =============================================================================
// DIRECTORY (performance.DirectoryStore interface)
// =============================================================================

func (s *Store) GetUser(ctx context.Context, id performance.UserID) (*performance.User, error) {
	return read(s, func(c conn) (*performance.User, error) { return c.GetUser(ctx, id) })
}

func (s *Store) SaveUser(ctx context.Context, u performance.User) error {
	return exec(s, func(c conn) error { return c.SaveUser(ctx, u) })
}

func (s *Store) ListUsers(ctx context.Context, managerID *performance.UserID) ([]performance.User, error) {
	return read(s, func(c conn) ([]performance.User, error) { return c.ListUsers(ctx, managerID) })
}

func (s *Store) GetEntity(ctx context.Context, id performance.EntityID) (*performance.Entity, error) {
	return read(s, func(c conn) (*performance.Entity, error) { return c.GetEntity(ctx, id) })
}

func (s *Store) SaveEntity(ctx context.Context, e performance.Entity) error {
	return exec(s, func(c conn) error { return c.SaveEntity(ctx, e) })
}

func (s *Store) ListMappings(ctx context.Context, userID performance.UserID, activeOnly bool) ([]performance.UserEntityMapping, error) {
	return read(s, func(c conn) ([]performance.UserEntityMapping, error) { return c.ListMappings(ctx, userID, activeOnly) })
}

func (s *Store) SaveMapping(ctx context.Context, m performance.UserEntityMapping) error {
	return exec(s, func(c conn) error { return c.SaveMapping(ctx, m) })
}

func (c conn) GetUser(ctx context.Context, id performance.UserID) (*performance.User, error) {
	u, err := scanUser(c.q.QueryRowContext(ctx,
		"SELECT id, name, email, manager_id, created_at FROM users WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (c conn) SaveUser(ctx context.Context, u performance.User) error {
	var managerID sql.NullString
	if u.ManagerID != nil {
		managerID = nullString(string(*u.ManagerID))
	}
	query := `
		INSERT INTO users (id, name, email, manager_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			manager_id = excluded.manager_id
	`
	_, err := c.q.ExecContext(ctx, query, u.ID, u.Name, nullString(u.Email), managerID, formatTime(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (c conn) ListUsers(ctx context.Context, managerID *performance.UserID) ([]performance.User, error) {
	query := "SELECT id, name, email, manager_id, created_at FROM users"
	var args []any
	if managerID != nil {
		query += " WHERE manager_id = ?"
		args = append(args, *managerID)
	}
	query += " ORDER BY id"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []performance.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUser(sc scanner) (performance.User, error) {
	var (
		u                performance.User
		email, managerID sql.NullString
		createdAt        string
	)
	err := sc.Scan(&u.ID, &u.Name, &email, &managerID, &createdAt)
	if err == sql.ErrNoRows {
		return u, err
	}
	if err != nil {
		return u, fmt.Errorf("failed to scan user: %w", err)
	}
	u.Email = email.String
	if managerID.Valid && managerID.String != "" {
		m := performance.UserID(managerID.String)
		u.ManagerID = &m
	}
	u.CreatedAt = parseTime(createdAt)
	return u, nil
}

func (c conn) GetEntity(ctx context.Context, id performance.EntityID) (*performance.Entity, error) {
	var (
		e         performance.Entity
		createdAt string
	)
	err := c.q.QueryRowContext(ctx,
		"SELECT id, name, type, created_at FROM entities WHERE id = ?", id,
	).Scan(&e.ID, &e.Name, &e.Type, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}

func (c conn) SaveEntity(ctx context.Context, e performance.Entity) error {
	query := `
		INSERT INTO entities (id, name, type, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type
	`
	_, err := c.q.ExecContext(ctx, query, e.ID, e.Name, e.Type, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save entity: %w", err)
	}
	return nil
}

func (c conn) ListMappings(ctx context.Context, userID performance.UserID, activeOnly bool) ([]performance.UserEntityMapping, error) {
	query := `
		SELECT user_id, entity_id, expected_projects, expected_units, active
		FROM user_entity_mappings
		WHERE user_id = ?
	`
	if activeOnly {
		query += " AND active = TRUE"
	}
	query += " ORDER BY entity_id"

	rows, err := c.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer rows.Close()

	var out []performance.UserEntityMapping
	for rows.Next() {
		var m performance.UserEntityMapping
		if err := rows.Scan(&m.UserID, &m.EntityID, &m.ExpectedProjects, &m.ExpectedUnits, &m.Active); err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (c conn) SaveMapping(ctx context.Context, m performance.UserEntityMapping) error {
	query := `
		INSERT INTO user_entity_mappings (user_id, entity_id, expected_projects, expected_units, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, entity_id) DO UPDATE SET
			expected_projects = excluded.expected_projects,
			expected_units = excluded.expected_units,
			active = excluded.active
	`
	_, err := c.q.ExecContext(ctx, query, m.UserID, m.EntityID, m.ExpectedProjects, m.ExpectedUnits, m.Active)
	if err != nil {
		return fmt.Errorf("failed to save mapping: %w", err)
	}
	return nil
}
