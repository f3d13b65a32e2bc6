package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SetPromptOverride replaces the baked-in default body for a prompt key.
func (s *Store) SetPromptOverride(ctx context.Context, o *PromptOverride) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prompt_overrides (prompt_key, body, temperature, max_tokens, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(prompt_key) DO UPDATE SET
			body = excluded.body, temperature = excluded.temperature,
			max_tokens = excluded.max_tokens, updated_at = excluded.updated_at
	`, o.PromptKey, o.Body, nullFloat64(o.Temperature), nullIntPtr(o.MaxTokens))
	if err != nil {
		return fmt.Errorf("setting prompt override: %w", err)
	}
	return nil
}

func nullFloat64(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// GetPromptOverride fetches an override for a prompt key, if one exists.
func (s *Store) GetPromptOverride(ctx context.Context, key string) (*PromptOverride, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT prompt_key, body, temperature, max_tokens, updated_at FROM prompt_overrides WHERE prompt_key = ?", key)

	var o PromptOverride
	var temperature sql.NullFloat64
	var maxTokens sql.NullInt64
	err := row.Scan(&o.PromptKey, &o.Body, &temperature, &maxTokens, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning prompt override: %w", err)
	}
	if temperature.Valid {
		o.Temperature = &temperature.Float64
	}
	if maxTokens.Valid {
		v := int(maxTokens.Int64)
		o.MaxTokens = &v
	}
	return &o, nil
}

// ResetPromptOverride removes an override, restoring the baked-in default.
func (s *Store) ResetPromptOverride(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM prompt_overrides WHERE prompt_key = ?", key)
	if err != nil {
		return fmt.Errorf("resetting prompt override: %w", err)
	}
	return nil
}

// ListPromptOverrides returns all stored overrides.
func (s *Store) ListPromptOverrides(ctx context.Context) ([]PromptOverride, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT prompt_key, body, temperature, max_tokens, updated_at FROM prompt_overrides")
	if err != nil {
		return nil, fmt.Errorf("listing prompt overrides: %w", err)
	}
	defer rows.Close()

	var out []PromptOverride
	for rows.Next() {
		var o PromptOverride
		var temperature sql.NullFloat64
		var maxTokens sql.NullInt64
		if err := rows.Scan(&o.PromptKey, &o.Body, &temperature, &maxTokens, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning prompt override: %w", err)
		}
		if temperature.Valid {
			o.Temperature = &temperature.Float64
		}
		if maxTokens.Valid {
			v := int(maxTokens.Int64)
			o.MaxTokens = &v
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetAppSetting reads a single app setting value.
func (s *Store) GetAppSetting(ctx context.Context, key string) (string, error) {
	var value string
	row := s.db.QueryRowContext(ctx, "SELECT value FROM app_settings WHERE key = ?", key)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("reading app setting: %w", err)
	}
	return value, nil
}

// SetAppSetting writes (or overwrites) an app setting.
func (s *Store) SetAppSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("writing app setting: %w", err)
	}
	return nil
}
