package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyperjump/kakunin/internal/models"
)

const promptUpsertSuffix = `ON CONFLICT (template_id, version) DO UPDATE SET
	status = excluded.status, promoted_at = excluded.promoted_at, retired_at = excluded.retired_at`

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// SavePromptVersions inserts new versions and updates the status of existing
// ones in a single transaction.
func (s *SQLiteStorage) SavePromptVersions(ctx context.Context, versions ...models.PromptVersion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, v := range versions {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO prompt_versions (template_id, version, body, status, created_at, promoted_at, retired_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?) `+promptUpsertSuffix,
			v.TemplateID, v.Version, v.Body, string(v.Status), v.CreatedAt.UTC(),
			nullableTime(v.PromotedAt), nullableTime(v.RetiredAt))
		if err != nil {
			return fmt.Errorf("failed to store prompt %s: %w", v.Ref(), err)
		}
	}
	return tx.Commit()
}

// ListPromptVersions returns every stored version ordered by template and version.
func (s *SQLiteStorage) ListPromptVersions(ctx context.Context) ([]models.PromptVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT template_id, version, body, status, created_at, promoted_at, retired_at
		 FROM prompt_versions ORDER BY template_id, version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.PromptVersion
	for rows.Next() {
		var v models.PromptVersion
		var status string
		var promoted, retired sql.NullTime
		if err := rows.Scan(&v.TemplateID, &v.Version, &v.Body, &status, &v.CreatedAt, &promoted, &retired); err != nil {
			return nil, err
		}
		v.Status = models.PromptStatus(status)
		if promoted.Valid {
			v.PromotedAt = &promoted.Time
		}
		if retired.Valid {
			v.RetiredAt = &retired.Time
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SavePromptVersions inserts new versions and updates the status of existing
// ones in a single transaction.
func (p *PostgresStorage) SavePromptVersions(ctx context.Context, versions ...models.PromptVersion) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	for _, v := range versions {
		query, args, err := psql.Insert("prompt_versions").
			Columns("template_id", "version", "body", "status", "created_at", "promoted_at", "retired_at").
			Values(v.TemplateID, v.Version, v.Body, string(v.Status), v.CreatedAt.UTC(),
				nullableTime(v.PromotedAt), nullableTime(v.RetiredAt)).
			Suffix(promptUpsertSuffix).
			ToSql()
		if err != nil {
			return fmt.Errorf("building query: %w", err)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to store prompt %s: %w", v.Ref(), err)
		}
	}
	return tx.Commit(ctx)
}

// ListPromptVersions returns every stored version ordered by template and version.
func (p *PostgresStorage) ListPromptVersions(ctx context.Context) ([]models.PromptVersion, error) {
	query, args, err := psql.Select("template_id", "version", "body", "status", "created_at", "promoted_at", "retired_at").
		From("prompt_versions").OrderBy("template_id", "version").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.PromptVersion
	for rows.Next() {
		var v models.PromptVersion
		var status string
		if err := rows.Scan(&v.TemplateID, &v.Version, &v.Body, &status, &v.CreatedAt, &v.PromotedAt, &v.RetiredAt); err != nil {
			return nil, err
		}
		v.Status = models.PromptStatus(status)
		out = append(out, v)
	}
	return out, rows.Err()
}
