package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kakunin/internal/models"
	"github.com/hyperjump/kakunin/internal/review"
)

// SQLiteStorage keeps documents, review cases and expert feedback in SQLite.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and applies
// migrations. Parent directories are created if they do not exist.
func NewSQLiteStorage(ctx context.Context, dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serialises writers, which makes the conditional
	// updates below race free.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := migrate(ctx, db, "sqlite3", "migrations/sqlite"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStorage{db: db, path: dbPath}, nil
}

// PutDocument inserts or replaces a document, keeping the original created_at.
func (s *SQLiteStorage) PutDocument(ctx context.Context, doc *models.Document) error {
	metadata, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, content, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, content = excluded.content,
		   metadata = excluded.metadata, updated_at = excluded.updated_at`,
		doc.ID, doc.Title, doc.Content, metadata, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to store document %s: %w", doc.ID, err)
	}
	return s.db.QueryRowContext(ctx, `SELECT created_at, updated_at FROM documents WHERE id = ?`, doc.ID).
		Scan(&doc.CreatedAt, &doc.UpdatedAt)
}

// GetDocument returns a document by ID.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	var title, metadata sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, content, metadata, created_at, updated_at
		 FROM documents WHERE id = ?`, id,
	).Scan(&doc.ID, &title, &doc.Content, &metadata, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	doc.Title = title.String
	if doc.Metadata, err = unmarshalMetadata(metadata.String); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DeleteDocument removes a document by ID.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// ListDocuments returns all documents ordered by id.
func (s *SQLiteStorage) ListDocuments(ctx context.Context) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, content, metadata, created_at, updated_at FROM documents ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var doc models.Document
		var title, metadata sql.NullString
		if err := rows.Scan(&doc.ID, &title, &doc.Content, &metadata, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		doc.Title = title.String
		doc.Metadata, _ = unmarshalMetadata(metadata.String)
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// CreateCase inserts a case and its history.
func (s *SQLiteStorage) CreateCase(ctx context.Context, c *models.ReviewCase) error {
	row, err := encodeCase(c)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO review_cases (`+strings.Join(caseColumns, ", ")+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Query, nullable(c.DocumentID), c.DraftAnswer, row.citations,
		c.Confidence.Score, row.detail, c.Prompt.TemplateID, c.Prompt.Version,
		string(c.State), nullable(c.Owner), nullable(string(c.Decision)), row.reasons,
		c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: case %s already exists", models.ErrInvalidInput, c.ID)
		}
		return fmt.Errorf("failed to insert review case: %w", err)
	}
	for i, h := range c.History {
		if err := insertHistory(ctx, tx, c.ID, i+1, h); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertHistory(ctx context.Context, tx *sql.Tx, caseID string, seq int, h models.StateChange) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO review_history (case_id, seq, from_state, to_state, actor, at) VALUES (?, ?, ?, ?, ?, ?)`,
		caseID, seq, string(h.From), string(h.To), h.Actor, h.At.UTC())
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func scanCase(scan func(dest ...interface{}) error) (*models.ReviewCase, error) {
	var c models.ReviewCase
	var row caseRow
	var documentID, owner, decision sql.NullString
	var state string
	err := scan(&c.ID, &c.Query, &documentID, &c.DraftAnswer, &row.citations,
		&c.Confidence.Score, &row.detail, &c.Prompt.TemplateID, &c.Prompt.Version,
		&state, &owner, &decision, &row.reasons, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeCase(&c, row); err != nil {
		return nil, err
	}
	c.DocumentID = documentID.String
	c.State = models.CaseState(state)
	c.Owner = owner.String
	c.Decision = models.Decision(decision.String)
	return &c, nil
}

func getCase(ctx context.Context, q queryer, id string) (*models.ReviewCase, error) {
	c, err := scanCase(q.QueryRowContext(ctx,
		`SELECT `+strings.Join(caseColumns, ", ")+` FROM review_cases WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: review case %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx,
		`SELECT from_state, to_state, actor, at FROM review_history WHERE case_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var h models.StateChange
		var from, to string
		if err := rows.Scan(&from, &to, &h.Actor, &h.At); err != nil {
			return nil, err
		}
		h.From, h.To = models.CaseState(from), models.CaseState(to)
		c.History = append(c.History, h)
	}
	return c, rows.Err()
}

// GetCase returns a case with its history.
func (s *SQLiteStorage) GetCase(ctx context.Context, id string) (*models.ReviewCase, error) {
	return getCase(ctx, s.db, id)
}

// Transition applies a conditional update, one history entry and the
// feedback record in a single transaction.
func (s *SQLiteStorage) Transition(ctx context.Context, t review.Transition) (*models.ReviewCase, error) {
	if !review.CanTransition(t.From, t.To) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, t.From, t.To)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `UPDATE review_cases SET state = ?, updated_at = ?, owner = COALESCE(?, owner), decision = COALESCE(?, decision)
		WHERE id = ? AND state = ?`
	args := []interface{}{string(t.To), t.At.UTC(), nullable(t.SetOwner), nullable(string(t.Decision)), t.CaseID, string(t.From)}
	if t.RequireUnowned {
		query += ` AND owner IS NULL`
	}
	if t.ExpectOwner != "" {
		query += ` AND owner = ?`
		args = append(args, t.ExpectOwner)
	}
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update review case: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM review_cases WHERE id = ?`, t.CaseID).Scan(&exists); err != nil {
			return nil, err
		}
		if exists == 0 {
			return nil, fmt.Errorf("%w: review case %s", models.ErrNotFound, t.CaseID)
		}
		return nil, fmt.Errorf("%w: case %s", review.ErrConflict, t.CaseID)
	}

	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM review_history WHERE case_id = ?`, t.CaseID).Scan(&seq); err != nil {
		return nil, err
	}
	if err := insertHistory(ctx, tx, t.CaseID, seq, models.StateChange{From: t.From, To: t.To, Actor: t.Actor, At: t.At}); err != nil {
		return nil, err
	}
	if f := t.Feedback; f != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO expert_feedback (case_id, expert_id, decision, comment, created_at) VALUES (?, ?, ?, ?, ?)`,
			f.ReviewCaseID, f.ExpertID, string(f.Decision), f.Comment, f.Timestamp.UTC()); err != nil {
			return nil, fmt.Errorf("failed to store expert feedback: %w", err)
		}
	}
	c, err := getCase(ctx, tx, t.CaseID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return c, nil
}

// ListOpen returns pending_review and in_review cases created before cutoff.
func (s *SQLiteStorage) ListOpen(ctx context.Context, cutoff time.Time) ([]*models.ReviewCase, error) {
	// Timestamps are written in UTC with one layout, so they compare as text.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM review_cases WHERE state IN (?, ?) AND created_at < ? ORDER BY created_at, id`,
		string(models.StatePendingReview), string(models.StateInReview), cutoff.UTC())
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*models.ReviewCase, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetCase(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ListFeedback returns the feedback recorded for a case, oldest first.
func (s *SQLiteStorage) ListFeedback(ctx context.Context, caseID string) ([]models.ExpertFeedback, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT case_id, expert_id, decision, comment, created_at FROM expert_feedback WHERE case_id = ? ORDER BY id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ExpertFeedback
	for rows.Next() {
		var f models.ExpertFeedback
		var decision string
		var comment sql.NullString
		if err := rows.Scan(&f.ReviewCaseID, &f.ExpertID, &decision, &comment, &f.Timestamp); err != nil {
			return nil, err
		}
		f.Decision = models.Decision(decision)
		f.Comment = comment.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// CountByState returns the number of cases per state.
func (s *SQLiteStorage) CountByState(ctx context.Context) (map[models.CaseState]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM review_cases GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[models.CaseState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		out[models.CaseState(state)] = n
	}
	return out, rows.Err()
}

// SizeBytes returns the on-disk size of the database and its WAL files.
func (s *SQLiteStorage) SizeBytes() int64 {
	var total int64
	for _, p := range []string{s.path, s.path + "-wal", s.path + "-shm"} {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			total += info.Size()
		}
	}
	return total
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
