package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/hyperjump/kakunin/internal/models"
	"github.com/hyperjump/kakunin/internal/review"
)

// DB is the subset of pgxpool.Pool the Postgres store uses; pgxmock satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresStorage keeps documents, review cases and feedback in PostgreSQL.
type PostgresStorage struct {
	db    DB
	close func()
}

// NewPostgresStorage wraps an existing connection pool.
func NewPostgresStorage(db DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

// OpenPostgres applies migrations and connects a pool to dsn.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStorage, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database for migrations: %w", err)
	}
	err = migrate(ctx, sqlDB, "postgres", "migrations/postgres")
	_ = sqlDB.Close()
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &PostgresStorage{db: pool, close: pool.Close}, nil
}

// PutDocument inserts or replaces a document, keeping the original created_at.
func (p *PostgresStorage) PutDocument(ctx context.Context, doc *models.Document) error {
	metadata, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	query, args, err := psql.Insert("documents").
		Columns("id", "title", "content", "metadata", "created_at", "updated_at").
		Values(doc.ID, doc.Title, doc.Content, metadata, now, now).
		Suffix(`ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, content = EXCLUDED.content,
			metadata = EXCLUDED.metadata, updated_at = EXCLUDED.updated_at RETURNING created_at, updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	if err := p.db.QueryRow(ctx, query, args...).Scan(&doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return fmt.Errorf("failed to store document %s: %w", doc.ID, err)
	}
	return nil
}

// GetDocument returns a document by ID.
func (p *PostgresStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	query, args, err := psql.Select("id", "title", "content", "metadata", "created_at", "updated_at").
		From("documents").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var doc models.Document
	var title, metadata *string
	err = p.db.QueryRow(ctx, query, args...).Scan(&doc.ID, &title, &doc.Content, &metadata, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	doc.Title = deref(title)
	if doc.Metadata, err = unmarshalMetadata(deref(metadata)); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DeleteDocument removes a document by ID.
func (p *PostgresStorage) DeleteDocument(ctx context.Context, id string) error {
	query, args, err := psql.Delete("documents").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	tag, err := p.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// ListDocuments returns all documents ordered by id.
func (p *PostgresStorage) ListDocuments(ctx context.Context) ([]*models.Document, error) {
	query, args, err := psql.Select("id", "title", "content", "metadata", "created_at", "updated_at").
		From("documents").OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []*models.Document
	for rows.Next() {
		var doc models.Document
		var title, metadata *string
		if err := rows.Scan(&doc.ID, &title, &doc.Content, &metadata, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		doc.Title = deref(title)
		doc.Metadata, _ = unmarshalMetadata(deref(metadata))
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// CreateCase inserts a case and its history in one transaction.
func (p *PostgresStorage) CreateCase(ctx context.Context, c *models.ReviewCase) error {
	row, err := encodeCase(c)
	if err != nil {
		return err
	}
	query, args, err := psql.Insert("review_cases").Columns(caseColumns...).
		Values(c.ID, c.Query, nullable(c.DocumentID), c.DraftAnswer, row.citations,
			c.Confidence.Score, row.detail, c.Prompt.TemplateID, c.Prompt.Version,
			string(c.State), nullable(c.Owner), nullable(string(c.Decision)), row.reasons,
			c.CreatedAt.UTC(), c.UpdatedAt.UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: case %s already exists", models.ErrInvalidInput, c.ID)
		}
		return fmt.Errorf("failed to insert review case: %w", err)
	}
	for i, h := range c.History {
		if err := pgInsertHistory(ctx, tx, c.ID, i+1, h); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func pgInsertHistory(ctx context.Context, tx pgx.Tx, caseID string, seq int, h models.StateChange) error {
	query, args, err := psql.Insert("review_history").
		Columns("case_id", "seq", "from_state", "to_state", "actor", "at").
		Values(caseID, seq, string(h.From), string(h.To), h.Actor, h.At.UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func pgGetCase(ctx context.Context, q pgQuerier, id string) (*models.ReviewCase, error) {
	query, args, err := psql.Select(caseColumns...).From("review_cases").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var c models.ReviewCase
	var row caseRow
	var documentID, owner, decision *string
	var state string
	err = q.QueryRow(ctx, query, args...).Scan(&c.ID, &c.Query, &documentID, &c.DraftAnswer, &row.citations,
		&c.Confidence.Score, &row.detail, &c.Prompt.TemplateID, &c.Prompt.Version,
		&state, &owner, &decision, &row.reasons, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: review case %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if err := decodeCase(&c, row); err != nil {
		return nil, err
	}
	c.DocumentID = deref(documentID)
	c.State = models.CaseState(state)
	c.Owner = deref(owner)
	c.Decision = models.Decision(deref(decision))

	hq, hargs, err := psql.Select("from_state", "to_state", "actor", "at").
		From("review_history").Where(sq.Eq{"case_id": id}).OrderBy("seq").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	rows, err := q.Query(ctx, hq, hargs...)
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
	return &c, rows.Err()
}

// GetCase returns a case with its history.
func (p *PostgresStorage) GetCase(ctx context.Context, id string) (*models.ReviewCase, error) {
	return pgGetCase(ctx, p.db, id)
}

// Transition applies a conditional update, one history entry and the
// feedback record in a single transaction.
func (p *PostgresStorage) Transition(ctx context.Context, t review.Transition) (*models.ReviewCase, error) {
	if !review.CanTransition(t.From, t.To) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, t.From, t.To)
	}
	update := psql.Update("review_cases").
		Set("state", string(t.To)).
		Set("updated_at", t.At.UTC()).
		Where(sq.Eq{"id": t.CaseID, "state": string(t.From)})
	if t.SetOwner != "" {
		update = update.Set("owner", t.SetOwner)
	}
	if t.Decision != "" {
		update = update.Set("decision", string(t.Decision))
	}
	if t.RequireUnowned {
		update = update.Where(sq.Eq{"owner": nil})
	}
	if t.ExpectOwner != "" {
		update = update.Where(sq.Eq{"owner": t.ExpectOwner})
	}
	query, args, err := update.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update review case: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM review_cases WHERE id = $1)`, t.CaseID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: review case %s", models.ErrNotFound, t.CaseID)
		}
		return nil, fmt.Errorf("%w: case %s", review.ErrConflict, t.CaseID)
	}

	var seq int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM review_history WHERE case_id = $1`, t.CaseID).Scan(&seq); err != nil {
		return nil, err
	}
	if err := pgInsertHistory(ctx, tx, t.CaseID, seq, models.StateChange{From: t.From, To: t.To, Actor: t.Actor, At: t.At}); err != nil {
		return nil, err
	}
	if f := t.Feedback; f != nil {
		fq, fargs, err := psql.Insert("expert_feedback").
			Columns("case_id", "expert_id", "decision", "comment", "created_at").
			Values(f.ReviewCaseID, f.ExpertID, string(f.Decision), f.Comment, f.Timestamp.UTC()).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("building query: %w", err)
		}
		if _, err := tx.Exec(ctx, fq, fargs...); err != nil {
			return nil, fmt.Errorf("failed to store expert feedback: %w", err)
		}
	}
	c, err := pgGetCase(ctx, tx, t.CaseID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// ListOpen returns pending_review and in_review cases created before cutoff.
func (p *PostgresStorage) ListOpen(ctx context.Context, cutoff time.Time) ([]*models.ReviewCase, error) {
	query, args, err := psql.Select("id").From("review_cases").
		Where(sq.Eq{"state": []string{string(models.StatePendingReview), string(models.StateInReview)}}).
		Where(sq.Lt{"created_at": cutoff.UTC()}).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	rows, err := p.db.Query(ctx, query, args...)
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
		c, err := p.GetCase(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ListFeedback returns the feedback recorded for a case, oldest first.
func (p *PostgresStorage) ListFeedback(ctx context.Context, caseID string) ([]models.ExpertFeedback, error) {
	query, args, err := psql.Select("case_id", "expert_id", "decision", "comment", "created_at").
		From("expert_feedback").Where(sq.Eq{"case_id": caseID}).OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ExpertFeedback
	for rows.Next() {
		var f models.ExpertFeedback
		var decision string
		var comment *string
		if err := rows.Scan(&f.ReviewCaseID, &f.ExpertID, &decision, &comment, &f.Timestamp); err != nil {
			return nil, err
		}
		f.Decision = models.Decision(decision)
		f.Comment = deref(comment)
		out = append(out, f)
	}
	return out, rows.Err()
}

// CountByState returns the number of cases per state.
func (p *PostgresStorage) CountByState(ctx context.Context) (map[models.CaseState]int, error) {
	query, args, err := psql.Select("state", "COUNT(*)").From("review_cases").GroupBy("state").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	rows, err := p.db.Query(ctx, query, args...)
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

// Close releases the pool when this store opened it.
func (p *PostgresStorage) Close() error {
	if p.close != nil {
		p.close()
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
