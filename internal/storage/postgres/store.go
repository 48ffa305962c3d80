package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/storage"
)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Close() {
	s.db.Close()
}

// Migrate creates the tables when missing and seeds the categories into an empty table.
func (s *Store) Migrate(ctx context.Context, categories []domain.Category) (err error) {
	const (
		createCategoriesStmt = `
CREATE TABLE IF NOT EXISTS categories (
	id   BIGINT PRIMARY KEY,
	type TEXT NOT NULL
);`
		createQuestionsStmt = `
CREATE TABLE IF NOT EXISTS questions (
	id         BIGSERIAL PRIMARY KEY,
	question   TEXT NOT NULL,
	answer     TEXT NOT NULL,
	category   BIGINT NOT NULL REFERENCES categories (id),
	difficulty INTEGER NOT NULL
);`
		createIndexStmt  = `CREATE INDEX IF NOT EXISTS questions_category_idx ON questions (category, id);`
		seedCategoryStmt = `INSERT INTO categories (id, type) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING;`
	)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	for _, stmt := range []string{createCategoriesStmt, createQuestionsStmt, createIndexStmt} {
		if _, err = tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	var b pgx.Batch
	for _, c := range categories {
		b.Queue(seedCategoryStmt, c.ID, c.Type)
	}
	if err = tx.SendBatch(ctx, &b).Close(); err != nil {
		return fmt.Errorf("seed categories: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.Query(ctx, `SELECT id, type FROM categories ORDER BY id;`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Category, error) {
		var c domain.Category
		err := r.Scan(&c.ID, &c.Type)
		return c, err
	})
}

func (s *Store) GetCategory(ctx context.Context, id int64) (domain.Category, error) {
	return getCategory(ctx, s.db, id)
}

func (s *Store) GetQuestion(ctx context.Context, id int64) (domain.Question, error) {
	const stmt = `SELECT id, question, answer, category, difficulty FROM questions WHERE id = $1;`

	q, err := scanQuestion(s.db.QueryRow(ctx, stmt, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("get question %d: %w", id, err)
	}

	return q, nil
}

func (s *Store) CountQuestions(ctx context.Context, f domain.Filter) (int, error) {
	where, args := whereClause(f)

	var n int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM questions`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}

	return n, nil
}

func (s *Store) ListQuestions(ctx context.Context, f domain.Filter, offset, limit int) ([]domain.Question, error) {
	where, args := whereClause(f)
	stmt := fmt.Sprintf(`
SELECT id, question, answer, category, difficulty
FROM questions%s
ORDER BY id
OFFSET $%d LIMIT $%d;`, where, len(args)+1, len(args)+2)

	rows, err := s.db.Query(ctx, stmt, append(args, offset, limit)...)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		return scanQuestion(r)
	})
}

func (s *Store) QuestionIDs(ctx context.Context, categoryID int64) ([]int64, error) {
	where, args := whereClause(domain.Filter{CategoryID: categoryID})

	rows, err := s.db.Query(ctx, `SELECT id FROM questions`+where+` ORDER BY id;`, args...)
	if err != nil {
		return nil, fmt.Errorf("list question ids: %w", err)
	}

	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, w storage.Writer) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	if err = fn(ctx, writer{tx: tx}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

type writer struct {
	tx pgx.Tx
}

func (w writer) GetCategory(ctx context.Context, id int64) (domain.Category, error) {
	return getCategory(ctx, w.tx, id)
}

func (w writer) InsertQuestion(ctx context.Context, q domain.Question) (int64, error) {
	const stmt = `
INSERT INTO questions (question, answer, category, difficulty)
VALUES ($1, $2, $3, $4)
RETURNING id;`

	var id int64
	if err := w.tx.QueryRow(ctx, stmt, q.Question, q.Answer, q.CategoryID, q.Difficulty).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert question: %w", err)
	}

	return id, nil
}

func (w writer) ReplaceQuestion(ctx context.Context, q domain.Question) error {
	const stmt = `
UPDATE questions
SET question = $2, answer = $3, category = $4, difficulty = $5
WHERE id = $1;`

	tag, err := w.tx.Exec(ctx, stmt, q.ID, q.Question, q.Answer, q.CategoryID, q.Difficulty)
	if err != nil {
		return fmt.Errorf("update question %d: %w", q.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}

	return nil
}

func (w writer) DeleteQuestion(ctx context.Context, id int64) error {
	tag, err := w.tx.Exec(ctx, `DELETE FROM questions WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete question %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}

	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getCategory(ctx context.Context, db querier, id int64) (domain.Category, error) {
	var c domain.Category
	err := db.QueryRow(ctx, `SELECT id, type FROM categories WHERE id = $1;`, id).Scan(&c.ID, &c.Type)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Category{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.Category{}, fmt.Errorf("get category %d: %w", id, err)
	}

	return c, nil
}

func scanQuestion(r pgx.Row) (domain.Question, error) {
	var q domain.Question
	err := r.Scan(&q.ID, &q.Question, &q.Answer, &q.CategoryID, &q.Difficulty)
	return q, err
}

func whereClause(f domain.Filter) (string, []any) {
	f = f.Normalize()

	switch {
	case f.SearchTerm != "":
		return ` WHERE question ILIKE '%' || $1 || '%'`, []any{escapeLike(f.SearchTerm)}
	case f.CategoryID != 0:
		return ` WHERE category = $1`, []any{f.CategoryID}
	}

	return "", nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes the search term match literally.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
