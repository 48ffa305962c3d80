// Package mysql is a gorm backed store for MySQL deployments.
package mysql

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/storage"
)

type category struct {
	ID   int64  `gorm:"primaryKey;autoIncrement:false"`
	Type string `gorm:"size:64;not null"`
}

func (category) TableName() string { return "categories" }

type question struct {
	ID         int64  `gorm:"primaryKey"`
	Question   string `gorm:"type:text;not null"`
	Answer     string `gorm:"type:text;not null"`
	Category   int64  `gorm:"not null;index"`
	Difficulty int    `gorm:"not null"`
}

func (question) TableName() string { return "questions" }

func (q question) toDomain() domain.Question {
	return domain.Question{
		ID:         q.ID,
		Question:   q.Question,
		Answer:     q.Answer,
		CategoryID: q.Category,
		Difficulty: q.Difficulty,
	}
}

func fromDomain(q domain.Question) question {
	return question{
		ID:         q.ID,
		Question:   q.Question,
		Answer:     q.Answer,
		Category:   q.CategoryID,
		Difficulty: q.Difficulty,
	}
}

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() {
	if db, err := s.db.DB(); err == nil {
		_ = db.Close()
	}
}

// Migrate runs AutoMigrate and seeds the categories when the table is empty.
func (s *Store) Migrate(ctx context.Context, categories []domain.Category) error {
	db := s.db.WithContext(ctx)

	if err := db.AutoMigrate(&category{}, &question{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	var n int64
	if err := db.Model(&category{}).Count(&n).Error; err != nil {
		return fmt.Errorf("count categories: %w", err)
	}
	if n > 0 || len(categories) == 0 {
		return nil
	}

	rows := make([]category, 0, len(categories))
	for _, c := range categories {
		rows = append(rows, category{ID: c.ID, Type: c.Type})
	}
	if err := db.Create(&rows).Error; err != nil {
		return fmt.Errorf("seed categories: %w", err)
	}

	return nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	var rows []category
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}

	cs := make([]domain.Category, 0, len(rows))
	for _, c := range rows {
		cs = append(cs, domain.Category{ID: c.ID, Type: c.Type})
	}
	return cs, nil
}

func (s *Store) GetCategory(ctx context.Context, id int64) (domain.Category, error) {
	return getCategory(s.db.WithContext(ctx), id)
}

func (s *Store) GetQuestion(ctx context.Context, id int64) (domain.Question, error) {
	var q question
	err := s.db.WithContext(ctx).First(&q, id).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Question{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("get question %d: %w", id, err)
	}

	return q.toDomain(), nil
}

func (s *Store) CountQuestions(ctx context.Context, f domain.Filter) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&question{}).Scopes(filter(f)).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}

	return int(n), nil
}

func (s *Store) ListQuestions(ctx context.Context, f domain.Filter, offset, limit int) ([]domain.Question, error) {
	var rows []question
	err := s.db.WithContext(ctx).
		Scopes(filter(f)).
		Order("id").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	qs := make([]domain.Question, 0, len(rows))
	for _, q := range rows {
		qs = append(qs, q.toDomain())
	}
	return qs, nil
}

func (s *Store) QuestionIDs(ctx context.Context, categoryID int64) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).
		Model(&question{}).
		Scopes(filter(domain.Filter{CategoryID: categoryID})).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list question ids: %w", err)
	}

	return ids, nil
}

func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, w storage.Writer) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, writer{tx: tx})
	})
}

type writer struct {
	tx *gorm.DB
}

func (w writer) GetCategory(_ context.Context, id int64) (domain.Category, error) {
	return getCategory(w.tx, id)
}

func (w writer) InsertQuestion(_ context.Context, q domain.Question) (int64, error) {
	row := fromDomain(q)
	row.ID = 0
	if err := w.tx.Create(&row).Error; err != nil {
		return 0, fmt.Errorf("insert question: %w", err)
	}

	return row.ID, nil
}

func (w writer) ReplaceQuestion(_ context.Context, q domain.Question) error {
	// MySQL reports zero affected rows for no-op updates, so existence is checked under lock.
	var existing question
	err := w.tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&existing, q.ID).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock question %d: %w", q.ID, err)
	}

	row := fromDomain(q)
	if err := w.tx.Save(&row).Error; err != nil {
		return fmt.Errorf("update question %d: %w", q.ID, err)
	}

	return nil
}

func (w writer) DeleteQuestion(_ context.Context, id int64) error {
	res := w.tx.Delete(&question{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete question %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

func getCategory(db *gorm.DB, id int64) (domain.Category, error) {
	var c category
	err := db.First(&c, id).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Category{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.Category{}, fmt.Errorf("get category %d: %w", id, err)
	}

	return domain.Category{ID: c.ID, Type: c.Type}, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func filter(f domain.Filter) func(*gorm.DB) *gorm.DB {
	f = f.Normalize()

	return func(db *gorm.DB) *gorm.DB {
		switch {
		case f.SearchTerm != "":
			term := "%" + likeEscaper.Replace(strings.ToLower(f.SearchTerm)) + "%"
			return db.Where("LOWER(question) LIKE ?", term)
		case f.CategoryID != 0:
			return db.Where("category = ?", f.CategoryID)
		}
		return db
	}
}
