// Package storage defines the persistence contract of the question bank.
// Backends live in sub packages.
package storage

import (
	"context"
	"errors"

	"github.com/victornm/trivia/internal/domain"
)

var ErrNotFound = errors.New("storage: not found")

// Reader is the read side of a store. Question lists are ordered by ascending id.
type Reader interface {
	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetCategory(ctx context.Context, id int64) (domain.Category, error)

	GetQuestion(ctx context.Context, id int64) (domain.Question, error)
	CountQuestions(ctx context.Context, f domain.Filter) (int, error)
	ListQuestions(ctx context.Context, f domain.Filter, offset, limit int) ([]domain.Question, error)
	// QuestionIDs returns the ids of all questions in a category, or of all
	// questions when categoryID is 0.
	QuestionIDs(ctx context.Context, categoryID int64) ([]int64, error)
}

// Writer is only valid inside Store.Update.
type Writer interface {
	GetCategory(ctx context.Context, id int64) (domain.Category, error)
	InsertQuestion(ctx context.Context, q domain.Question) (int64, error)
	ReplaceQuestion(ctx context.Context, q domain.Question) error
	DeleteQuestion(ctx context.Context, id int64) error
}

type Store interface {
	Reader

	// Update runs fn in a single transaction. The transaction is committed
	// when fn returns nil and rolled back otherwise.
	Update(ctx context.Context, fn func(ctx context.Context, w Writer) error) error
}

// Closer is implemented by stores that own connections.
type Closer interface {
	Close()
}
