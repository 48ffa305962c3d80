package question

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
	"github.com/victornm/trivia/internal/event"
	"github.com/victornm/trivia/internal/storage"
)

const DefaultPageSize = 10

type Config struct {
	Store    storage.Store
	EventBus *event.Bus
	PageSize int
	// Rand returns a uniform random int in [0, n). Defaults to math/rand/v2.IntN.
	Rand func(n int) int
}

// Service is the question bank. It holds no state besides the store handle.
type Service struct {
	store    storage.Store
	eb       *event.Bus
	pageSize int
	rand     func(n int) int
}

func NewService(c Config) *Service {
	s := &Service{
		store:    c.Store,
		eb:       c.EventBus,
		pageSize: c.PageSize,
		rand:     c.Rand,
	}

	if s.pageSize <= 0 {
		s.pageSize = DefaultPageSize
	}
	if s.rand == nil {
		s.rand = rand.IntN
	}

	return s
}

type ListPageRequest struct {
	// Page is 1-based.
	Page   int
	Filter domain.Filter
}

// ListPage returns one page of the filtered questions ordered by id.
// An empty filtered set yields an empty page, a page past the end of a non-empty set is NotFound.
func (s *Service) ListPage(ctx context.Context, req ListPageRequest) (*domain.Page, error) {
	if req.Page < 1 {
		return nil, errors.NotFound("page %d out of range", req.Page)
	}

	f := req.Filter.Normalize()

	total, err := s.store.CountQuestions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("count questions: %w", err)
	}

	// (Page-1)*pageSize overflows for huge pages, so compare page counts.
	pages := (total + s.pageSize - 1) / s.pageSize
	if total > 0 && req.Page > pages {
		return nil, errors.NotFound("page %d out of range", req.Page)
	}

	p := &domain.Page{
		Questions: []domain.Question{},
		Total:     total,
		Number:    req.Page,
		Size:      s.pageSize,
	}

	if total == 0 {
		return p, nil
	}

	p.Questions, err = s.store.ListQuestions(ctx, f, (req.Page-1)*s.pageSize, s.pageSize)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	return p, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.Question, error) {
	q, err := s.store.GetQuestion(ctx, id)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NotFound("question %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}

	return &q, nil
}

type InsertRequest struct {
	Question   string
	Answer     string
	CategoryID int64
	Difficulty int
}

// Insert validates and stores a new question, assigning its id.
func (s *Service) Insert(ctx context.Context, req InsertRequest) (*domain.Question, error) {
	q := domain.Question{
		Question:   strings.TrimSpace(req.Question),
		Answer:     strings.TrimSpace(req.Answer),
		CategoryID: req.CategoryID,
		Difficulty: req.Difficulty,
	}

	if err := validate(q); err != nil {
		return nil, err
	}

	err := s.store.Update(ctx, func(ctx context.Context, w storage.Writer) (err error) {
		if err := checkCategory(ctx, w, q.CategoryID); err != nil {
			return err
		}

		q.ID, err = w.InsertQuestion(ctx, q)
		return err
	})
	if err != nil {
		return nil, unprocessable(err, "insert question failed")
	}

	s.publish(ctx, domain.EventQuestionCreated{Question: q})

	return &q, nil
}

type ReplaceRequest struct {
	ID         int64
	Question   string
	Answer     string
	CategoryID int64
	Difficulty int
}

// Replace overwrites every field of an existing question.
func (s *Service) Replace(ctx context.Context, req ReplaceRequest) (*domain.Question, error) {
	q := domain.Question{
		ID:         req.ID,
		Question:   strings.TrimSpace(req.Question),
		Answer:     strings.TrimSpace(req.Answer),
		CategoryID: req.CategoryID,
		Difficulty: req.Difficulty,
	}

	if err := validate(q); err != nil {
		return nil, err
	}

	err := s.store.Update(ctx, func(ctx context.Context, w storage.Writer) error {
		if err := checkCategory(ctx, w, q.CategoryID); err != nil {
			return err
		}

		err := w.ReplaceQuestion(ctx, q)
		if stderrors.Is(err, storage.ErrNotFound) {
			return errors.Unprocessable(err, "question %d does not exist", q.ID)
		}
		return err
	})
	if err != nil {
		return nil, unprocessable(err, "update question %d failed", q.ID)
	}

	s.publish(ctx, domain.EventQuestionUpdated{Question: q})

	return &q, nil
}

type DeleteRequest struct {
	ID int64
}

// Delete removes a question permanently. Its id is never reused.
func (s *Service) Delete(ctx context.Context, req DeleteRequest) error {
	err := s.store.Update(ctx, func(ctx context.Context, w storage.Writer) error {
		err := w.DeleteQuestion(ctx, req.ID)
		if stderrors.Is(err, storage.ErrNotFound) {
			return errors.Unprocessable(err, "question %d does not exist", req.ID)
		}
		return err
	})
	if err != nil {
		return unprocessable(err, "delete question %d failed", req.ID)
	}

	s.publish(ctx, domain.EventQuestionDeleted{QuestionID: req.ID})

	return nil
}

type NextQuizQuestionRequest struct {
	PreviousIDs []int64
	// CategoryID 0 means any category.
	CategoryID int64
}

// NextQuizQuestion picks a random question not in PreviousIDs.
// It returns nil without error once every eligible question has been asked.
func (s *Service) NextQuizQuestion(ctx context.Context, req NextQuizQuestionRequest) (*domain.Question, error) {
	if req.CategoryID != 0 {
		if _, err := s.GetCategory(ctx, req.CategoryID); err != nil {
			return nil, err
		}
	}

	ids, err := s.store.QuestionIDs(ctx, req.CategoryID)
	if err != nil {
		return nil, fmt.Errorf("list question ids: %w", err)
	}

	asked := make(map[int64]struct{}, len(req.PreviousIDs))
	for _, id := range req.PreviousIDs {
		asked[id] = struct{}{}
	}

	pool := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := asked[id]; !ok {
			pool = append(pool, id)
		}
	}

	// A picked question may be deleted concurrently, pick again from the rest.
	for len(pool) > 0 {
		i := s.rand(len(pool))
		q, err := s.store.GetQuestion(ctx, pool[i])
		if stderrors.Is(err, storage.ErrNotFound) {
			pool = slices.Delete(pool, i, i+1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get question %d: %w", pool[i], err)
		}

		return &q, nil
	}

	return nil, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	cs, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}

	return cs, nil
}

func (s *Service) GetCategory(ctx context.Context, id int64) (*domain.Category, error) {
	c, err := s.store.GetCategory(ctx, id)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NotFound("category %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}

	return &c, nil
}

func (s *Service) publish(ctx context.Context, e event.Event) {
	if s.eb != nil {
		s.eb.Publish(ctx, e)
	}
}

func validate(q domain.Question) error {
	var missing []string
	if q.Question == "" {
		missing = append(missing, "question")
	}
	if q.Answer == "" {
		missing = append(missing, "answer")
	}
	if q.CategoryID <= 0 {
		missing = append(missing, "category")
	}
	if q.Difficulty < 1 {
		missing = append(missing, "difficulty")
	}

	if len(missing) > 0 {
		return errors.New(errors.CodeUnprocessable,
			errors.WithMessagef("missing or invalid fields: %s", strings.Join(missing, ", ")))
	}

	return nil
}

func checkCategory(ctx context.Context, w storage.Writer, id int64) error {
	_, err := w.GetCategory(ctx, id)
	if stderrors.Is(err, storage.ErrNotFound) {
		return errors.Unprocessable(err, "category %d does not exist", id)
	}
	return err
}

// unprocessable keeps coded errors as they are and reports any other failure of a
// mutation as Unprocessable, with the original error kept as cause.
func unprocessable(err error, format string, args ...any) error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e
	}

	return errors.Unprocessable(err, format, args...)
}
