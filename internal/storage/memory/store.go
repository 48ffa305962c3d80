// Package memory is an in-process store, used for local runs and tests.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/storage"
)

type Store struct {
	mu sync.RWMutex
	st state
}

type state struct {
	categories map[int64]domain.Category
	questions  map[int64]domain.Question
	lastID     int64
}

// New creates a store holding the given categories and no questions.
func New(categories []domain.Category) *Store {
	s := &Store{
		st: state{
			categories: make(map[int64]domain.Category, len(categories)),
			questions:  make(map[int64]domain.Question),
		},
	}

	for _, c := range categories {
		s.st.categories[c.ID] = c
	}

	return s
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs := slices.Collect(maps.Values(s.st.categories))
	slices.SortFunc(cs, func(a, b domain.Category) int { return cmp.Compare(a.ID, b.ID) })
	return cs, nil
}

func (s *Store) GetCategory(_ context.Context, id int64) (domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.st.getCategory(id)
}

func (s *Store) GetQuestion(_ context.Context, id int64) (domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.st.questions[id]
	if !ok {
		return domain.Question{}, storage.ErrNotFound
	}
	return q, nil
}

func (s *Store) CountQuestions(_ context.Context, f domain.Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.st.filter(f)), nil
}

func (s *Store) ListQuestions(_ context.Context, f domain.Filter, offset, limit int) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	qs := s.st.filter(f)
	if offset >= len(qs) {
		return []domain.Question{}, nil
	}

	end := min(offset+limit, len(qs))
	return qs[offset:end], nil
}

func (s *Store) QuestionIDs(_ context.Context, categoryID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	qs := s.st.filter(domain.Filter{CategoryID: categoryID})
	ids := make([]int64, 0, len(qs))
	for _, q := range qs {
		ids = append(ids, q.ID)
	}
	return ids, nil
}

// Update applies fn to a copy of the state and swaps it in only when fn succeeds.
func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, w storage.Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &writer{st: s.st.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.st = tx.st
	return nil
}

type writer struct {
	st state
}

func (w *writer) GetCategory(_ context.Context, id int64) (domain.Category, error) {
	return w.st.getCategory(id)
}

func (w *writer) InsertQuestion(_ context.Context, q domain.Question) (int64, error) {
	w.st.lastID++
	q.ID = w.st.lastID
	w.st.questions[q.ID] = q
	return q.ID, nil
}

func (w *writer) ReplaceQuestion(_ context.Context, q domain.Question) error {
	if _, ok := w.st.questions[q.ID]; !ok {
		return storage.ErrNotFound
	}
	w.st.questions[q.ID] = q
	return nil
}

func (w *writer) DeleteQuestion(_ context.Context, id int64) error {
	if _, ok := w.st.questions[id]; !ok {
		return storage.ErrNotFound
	}
	delete(w.st.questions, id)
	return nil
}

func (st state) clone() state {
	return state{
		categories: st.categories,
		questions:  maps.Clone(st.questions),
		lastID:     st.lastID,
	}
}

func (st state) getCategory(id int64) (domain.Category, error) {
	c, ok := st.categories[id]
	if !ok {
		return domain.Category{}, storage.ErrNotFound
	}
	return c, nil
}

func (st state) filter(f domain.Filter) []domain.Question {
	f = f.Normalize()
	term := strings.ToLower(f.SearchTerm)

	qs := make([]domain.Question, 0, len(st.questions))
	for _, q := range st.questions {
		if term != "" && !strings.Contains(strings.ToLower(q.Question), term) {
			continue
		}
		if f.CategoryID != 0 && q.CategoryID != f.CategoryID {
			continue
		}
		qs = append(qs, q)
	}

	slices.SortFunc(qs, func(a, b domain.Question) int { return cmp.Compare(a.ID, b.ID) })
	return qs
}
