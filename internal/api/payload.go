package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/victornm/trivia/internal/domain"
)

type (
	Question struct {
		ID         int64  `json:"id"`
		Question   string `json:"question"`
		Answer     string `json:"answer"`
		Category   int64  `json:"category"`
		Difficulty int    `json:"difficulty"`
	}

	Category struct {
		ID   int64  `json:"id"`
		Type string `json:"type"`
	}

	ErrorResponse struct {
		Success bool   `json:"success"`
		Error   int    `json:"error"`
		Message string `json:"message"`
	}

	CategoriesResponse struct {
		Success         bool              `json:"success"`
		Categories      map[string]string `json:"categories"`
		TotalCategories int               `json:"total_categories"`
	}

	QuestionsResponse struct {
		Success         bool              `json:"success"`
		Created         int64             `json:"created,omitempty"`
		Deleted         int64             `json:"deleted,omitempty"`
		Questions       []Question        `json:"questions"`
		TotalQuestions  int               `json:"total_questions"`
		CurrentCategory *Category         `json:"current_category"`
		Categories      map[string]string `json:"categories"`
	}

	QuestionResponse struct {
		Success  bool     `json:"success"`
		Updated  int64    `json:"updated,omitempty"`
		Question Question `json:"question"`
	}

	// QuizResponse.Question is a Question, or false once the quiz is complete.
	QuizResponse struct {
		Success         bool     `json:"success"`
		Question        any      `json:"question"`
		CurrentCategory Category `json:"current_category"`
	}
)

type (
	pageQuery struct {
		Page int `form:"page,default=1"`
	}

	// questionsRequest is the body of POST /questions: a search when searchTerm is set, a create otherwise.
	questionsRequest struct {
		SearchTerm string `json:"searchTerm"`
		questionPayload
	}

	questionPayload struct {
		Question   string   `json:"question" binding:"required"`
		Answer     string   `json:"answer" binding:"required"`
		Category   intValue `json:"category" binding:"required,gt=0"`
		Difficulty intValue `json:"difficulty" binding:"required,gte=1"`
	}

	quizRequest struct {
		PreviousQuestions []int64 `json:"previous_questions"`
		QuizCategory      struct {
			ID   intValue `json:"id"`
			Type string   `json:"type"`
		} `json:"quiz_category"`
	}
)

// intValue accepts a JSON number or a numeric string, since web clients often send select values as strings.
type intValue int64

func (v *intValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}

	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*v = 0
			return nil
		}
		b = []byte(s)
	}

	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("not an integer: %s", b)
	}

	*v = intValue(n)
	return nil
}

func toQuestion(q domain.Question) Question {
	return Question{
		ID:         q.ID,
		Question:   q.Question,
		Answer:     q.Answer,
		Category:   q.CategoryID,
		Difficulty: q.Difficulty,
	}
}

func toQuestions(qs []domain.Question) []Question {
	out := make([]Question, 0, len(qs))
	for _, q := range qs {
		out = append(out, toQuestion(q))
	}
	return out
}

func toCategory(c *domain.Category) *Category {
	if c == nil {
		return nil
	}
	return &Category{ID: c.ID, Type: c.Type}
}

func toCategoryMap(cs []domain.Category) map[string]string {
	m := make(map[string]string, len(cs))
	for _, c := range cs {
		m[strconv.FormatInt(c.ID, 10)] = c.Type
	}
	return m
}
