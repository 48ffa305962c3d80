package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/trivia/internal/auth"
	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
	"github.com/victornm/trivia/internal/event"
	"github.com/victornm/trivia/internal/question"
	"github.com/victornm/trivia/internal/telemetry"
)

type Config struct {
	Engine       *gin.Engine
	EventBus     *event.Bus
	Question     *question.Service
	Verifier     *auth.Verifier
	QuizLimit    RateLimit
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	qs       *question.Service
	verifier *auth.Verifier

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		qs:       c.Question,
		verifier: c.Verifier,
		redis:    c.Redis,
		prefix:   c.PubsubPrefix,
	}

	e := c.Engine
	e.HandleMethodNotAllowed = true
	e.NoRoute(func(c *gin.Context) { a.fail(c, errors.New(errors.CodeNotFound)) })
	e.NoMethod(func(c *gin.Context) { a.fail(c, errors.New(errors.CodeMethodNotAllowed)) })
	e.Use(cors())

	e.GET("/categories", a.ListCategories)
	e.GET("/categories/:id/questions", a.ListCategoryQuestions)

	e.GET("/questions", a.ListQuestions)
	e.POST("/questions", a.SearchOrCreateQuestion)
	e.GET("/questions/:id", a.GetQuestion)
	e.PUT("/questions/:id", a.requirePermission(auth.PermissionUpdateQuestions), a.ReplaceQuestion)
	e.DELETE("/questions/:id", a.requirePermission(auth.PermissionDeleteQuestions), a.DeleteQuestion)

	e.POST("/quizzes", a.rateLimit(c.QuizLimit), a.NextQuizQuestion)

	// Register event handlers
	if c.EventBus != nil && c.Redis != nil {
		for _, name := range []string{domain.EventNameQuestionCreated, domain.EventNameQuestionUpdated, domain.EventNameQuestionDeleted} {
			c.EventBus.Subscribe(name, a.PublishQuestionChanged)
		}
	}

	return a
}

func (a *API) ListCategories(c *gin.Context) {
	cs, err := a.qs.ListCategories(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, CategoriesResponse{
		Success:         true,
		Categories:      toCategoryMap(cs),
		TotalCategories: len(cs),
	})
}

func (a *API) ListQuestions(c *gin.Context) {
	page, ok := a.page(c)
	if !ok {
		return
	}

	resp, err := a.listing(c.Request.Context(), page, domain.Filter{}, nil)
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a *API) ListCategoryQuestions(c *gin.Context) {
	id, ok := a.id(c)
	if !ok {
		return
	}

	page, ok := a.page(c)
	if !ok {
		return
	}

	cat, err := a.qs.GetCategory(c.Request.Context(), id)
	if err != nil {
		a.fail(c, err)
		return
	}

	resp, err := a.listing(c.Request.Context(), page, domain.Filter{CategoryID: id}, cat)
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// SearchOrCreateQuestion searches when the body carries a searchTerm and creates a question otherwise.
func (a *API) SearchOrCreateQuestion(c *gin.Context) {
	var req questionsRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil && !stderrors.Is(err, io.EOF) {
		a.fail(c, errors.New(errors.CodeUnprocessable,
			errors.WithMessagef("malformed request body"),
			errors.WithCause(err)))
		return
	}

	page, ok := a.page(c)
	if !ok {
		return
	}

	if term := strings.TrimSpace(req.SearchTerm); term != "" {
		resp, err := a.listing(c.Request.Context(), page, domain.Filter{SearchTerm: term}, nil)
		if err != nil {
			a.fail(c, err)
			return
		}

		c.JSON(http.StatusOK, resp)
		return
	}

	if a.verifier.Enabled() {
		if _, err := a.verifier.Verify(c.GetHeader("Authorization"), auth.PermissionCreateQuestions); err != nil {
			a.fail(c, err)
			return
		}
	}

	if err := binding.Validator.ValidateStruct(&req.questionPayload); err != nil {
		a.fail(c, invalidPayload(err))
		return
	}

	q, err := a.qs.Insert(c.Request.Context(), question.InsertRequest{
		Question:   req.Question,
		Answer:     req.Answer,
		CategoryID: int64(req.Category),
		Difficulty: int(req.Difficulty),
	})
	if err != nil {
		a.fail(c, err)
		return
	}

	resp, err := a.listingOrFirst(c.Request.Context(), page)
	if err != nil {
		a.fail(c, err)
		return
	}

	resp.Created = q.ID
	c.JSON(http.StatusOK, resp)
}

func (a *API) GetQuestion(c *gin.Context) {
	id, ok := a.id(c)
	if !ok {
		return
	}

	q, err := a.qs.Get(c.Request.Context(), id)
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, QuestionResponse{
		Success:  true,
		Question: toQuestion(*q),
	})
}

func (a *API) ReplaceQuestion(c *gin.Context) {
	id, ok := a.id(c)
	if !ok {
		return
	}

	var req questionPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, invalidPayload(err))
		return
	}

	q, err := a.qs.Replace(c.Request.Context(), question.ReplaceRequest{
		ID:         id,
		Question:   req.Question,
		Answer:     req.Answer,
		CategoryID: int64(req.Category),
		Difficulty: int(req.Difficulty),
	})
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, QuestionResponse{
		Success:  true,
		Updated:  q.ID,
		Question: toQuestion(*q),
	})
}

func (a *API) DeleteQuestion(c *gin.Context) {
	id, ok := a.id(c)
	if !ok {
		return
	}

	page, ok := a.page(c)
	if !ok {
		return
	}

	if err := a.qs.Delete(c.Request.Context(), question.DeleteRequest{ID: id}); err != nil {
		a.fail(c, err)
		return
	}

	resp, err := a.listingOrFirst(c.Request.Context(), page)
	if err != nil {
		a.fail(c, err)
		return
	}

	resp.Deleted = id
	c.JSON(http.StatusOK, resp)
}

func (a *API) NextQuizQuestion(c *gin.Context) {
	var req quizRequest
	if err := c.ShouldBindJSON(&req); err != nil && !stderrors.Is(err, io.EOF) {
		a.fail(c, errors.New(errors.CodeUnprocessable,
			errors.WithMessagef("malformed request body"),
			errors.WithCause(err)))
		return
	}

	q, err := a.qs.NextQuizQuestion(c.Request.Context(), question.NextQuizQuestionRequest{
		PreviousIDs: req.PreviousQuestions,
		CategoryID:  int64(req.QuizCategory.ID),
	})
	if err != nil {
		a.fail(c, err)
		return
	}

	resp := QuizResponse{
		Success: true,
		CurrentCategory: Category{
			ID:   int64(req.QuizCategory.ID),
			Type: req.QuizCategory.Type,
		},
	}

	if q == nil {
		telemetry.QuizQuestions.WithLabelValues("complete").Inc()
		resp.Question = false
	} else {
		telemetry.QuizQuestions.WithLabelValues("question").Inc()
		resp.Question = toQuestion(*q)
	}

	c.JSON(http.StatusOK, resp)
}

// listing builds the paged question list shared by the list, search, create and delete responses.
func (a *API) listing(ctx context.Context, page int, f domain.Filter, current *domain.Category) (*QuestionsResponse, error) {
	p, err := a.qs.ListPage(ctx, question.ListPageRequest{
		Page:   page,
		Filter: f,
	})
	if err != nil {
		return nil, err
	}

	cs, err := a.qs.ListCategories(ctx)
	if err != nil {
		return nil, err
	}

	return &QuestionsResponse{
		Success:         true,
		Questions:       toQuestions(p.Questions),
		TotalQuestions:  p.Total,
		CurrentCategory: toCategory(current),
		Categories:      toCategoryMap(cs),
	}, nil
}

// listingOrFirst is used after a mutation, where the requested page may have moved out of range.
func (a *API) listingOrFirst(ctx context.Context, page int) (*QuestionsResponse, error) {
	resp, err := a.listing(ctx, page, domain.Filter{}, nil)
	if errors.Is(err, errors.CodeNotFound) && page != 1 {
		return a.listing(ctx, 1, domain.Filter{}, nil)
	}
	return resp, err
}

func (a *API) page(c *gin.Context) (int, bool) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		a.fail(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("page must be an integer"),
			errors.WithCause(err)))
		return 0, false
	}

	return q.Page, true
}

func (a *API) id(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		a.fail(c, errors.New(errors.CodeNotFound, errors.WithCause(err)))
		return 0, false
	}

	return id, true
}

// fail renders err as the uniform error body. The cause is only logged.
func (a *API) fail(c *gin.Context, err error) {
	e := errors.Convert(err)
	status := e.HTTPStatusCode()

	switch {
	case status >= http.StatusInternalServerError:
		slog.ErrorContext(c, "api: request failed", "path", c.Request.URL.Path, "error", err)
	case e.Unwrap() != nil:
		slog.WarnContext(c, "api: request rejected", "path", c.Request.URL.Path, "status", status, "error", err)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Success: false,
		Error:   status,
		Message: e.Message,
	})
}

func invalidPayload(err error) error {
	var ve validator.ValidationErrors
	if !stderrors.As(err, &ve) {
		return errors.New(errors.CodeUnprocessable,
			errors.WithMessagef("malformed request body"),
			errors.WithCause(err))
	}

	fields := make([]string, 0, len(ve))
	for _, fe := range ve {
		fields = append(fields, strings.ToLower(fe.Field()))
	}

	return errors.New(errors.CodeUnprocessable,
		errors.WithMessagef("missing or invalid fields: %s", strings.Join(fields, ", ")),
		errors.WithCause(err))
}
