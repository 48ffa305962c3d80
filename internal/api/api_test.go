package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/trivia/internal/api"
	"github.com/victornm/trivia/internal/auth"
	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/event"
	"github.com/victornm/trivia/internal/question"
	"github.com/victornm/trivia/internal/storage/memory"
)

const testSecret = "test-secret"

func TestAPI_ListQuestions(t *testing.T) {
	tests := map[string]struct {
		path   string
		assert func(t *testing.T, status int, body map[string]any)
	}{
		"first page should hold ids 1 to 10": {
			path: "/questions",
			assert: func(t *testing.T, status int, body map[string]any) {
				require.Equal(t, http.StatusOK, status)
				assert.Equal(t, true, body["success"])
				assert.Equal(t, float64(18), body["total_questions"])
				assert.Equal(t, rangeIDs(1, 10), bodyIDs(body))
				assert.Nil(t, body["current_category"])
				assert.Len(t, body["categories"], 6)
			},
		},

		"second page should hold ids 11 to 18": {
			path: "/questions?page=2",
			assert: func(t *testing.T, status int, body map[string]any) {
				require.Equal(t, http.StatusOK, status)
				assert.Equal(t, rangeIDs(11, 18), bodyIDs(body))
			},
		},

		"page past the end should be not found": {
			path: "/questions?page=3",
			assert: func(t *testing.T, status int, body map[string]any) {
				assertError(t, http.StatusNotFound, status, body)
			},
		},

		"page whose offset overflows should be not found": {
			path: "/questions?page=4611686018427387905",
			assert: func(t *testing.T, status int, body map[string]any) {
				assertError(t, http.StatusNotFound, status, body)
			},
		},

		"non numeric page should be a bad request": {
			path: "/questions?page=abc",
			assert: func(t *testing.T, status int, body map[string]any) {
				assertError(t, http.StatusBadRequest, status, body)
			},
		},

		"category listing should echo the category": {
			path: "/categories/3/questions",
			assert: func(t *testing.T, status int, body map[string]any) {
				require.Equal(t, http.StatusOK, status)
				assert.Equal(t, float64(6), body["total_questions"])
				assert.Equal(t, map[string]any{"id": float64(3), "type": "Geography"}, body["current_category"])
			},
		},

		"category without questions should be an empty page": {
			path: "/categories/6/questions",
			assert: func(t *testing.T, status int, body map[string]any) {
				require.Equal(t, http.StatusOK, status)
				assert.Equal(t, float64(0), body["total_questions"])
				assert.Empty(t, body["questions"])
			},
		},

		"unknown category should be not found": {
			path: "/categories/99/questions",
			assert: func(t *testing.T, status int, body map[string]any) {
				assertError(t, http.StatusNotFound, status, body)
			},
		},

		"unknown route should be not found": {
			path: "/nothing",
			assert: func(t *testing.T, status int, body map[string]any) {
				assertError(t, http.StatusNotFound, status, body)
			},
		},
	}

	e := makeEngine(t, api.Config{})

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			status, body := do(t, e, http.MethodGet, tt.path, nil, "")
			tt.assert(t, status, body)
		})
	}
}

func TestAPI_ListCategories(t *testing.T) {
	e := makeEngine(t, api.Config{})

	status, body := do(t, e, http.MethodGet, "/categories", nil, "")

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(6), body["total_categories"])
	assert.Equal(t, "Science", body["categories"].(map[string]any)["1"])
}

func TestAPI_SearchQuestions(t *testing.T) {
	e := makeEngine(t, api.Config{})

	status, body := do(t, e, http.MethodPost, "/questions", map[string]any{"searchTerm": "NUMBER 1"}, "")

	require.Equal(t, http.StatusOK, status)
	// 1, 10..18
	assert.Equal(t, float64(10), body["total_questions"])
	assert.Equal(t, append([]int64{1}, rangeIDs(10, 18)...), bodyIDs(body))
}

func TestAPI_CreateQuestion(t *testing.T) {
	tests := map[string]struct {
		body   map[string]any
		assert func(t *testing.T, status int, body map[string]any)
	}{
		"valid question should be created": {
			body: map[string]any{"question": "Who?", "answer": "Me", "category": 2, "difficulty": 3},
			assert: func(t *testing.T, status int, body map[string]any) {
				require.Equal(t, http.StatusOK, status)
				assert.Equal(t, float64(19), body["created"])
				assert.Equal(t, float64(19), body["total_questions"])
			},
		},

		"numeric strings should be accepted": {
			body: map[string]any{"question": "Who?", "answer": "Me", "category": "2", "difficulty": "3"},
			assert: func(t *testing.T, status int, body map[string]any) {
				require.Equal(t, http.StatusOK, status)
				assert.Equal(t, float64(19), body["created"])
			},
		},

		"missing fields should be unprocessable": {
			body: map[string]any{"question": "Who?"},
			assert: func(t *testing.T, status int, body map[string]any) {
				assertError(t, http.StatusUnprocessableEntity, status, body)
				assert.Contains(t, body["message"], "answer")
			},
		},

		"unknown category should be unprocessable": {
			body: map[string]any{"question": "Who?", "answer": "Me", "category": 42, "difficulty": 1},
			assert: func(t *testing.T, status int, body map[string]any) {
				assertError(t, http.StatusUnprocessableEntity, status, body)
			},
		},

		"empty body should be unprocessable": {
			assert: func(t *testing.T, status int, body map[string]any) {
				assertError(t, http.StatusUnprocessableEntity, status, body)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			e := makeEngine(t, api.Config{})
			status, body := do(t, e, http.MethodPost, "/questions", tt.body, "")
			tt.assert(t, status, body)
		})
	}
}

func TestAPI_GetAndReplaceQuestion(t *testing.T) {
	e := makeEngine(t, api.Config{})

	status, body := do(t, e, http.MethodGet, "/questions/4", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Question number 4", body["question"].(map[string]any)["question"])

	status, body = do(t, e, http.MethodPut, "/questions/4",
		map[string]any{"question": "Changed", "answer": "Yes", "category": 5, "difficulty": 2}, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(4), body["updated"])
	assert.Equal(t, "Changed", body["question"].(map[string]any)["question"])

	status, body = do(t, e, http.MethodPut, "/questions/4", map[string]any{"question": "Changed"}, "")
	assertError(t, http.StatusUnprocessableEntity, status, body)

	status, body = do(t, e, http.MethodPut, "/questions/404",
		map[string]any{"question": "Changed", "answer": "Yes", "category": 5, "difficulty": 2}, "")
	assertError(t, http.StatusUnprocessableEntity, status, body)

	status, body = do(t, e, http.MethodGet, "/questions/404", nil, "")
	assertError(t, http.StatusNotFound, status, body)
}

func TestAPI_DeleteQuestion(t *testing.T) {
	e := makeEngine(t, api.Config{})

	status, body := do(t, e, http.MethodDelete, "/questions/5", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(5), body["deleted"])
	assert.Equal(t, float64(17), body["total_questions"])

	status, body = do(t, e, http.MethodDelete, "/questions/5", nil, "")
	assertError(t, http.StatusUnprocessableEntity, status, body)

	status, body = do(t, e, http.MethodDelete, "/questions/abc", nil, "")
	assertError(t, http.StatusNotFound, status, body)
}

func TestAPI_DeleteQuestion_LastItemOfPage(t *testing.T) {
	e := makeEngine(t, api.Config{})

	for id := 11; id < 18; id++ {
		status, _ := do(t, e, http.MethodDelete, fmt.Sprintf("/questions/%d", id), nil, "")
		require.Equal(t, http.StatusOK, status)
	}

	status, body := do(t, e, http.MethodDelete, "/questions/18?page=2", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, rangeIDs(1, 10), bodyIDs(body), "page 2 is gone, the first page should be listed")
}

func TestAPI_NextQuizQuestion(t *testing.T) {
	tests := map[string]struct {
		method string
		body   map[string]any
		assert func(t *testing.T, status int, body map[string]any)
	}{
		"question should come from the requested category": {
			method: http.MethodPost,
			body: map[string]any{
				"previous_questions": []int64{3, 6, 9},
				"quiz_category":      map[string]any{"id": 3, "type": "Geography"},
			},
			assert: func(t *testing.T, status int, body map[string]any) {
				require.Equal(t, http.StatusOK, status)
				q := body["question"].(map[string]any)
				assert.Equal(t, float64(3), q["category"])
				assert.Contains(t, []float64{12, 15, 18}, q["id"])
				assert.Equal(t, map[string]any{"id": float64(3), "type": "Geography"}, body["current_category"])
			},
		},

		"all questions seen should complete the quiz": {
			method: http.MethodPost,
			body: map[string]any{
				"previous_questions": []int64{3, 6, 9, 12, 15, 18},
				"quiz_category":      map[string]any{"id": "3", "type": "Geography"},
			},
			assert: func(t *testing.T, status int, body map[string]any) {
				require.Equal(t, http.StatusOK, status)
				assert.Equal(t, false, body["question"])
			},
		},

		"category zero should pick from every category": {
			method: http.MethodPost,
			body:   map[string]any{"previous_questions": []int64{}, "quiz_category": map[string]any{"id": 0, "type": "click"}},
			assert: func(t *testing.T, status int, body map[string]any) {
				require.Equal(t, http.StatusOK, status)
				assert.NotEqual(t, false, body["question"])
			},
		},

		"unknown category should be not found": {
			method: http.MethodPost,
			body:   map[string]any{"quiz_category": map[string]any{"id": 99}},
			assert: func(t *testing.T, status int, body map[string]any) {
				assertError(t, http.StatusNotFound, status, body)
			},
		},

		"other verbs should not be allowed": {
			method: http.MethodGet,
			assert: func(t *testing.T, status int, body map[string]any) {
				assertError(t, http.StatusMethodNotAllowed, status, body)
			},
		},
	}

	e := makeEngine(t, api.Config{})

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			status, body := do(t, e, tt.method, "/quizzes", tt.body, "")
			tt.assert(t, status, body)
		})
	}
}

func TestAPI_QuizRateLimit(t *testing.T) {
	e := makeEngine(t, api.Config{QuizLimit: api.RateLimit{RPS: 0.001, Burst: 1}})

	status, _ := do(t, e, http.MethodPost, "/quizzes", map[string]any{}, "")
	require.Equal(t, http.StatusOK, status)

	status, body := do(t, e, http.MethodPost, "/quizzes", map[string]any{}, "")
	assertError(t, http.StatusTooManyRequests, status, body)
}

func TestAPI_Permissions(t *testing.T) {
	v := auth.NewVerifier(auth.Config{Secret: testSecret})
	token := func(perms ...string) string {
		s, err := v.Sign(auth.Claims{
			Permissions: perms,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		require.NoError(t, err)
		return "Bearer " + s
	}

	valid := map[string]any{"question": "Who?", "answer": "Me", "category": 1, "difficulty": 1}

	tests := map[string]struct {
		method string
		path   string
		body   map[string]any
		header string
		want   int
	}{
		"create without token should be unauthorized": {
			method: http.MethodPost, path: "/questions", body: valid,
			want: http.StatusUnauthorized,
		},
		"create with a wrong permission should be forbidden": {
			method: http.MethodPost, path: "/questions", body: valid, header: token(auth.PermissionDeleteQuestions),
			want: http.StatusForbidden,
		},
		"create with permission should succeed": {
			method: http.MethodPost, path: "/questions", body: valid, header: token(auth.PermissionCreateQuestions),
			want: http.StatusOK,
		},
		"search should not need a token": {
			method: http.MethodPost, path: "/questions", body: map[string]any{"searchTerm": "question"},
			want: http.StatusOK,
		},
		"delete with a garbage token should be unauthorized": {
			method: http.MethodDelete, path: "/questions/1", header: "Bearer garbage",
			want: http.StatusUnauthorized,
		},
		"delete with permission should succeed": {
			method: http.MethodDelete, path: "/questions/2", header: token(auth.PermissionDeleteQuestions),
			want: http.StatusOK,
		},
		"replace without permission should be forbidden": {
			method: http.MethodPut, path: "/questions/3", body: valid, header: token(),
			want: http.StatusForbidden,
		},
	}

	e := makeEngine(t, api.Config{Verifier: v})

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			status, body := do(t, e, tt.method, tt.path, tt.body, tt.header)
			require.Equal(t, tt.want, status, "body: %v", body)
		})
	}
}

func TestAPI_CORS(t *testing.T) {
	e := makeEngine(t, api.Config{})

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/questions", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAPI_PublishQuestionChanged(t *testing.T) {
	ctx := context.Background()

	rs := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: rs.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	sub := rdb.Subscribe(ctx, "test:questions", "test:categories:2:questions")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	ch := sub.Channel()

	eb := event.NewBus()
	e := makeEngine(t, api.Config{EventBus: eb, Redis: rdb, PubsubPrefix: "test"})

	status, body := do(t, e, http.MethodPost, "/questions",
		map[string]any{"question": "Who?", "answer": "Me", "category": 2, "difficulty": 3}, "")
	require.Equal(t, http.StatusOK, status, "body: %v", body)

	status, _ = do(t, e, http.MethodDelete, "/questions/1", nil, "")
	require.Equal(t, http.StatusOK, status)

	eb.Stop()

	received := make(map[string][]api.Notification)
	timeout := time.After(2 * time.Second)
	for n := 0; n < 3; n++ {
		select {
		case msg := <-ch:
			var got api.Notification
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
			received[msg.Channel] = append(received[msg.Channel], got)
		case <-timeout:
			t.Fatalf("timed out, got %v", received)
		}
	}

	require.Len(t, received["test:categories:2:questions"], 1)
	assert.Equal(t, domain.EventNameQuestionCreated, received["test:categories:2:questions"][0].Event)

	var names []string
	for _, n := range received["test:questions"] {
		names = append(names, n.Event)
	}
	assert.ElementsMatch(t, []string{domain.EventNameQuestionCreated, domain.EventNameQuestionDeleted}, names)
}

func makeEngine(t *testing.T, c api.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	qs := question.NewService(question.Config{
		Store:    memory.New(domain.DefaultCategories),
		EventBus: c.EventBus,
	})

	// Question i belongs to category (i-1)%3+1. Seeded before the API subscribes, so no notifications.
	for i := 1; i <= 18; i++ {
		_, err := qs.Insert(context.Background(), question.InsertRequest{
			Question:   fmt.Sprintf("Question number %d", i),
			Answer:     fmt.Sprintf("Answer %d", i),
			CategoryID: int64((i-1)%3 + 1),
			Difficulty: 1,
		})
		require.NoError(t, err)
	}

	if c.Verifier == nil {
		c.Verifier = auth.NewVerifier(auth.Config{})
	}
	if c.Redis == nil {
		// no publisher, the seed events have nowhere to go
		c.EventBus = nil
	}

	c.Engine = gin.New()
	c.Question = qs
	api.New(c)

	return c.Engine
}

func do(t *testing.T, e *gin.Engine, method, path string, body map[string]any, authorization string) (int, map[string]any) {
	t.Helper()

	var r *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if authorization != "" {
		r.Header.Set("Authorization", authorization)
	}

	w := httptest.NewRecorder()
	e.ServeHTTP(w, r)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	}

	return w.Code, out
}

func assertError(t *testing.T, want, status int, body map[string]any) {
	t.Helper()

	require.Equal(t, want, status, "body: %v", body)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, float64(want), body["error"])
	assert.NotEmpty(t, body["message"])
}

func rangeIDs(from, to int64) []int64 {
	out := make([]int64, 0, to-from+1)
	for id := from; id <= to; id++ {
		out = append(out, id)
	}
	return out
}

func bodyIDs(body map[string]any) []int64 {
	qs, _ := body["questions"].([]any)
	out := make([]int64, 0, len(qs))
	for _, q := range qs {
		out = append(out, int64(q.(map[string]any)["id"].(float64)))
	}
	return out
}
