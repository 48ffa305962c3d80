//go:build integration_test

package demo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/trivia/internal/api"
	"github.com/victornm/trivia/internal/domain"
)

const (
	httpAddr = "http://localhost:8080"
	grpcAddr = "localhost:9090"
)

// TestQuiz plays a full quiz over one category against a running server.
func TestQuiz(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Server should be healthy
	{
		resp, err := makeHealthClient(t).Check(ctx, &healthpb.HealthCheckRequest{})
		require.NoError(t, err)
		require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
	}

	wg := new(sync.WaitGroup)
	subscribeToCategory(t, makeRedis(t), wg, 6)

	// Add a few sports questions
	var created []int64
	for i := range 3 {
		var resp api.QuestionsResponse
		call(t, http.MethodPost, "/questions", map[string]any{
			"question":   fmt.Sprintf("Demo sports question %d", i),
			"answer":     "A",
			"category":   6,
			"difficulty": 1,
		}, &resp)
		created = append(created, resp.Created)
	}
	t.Logf("Created questions %v", created)

	// Play until the quiz is complete
	var previous []int64
	for {
		var resp struct {
			Question json.RawMessage `json:"question"`
		}
		call(t, http.MethodPost, "/quizzes", map[string]any{
			"previous_questions": previous,
			"quiz_category":      map[string]any{"id": 6, "type": "Sports"},
		}, &resp)

		if string(resp.Question) == "false" {
			break
		}

		var q api.Question
		require.NoError(t, json.Unmarshal(resp.Question, &q))
		require.NotContains(t, previous, q.ID)
		t.Logf("Quiz question %d: %s", q.ID, q.Question)
		previous = append(previous, q.ID)
	}
	require.Subset(t, previous, created)

	for _, id := range created {
		call(t, http.MethodDelete, fmt.Sprintf("/questions/%d", id), nil, nil)
	}

	wg.Wait()
}

func call(t *testing.T, method, path string, body any, out any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, httpAddr+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode, "%s %s", method, path)
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
}

func makeHealthClient(t *testing.T) healthpb.HealthClient {
	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return healthpb.NewHealthClient(conn)
}

func subscribeToCategory(t *testing.T, rc redis.UniversalClient, wg *sync.WaitGroup, category int64) {
	wg.Add(1)
	sub := subscribeRedis(t, rc, fmt.Sprintf("trivia:categories:%d:questions", category))
	go func() {
		defer wg.Done()

		for msg := range sub {
			var n struct {
				Event string          `json:"event"`
				Data  json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				t.Logf("unmarshal notification: %v", err)
				continue
			}

			switch n.Event {
			case domain.EventNameQuestionCreated, domain.EventNameQuestionUpdated:
				var q api.Question
				if err := json.Unmarshal(n.Data, &q); err != nil {
					t.Logf("unmarshal question: %v", err)
					continue
				}

				t.Logf("%s: %d %q", n.Event, q.ID, q.Question)
			}
		}
	}()
}

func subscribeRedis(t *testing.T, rc redis.UniversalClient, pattern string) <-chan *redis.Message {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := rc.PSubscribe(ctx, pattern)
	t.Cleanup(func() { sub.Close() })

	c := make(chan *redis.Message)
	go func() {
		defer close(c)

		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				t.Log(err)
				return
			}

			c <- msg
		}
	}()

	return c
}

func makeRedis(t *testing.T) redis.UniversalClient {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{"localhost:6379"},
	})
	t.Cleanup(func() { r.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.Ping(ctx).Err(); err != nil {
		t.Fatal(err)
	}

	return r
}
