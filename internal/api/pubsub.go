package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/event"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	QuestionDeleted struct {
		ID int64 `json:"id"`
	}
)

// PublishQuestionChanged forwards question events to redis subscribers.
// Created and updated questions also go to the channel of their category.
func (a *API) PublishQuestionChanged(ctx context.Context, e event.Event) error {
	var (
		data     any
		channels = []string{a.channel("questions")}
	)

	switch e := e.(type) {
	case domain.EventQuestionCreated:
		data = toQuestion(e.Question)
		channels = append(channels, a.categoryChannel(e.Question.CategoryID))
	case domain.EventQuestionUpdated:
		data = toQuestion(e.Question)
		channels = append(channels, a.categoryChannel(e.Question.CategoryID))
	case domain.EventQuestionDeleted:
		data = QuestionDeleted{ID: e.QuestionID}
	default:
		return fmt.Errorf("pubsub: unexpected event %s", e.Name())
	}

	b, err := json.Marshal(Notification{
		Event: e.Name(),
		Data:  data,
	})
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", e.Name(), err)
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, ch := range channels {
		eg.Go(func() error {
			return a.redis.Publish(ctx, ch, b).Err()
		})
	}

	return eg.Wait()
}

func (a *API) channel(name string) string {
	return fmt.Sprintf("%s:%s", a.prefix, name)
}

func (a *API) categoryChannel(id int64) string {
	return a.channel(fmt.Sprintf("categories:%d:questions", id))
}
