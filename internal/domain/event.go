package domain

const (
	EventNameQuestionCreated = "question.created"
	EventNameQuestionUpdated = "question.updated"
	EventNameQuestionDeleted = "question.deleted"
)

type EventQuestionCreated struct {
	Question Question
}

func (EventQuestionCreated) Name() string { return EventNameQuestionCreated }

type EventQuestionUpdated struct {
	Question Question
}

func (EventQuestionUpdated) Name() string { return EventNameQuestionUpdated }

type EventQuestionDeleted struct {
	QuestionID int64
}

func (EventQuestionDeleted) Name() string { return EventNameQuestionDeleted }
