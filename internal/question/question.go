// Package question is the question bank: the fixed prompts students answer.
package question

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("question not found")
	ErrDuplicate = errors.New("question_id already exists")
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

type Question struct {
	ID         string    `json:"id"`
	QuestionID string    `json:"question_id"`
	Text       string    `json:"text"`
	Topic      string    `json:"topic,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ListOpts struct {
	Topic  string
	Limit  int
	Offset int
}

// Clamp applies the default and maximum page size.
func (o ListOpts) Clamp() ListOpts {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit > MaxLimit {
		o.Limit = MaxLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	Text  *string
	Topic *string
}

type Stats struct {
	RubricsCount     int `json:"rubrics_count"`
	EvaluationsCount int `json:"evaluations_count"`
}

type Store interface {
	Get(ctx context.Context, questionID string) (Question, error)
	List(ctx context.Context, o ListOpts) ([]Question, int, error)
	Create(ctx context.Context, q Question) (Question, error)
	Update(ctx context.Context, questionID string, p Patch) (Question, error)
	// Delete removes the question and, by cascade, its rubrics.
	Delete(ctx context.Context, questionID string) error
	Stats(ctx context.Context, questionID string) (Stats, error)
}
