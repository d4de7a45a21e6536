// Package evaluation runs the grade-an-answer flow and keeps its results,
// including teacher overrides.
package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrQuestionNotFound   = errors.New("question_id not found")
	ErrEvaluationNotFound = errors.New("evaluation not found")
	ErrInvalidFinalScore  = errors.New("final_score must be within [0,10]")
	ErrPersist            = errors.New("failed to persist evaluation result")
	ErrRubric             = errors.New("rubric lookup failed")
)

const (
	MaxFinalScore = 10.0
	DefaultLimit  = 50
	MaxLimit      = 200
)

// Evaluation is one stored grading of a student answer.
type Evaluation struct {
	ID              int64              `json:"id"`
	QuestionID      string             `json:"question_id"`
	StudentID       string             `json:"student_id,omitempty"`
	StudentAnswer   string             `json:"student_answer"`
	AutoScore       float64            `json:"auto_score"`
	FinalScore      *float64           `json:"final_score"`
	DimensionScores map[string]float64 `json:"dimension_scores"`
	ModelVersion    string             `json:"model_version"`
	RubricVersion   string             `json:"rubric_version"`
	RawLLMOutput    json.RawMessage    `json:"raw_llm_output"`
	ReviewNotes     string             `json:"review_notes,omitempty"`
	ReviewerID      string             `json:"reviewer_id,omitempty"`
	ReviewedAt      *time.Time         `json:"reviewed_at,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

type Filter struct {
	QuestionID string
	StudentID  string
	Limit      int
	Offset     int
}

func (f Filter) Clamp() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Review is a teacher's override of the automated score.
type Review struct {
	EvaluationID int64
	FinalScore   float64
	Notes        string
	ReviewerID   string
}

type Store interface {
	Insert(ctx context.Context, e Evaluation) (Evaluation, error)
	Get(ctx context.Context, id int64) (Evaluation, error)
	List(ctx context.Context, f Filter) ([]Evaluation, int, error)
	SaveReview(ctx context.Context, r Review, at time.Time) (Evaluation, error)
}
