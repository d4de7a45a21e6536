package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mind-engage/answer-eval/internal/eventlog"
	"github.com/mind-engage/answer-eval/internal/llm"
	"github.com/mind-engage/answer-eval/internal/logger"
	"github.com/mind-engage/answer-eval/internal/question"
	"github.com/mind-engage/answer-eval/internal/rubric"
	"github.com/mind-engage/answer-eval/internal/scoring"
)

type QuestionGetter interface {
	Get(ctx context.Context, questionID string) (question.Question, error)
}

type RubricResolver interface {
	Resolve(ctx context.Context, req rubric.Request) (rubric.Resolution, error)
}

type Scorer interface {
	Score(ctx context.Context, questionText string, body rubric.Body, answer string) (scoring.Result, error)
}

type EventRecorder interface {
	Record(ctx context.Context, typ, key string, data any) error
}

// Request is one answer to grade. RubricJSON, when set, overrides every stored rubric.
type Request struct {
	QuestionID    string
	StudentID     string
	StudentAnswer string
	RubricJSON    rubric.Body
}

// Result is the response of an evaluation: the validated score plus provenance.
type Result struct {
	EvaluationID               int64              `json:"evaluation_id"`
	QuestionID                 string             `json:"question_id"`
	TotalScore                 float64            `json:"total_score"`
	DimensionBreakdown         map[string]float64 `json:"dimension_breakdown"`
	KeyPointsEvaluation        []string           `json:"key_points_evaluation"`
	ImprovementRecommendations []string           `json:"improvement_recommendations"`
	RubricVersion              string             `json:"rubric_version"`
	RubricTier                 rubric.Tier        `json:"rubric_tier"`
	Provider                   string             `json:"provider"`
	ModelID                    string             `json:"model_id"`
	ModelVersion               string             `json:"model_version"`
	RawLLMOutput               json.RawMessage    `json:"raw_llm_output"`
}

type Service struct {
	questions QuestionGetter
	rubrics   RubricResolver
	scorer    Scorer
	store     Store
	meta      llm.Metadata
	events    EventRecorder
	log       *logger.Logger
	now       func() time.Time
}

type Deps struct {
	Questions QuestionGetter
	Rubrics   RubricResolver
	Scorer    Scorer
	Store     Store
	Model     llm.Metadata
	Events    EventRecorder // optional
	Log       *logger.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		questions: d.Questions,
		rubrics:   d.Rubrics,
		scorer:    d.Scorer,
		store:     d.Store,
		meta:      d.Model,
		events:    d.Events,
		log:       d.Log.With("component", "EvaluationService"),
		now:       time.Now,
	}
}

// Evaluate looks up the question, resolves a rubric, scores the answer and
// stores the outcome. Model errors come back wrapping scoring.ErrModelCall or
// scoring.ErrInvalidPayload.
func (s *Service) Evaluate(ctx context.Context, req Request) (Result, error) {
	answer := strings.TrimSpace(req.StudentAnswer)

	q, err := s.questions.Get(ctx, req.QuestionID)
	if errors.Is(err, question.ErrNotFound) {
		return Result{}, ErrQuestionNotFound
	}
	if err != nil {
		return Result{}, fmt.Errorf("load question: %w", err)
	}

	res, err := s.rubrics.Resolve(ctx, rubric.Request{
		QuestionID:   q.QuestionID,
		Topic:        q.Topic,
		Provided:     req.RubricJSON,
		QuestionText: q.Text,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrRubric, err)
	}
	s.log.Debug("rubric resolved", "question_id", q.QuestionID, "tier", string(res.Tier), "version", res.Version)

	scored, err := s.scorer.Score(ctx, q.Text, res.Body, answer)
	if err != nil {
		s.log.Warn("scoring failed", "question_id", q.QuestionID, "error", err)
		return Result{}, err
	}
	p := scored.Payload

	saved, err := s.store.Insert(ctx, Evaluation{
		QuestionID:      q.QuestionID,
		StudentID:       req.StudentID,
		StudentAnswer:   answer,
		AutoScore:       p.Total(),
		DimensionScores: p.DimensionBreakdown,
		ModelVersion:    s.meta.ModelVersion,
		RubricVersion:   res.Version,
		RawLLMOutput:    scored.Raw,
		CreatedAt:       s.now(),
	})
	if err != nil {
		s.log.Error("persist evaluation", "question_id", q.QuestionID, "error", err)
		return Result{}, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	s.record(ctx, eventlog.EvaluationCreated, saved.ID, map[string]any{
		"question_id":    q.QuestionID,
		"student_id":     req.StudentID,
		"auto_score":     saved.AutoScore,
		"rubric_version": res.Version,
	})

	return Result{
		EvaluationID:               saved.ID,
		QuestionID:                 q.QuestionID,
		TotalScore:                 p.Total(),
		DimensionBreakdown:         p.DimensionBreakdown,
		KeyPointsEvaluation:        p.KeyPointsEvaluation,
		ImprovementRecommendations: p.ImprovementRecommendations,
		RubricVersion:              res.Version,
		RubricTier:                 res.Tier,
		Provider:                   s.meta.Provider,
		ModelID:                    s.meta.ModelID,
		ModelVersion:               s.meta.ModelVersion,
		RawLLMOutput:               scored.Raw,
	}, nil
}

// SaveReview records a teacher's final score for an evaluation.
func (s *Service) SaveReview(ctx context.Context, r Review) (Evaluation, error) {
	if math.IsNaN(r.FinalScore) || r.FinalScore < 0 || r.FinalScore > MaxFinalScore {
		return Evaluation{}, ErrInvalidFinalScore
	}
	e, err := s.store.SaveReview(ctx, r, s.now())
	if err != nil {
		return Evaluation{}, err
	}
	s.record(ctx, eventlog.EvaluationReviewed, e.ID, map[string]any{
		"auto_score":  e.AutoScore,
		"final_score": r.FinalScore,
		"reviewer_id": r.ReviewerID,
	})
	return e, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Evaluation, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Evaluation, int, error) {
	return s.store.List(ctx, f)
}

func (s *Service) record(ctx context.Context, typ string, id int64, data any) {
	if s.events == nil {
		return
	}
	if err := s.events.Record(ctx, typ, strconv.FormatInt(id, 10), data); err != nil {
		s.log.Warn("record event", "type", typ, "error", err)
	}
}
