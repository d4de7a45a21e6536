package evaluation_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mind-engage/answer-eval/internal/db/dbtest"
	"github.com/mind-engage/answer-eval/internal/evaluation"
	"github.com/mind-engage/answer-eval/internal/eventlog"
	"github.com/mind-engage/answer-eval/internal/llm"
	"github.com/mind-engage/answer-eval/internal/logger"
	"github.com/mind-engage/answer-eval/internal/question"
	"github.com/mind-engage/answer-eval/internal/rubric"
	"github.com/mind-engage/answer-eval/internal/scoring"
)

const payload = `{"total_score":8,"dimension_breakdown":{"accuracy":2,"structure":1.5,"clarity":1.5,"business":1.5,"language":1.5},"key_points_evaluation":["deps -> ok"],"improvement_recommendations":["add SLAs"]}`

/* ---------------- fakes ---------------- */

type fakeLLM struct {
	out    string
	err    error
	prompt string
}

func (f *fakeLLM) Complete(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.out, f.err
}

type failingStore struct{ evaluation.Store }

func (failingStore) Insert(context.Context, evaluation.Evaluation) (evaluation.Evaluation, error) {
	return evaluation.Evaluation{}, errors.New("disk full")
}

type brokenResolver struct{}

func (brokenResolver) Resolve(context.Context, rubric.Request) (rubric.Resolution, error) {
	return rubric.Resolution{}, errors.New("db unreachable")
}

type fixture struct {
	svc    *evaluation.Service
	llm    *fakeLLM
	events *eventlog.Repo
	store  *evaluation.SQLStore
}

func newFixture(t *testing.T, mutate func(*evaluation.Deps)) fixture {
	t.Helper()
	h := dbtest.Open(t)
	log := logger.NewNop()
	questions := question.NewSQLStore(h)
	if _, err := questions.Create(context.Background(), question.Question{
		QuestionID: "Q2105", Text: "How do you make Airflow dependencies reliable?", Topic: "airflow",
	}); err != nil {
		t.Fatal(err)
	}
	f := &fakeLLM{out: payload}
	events := eventlog.NewRepo(h, "")
	store := evaluation.NewSQLStore(h)
	deps := evaluation.Deps{
		Questions: questions,
		Rubrics:   rubric.NewResolver(rubric.NewSQLStore(h), rubric.DefaultTopics(), rubric.NewGenerator(f, log), log),
		Scorer:    scoring.NewClient(f, log),
		Store:     store,
		Model:     llm.Metadata{Provider: "openai", ModelID: "gpt-4o-mini", ModelVersion: "openai:gpt-4o-mini"},
		Events:    events,
		Log:       log,
	}
	if mutate != nil {
		mutate(&deps)
	}
	return fixture{svc: evaluation.NewService(deps), llm: f, events: events, store: store}
}

/* ---------------- Evaluate ---------------- */

func TestEvaluate_HappyPath(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)

	res, err := fx.svc.Evaluate(ctx, evaluation.Request{
		QuestionID: "Q2105", StudentID: "student001", StudentAnswer: "  Use retries, sensors and idempotent tasks.  ",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalScore != 8 || res.RubricVersion != "topic-airflow-v1" || res.RubricTier != rubric.TierTopic {
		t.Fatalf("result = %+v", res)
	}
	if res.Provider != "openai" || res.ModelVersion != "openai:gpt-4o-mini" || string(res.RawLLMOutput) != payload {
		t.Fatalf("provenance = %+v", res)
	}

	stored, err := fx.store.Get(ctx, res.EvaluationID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.StudentAnswer != "Use retries, sensors and idempotent tasks." || stored.AutoScore != 8 || stored.FinalScore != nil {
		t.Fatalf("stored = %+v", stored)
	}
	if stored.DimensionScores["accuracy"] != 2 || stored.StudentID != "student001" {
		t.Fatalf("stored = %+v", stored)
	}

	evs, _ := fx.events.Since(ctx, 0, 0)
	if len(evs) != 1 || evs[0].Type != eventlog.EvaluationCreated {
		t.Fatalf("events = %+v", evs)
	}
}

func TestEvaluate_ProvidedRubricReachesPrompt(t *testing.T) {
	fx := newFixture(t, nil)
	custom := rubric.Body(`{"version":"teacher-7","dimensions":{"depth":5}}`)
	res, err := fx.svc.Evaluate(context.Background(), evaluation.Request{
		QuestionID: "Q2105", StudentAnswer: "A long enough answer.", RubricJSON: custom,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.RubricVersion != "teacher-7" {
		t.Fatalf("rubric version = %q", res.RubricVersion)
	}
	if want := string(custom); !strings.Contains(fx.llm.prompt, want) {
		t.Fatalf("prompt lacks provided rubric")
	}
}

func TestEvaluate_UnknownQuestion(t *testing.T) {
	fx := newFixture(t, nil)
	_, err := fx.svc.Evaluate(context.Background(), evaluation.Request{QuestionID: "Q404", StudentAnswer: "whatever text"})
	if !errors.Is(err, evaluation.ErrQuestionNotFound) {
		t.Fatalf("want ErrQuestionNotFound, got %v", err)
	}
	if fx.llm.prompt != "" {
		t.Fatal("model called for unknown question")
	}
}

func TestEvaluate_ModelErrors(t *testing.T) {
	cases := []struct {
		name string
		llm  fakeLLM
		want error
	}{
		{"transport", fakeLLM{err: errors.New("connection refused")}, scoring.ErrModelCall},
		{"invalid payload", fakeLLM{out: `{"total_score":42,"dimension_breakdown":{},"key_points_evaluation":[],"improvement_recommendations":[]}`}, scoring.ErrInvalidPayload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t, nil)
			fx.llm.out, fx.llm.err = tc.llm.out, tc.llm.err
			_, err := fx.svc.Evaluate(context.Background(), evaluation.Request{QuestionID: "Q2105", StudentAnswer: "An answer here."})
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
			items, total, _ := fx.store.List(context.Background(), evaluation.Filter{})
			if total != 0 || len(items) != 0 {
				t.Fatal("failed evaluation was stored")
			}
		})
	}
}

func TestEvaluate_PersistFailure(t *testing.T) {
	fx := newFixture(t, func(d *evaluation.Deps) { d.Store = failingStore{d.Store} })
	_, err := fx.svc.Evaluate(context.Background(), evaluation.Request{QuestionID: "Q2105", StudentAnswer: "An answer here."})
	if !errors.Is(err, evaluation.ErrPersist) {
		t.Fatalf("want ErrPersist, got %v", err)
	}
}

func TestEvaluate_RubricReadFailure(t *testing.T) {
	fx := newFixture(t, func(d *evaluation.Deps) { d.Rubrics = brokenResolver{} })
	_, err := fx.svc.Evaluate(context.Background(), evaluation.Request{QuestionID: "Q2105", StudentAnswer: "An answer here."})
	if !errors.Is(err, evaluation.ErrRubric) {
		t.Fatalf("want ErrRubric, got %v", err)
	}
}

/* ---------------- review + listing ---------------- */

func TestSaveReview(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	res, err := fx.svc.Evaluate(ctx, evaluation.Request{QuestionID: "Q2105", StudentAnswer: "An answer here."})
	if err != nil {
		t.Fatal(err)
	}

	for _, bad := range []float64{-0.5, 10.01} {
		if _, err := fx.svc.SaveReview(ctx, evaluation.Review{EvaluationID: res.EvaluationID, FinalScore: bad}); !errors.Is(err, evaluation.ErrInvalidFinalScore) {
			t.Fatalf("%v: want ErrInvalidFinalScore, got %v", bad, err)
		}
	}
	if _, err := fx.svc.SaveReview(ctx, evaluation.Review{EvaluationID: 999, FinalScore: 5}); !errors.Is(err, evaluation.ErrEvaluationNotFound) {
		t.Fatalf("want ErrEvaluationNotFound, got %v", err)
	}

	e, err := fx.svc.SaveReview(ctx, evaluation.Review{
		EvaluationID: res.EvaluationID, FinalScore: 9.5, Notes: "good depth", ReviewerID: "teacher001",
	})
	if err != nil {
		t.Fatal(err)
	}
	if e.FinalScore == nil || *e.FinalScore != 9.5 || e.AutoScore != 8 {
		t.Fatalf("reviewed = %+v", e)
	}
	if e.ReviewNotes != "good depth" || e.ReviewerID != "teacher001" || e.ReviewedAt == nil {
		t.Fatalf("reviewed = %+v", e)
	}

	evs, _ := fx.events.Since(ctx, 0, 0)
	if len(evs) != 2 || evs[1].Type != eventlog.EvaluationReviewed {
		t.Fatalf("events = %+v", evs)
	}
}

func TestList_FiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	base := time.Unix(1700000000, 0)
	for i, student := range []string{"s1", "s2", "s1"} {
		_, err := fx.store.Insert(ctx, evaluation.Evaluation{
			QuestionID: "Q2105", StudentID: student, StudentAnswer: "a", AutoScore: float64(i),
			DimensionScores: map[string]float64{}, ModelVersion: "m", RubricVersion: "r",
			RawLLMOutput: json.RawMessage(`{}`), CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	items, total, err := fx.svc.List(ctx, evaluation.Filter{StudentID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(items) != 2 || items[0].AutoScore != 2 {
		t.Fatalf("total=%d items=%+v", total, items)
	}
	items, total, _ = fx.svc.List(ctx, evaluation.Filter{QuestionID: "Q2105", Limit: 1, Offset: 1})
	if total != 3 || len(items) != 1 || items[0].AutoScore != 1 {
		t.Fatalf("page = %d %+v", total, items)
	}
	if _, err := fx.svc.Get(ctx, 12345); !errors.Is(err, evaluation.ErrEvaluationNotFound) {
		t.Fatalf("want ErrEvaluationNotFound, got %v", err)
	}
}
