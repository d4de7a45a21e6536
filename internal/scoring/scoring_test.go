package scoring_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mind-engage/answer-eval/internal/logger"
	"github.com/mind-engage/answer-eval/internal/rubric"
	"github.com/mind-engage/answer-eval/internal/scoring"
)

const goodPayload = `{"total_score":7.5,"dimension_breakdown":{"accuracy":2,"structure":1.5,"clarity":1.5,"business":1,"language":1.5},"key_points_evaluation":["retries -> ok"],"improvement_recommendations":["mention SLAs"]}`

// scriptedLLM returns outputs in order and records prompts.
type scriptedLLM struct {
	outs    []string
	errs    []error
	prompts []string
}

func (s *scriptedLLM) Complete(_ context.Context, prompt string) (string, error) {
	i := len(s.prompts)
	s.prompts = append(s.prompts, prompt)
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	out := ""
	if i < len(s.outs) {
		out = s.outs[i]
	}
	return out, err
}

func newClient(l *scriptedLLM) *scoring.Client { return scoring.NewClient(l, logger.NewNop()) }

func TestScore_Valid(t *testing.T) {
	l := &scriptedLLM{outs: []string{"\n" + goodPayload + "\n"}}
	body := rubric.Body(`{"version":"v1","dimensions":{"accuracy":5}}`)
	res, err := newClient(l).Score(context.Background(), "What is a DAG?", body, "A DAG is a directed acyclic graph.")
	if err != nil {
		t.Fatal(err)
	}
	if res.Payload.Total() != 7.5 || res.Payload.DimensionBreakdown["accuracy"] != 2 {
		t.Fatalf("payload = %+v", res.Payload)
	}
	if string(res.Raw) != goodPayload {
		t.Fatalf("raw = %s", res.Raw)
	}
	p := l.prompts[0]
	for _, want := range []string{"What is a DAG?", string(body), "A DAG is a directed acyclic graph."} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
}

func TestScore_RetriesOnceWhenNotJSON(t *testing.T) {
	l := &scriptedLLM{outs: []string{"Here you go: total 7", goodPayload}}
	if _, err := newClient(l).Score(context.Background(), "q", rubric.GenericTemplate(), "answer text"); err != nil {
		t.Fatal(err)
	}
	if len(l.prompts) != 2 || !strings.HasSuffix(l.prompts[1], "\nReturn JSON only.") {
		t.Fatalf("prompts = %d, second = %q", len(l.prompts), l.prompts[len(l.prompts)-1])
	}
}

func TestScore_SecondGarbageIsModelFailure(t *testing.T) {
	l := &scriptedLLM{outs: []string{"nope", "still nope"}}
	_, err := newClient(l).Score(context.Background(), "q", rubric.GenericTemplate(), "answer text")
	if !errors.Is(err, scoring.ErrModelCall) {
		t.Fatalf("want ErrModelCall, got %v", err)
	}
}

func TestScore_TransportFailure(t *testing.T) {
	l := &scriptedLLM{errs: []error{errors.New("dial tcp: refused")}}
	_, err := newClient(l).Score(context.Background(), "q", rubric.GenericTemplate(), "answer text")
	if !errors.Is(err, scoring.ErrModelCall) || !strings.Contains(err.Error(), "refused") {
		t.Fatalf("got %v", err)
	}
	if len(l.prompts) != 1 {
		t.Fatalf("transport failure retried at scoring level: %d", len(l.prompts))
	}
}

func TestCheck_Bounds(t *testing.T) {
	c := newClient(&scriptedLLM{})
	cases := map[string]string{
		"total too high":  `{"total_score":11,"dimension_breakdown":{},"key_points_evaluation":[],"improvement_recommendations":[]}`,
		"total negative":  `{"total_score":-1,"dimension_breakdown":{},"key_points_evaluation":[],"improvement_recommendations":[]}`,
		"total missing":   `{"dimension_breakdown":{},"key_points_evaluation":[],"improvement_recommendations":[]}`,
		"dimension high":  `{"total_score":5,"dimension_breakdown":{"accuracy":2.5},"key_points_evaluation":[],"improvement_recommendations":[]}`,
		"dimension low":   `{"total_score":5,"dimension_breakdown":{"accuracy":-0.1},"key_points_evaluation":[],"improvement_recommendations":[]}`,
		"no breakdown":    `{"total_score":5,"key_points_evaluation":[],"improvement_recommendations":[]}`,
		"no key points":   `{"total_score":5,"dimension_breakdown":{},"improvement_recommendations":[]}`,
		"wrong type":      `{"total_score":"high","dimension_breakdown":{},"key_points_evaluation":[],"improvement_recommendations":[]}`,
		"list of numbers": `{"total_score":5,"dimension_breakdown":{},"key_points_evaluation":[1],"improvement_recommendations":[]}`,
		"no improvements": `{"total_score":5,"dimension_breakdown":{},"key_points_evaluation":[]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := c.Check([]byte(raw)); !errors.Is(err, scoring.ErrInvalidPayload) {
				t.Fatalf("want ErrInvalidPayload, got %v", err)
			}
		})
	}

	edge := `{"total_score":0,"dimension_breakdown":{"a":0,"b":2},"key_points_evaluation":[],"improvement_recommendations":[]}`
	if _, err := c.Check([]byte(edge)); err != nil {
		t.Fatalf("edge values rejected: %v", err)
	}
}

func TestCheck_MessageNamesField(t *testing.T) {
	c := newClient(&scriptedLLM{})
	_, err := c.Check([]byte(`{"total_score":5,"dimension_breakdown":{"clarity":3},"key_points_evaluation":[],"improvement_recommendations":[]}`))
	if err == nil || !strings.Contains(err.Error(), "dimension_breakdown[clarity]") {
		t.Fatalf("got %v", err)
	}
}
