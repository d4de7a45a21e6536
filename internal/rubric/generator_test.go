package rubric_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/mind-engage/answer-eval/internal/logger"
	"github.com/mind-engage/answer-eval/internal/rubric"
)

type promptRecorder struct {
	prompt string
	out    string
}

func (p *promptRecorder) Complete(_ context.Context, prompt string) (string, error) {
	p.prompt = prompt
	return p.out, nil
}

func TestParseGenerated_Forms(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"plain", `{"version":"g-1","dimensions":{"accuracy":1,"structure":1,"clarity":1,"business":1,"language":1}}`},
		{"prose", `Sure! Here is the rubric: {"version":"g-1","dimensions":{"accuracy":1,"structure":1,"clarity":1,"business":1,"language":1}} Hope it helps.`},
		{"fenced", "```json\n{\"version\":\"g-1\",\"dimensions\":{\"accuracy\":1,\"structure\":1,\"clarity\":1,\"business\":1,\"language\":1}}\n```"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := rubric.ParseGenerated(tc.raw)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if c.Version != "g-1" || len(c.Dimensions) != 5 {
				t.Fatalf("got %+v", c)
			}
			if c.KeyPoints == nil || c.CommonMistakes == nil {
				t.Fatal("lists must be non-nil")
			}
		})
	}
}

func TestParseGenerated_Failures(t *testing.T) {
	cases := map[string]string{
		"empty":          ``,
		"prose only":     `I cannot help with that.`,
		"broken braces":  `{"dimensions": {"a": 1}`,
		"no dimensions":  `{"version":"x","key_points":["a"]}`,
		"string weight":  `{"dimensions":{"a":"high"}}`,
		"negative":       `{"dimensions":{"a":6,"b":-1}}`,
		"zero sum":       `{"dimensions":{"a":0,"b":0}}`,
		"sum overflows":  `{"dimensions":{"a":1e308,"b":1e308}}`,
		"two objects":    `first {"a":1} then {"b":2}`,
		"version number": `{"version":3,"dimensions":{"a":5}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if c, err := rubric.ParseGenerated(raw); err == nil {
				t.Fatalf("expected failure, got %+v", c)
			}
		})
	}
}

func TestNormalize_ScalesByCommonFactor(t *testing.T) {
	sums := [][]float64{
		{2, 2},
		{1, 1, 1, 1, 1, 1, 1},
		{0.1, 0.2, 0.3},
		{10, 0, 30},
		{4.9999999, 0.0000001},
		{1e-3, 3e-3},
	}
	for _, weights := range sums {
		c := rubric.Content{Dimensions: map[string]float64{}}
		orig := map[string]float64{}
		total := 0.0
		for i, w := range weights {
			k := string(rune('a' + i))
			c.Dimensions[k] = w
			orig[k] = w
			total += w
		}
		if err := rubric.Normalize(&c); err != nil {
			t.Fatalf("%v: %v", weights, err)
		}
		if got := c.WeightSum(); math.Abs(got-rubric.TotalWeight) > 1e-6 {
			t.Fatalf("%v: sum %v", weights, got)
		}
		want := rubric.TotalWeight / total
		if math.Abs(total-rubric.TotalWeight) <= 1e-6 {
			want = 1
		}
		for k, w := range orig {
			if math.Abs(c.Dimensions[k]-w*want) > 1e-9 {
				t.Fatalf("%v: %s scaled to %v, want %v", weights, k, c.Dimensions[k], w*want)
			}
		}
		if c.Version != rubric.VersionAutoGenerated {
			t.Fatalf("version = %q", c.Version)
		}
	}
}

func TestNormalize_KeepsExactSum(t *testing.T) {
	c := rubric.Content{Version: "mine", Dimensions: map[string]float64{"a": 3, "b": 2}}
	if err := rubric.Normalize(&c); err != nil {
		t.Fatal(err)
	}
	if c.Dimensions["a"] != 3 || c.Dimensions["b"] != 2 || c.Version != "mine" {
		t.Fatalf("got %+v", c)
	}
}

func TestGenerate_FallsBackOnModelError(t *testing.T) {
	g := rubric.NewGenerator(&fakeCompleter{err: errors.New("timeout")}, logger.NewNop())
	got := g.Generate(context.Background(), "Explain DAGs.", "airflow")
	if !bytes.Equal(got, rubric.GenericTemplate()) {
		t.Fatalf("got %s", got)
	}
}

func TestGenerate_FallsBackOnGarbage(t *testing.T) {
	g := rubric.NewGenerator(&fakeCompleter{out: "no json here"}, logger.NewNop())
	got := g.Generate(context.Background(), "Explain DAGs.", "")
	if got.Version() != rubric.VersionAutoGenerated {
		t.Fatalf("version = %q", got.Version())
	}
	c, err := got.Content()
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(c.WeightSum()-5) > 1e-9 {
		t.Fatalf("sum = %v", c.WeightSum())
	}
}

func TestGenerate_PromptCarriesQuestion(t *testing.T) {
	rec := &promptRecorder{out: `{"dimensions":{"accuracy":5}}`}
	g := rubric.NewGenerator(rec, nil)
	body := g.Generate(context.Background(), "How do retries interact with idempotency?", "airflow")
	for _, want := range []string{"How do retries interact with idempotency?", "airflow", "JSON"} {
		if !strings.Contains(rec.prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, rec.prompt)
		}
	}
	if body.Version() != rubric.VersionAutoGenerated {
		t.Fatalf("version = %q", body.Version())
	}
}
