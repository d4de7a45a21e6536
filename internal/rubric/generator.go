package rubric

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/mind-engage/answer-eval/internal/logger"
)

// Completer is the slice of the LLM client the generator needs.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// weightTolerance is how far a weight sum may drift from TotalWeight before rescaling.
const weightTolerance = 1e-6

var (
	errNoJSON         = errors.New("no JSON object in model output")
	errNoDimensions   = errors.New("rubric has no dimensions")
	errBadWeight      = errors.New("dimension weight must be a finite number >= 0")
	errNonPositiveSum = errors.New("dimension weights must sum to a positive finite value")
)

// Generator drafts a rubric for a question with a generative model. It never
// fails: every error path yields the generic template.
type Generator struct {
	llm Completer
	log *logger.Logger
}

func NewGenerator(llm Completer, log *logger.Logger) *Generator {
	return &Generator{llm: llm, log: log}
}

// Generate returns a normalized rubric for the question. It performs no writes.
func (g *Generator) Generate(ctx context.Context, questionText, topic string) Body {
	if g == nil || g.llm == nil {
		return GenericTemplate()
	}
	raw, err := g.llm.Complete(ctx, generationPrompt(questionText, topic))
	if err != nil {
		g.log.Warn("rubric generation: model call failed", "topic", topic, "error", err)
		return GenericTemplate()
	}
	c, err := ParseGenerated(raw)
	if err != nil {
		g.log.Warn("rubric generation: unusable model output", "topic", topic, "error", err, "output_len", len(raw))
		return GenericTemplate()
	}
	b, err := NewBody(c)
	if err != nil {
		g.log.Warn("rubric generation: encode failed", "error", err)
		return GenericTemplate()
	}
	return b
}

func generationPrompt(questionText, topic string) string {
	if topic == "" {
		topic = "general"
	}
	return fmt.Sprintf(`You design grading rubrics for short written answers.
Write a rubric for the question below and OUTPUT JSON ONLY.

TOPIC
%s

QUESTION
%s

OUTPUT FORMAT (JSON):
{
  "version": "auto-gen-v1",
  "dimensions": {"accuracy": 1, "structure": 1, "clarity": 1, "business": 1, "language": 1},
  "key_points": ["3 to 5 points a strong answer must cover"],
  "common_mistakes": ["2 to 3 typical mistakes"]
}
Dimension weights must add up to 5. Only return valid JSON, no extra text.
`, topic, questionText)
}

// ParseGenerated decodes model output into rubric content and normalizes it.
// Output that is not pure JSON is retried on the span from the first '{' to the
// last '}'.
func ParseGenerated(raw string) (Content, error) {
	var c Content
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &c); err != nil {
		candidate, ok := extractObject(raw)
		if !ok {
			return Content{}, errNoJSON
		}
		c = Content{}
		if err := json.Unmarshal([]byte(candidate), &c); err != nil {
			return Content{}, fmt.Errorf("decode extracted object: %w", err)
		}
	}
	if err := Normalize(&c); err != nil {
		return Content{}, err
	}
	return c, nil
}

func extractObject(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	candidate := raw[start : end+1]
	if !gjson.Valid(candidate) || !gjson.Parse(candidate).IsObject() {
		return "", false
	}
	return candidate, true
}

// Normalize rescales dimension weights so they sum to TotalWeight and fills in
// the default version and empty lists.
func Normalize(c *Content) error {
	if len(c.Dimensions) == 0 {
		return errNoDimensions
	}
	sum := 0.0
	for name, w := range c.Dimensions {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: %s=%v", errBadWeight, name, w)
		}
		sum += w
	}
	if sum <= 0 || math.IsInf(sum, 0) {
		return errNonPositiveSum
	}
	if math.Abs(sum-TotalWeight) > weightTolerance {
		f := TotalWeight / sum
		for name, w := range c.Dimensions {
			c.Dimensions[name] = w * f
		}
	}
	if c.Version == "" {
		c.Version = VersionAutoGenerated
	}
	if c.KeyPoints == nil {
		c.KeyPoints = []string{}
	}
	if c.CommonMistakes == nil {
		c.CommonMistakes = []string{}
	}
	return nil
}
