// Package scoring asks the model to grade one answer against a rubric and
// validates the score it returns.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"

	"github.com/mind-engage/answer-eval/internal/logger"
	"github.com/mind-engage/answer-eval/internal/rubric"
)

var (
	// ErrModelCall covers transport failures and output that is not JSON even after a retry.
	ErrModelCall = errors.New("LLM call failed")
	// ErrInvalidPayload is JSON that does not match the score contract.
	ErrInvalidPayload = errors.New("LLM returned invalid payload")
)

const retrySuffix = "\nReturn JSON only."

type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Payload is the score contract. Totals are 0..10, each dimension 0..2.
type Payload struct {
	TotalScore                 *float64           `json:"total_score" validate:"required,gte=0,lte=10"`
	DimensionBreakdown         map[string]float64 `json:"dimension_breakdown" validate:"required,dive,gte=0,lte=2"`
	KeyPointsEvaluation        []string           `json:"key_points_evaluation" validate:"required"`
	ImprovementRecommendations []string           `json:"improvement_recommendations" validate:"required"`
}

func (p Payload) Total() float64 {
	if p.TotalScore == nil {
		return 0
	}
	return *p.TotalScore
}

// Result is a validated payload plus the exact JSON object the model produced.
type Result struct {
	Payload Payload
	Raw     json.RawMessage
}

type Client struct {
	llm      Completer
	log      *logger.Logger
	validate *validator.Validate
}

func NewClient(llm Completer, log *logger.Logger) *Client {
	return &Client{
		llm:      llm,
		log:      log.With("component", "ScoringClient"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Score grades answer for the question using body unmodified as the rubric context.
func (c *Client) Score(ctx context.Context, questionText string, body rubric.Body, answer string) (Result, error) {
	prompt := BuildPrompt(questionText, body, answer)

	text, err := c.llm.Complete(ctx, prompt)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrModelCall, err)
	}
	raw, err := decodeObject(text)
	if err != nil {
		c.log.Warn("score output not JSON, asking again", "error", err, "output_len", len(text))
		text, err = c.llm.Complete(ctx, prompt+retrySuffix)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrModelCall, err)
		}
		if raw, err = decodeObject(text); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrModelCall, err)
		}
	}

	p, err := c.Check(raw)
	if err != nil {
		return Result{}, err
	}
	c.log.Debug("answer scored", "total_score", gjson.GetBytes(raw, "total_score").Float())
	return Result{Payload: p, Raw: raw}, nil
}

// Check decodes and validates a raw score object.
func (c *Client) Check(raw json.RawMessage) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := c.validate.Struct(p); err != nil {
		return Payload{}, fmt.Errorf("%w: %s", ErrInvalidPayload, describe(err))
	}
	return p, nil
}

func decodeObject(text string) (json.RawMessage, error) {
	text = strings.TrimSpace(text)
	if !gjson.Valid(text) {
		return nil, errors.New("output is not valid JSON")
	}
	if !gjson.Parse(text).IsObject() {
		return nil, errors.New("output is not a JSON object")
	}
	return json.RawMessage(text), nil
}

func describe(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		field := jsonField(fe.Namespace())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be >= %s, got %v", field, fe.Param(), fe.Value()))
		case "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be <= %s, got %v", field, fe.Param(), fe.Value()))
		default:
			msgs = append(msgs, field+" failed "+fe.Tag())
		}
	}
	return strings.Join(msgs, "; ")
}

var fieldNames = map[string]string{
	"TotalScore":                 "total_score",
	"DimensionBreakdown":         "dimension_breakdown",
	"KeyPointsEvaluation":        "key_points_evaluation",
	"ImprovementRecommendations": "improvement_recommendations",
}

// jsonField turns "Payload.DimensionBreakdown[accuracy]" into "dimension_breakdown[accuracy]".
func jsonField(ns string) string {
	ns = strings.TrimPrefix(ns, "Payload.")
	for goName, jsonName := range fieldNames {
		if strings.HasPrefix(ns, goName) {
			return jsonName + strings.TrimPrefix(ns, goName)
		}
	}
	return ns
}

// BuildPrompt renders the evaluator prompt.
func BuildPrompt(questionText string, body rubric.Body, answer string) string {
	return fmt.Sprintf(`You are an experienced data interview evaluator.
Score on multiple dimensions in one pass and OUTPUT JSON ONLY.

QUESTION
%s

RUBRIC
%s

CANDIDATE ANSWER
%s

OUTPUT FORMAT (JSON):
{
  "total_score": float (0-10),
  "dimension_breakdown": {
    "accuracy": float (0-2),
    "structure": float (0-2),
    "clarity": float (0-2),
    "business": float (0-2),
    "language": float (0-2)
  },
  "key_points_evaluation": ["point -> ok/missing/..."],
  "improvement_recommendations": ["concrete action 1", "concrete action 2"]
}
Only return valid JSON, no extra text.
`, questionText, string(body), answer)
}
