// Package rubric decides which scoring criteria apply to a question and keeps the
// versioned rubric history per question.
package rubric

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/tidwall/gjson"
)

// Version labels used when a rubric document does not carry its own.
const (
	VersionManualProvided = "manual-provided"
	VersionManualStored   = "manual-v1"
	VersionAutoGenerated  = "auto-gen-v1"
)

// TotalWeight is the sum of dimension weights in a generated or normalized rubric.
const TotalWeight = 5.0

var (
	ErrNotFound         = errors.New("rubric not found")
	ErrDuplicateVersion = errors.New("rubric version already exists for question")
	ErrInvalidBody      = errors.New("rubric body must be a JSON object")
)

// Body is a rubric document exactly as it is stored in rubric_json and sent to the
// scorer. It is kept as raw bytes so caller-supplied and seeded documents round-trip
// without reordering or dropping unknown keys.
type Body []byte

// Content is the typed view of the well-known rubric fields.
type Content struct {
	Version        string             `json:"version,omitempty"`
	Dimensions     map[string]float64 `json:"dimensions"`
	KeyPoints      []string           `json:"key_points"`
	CommonMistakes []string           `json:"common_mistakes"`
}

// NewBody marshals typed content into a document.
func NewBody(c Content) (Body, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return Body(b), nil
}

// ParseBody validates that raw is a JSON object and copies it.
func ParseBody(raw []byte) (Body, error) {
	trimmed := bytes.TrimSpace(raw)
	if !gjson.ValidBytes(trimmed) || !gjson.ParseBytes(trimmed).IsObject() {
		return nil, ErrInvalidBody
	}
	return Body(bytes.Clone(trimmed)), nil
}

// IsNull reports whether the body is absent (empty or JSON null).
func (b Body) IsNull() bool {
	t := bytes.TrimSpace(b)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// Version returns the document's own "version" string, or "" when missing.
func (b Body) Version() string {
	if b.IsNull() {
		return ""
	}
	v := gjson.GetBytes(b, "version")
	if v.Type != gjson.String {
		return ""
	}
	return v.Str
}

// VersionOr returns the document version or def.
func (b Body) VersionOr(def string) string {
	if v := b.Version(); v != "" {
		return v
	}
	return def
}

// Content decodes the well-known fields.
func (b Body) Content() (Content, error) {
	var c Content
	if b.IsNull() {
		return c, ErrInvalidBody
	}
	err := json.Unmarshal(b, &c)
	return c, err
}

// Clone returns an independent copy.
func (b Body) Clone() Body {
	if b == nil {
		return nil
	}
	return Body(bytes.Clone(b))
}

func (b Body) MarshalJSON() ([]byte, error) {
	if b.IsNull() {
		return []byte("null"), nil
	}
	return b, nil
}

func (b *Body) UnmarshalJSON(data []byte) error {
	*b = Body(bytes.Clone(data))
	return nil
}

// Rubric is one stored version of a question's rubric.
type Rubric struct {
	ID         int64     `json:"id"`
	QuestionID string    `json:"question_id"`
	Version    string    `json:"version"`
	Body       Body      `json:"rubric_json"`
	IsActive   bool      `json:"is_active"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// genericContent is the topic-agnostic template used when nothing better exists.
func genericContent() Content {
	return Content{
		Version: VersionAutoGenerated,
		Dimensions: map[string]float64{
			"accuracy":  1,
			"structure": 1,
			"clarity":   1,
			"business":  1,
			"language":  1,
		},
		KeyPoints:      []string{"Core concepts", "Implementation steps", "Common pitfalls", "Business impact"},
		CommonMistakes: []string{"Too generic", "No concrete examples", "No trade-offs discussed"},
	}
}

// GenericTemplate returns the fixed five-dimension fallback rubric tagged auto-gen-v1.
func GenericTemplate() Body {
	b, _ := NewBody(genericContent())
	return b
}

// WeightSum adds up dimension weights.
func (c Content) WeightSum() float64 {
	sum := 0.0
	for _, w := range c.Dimensions {
		sum += w
	}
	return sum
}
