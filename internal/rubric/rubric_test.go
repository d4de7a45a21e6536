package rubric_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/mind-engage/answer-eval/internal/rubric"
)

func TestParseBody(t *testing.T) {
	if _, err := rubric.ParseBody([]byte(`  {"a":1}  `)); err != nil {
		t.Fatalf("object rejected: %v", err)
	}
	for _, raw := range []string{``, `null`, `[1]`, `"s"`, `{"a":`} {
		if _, err := rubric.ParseBody([]byte(raw)); !errors.Is(err, rubric.ErrInvalidBody) {
			t.Fatalf("%q: want ErrInvalidBody, got %v", raw, err)
		}
	}
}

func TestBody_Version(t *testing.T) {
	cases := map[string]string{
		`{"version":"v7"}`: "v7",
		`{"version":7}`:    "",
		`{}`:               "",
		`null`:             "",
	}
	for raw, want := range cases {
		if got := rubric.Body(raw).Version(); got != want {
			t.Fatalf("%s: version = %q, want %q", raw, got, want)
		}
	}
	if got := rubric.Body(`{}`).VersionOr("dflt"); got != "dflt" {
		t.Fatalf("VersionOr = %q", got)
	}
}

func TestBody_JSONPassthrough(t *testing.T) {
	in := `{"question_id":"Q1","rubric_json":{"z":1, "a":[true]}}`
	var req struct {
		QuestionID string      `json:"question_id"`
		Rubric     rubric.Body `json:"rubric_json"`
	}
	if err := json.Unmarshal([]byte(in), &req); err != nil {
		t.Fatal(err)
	}
	if string(req.Rubric) != `{"z":1, "a":[true]}` {
		t.Fatalf("rubric = %s", req.Rubric)
	}

	var missing struct {
		Rubric rubric.Body `json:"rubric_json"`
	}
	_ = json.Unmarshal([]byte(`{}`), &missing)
	if !missing.Rubric.IsNull() {
		t.Fatal("absent field should be null")
	}

	out, err := json.Marshal(rubric.Rubric{ID: 1, Body: rubric.Body(`{"z":1}`)})
	if err != nil {
		t.Fatal(err)
	}
	var back map[string]json.RawMessage
	_ = json.Unmarshal(out, &back)
	if string(back["rubric_json"]) != `{"z":1}` {
		t.Fatalf("rubric_json = %s", back["rubric_json"])
	}
}

func TestGenericTemplate(t *testing.T) {
	c, err := rubric.GenericTemplate().Content()
	if err != nil {
		t.Fatal(err)
	}
	if c.Version != rubric.VersionAutoGenerated || len(c.Dimensions) != 5 || c.WeightSum() != 5 {
		t.Fatalf("got %+v", c)
	}
	for name, w := range c.Dimensions {
		if w != 1 {
			t.Fatalf("%s = %v", name, w)
		}
	}
}

func TestTopicTable(t *testing.T) {
	if _, err := rubric.NewTopicTable(map[string]rubric.Content{"x": {}}); err == nil {
		t.Fatal("template without version accepted")
	}
	tbl := rubric.DefaultTopics()
	if got := tbl.Topics(); len(got) != 1 || got[0] != "airflow" {
		t.Fatalf("topics = %v", got)
	}
	if _, _, ok := tbl.Lookup("AIRFLOW"); ok {
		t.Fatal("lookup must be case-sensitive")
	}
	var nilTable *rubric.TopicTable
	if _, _, ok := nilTable.Lookup("airflow"); ok {
		t.Fatal("nil table found a topic")
	}
}

func TestTopicTable_AirflowMatchesSeededLanguage(t *testing.T) {
	body, version, ok := rubric.DefaultTopics().Lookup("airflow")
	if !ok || version != "topic-airflow-v1" {
		t.Fatalf("lookup = %v %q", ok, version)
	}
	c, err := body.Content()
	if err != nil {
		t.Fatal(err)
	}
	if len(c.KeyPoints) != 5 || c.KeyPoints[0] != "DAG/Task 语义与调度周期" {
		t.Fatalf("key points = %q", c.KeyPoints)
	}
	if len(c.CommonMistakes) != 3 || c.CommonMistakes[1] != "忽略依赖与失败恢复" {
		t.Fatalf("mistakes = %q", c.CommonMistakes)
	}
	if c.WeightSum() != rubric.TotalWeight {
		t.Fatalf("weights sum to %v", c.WeightSum())
	}
}
