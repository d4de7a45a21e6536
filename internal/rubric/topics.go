package rubric

import (
	"fmt"
	"sort"
)

// TopicTable maps a topic to a canned rubric document. It is built once and never
// mutated; lookups hand out copies.
type TopicTable struct {
	m map[string]Body
}

// NewTopicTable marshals every template once. Each template must carry a version.
func NewTopicTable(templates map[string]Content) (*TopicTable, error) {
	m := make(map[string]Body, len(templates))
	for topic, c := range templates {
		if c.Version == "" {
			return nil, fmt.Errorf("topic %q: template has no version", topic)
		}
		b, err := NewBody(c)
		if err != nil {
			return nil, fmt.Errorf("topic %q: %w", topic, err)
		}
		m[topic] = b
	}
	return &TopicTable{m: m}, nil
}

// Lookup is exact-match and case-sensitive.
func (t *TopicTable) Lookup(topic string) (Body, string, bool) {
	if t == nil {
		return nil, "", false
	}
	b, ok := t.m[topic]
	if !ok {
		return nil, "", false
	}
	return b.Clone(), b.Version(), true
}

// Topics lists the configured topics in sorted order.
func (t *TopicTable) Topics() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.m))
	for k := range t.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DefaultTopicTemplates is the seed data shipped with the service.
func DefaultTopicTemplates() map[string]Content {
	return map[string]Content{
		"airflow": {
			Version: "topic-airflow-v1",
			Dimensions: map[string]float64{
				"accuracy":  1,
				"structure": 1,
				"clarity":   1,
				"business":  1,
				"language":  1,
			},
			KeyPoints: []string{
				"DAG/Task 语义与调度周期",
				"依赖与重试策略",
				"Idempotency 与可重复运行",
				"监控与告警（SLAs/回填）",
				"资源/队列/并发控制",
			},
			CommonMistakes: []string{
				"只谈工具不谈trade-off",
				"忽略依赖与失败恢复",
				"缺少业务例子或影响",
			},
		},
	}
}

// DefaultTopics builds the table from DefaultTopicTemplates.
func DefaultTopics() *TopicTable {
	t, err := NewTopicTable(DefaultTopicTemplates())
	if err != nil {
		panic(err) // static data
	}
	return t
}
