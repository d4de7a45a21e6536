package rubric

import (
	"context"
	"fmt"
	"time"

	"github.com/mind-engage/answer-eval/internal/logger"
)

// Tier names the fallback level that produced a resolution.
type Tier string

const (
	TierProvided  Tier = "provided"
	TierStored    Tier = "stored"
	TierTopic     Tier = "topic"
	TierGenerated Tier = "generated"
	TierGeneric   Tier = "generic"
)

// CreatedBySystem marks rubrics the service wrote on its own.
const CreatedBySystem = "system"

// EventRubricGenerated is recorded when a drafted rubric is persisted.
const EventRubricGenerated = "RubricGenerated"

const defaultSaveTimeout = 5 * time.Second

// Drafter produces a rubric from question text without side effects.
type Drafter interface {
	Generate(ctx context.Context, questionText, topic string) Body
}

// EventRecorder receives audit events. Failures are logged, never returned.
type EventRecorder interface {
	Record(ctx context.Context, typ, key string, data any) error
}

// Request is one resolution input. Provided and QuestionText are optional.
type Request struct {
	QuestionID   string
	Topic        string
	Provided     Body
	QuestionText string
}

// Resolution is the rubric to score with and where it came from.
type Resolution struct {
	Body    Body   `json:"rubric"`
	Version string `json:"version"`
	Tier    Tier   `json:"tier"`
	// Saved reports that a generated rubric was inserted by this call.
	Saved bool `json:"saved,omitempty"`
}

type Resolver struct {
	store       Store
	topics      *TopicTable
	gen         Drafter
	events      EventRecorder
	log         *logger.Logger
	saveTimeout time.Duration
}

type Option func(*Resolver)

func WithEvents(e EventRecorder) Option { return func(r *Resolver) { r.events = e } }

func WithSaveTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.saveTimeout = d
		}
	}
}

func NewResolver(store Store, topics *TopicTable, gen Drafter, log *logger.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		store:       store,
		topics:      topics,
		gen:         gen,
		log:         log.With("component", "RubricResolver"),
		saveTimeout: defaultSaveTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve picks the rubric for a question: the caller's own, then the stored one
// (active, else most recent), then the topic default, then a generated one.
// Only store read failures are returned.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Resolution, error) {
	if !req.Provided.IsNull() {
		return Resolution{
			Body:    req.Provided,
			Version: req.Provided.VersionOr(VersionManualProvided),
			Tier:    TierProvided,
		}, nil
	}

	stored, err := r.findStored(ctx, req.QuestionID)
	if err != nil {
		return Resolution{}, err
	}
	if stored != nil {
		return Resolution{
			Body:    stored.Body,
			Version: stored.Body.VersionOr(VersionManualStored),
			Tier:    TierStored,
		}, nil
	}

	if body, version, ok := r.topics.Lookup(req.Topic); ok {
		return Resolution{Body: body, Version: version, Tier: TierTopic}, nil
	}

	if req.QuestionText == "" || r.gen == nil {
		return Resolution{Body: GenericTemplate(), Version: VersionAutoGenerated, Tier: TierGeneric}, nil
	}

	body := r.gen.Generate(ctx, req.QuestionText, req.Topic)
	res := Resolution{
		Body:    body,
		Version: body.VersionOr(VersionAutoGenerated),
		Tier:    TierGenerated,
	}
	saved, err := r.TrySave(ctx, req.QuestionID, body)
	if err != nil {
		r.log.Warn("generated rubric not saved", "question_id", req.QuestionID, "version", res.Version, "error", err)
	} else if !saved {
		r.log.Debug("generated rubric version already stored", "question_id", req.QuestionID, "version", res.Version)
	}
	res.Saved = saved
	return res, nil
}

func (r *Resolver) findStored(ctx context.Context, questionID string) (*Rubric, error) {
	active, err := r.store.FindActive(ctx, questionID)
	if err != nil {
		return nil, fmt.Errorf("find active rubric: %w", err)
	}
	if active != nil {
		return active, nil
	}
	latest, err := r.store.FindLatest(ctx, questionID)
	if err != nil {
		return nil, fmt.Errorf("find latest rubric: %w", err)
	}
	return latest, nil
}

// TrySave persists a generated rubric as non-active. The write is detached from
// ctx cancellation: once generation finished, an abandoned request still saves.
func (r *Resolver) TrySave(ctx context.Context, questionID string, body Body) (bool, error) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.saveTimeout)
	defer cancel()

	saved, err := r.store.Save(saveCtx, questionID, body, CreatedBySystem)
	if err != nil || !saved {
		return saved, err
	}
	if r.events != nil {
		data := map[string]string{"question_id": questionID, "version": body.VersionOr(VersionAutoGenerated)}
		if err := r.events.Record(saveCtx, EventRubricGenerated, questionID, data); err != nil {
			r.log.Warn("record rubric event", "error", err)
		}
	}
	return true, nil
}
