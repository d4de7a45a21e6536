package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	auth "github.com/mind-engage/answer-eval/internal/auth/middleware"
	"github.com/mind-engage/answer-eval/internal/eventlog"
	"github.com/mind-engage/answer-eval/internal/logger"
	"github.com/mind-engage/answer-eval/internal/question"
	"github.com/mind-engage/answer-eval/internal/rubric"
)

type RubricResolver interface {
	Resolve(ctx context.Context, req rubric.Request) (rubric.Resolution, error)
}

type EventRecorder interface {
	Record(ctx context.Context, typ, key string, data any) error
}

// RubricHandlers serves teacher rubric management under a question.
type RubricHandlers struct {
	Questions question.Store
	Rubrics   rubric.Store
	Resolver  RubricResolver
	Events    EventRecorder // optional
	Log       *logger.Logger
}

func (h RubricHandlers) record(ctx context.Context, typ string, rb rubric.Rubric, actor string) {
	if h.Events == nil {
		return
	}
	err := h.Events.Record(ctx, typ, strconv.FormatInt(rb.ID, 10), map[string]any{
		"question_id": rb.QuestionID,
		"version":     rb.Version,
		"actor":       actor,
	})
	if err != nil {
		h.Log.Warn("record event", "type", typ, "error", err)
	}
}

// GET /questions/{questionID}/rubrics
func (h RubricHandlers) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qid := chi.URLParam(r, "questionID")
		if _, err := h.Questions.Get(r.Context(), qid); err != nil {
			writeError(w, h.Log, err)
			return
		}
		items, err := h.Rubrics.ListByQuestion(r.Context(), qid)
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		respondJSON(w, http.StatusOK, Page[rubric.Rubric]{Total: len(items), Items: items})
	}
}

type rubricReq struct {
	RubricJSON rubric.Body `json:"rubric_json" validate:"required"`
	Activate   bool        `json:"activate"`
}

// POST /questions/{questionID}/rubrics  {"rubric_json": {...}, "activate": true}
func (h RubricHandlers) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rubricReq
		if !decodeAndValidate(w, r, &req) {
			return
		}
		body, err := rubric.ParseBody(req.RubricJSON)
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		ctx := r.Context()
		qid := chi.URLParam(r, "questionID")
		if _, err := h.Questions.Get(ctx, qid); err != nil {
			writeError(w, h.Log, err)
			return
		}
		actor := auth.SubjectFromContext(ctx)
		rb, err := h.Rubrics.Create(ctx, qid, body, actor)
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		h.record(ctx, eventlog.RubricCreated, rb, actor)
		if req.Activate {
			if rb, err = h.activate(ctx, rb.ID, actor); err != nil {
				writeError(w, h.Log, err)
				return
			}
		}
		respondJSON(w, http.StatusCreated, rb)
	}
}

func (h RubricHandlers) activate(ctx context.Context, id int64, actor string) (rubric.Rubric, error) {
	if err := h.Rubrics.Activate(ctx, id); err != nil {
		return rubric.Rubric{}, err
	}
	rb, err := h.Rubrics.Get(ctx, id)
	if err != nil {
		return rubric.Rubric{}, err
	}
	h.record(ctx, eventlog.RubricActivated, rb, actor)
	return rb, nil
}

// POST /rubrics/{rubricID}/activate
func (h RubricHandlers) Activate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := rubricID(w, r)
		if !ok {
			return
		}
		rb, err := h.activate(r.Context(), id, auth.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		respondJSON(w, http.StatusOK, rb)
	}
}

// PUT /rubrics/{rubricID}  replaces the document; the version label stays.
func (h RubricHandlers) Update() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := rubricID(w, r)
		if !ok {
			return
		}
		var req rubricReq
		if !decodeAndValidate(w, r, &req) {
			return
		}
		body, err := rubric.ParseBody(req.RubricJSON)
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		rb, err := h.Rubrics.UpdateBody(r.Context(), id, body)
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		respondJSON(w, http.StatusOK, rb)
	}
}

// GET /questions/{questionID}/rubric/resolve
// Runs the same fallback chain as an evaluation without a caller rubric. May
// persist a generated rubric.
func (h RubricHandlers) Resolve() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := h.Questions.Get(r.Context(), chi.URLParam(r, "questionID"))
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		res, err := h.Resolver.Resolve(r.Context(), rubric.Request{
			QuestionID:   q.QuestionID,
			Topic:        q.Topic,
			QuestionText: q.Text,
		})
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		respondJSON(w, http.StatusOK, res)
	}
}

func rubricID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "rubricID"), 10, 64)
	if err != nil || id <= 0 {
		writeDetail(w, http.StatusUnprocessableEntity, []FieldError{{Field: "rubric_id", Message: "must be a positive integer"}})
		return 0, false
	}
	return id, true
}
