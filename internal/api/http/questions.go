package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/answer-eval/internal/logger"
	"github.com/mind-engage/answer-eval/internal/question"
)

type questionDetail struct {
	question.Question
	question.Stats
}

// GET /questions?topic=&limit=50&offset=0
func ListQuestionsHandler(store question.Store, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		items, total, err := store.List(r.Context(), question.ListOpts{
			Topic:  strings.TrimSpace(q.Get("topic")),
			Limit:  parseIntDefault(q.Get("limit"), question.DefaultLimit),
			Offset: parseIntDefault(q.Get("offset"), 0),
		})
		if err != nil {
			writeError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, Page[question.Question]{Total: total, Items: items})
	}
}

// GET /questions/{questionID}
func GetQuestionHandler(store question.Store, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "questionID")
		q, err := store.Get(r.Context(), id)
		if err != nil {
			writeError(w, log, err)
			return
		}
		st, err := store.Stats(r.Context(), id)
		if err != nil {
			writeError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, questionDetail{Question: q, Stats: st})
	}
}

type createQuestionReq struct {
	QuestionID string `json:"question_id" validate:"required,max=64"`
	Text       string `json:"text" validate:"required"`
	Topic      string `json:"topic" validate:"max=64"`
}

func (r *createQuestionReq) normalize() {
	r.QuestionID = strings.TrimSpace(r.QuestionID)
	r.Text = strings.TrimSpace(r.Text)
	r.Topic = strings.TrimSpace(r.Topic)
}

// POST /questions
func CreateQuestionHandler(store question.Store, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createQuestionReq
		if !decodeAndValidate(w, r, &req) {
			return
		}
		q, err := store.Create(r.Context(), question.Question{QuestionID: req.QuestionID, Text: req.Text, Topic: req.Topic})
		if err != nil {
			writeError(w, log, err)
			return
		}
		respondJSON(w, http.StatusCreated, q)
	}
}

type updateQuestionReq struct {
	Text  *string `json:"text" validate:"omitempty,min=1"`
	Topic *string `json:"topic" validate:"omitempty,max=64"`
}

func (r *updateQuestionReq) normalize() {
	if r.Text != nil {
		t := strings.TrimSpace(*r.Text)
		r.Text = &t
	}
	if r.Topic != nil {
		t := strings.TrimSpace(*r.Topic)
		r.Topic = &t
	}
}

// PUT /questions/{questionID}  partial update of text and topic
func UpdateQuestionHandler(store question.Store, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateQuestionReq
		if !decodeAndValidate(w, r, &req) {
			return
		}
		q, err := store.Update(r.Context(), chi.URLParam(r, "questionID"), question.Patch{Text: req.Text, Topic: req.Topic})
		if err != nil {
			writeError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, q)
	}
}

// DELETE /questions/{questionID}
func DeleteQuestionHandler(store question.Store, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Delete(r.Context(), chi.URLParam(r, "questionID")); err != nil {
			writeError(w, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
