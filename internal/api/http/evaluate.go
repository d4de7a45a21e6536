package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	auth "github.com/mind-engage/answer-eval/internal/auth/middleware"
	"github.com/mind-engage/answer-eval/internal/evaluation"
	"github.com/mind-engage/answer-eval/internal/logger"
	"github.com/mind-engage/answer-eval/internal/rbac"
	"github.com/mind-engage/answer-eval/internal/rubric"
)

type EvaluationService interface {
	Evaluate(ctx context.Context, req evaluation.Request) (evaluation.Result, error)
	SaveReview(ctx context.Context, r evaluation.Review) (evaluation.Evaluation, error)
	Get(ctx context.Context, id int64) (evaluation.Evaluation, error)
	List(ctx context.Context, f evaluation.Filter) ([]evaluation.Evaluation, int, error)
}

type evaluateReq struct {
	QuestionID    string      `json:"question_id" validate:"required"`
	StudentAnswer string      `json:"student_answer" validate:"required,min=10,max=4000"`
	WithRubric    bool        `json:"with_rubric"`
	RubricJSON    rubric.Body `json:"rubric_json"`
}

func (r *evaluateReq) normalize() {
	r.QuestionID = strings.TrimSpace(r.QuestionID)
	r.StudentAnswer = strings.TrimSpace(r.StudentAnswer)
}

// POST /evaluate/short-answer
func EvaluateHandler(svc EvaluationService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req evaluateReq
		if !decodeAndValidate(w, r, &req) {
			return
		}
		var provided rubric.Body
		if !req.RubricJSON.IsNull() {
			b, err := rubric.ParseBody(req.RubricJSON)
			if err != nil {
				writeDetail(w, http.StatusUnprocessableEntity, []FieldError{{Field: "rubric_json", Message: "must be an object"}})
				return
			}
			provided = b
		}
		res, err := svc.Evaluate(r.Context(), evaluation.Request{
			QuestionID:    req.QuestionID,
			StudentID:     auth.SubjectFromContext(r.Context()),
			StudentAnswer: req.StudentAnswer,
			RubricJSON:    provided,
		})
		if err != nil {
			writeError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, res)
	}
}

// GET /evaluations?question_id=&student_id=&limit=50&offset=0
// Callers without evaluation:view-all only ever see their own rows.
func ListEvaluationsHandler(svc EvaluationService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := evaluation.Filter{
			QuestionID: strings.TrimSpace(q.Get("question_id")),
			StudentID:  strings.TrimSpace(q.Get("student_id")),
			Limit:      parseIntDefault(q.Get("limit"), evaluation.DefaultLimit),
			Offset:     parseIntDefault(q.Get("offset"), 0),
		}
		if !rbac.Allowed(rbac.RoleFromContext(r.Context()), rbac.PermEvalViewAll) {
			f.StudentID = auth.SubjectFromContext(r.Context())
		}
		items, total, err := svc.List(r.Context(), f)
		if err != nil {
			writeError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, Page[evaluation.Evaluation]{Total: total, Items: items})
	}
}

// GET /evaluations/{evaluationID}
func GetEvaluationHandler(svc EvaluationService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "evaluationID"), 10, 64)
		if err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, []FieldError{{Field: "evaluation_id", Message: "must be an integer"}})
			return
		}
		e, err := svc.Get(r.Context(), id)
		if err != nil {
			writeError(w, log, err)
			return
		}
		// someone else's evaluation looks like a missing one
		if !rbac.Allowed(rbac.RoleFromContext(r.Context()), rbac.PermEvalViewAll) &&
			e.StudentID != auth.SubjectFromContext(r.Context()) {
			writeError(w, log, evaluation.ErrEvaluationNotFound)
			return
		}
		respondJSON(w, http.StatusOK, e)
	}
}

type reviewReq struct {
	EvaluationID int64    `json:"evaluation_id" validate:"required,gt=0"`
	FinalScore   *float64 `json:"final_score" validate:"required,gte=0,lte=10"`
	ReviewNotes  string   `json:"review_notes" validate:"max=4000"`
	ReviewerID   string   `json:"reviewer_id"`
}

type reviewResp struct {
	Success      bool    `json:"success"`
	EvaluationID int64   `json:"evaluation_id"`
	AutoScore    float64 `json:"auto_score"`
	FinalScore   float64 `json:"final_score"`
}

// POST /review/save
func SaveReviewHandler(svc EvaluationService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reviewReq
		if !decodeAndValidate(w, r, &req) {
			return
		}
		reviewer := auth.SubjectFromContext(r.Context())
		if other := strings.TrimSpace(req.ReviewerID); other != "" &&
			rbac.Allowed(rbac.RoleFromContext(r.Context()), rbac.PermReviewAs) {
			reviewer = other
		}
		e, err := svc.SaveReview(r.Context(), evaluation.Review{
			EvaluationID: req.EvaluationID,
			FinalScore:   *req.FinalScore,
			Notes:        strings.TrimSpace(req.ReviewNotes),
			ReviewerID:   reviewer,
		})
		if err != nil {
			writeError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, reviewResp{
			Success:      true,
			EvaluationID: e.ID,
			AutoScore:    e.AutoScore,
			FinalScore:   *req.FinalScore,
		})
	}
}
