package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/mind-engage/answer-eval/internal/evaluation"
	"github.com/mind-engage/answer-eval/internal/logger"
	"github.com/mind-engage/answer-eval/internal/question"
	"github.com/mind-engage/answer-eval/internal/rubric"
	"github.com/mind-engage/answer-eval/internal/scoring"
	"github.com/mind-engage/answer-eval/internal/user"
)

// statusFor maps a domain error to the HTTP status and client-facing detail.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, evaluation.ErrQuestionNotFound):
		return http.StatusNotFound, "question_id not found"
	case errors.Is(err, question.ErrNotFound):
		return http.StatusNotFound, "Question not found"
	case errors.Is(err, evaluation.ErrEvaluationNotFound):
		return http.StatusNotFound, "Evaluation not found"
	case errors.Is(err, rubric.ErrNotFound):
		return http.StatusNotFound, "Rubric not found"
	case errors.Is(err, user.ErrNotFound):
		return http.StatusNotFound, "User not found"

	case errors.Is(err, question.ErrDuplicate):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, rubric.ErrDuplicateVersion):
		return http.StatusConflict, err.Error()
	case errors.Is(err, rubric.ErrInvalidBody), errors.Is(err, evaluation.ErrInvalidFinalScore):
		return http.StatusUnprocessableEntity, err.Error()

	// scoring errors already read "LLM call failed: ..." / "LLM returned invalid payload: ..."
	case errors.Is(err, scoring.ErrModelCall), errors.Is(err, scoring.ErrInvalidPayload):
		return http.StatusBadGateway, err.Error()

	case errors.Is(err, evaluation.ErrPersist):
		return http.StatusInternalServerError, "Failed to persist evaluation result"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeError(w http.ResponseWriter, log *logger.Logger, err error) {
	status, detail := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "status", status, "error", err)
	}
	writeDetail(w, status, detail)
}
