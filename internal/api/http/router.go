package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	auth "github.com/mind-engage/answer-eval/internal/auth/middleware"
	"github.com/mind-engage/answer-eval/internal/logger"
	"github.com/mind-engage/answer-eval/internal/question"
	"github.com/mind-engage/answer-eval/internal/rbac"
	"github.com/mind-engage/answer-eval/internal/rubric"
	"github.com/mind-engage/answer-eval/internal/user"
)

const defaultRequestTimeout = 2 * time.Minute

// Users is everything the HTTP layer needs from the account store.
type Users interface {
	auth.UserLookup
	auth.Authenticator
	UserLister
	UserAdmin
}

type Events interface {
	EventRecorder
	EventReader
}

type Deps struct {
	Auth        *auth.AuthService
	Users       Users
	Questions   question.Store
	Rubrics     rubric.Store
	Resolver    RubricResolver
	Evaluations EvaluationService
	Events      Events // optional
	DB          Pinger
	Log         *logger.Logger

	CORSOrigins []string
	// X-User-Token: <user id>
	AllowTokenHeader bool
	// keep the token's role when the subject is not in the users table
	AllowClaimFallback bool
	EvalRateRPS        float64
	EvalRateBurst      int
	RequestTimeout     time.Duration
}

func NewRouter(d Deps) http.Handler {
	log := d.Log.With("component", "http")
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, AccessLog(log), middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	if len(d.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   d.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", auth.HeaderUserToken},
			ExposedHeaders:   []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", HealthzHandler)
	r.Get("/readyz", ReadyzHandler(d.DB))
	r.Post("/auth/login", auth.LoginHandler(d.Auth, d.Users))

	rubrics := RubricHandlers{
		Questions: d.Questions,
		Rubrics:   d.Rubrics,
		Resolver:  d.Resolver,
		Events:    d.Events,
		Log:       log,
	}
	limiter := NewIPRateLimiter(d.EvalRateRPS, d.EvalRateBurst)

	// Protected API (credentials → subject + role in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.Authenticate(d.Auth, d.Users, d.AllowTokenHeader))
		pr.Use(auth.AttachRoleFromStore(d.Users, d.AllowClaimFallback))

		pr.With(rbac.Require(rbac.PermEvaluate), limiter.Middleware).
			Post("/evaluate/short-answer", EvaluateHandler(d.Evaluations, log))

		pr.Route("/questions", func(qr chi.Router) {
			qr.With(rbac.Require(rbac.PermQuestionView)).Get("/", ListQuestionsHandler(d.Questions, log))
			qr.With(rbac.Require(rbac.PermQuestionCreate)).Post("/", CreateQuestionHandler(d.Questions, log))
			qr.With(rbac.Require(rbac.PermQuestionView)).Get("/{questionID}", GetQuestionHandler(d.Questions, log))
			qr.With(rbac.Require(rbac.PermQuestionUpdate)).Put("/{questionID}", UpdateQuestionHandler(d.Questions, log))
			qr.With(rbac.Require(rbac.PermQuestionDelete)).Delete("/{questionID}", DeleteQuestionHandler(d.Questions, log))

			qr.With(rbac.Require(rbac.PermRubricView)).Get("/{questionID}/rubrics", rubrics.List())
			qr.With(rbac.Require(rbac.PermRubricCreate)).Post("/{questionID}/rubrics", rubrics.Create())
			qr.With(rbac.Require(rbac.PermRubricView)).Get("/{questionID}/rubric/resolve", rubrics.Resolve())
		})
		pr.With(rbac.Require(rbac.PermRubricActivate)).Post("/rubrics/{rubricID}/activate", rubrics.Activate())
		pr.With(rbac.Require(rbac.PermRubricUpdate)).Put("/rubrics/{rubricID}", rubrics.Update())

		pr.With(rbac.Require(rbac.PermReviewSave)).Post("/review/save", SaveReviewHandler(d.Evaluations, log))
		pr.With(rbac.RequireAny(rbac.PermEvalViewOwn, rbac.PermEvalViewAll)).
			Get("/evaluations", ListEvaluationsHandler(d.Evaluations, log))
		pr.With(rbac.RequireAny(rbac.PermEvalViewOwn, rbac.PermEvalViewAll)).
			Get("/evaluations/{evaluationID}", GetEvaluationHandler(d.Evaluations, log))

		pr.With(rbac.Require(rbac.PermUsersList)).Get("/users", ListUsersHandler(d.Users, log))
		pr.With(rbac.Require(rbac.PermUsersBulk)).Post("/users/bulk", BulkUpsertUsersHandler(d.Users, log))
		pr.With(rbac.Require(rbac.PermUsersSetRole)).Patch("/users/{userID}", SetUserRoleHandler(d.Users, log))
		pr.With(rbac.Require(rbac.PermChangePassword)).Post("/users/change-password", ChangePasswordHandler(d.Users, log))
		if d.Events != nil {
			pr.With(rbac.Require(rbac.PermEventsView)).Get("/events", ListEventsHandler(d.Events, log))
		}
	})

	return r
}

var _ Users = (*user.Store)(nil)
