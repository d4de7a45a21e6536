package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/mind-engage/answer-eval/internal/api/http"
	auth "github.com/mind-engage/answer-eval/internal/auth/middleware"
	"github.com/mind-engage/answer-eval/internal/config"
	"github.com/mind-engage/answer-eval/internal/db"
	"github.com/mind-engage/answer-eval/internal/evaluation"
	"github.com/mind-engage/answer-eval/internal/eventlog"
	"github.com/mind-engage/answer-eval/internal/llm"
	"github.com/mind-engage/answer-eval/internal/logger"
	"github.com/mind-engage/answer-eval/internal/question"
	"github.com/mind-engage/answer-eval/internal/rubric"
	"github.com/mind-engage/answer-eval/internal/scoring"
	"github.com/mind-engage/answer-eval/internal/user"
)

const shutdownGrace = 30 * time.Second

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", "mode", string(cfg.Mode), "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- DB ---
	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	dbh, err := db.Open(openCtx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	cancel()
	if err != nil {
		log.Fatal("db open failed", "driver", cfg.DBDriver, "error", err)
	}
	defer dbh.Close()

	// --- Model ---
	model, err := llm.New(llm.OptionsFromConfig(cfg.LLM), log)
	if err != nil {
		log.Fatal("llm client", "provider", cfg.LLM.Provider, "error", err)
	}
	meta := model.Metadata()

	// --- Domain ---
	events := eventlog.NewRepo(dbh, "")
	questions := question.NewSQLStore(dbh)
	rubrics := rubric.NewSQLStore(dbh)
	resolver := rubric.NewResolver(rubrics, rubric.DefaultTopics(), rubric.NewGenerator(model, log), log,
		rubric.WithEvents(events))
	svc := evaluation.NewService(evaluation.Deps{
		Questions: questions,
		Rubrics:   resolver,
		Scorer:    scoring.NewClient(model, log),
		Store:     evaluation.NewSQLStore(dbh),
		Model:     meta,
		Events:    events,
		Log:       log,
	})

	router := api.NewRouter(api.Deps{
		Auth:               auth.NewAuthService(cfg.AuthSecret),
		Users:              user.NewStore(dbh),
		Questions:          questions,
		Rubrics:            rubrics,
		Resolver:           resolver,
		Evaluations:        svc,
		Events:             events,
		DB:                 dbh,
		Log:                log,
		CORSOrigins:        cfg.CORSOrigins,
		AllowTokenHeader:   cfg.EnableTokenHeaderAuth,
		AllowClaimFallback: cfg.Mode == config.ModeOffline,
		EvalRateRPS:        cfg.EvalRateRPS,
		EvalRateBurst:      cfg.EvalRateBurst,
		// a scoring retry plus a generated rubric can take several model calls
		RequestTimeout: 3*cfg.LLM.Timeout + 10*time.Second,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.HTTPAddr, "mode", cfg.Mode, "db", cfg.DBDriver,
			"provider", meta.Provider, "model", meta.ModelID)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server", "error", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Error("shutdown", "error", err)
		}
	}
}
