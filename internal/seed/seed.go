// Package seed loads the starter question bank, topic rubrics and accounts.
// Every step is idempotent so the migrate command can run on each deploy.
package seed

import (
	"context"
	"errors"
	"fmt"

	"github.com/mind-engage/answer-eval/internal/logger"
	"github.com/mind-engage/answer-eval/internal/question"
	"github.com/mind-engage/answer-eval/internal/rubric"
	"github.com/mind-engage/answer-eval/internal/user"
)

// Questions is the starter bank.
var Questions = []question.Question{
	{QuestionID: "Q2105", Text: "简述如何在 Airflow 中实现可靠的依赖管理与失败恢复。", Topic: "airflow"},
}

type Account struct {
	ID       string
	Role     string
	Password string // empty: no local login, X-User-Token only
}

type Options struct {
	Accounts []Account
}

// DefaultAccounts are the demo teacher and student.
func DefaultAccounts(teacherPassword, studentPassword string) []Account {
	return []Account{
		{ID: "teacher001", Role: user.RoleTeacher, Password: teacherPassword},
		{ID: "student001", Role: user.RoleStudent, Password: studentPassword},
	}
}

type Report struct {
	QuestionsCreated int
	RubricsCreated   int
	RubricsActivated int
	UsersUpserted    int
}

type Seeder struct {
	Questions question.Store
	Rubrics   rubric.Store
	Users     *user.Store
	Topics    *rubric.TopicTable
	Log       *logger.Logger
}

func (s Seeder) Run(ctx context.Context, opts Options) (Report, error) {
	var rep Report
	if err := s.questions(ctx, &rep); err != nil {
		return rep, fmt.Errorf("seed questions: %w", err)
	}
	if err := s.rubrics(ctx, &rep); err != nil {
		return rep, fmt.Errorf("seed rubrics: %w", err)
	}
	if err := s.accounts(ctx, opts.Accounts, &rep); err != nil {
		return rep, fmt.Errorf("seed users: %w", err)
	}
	return rep, nil
}

func (s Seeder) questions(ctx context.Context, rep *Report) error {
	for _, q := range Questions {
		_, err := s.Questions.Create(ctx, q)
		if errors.Is(err, question.ErrDuplicate) {
			s.Log.Debug("question exists", "question_id", q.QuestionID)
			continue
		}
		if err != nil {
			return err
		}
		rep.QuestionsCreated++
		s.Log.Info("created question", "question_id", q.QuestionID)
	}
	return nil
}

// rubrics stores each topic default for every question of that topic. A new
// row becomes active only when the question has no active rubric yet, so a
// teacher's choice survives re-seeding.
func (s Seeder) rubrics(ctx context.Context, rep *Report) error {
	for _, topic := range s.Topics.Topics() {
		body, version, _ := s.Topics.Lookup(topic)
		qs, err := s.questionsOf(ctx, topic)
		if err != nil {
			return err
		}
		for _, q := range qs {
			rb, err := s.Rubrics.Create(ctx, q.QuestionID, body, rubric.CreatedBySystem)
			if errors.Is(err, rubric.ErrDuplicateVersion) {
				s.Log.Debug("rubric exists", "question_id", q.QuestionID, "version", version)
				continue
			}
			if err != nil {
				return err
			}
			rep.RubricsCreated++
			active, err := s.Rubrics.FindActive(ctx, q.QuestionID)
			if err != nil {
				return err
			}
			if active == nil {
				if err := s.Rubrics.Activate(ctx, rb.ID); err != nil {
					return err
				}
				rep.RubricsActivated++
			}
			s.Log.Info("created rubric", "question_id", q.QuestionID, "version", version, "active", active == nil)
		}
	}
	return nil
}

func (s Seeder) questionsOf(ctx context.Context, topic string) ([]question.Question, error) {
	var out []question.Question
	for offset := 0; ; offset += question.MaxLimit {
		page, total, err := s.Questions.List(ctx, question.ListOpts{Topic: topic, Limit: question.MaxLimit, Offset: offset})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) == 0 || len(out) >= total {
			return out, nil
		}
	}
}

func (s Seeder) accounts(ctx context.Context, accounts []Account, rep *Report) error {
	for _, a := range accounts {
		if _, err := s.Users.Upsert(ctx, user.User{ID: a.ID, Username: a.ID, Role: a.Role}, a.Password); err != nil {
			return fmt.Errorf("%s: %w", a.ID, err)
		}
		rep.UsersUpserted++
		s.Log.Info("upserted user", "id", a.ID, "role", a.Role, "local_login", a.Password != "")
	}
	return nil
}
