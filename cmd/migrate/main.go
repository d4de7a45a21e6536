// Command migrate creates the schema and loads the starter question bank,
// topic rubrics and demo accounts. Safe to run repeatedly.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/peterbourgon/ff/v3"

	"github.com/mind-engage/answer-eval/internal/config"
	"github.com/mind-engage/answer-eval/internal/db"
	"github.com/mind-engage/answer-eval/internal/logger"
	"github.com/mind-engage/answer-eval/internal/question"
	"github.com/mind-engage/answer-eval/internal/rubric"
	"github.com/mind-engage/answer-eval/internal/seed"
	"github.com/mind-engage/answer-eval/internal/user"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	base := config.Load()

	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	var (
		_               = fs.String("config", "", "config file (optional), json format")
		driver          = fs.String("db-driver", base.DBDriver, "sqlite | postgres")
		dsn             = fs.String("db-dsn", base.DBDSN, "database DSN (driver default when empty)")
		teacherPassword = fs.String("teacher-password", "", "password for teacher001 (empty: token header login only)")
		studentPassword = fs.String("student-password", "", "password for student001 (empty: token header login only)")
		skipUsers       = fs.Bool("skip-users", false, "do not create demo accounts")
		logLevel        = fs.String("log-level", base.LogLevel, "debug | info | warn | error")
		timeout         = fs.Duration("timeout", time.Minute, "overall deadline")
	)
	if err := ff.Parse(fs, args,
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.JSONParser),
		ff.WithEnvVarPrefix("MIGRATE"),
	); err != nil {
		return err
	}

	log, err := logger.New(*logLevel, "console")
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(*driver), *dsn)
	if err != nil {
		return fmt.Errorf("open %s: %w", *driver, err)
	}
	defer dbh.Close()
	log.Info("schema ready", "driver", *driver)

	var opts seed.Options
	if !*skipUsers {
		opts.Accounts = seed.DefaultAccounts(*teacherPassword, *studentPassword)
	}
	rep, err := seed.Seeder{
		Questions: question.NewSQLStore(dbh),
		Rubrics:   rubric.NewSQLStore(dbh),
		Users:     user.NewStore(dbh),
		Topics:    rubric.DefaultTopics(),
		Log:       log.With("component", "seed"),
	}.Run(ctx, opts)
	if err != nil {
		return err
	}
	log.Info("seed complete",
		"questions_created", rep.QuestionsCreated,
		"rubrics_created", rep.RubricsCreated,
		"rubrics_activated", rep.RubricsActivated,
		"users_upserted", rep.UsersUpserted)
	return nil
}
