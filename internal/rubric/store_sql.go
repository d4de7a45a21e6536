package rubric

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

const rubricCols = `id, question_id, version, rubric_json, is_active, created_by, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRubric(row rowScanner) (Rubric, error) {
	var (
		r       Rubric
		body    string
		created int64
	)
	if err := row.Scan(&r.ID, &r.QuestionID, &r.Version, &body, &r.IsActive, &r.CreatedBy, &created); err != nil {
		return Rubric{}, err
	}
	r.Body = Body(body)
	r.CreatedAt = time.UnixMicro(created).UTC()
	return r, nil
}

func (s *SQLStore) findOne(ctx context.Context, query string, args ...any) (*Rubric, error) {
	r, err := scanRubric(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLStore) FindActive(ctx context.Context, questionID string) (*Rubric, error) {
	return s.findOne(ctx, `SELECT `+rubricCols+` FROM question_rubrics
		WHERE question_id=$1 AND is_active=$2
		ORDER BY created_at DESC, id DESC LIMIT 1`, questionID, true)
}

func (s *SQLStore) FindLatest(ctx context.Context, questionID string) (*Rubric, error) {
	return s.findOne(ctx, `SELECT `+rubricCols+` FROM question_rubrics
		WHERE question_id=$1
		ORDER BY created_at DESC, id DESC LIMIT 1`, questionID)
}

func (s *SQLStore) Save(ctx context.Context, questionID string, body Body, createdBy string) (bool, error) {
	if body.IsNull() {
		return false, ErrInvalidBody
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `INSERT INTO question_rubrics
		(question_id, version, rubric_json, is_active, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (question_id, version) DO NOTHING
		RETURNING id`,
		questionID, body.VersionOr(VersionAutoGenerated), string(body), false, createdBy, s.now().UnixMicro()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLStore) Create(ctx context.Context, questionID string, body Body, createdBy string) (Rubric, error) {
	if body.IsNull() {
		return Rubric{}, ErrInvalidBody
	}
	r, err := scanRubric(s.db.QueryRowContext(ctx, `INSERT INTO question_rubrics
		(question_id, version, rubric_json, is_active, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (question_id, version) DO NOTHING
		RETURNING `+rubricCols,
		questionID, body.VersionOr(VersionManualStored), string(body), false, createdBy, s.now().UnixMicro()))
	if errors.Is(err, sql.ErrNoRows) {
		return Rubric{}, ErrDuplicateVersion
	}
	return r, err
}

func (s *SQLStore) Activate(ctx context.Context, rubricID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var questionID string
	err = tx.QueryRowContext(ctx, `SELECT question_id FROM question_rubrics WHERE id=$1`, rubricID).Scan(&questionID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	// one statement flips the whole set, so no reader sees zero or two active rows
	if _, err := tx.ExecContext(ctx,
		`UPDATE question_rubrics SET is_active = (id = $1) WHERE question_id = $2`,
		rubricID, questionID); err != nil {
		return fmt.Errorf("flip active flag: %w", err)
	}
	return tx.Commit()
}

func (s *SQLStore) Get(ctx context.Context, rubricID int64) (Rubric, error) {
	r, err := scanRubric(s.db.QueryRowContext(ctx,
		`SELECT `+rubricCols+` FROM question_rubrics WHERE id=$1`, rubricID))
	if errors.Is(err, sql.ErrNoRows) {
		return Rubric{}, ErrNotFound
	}
	return r, err
}

func (s *SQLStore) ListByQuestion(ctx context.Context, questionID string) ([]Rubric, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+rubricCols+` FROM question_rubrics
		WHERE question_id=$1 ORDER BY created_at DESC, id DESC`, questionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Rubric{}
	for rows.Next() {
		r, err := scanRubric(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateBody replaces the document; the stored version label is left alone.
func (s *SQLStore) UpdateBody(ctx context.Context, rubricID int64, body Body) (Rubric, error) {
	if body.IsNull() {
		return Rubric{}, ErrInvalidBody
	}
	res, err := s.db.ExecContext(ctx, `UPDATE question_rubrics SET rubric_json=$1 WHERE id=$2`, string(body), rubricID)
	if err != nil {
		return Rubric{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Rubric{}, ErrNotFound
	}
	return s.Get(ctx, rubricID)
}
