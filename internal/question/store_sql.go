package question

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db, now: time.Now} }

const questionCols = `id, question_id, text, topic, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (Question, error) {
	var (
		q                Question
		topic            sql.NullString
		created, updated int64
	)
	if err := row.Scan(&q.ID, &q.QuestionID, &q.Text, &topic, &created, &updated); err != nil {
		return Question{}, err
	}
	q.Topic = topic.String
	q.CreatedAt = time.UnixMicro(created).UTC()
	q.UpdatedAt = time.UnixMicro(updated).UTC()
	return q, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *SQLStore) Get(ctx context.Context, questionID string) (Question, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx,
		`SELECT `+questionCols+` FROM questions WHERE question_id=$1`, questionID))
	if errors.Is(err, sql.ErrNoRows) {
		return Question{}, ErrNotFound
	}
	return q, err
}

func (s *SQLStore) List(ctx context.Context, o ListOpts) ([]Question, int, error) {
	o = o.Clamp()
	where, args := "", []any{}
	if o.Topic != "" {
		where = ` WHERE topic=$1`
		args = append(args, o.Topic)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + questionCols + ` FROM questions` + where + ` ORDER BY question_id LIMIT $1 OFFSET $2`
	if o.Topic != "" {
		q = `SELECT ` + questionCols + ` FROM questions` + where + ` ORDER BY question_id LIMIT $2 OFFSET $3`
	}
	rows, err := s.db.QueryContext(ctx, q, append(args, o.Limit, o.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []Question{}
	for rows.Next() {
		item, err := scanQuestion(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, item)
	}
	return out, total, rows.Err()
}

func (s *SQLStore) Create(ctx context.Context, q Question) (Question, error) {
	now := s.now().UTC().Truncate(time.Microsecond)
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	q.CreatedAt, q.UpdatedAt = now, now
	res, err := s.db.ExecContext(ctx, `INSERT INTO questions (`+questionCols+`)
		VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (question_id) DO NOTHING`,
		q.ID, q.QuestionID, q.Text, nullable(q.Topic), now.UnixMicro(), now.UnixMicro())
	if err != nil {
		return Question{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Question{}, ErrDuplicate
	}
	return q, nil
}

func (s *SQLStore) Update(ctx context.Context, questionID string, p Patch) (Question, error) {
	cur, err := s.Get(ctx, questionID)
	if err != nil {
		return Question{}, err
	}
	if p.Text != nil {
		cur.Text = *p.Text
	}
	if p.Topic != nil {
		cur.Topic = *p.Topic
	}
	cur.UpdatedAt = s.now().UTC().Truncate(time.Microsecond)
	_, err = s.db.ExecContext(ctx, `UPDATE questions SET text=$1, topic=$2, updated_at=$3 WHERE question_id=$4`,
		cur.Text, nullable(cur.Topic), cur.UpdatedAt.UnixMicro(), questionID)
	if err != nil {
		return Question{}, err
	}
	return cur, nil
}

func (s *SQLStore) Delete(ctx context.Context, questionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE question_id=$1`, questionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Stats(ctx context.Context, questionID string) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM question_rubrics WHERE question_id=$1`, questionID).Scan(&st.RubricsCount); err != nil {
		return Stats{}, err
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM answer_evaluations WHERE question_id=$1`, questionID).Scan(&st.EvaluationsCount); err != nil {
		return Stats{}, err
	}
	return st, nil
}
