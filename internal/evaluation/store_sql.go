package evaluation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type SQLStore struct{ db *sql.DB }

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

const evalCols = `id, question_id, student_id, student_answer, auto_score, final_score,
	dimension_scores_json, model_version, rubric_version, raw_llm_output,
	review_notes, reviewer_id, reviewed_at, created_at`

func scanEvaluation(row interface{ Scan(...any) error }) (Evaluation, error) {
	var (
		e                          Evaluation
		studentID, notes, reviewer sql.NullString
		final                      sql.NullFloat64
		reviewedAt                 sql.NullInt64
		dims, raw                  string
		created                    int64
	)
	if err := row.Scan(&e.ID, &e.QuestionID, &studentID, &e.StudentAnswer, &e.AutoScore, &final,
		&dims, &e.ModelVersion, &e.RubricVersion, &raw,
		&notes, &reviewer, &reviewedAt, &created); err != nil {
		return Evaluation{}, err
	}
	e.StudentID = studentID.String
	e.ReviewNotes = notes.String
	e.ReviewerID = reviewer.String
	if final.Valid {
		v := final.Float64
		e.FinalScore = &v
	}
	if reviewedAt.Valid {
		t := time.UnixMicro(reviewedAt.Int64).UTC()
		e.ReviewedAt = &t
	}
	if err := json.Unmarshal([]byte(dims), &e.DimensionScores); err != nil {
		return Evaluation{}, fmt.Errorf("decode dimension scores: %w", err)
	}
	e.RawLLMOutput = json.RawMessage(raw)
	e.CreatedAt = time.UnixMicro(created).UTC()
	return e, nil
}

func (s *SQLStore) Insert(ctx context.Context, e Evaluation) (Evaluation, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC().Truncate(time.Microsecond)
	dims, err := json.Marshal(e.DimensionScores)
	if err != nil {
		return Evaluation{}, err
	}
	raw := string(e.RawLLMOutput)
	if raw == "" {
		raw = "{}"
	}
	studentID := sql.NullString{String: e.StudentID, Valid: e.StudentID != ""}
	err = s.db.QueryRowContext(ctx, `INSERT INTO answer_evaluations
		(question_id, student_id, student_answer, auto_score, dimension_scores_json,
		 model_version, rubric_version, raw_llm_output, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		e.QuestionID, studentID, e.StudentAnswer, e.AutoScore, string(dims),
		e.ModelVersion, e.RubricVersion, raw, e.CreatedAt.UnixMicro()).Scan(&e.ID)
	if err != nil {
		return Evaluation{}, err
	}
	return e, nil
}

func (s *SQLStore) Get(ctx context.Context, id int64) (Evaluation, error) {
	e, err := scanEvaluation(s.db.QueryRowContext(ctx,
		`SELECT `+evalCols+` FROM answer_evaluations WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Evaluation{}, ErrEvaluationNotFound
	}
	return e, err
}

func (s *SQLStore) List(ctx context.Context, f Filter) ([]Evaluation, int, error) {
	f = f.Clamp()
	var (
		conds []string
		args  []any
	)
	if f.QuestionID != "" {
		args = append(args, f.QuestionID)
		conds = append(conds, fmt.Sprintf("question_id=$%d", len(args)))
	}
	if f.StudentID != "" {
		args = append(args, f.StudentID)
		conds = append(conds, fmt.Sprintf("student_id=$%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM answer_evaluations`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf(`SELECT %s FROM answer_evaluations%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		evalCols, where, len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, q, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []Evaluation{}
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (s *SQLStore) SaveReview(ctx context.Context, r Review, at time.Time) (Evaluation, error) {
	notes := sql.NullString{String: r.Notes, Valid: r.Notes != ""}
	reviewer := sql.NullString{String: r.ReviewerID, Valid: r.ReviewerID != ""}
	res, err := s.db.ExecContext(ctx, `UPDATE answer_evaluations
		SET final_score=$1, review_notes=$2, reviewer_id=$3, reviewed_at=$4
		WHERE id=$5`,
		r.FinalScore, notes, reviewer, at.UTC().UnixMicro(), r.EvaluationID)
	if err != nil {
		return Evaluation{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Evaluation{}, ErrEvaluationNotFound
	}
	return s.Get(ctx, r.EvaluationID)
}
