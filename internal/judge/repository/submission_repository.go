package repository

import (
	"context"
	"errors"

	"codejudge/internal/common/db"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

// SubmissionWriter persists the terminal row of a judging run.
type SubmissionWriter interface {
	Create(ctx context.Context, record *model.SubmissionRecord) (int64, error)
}

// SubmissionRepository writes submission rows to MySQL.
type SubmissionRepository struct {
	db db.Database
}

// NewSubmissionRepository creates a submission repository.
func NewSubmissionRepository(database db.Database) *SubmissionRepository {
	return &SubmissionRepository{db: database}
}

// Create inserts one terminal submission row with status, score and logs in a
// single statement and returns its id.
func (r *SubmissionRepository) Create(ctx context.Context, record *model.SubmissionRecord) (int64, error) {
	if record == nil {
		return 0, errors.New("submission record is nil")
	}
	if record.ProblemID <= 0 {
		return 0, appErr.ValidationError("problem_id", "required")
	}
	if record.Language == "" {
		return 0, appErr.ValidationError("language", "required")
	}
	if r.db == nil {
		return 0, appErr.New(appErr.DatabaseError).WithMessage("database is not initialized")
	}

	query := `
		INSERT INTO submissions
		(submission_key, user_id, problem_id, language, source_code, status, verdict, score, total, compile_log, runtime_log, execution_time_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.db.Exec(
		ctx,
		query,
		record.SubmissionKey,
		record.UserID,
		record.ProblemID,
		record.Language,
		record.Source,
		record.Status,
		record.Verdict,
		record.Score,
		record.Total,
		record.CompileLog,
		record.RuntimeLog,
		record.ExecutionTimeMs,
	)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "insert submission failed")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "read submission id failed")
	}
	return id, nil
}
