package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cosc121od/pycode/internal/common/db"
	"github.com/cosc121od/pycode/internal/grading/model"
	appErr "github.com/cosc121od/pycode/pkg/errors"
	"github.com/cosc121od/pycode/pkg/utils/logger"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
)

// Submission is one persisted grading event.
type Submission struct {
	SubmissionID string
	QuestionID   int64
	Language     string
	Code         string
	CodeHash     string // bundle.ReuseKey of language, code and case set
	Bundle       []byte
	Score        int
	State        model.GradeState
	CreatedAt    time.Time
}

// SubmissionRepository persists grading events.
type SubmissionRepository interface {
	Save(ctx context.Context, tx db.Transaction, submission *Submission) error
	Get(ctx context.Context, tx db.Transaction, submissionID string) (*Submission, error)
	FindGraded(ctx context.Context, questionID int64, codeHash string) (*Submission, error)
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
type MySQLSubmissionRepository struct {
	db db.Database
}

// NewSubmissionRepository creates a submission repository.
func NewSubmissionRepository(database db.Database) *MySQLSubmissionRepository {
	return &MySQLSubmissionRepository{db: database}
}

const submissionColumns = "submission_id, question_id, language, code, code_hash, bundle, score, state, created_at"

// Save inserts a grading event. A row that already exists for the
// submission id means the event was written before and is not an error.
func (r *MySQLSubmissionRepository) Save(ctx context.Context, tx db.Transaction, submission *Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	if submission.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if submission.CodeHash == "" {
		return appErr.ValidationError("code_hash", "required")
	}

	query := "INSERT INTO grading_submission (submission_id, question_id, language, code, code_hash, bundle, score, state) VALUES (?, ?, ?, ?, ?, ?, ?, ?)"
	_, err := db.GetQuerier(r.db, tx).Exec(ctx, query,
		submission.SubmissionID,
		submission.QuestionID,
		submission.Language,
		submission.Code,
		submission.CodeHash,
		submission.Bundle,
		submission.Score,
		string(submission.State),
	)
	if err != nil {
		if key, ok := db.UniqueViolation(err); ok {
			logger.Info(ctx, "grading event already stored",
				zap.String("submission_id", submission.SubmissionID),
				zap.String("key", key),
			)
			return nil
		}
		return appErr.Wrapf(err, appErr.SubmissionSaveFailed, "insert grading event failed")
	}
	return nil
}

// Get returns the grading event of a submission.
func (r *MySQLSubmissionRepository) Get(ctx context.Context, tx db.Transaction, submissionID string) (*Submission, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	query := "SELECT " + submissionColumns + " FROM grading_submission WHERE submission_id = ?"
	submission, err := scanSubmission(db.GetQuerier(r.db, tx).QueryRow(ctx, query, submissionID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query submission failed")
	}
	return submission, nil
}

// FindGraded returns the latest grading event for identical code run against
// the question's current case set.
func (r *MySQLSubmissionRepository) FindGraded(ctx context.Context, questionID int64, codeHash string) (*Submission, error) {
	if codeHash == "" {
		return nil, appErr.ValidationError("code_hash", "required")
	}
	query := "SELECT " + submissionColumns + " FROM grading_submission WHERE question_id = ? AND code_hash = ? ORDER BY created_at DESC LIMIT 1"
	submission, err := scanSubmission(r.db.QueryRow(ctx, query, questionID, codeHash))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query graded submission failed")
	}
	return submission, nil
}

func scanSubmission(scanner db.Scanner) (*Submission, error) {
	var (
		s     Submission
		state string
	)
	err := scanner.Scan(
		&s.SubmissionID,
		&s.QuestionID,
		&s.Language,
		&s.Code,
		&s.CodeHash,
		&s.Bundle,
		&s.Score,
		&state,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.State = model.GradeState(state)
	return &s, nil
}
